package indexes_test

import (
	"testing"
	"time"

	"github.com/memberhub-app/memberhub/internal/app/system/indexes"
	"github.com/memberhub-app/memberhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestEnsureAll(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// EnsureAll should succeed on a clean database
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
}

func TestEnsureAll_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("First EnsureAll failed: %v", err)
	}

	// Second call should also succeed (idempotent)
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("Second EnsureAll failed: %v", err)
	}
}

func TestEnsureAll_CreatesExpectedIndexes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	expected := map[string][]string{
		"users":              {"uniq_users_email", "idx_users_status"},
		"managed_groups":     {"uniq_groups_rule"},
		"group_memberships":  {"uniq_gm_open_group_user", "idx_gm_group_leftat_user", "idx_gm_user_joined"},
		"outbox_events":      {"uniq_outbox_dedup", "idx_outbox_status_occurred"},
		"external_resources": {"uniq_res_active_group_type", "idx_res_active"},
		"role_assignments":   {"idx_roles_role_window", "idx_roles_user"},
		"tier_applications":  {"idx_apps_status_user", "idx_apps_user_status"},
		"consent_documents":  {"uniq_consentdocs_slug_version", "idx_consentdocs_scope"},
		"consent_signatures": {"uniq_consentsigs_user_slug_version"},
		"team_groups":        {"idx_teamgroups_status"},
		"team_memberships":   {"idx_tm_role_user", "idx_tm_team"},
		"audit_events":       {"idx_audit_timestamp", "idx_audit_category_timestamp", "idx_audit_user_timestamp"},
	}

	for collection, names := range expected {
		cur, err := db.Collection(collection).Indexes().List(ctx)
		if err != nil {
			t.Fatalf("List indexes on %s failed: %v", collection, err)
		}

		got := make(map[string]bool)
		for cur.Next(ctx) {
			var idx bson.M
			if err := cur.Decode(&idx); err != nil {
				continue
			}
			if name, ok := idx["name"].(string); ok {
				got[name] = true
			}
		}
		cur.Close(ctx)

		for _, name := range names {
			if !got[name] {
				t.Errorf("expected index %q to exist on %s", name, collection)
			}
		}
	}
}

func TestEnsureAll_OpenMembershipUniqueness(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	c := db.Collection("group_memberships")

	// Open membership: left_at explicitly null.
	_, err := c.InsertOne(ctx, bson.M{
		"group_id": groupID, "user_id": userID,
		"joined_at": time.Now().UTC(), "left_at": nil,
	})
	if err != nil {
		t.Fatalf("Insert open membership failed: %v", err)
	}

	// A second open row for the same pair must be rejected.
	_, err = c.InsertOne(ctx, bson.M{
		"group_id": groupID, "user_id": userID,
		"joined_at": time.Now().UTC(), "left_at": nil,
	})
	if err == nil {
		t.Error("expected duplicate key error for a second open membership")
	}

	// A closed row for the same pair is history and must be allowed.
	_, err = c.InsertOne(ctx, bson.M{
		"group_id": groupID, "user_id": userID,
		"joined_at": time.Now().UTC(), "left_at": time.Now().UTC(),
	})
	if err != nil {
		t.Errorf("expected closed membership row to be allowed: %v", err)
	}
}

func TestEnsureAll_OutboxDedupUniqueness(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	c := db.Collection("outbox_events")
	doc := bson.M{"dedup_key": "add_member:a:b:c", "status": "pending"}

	if _, err := c.InsertOne(ctx, doc); err != nil {
		t.Fatalf("Insert outbox event failed: %v", err)
	}
	if _, err := c.InsertOne(ctx, bson.M{"dedup_key": "add_member:a:b:c", "status": "pending"}); err == nil {
		t.Error("expected duplicate key error for a repeated dedup key")
	}
}

func TestEnsureAll_ActiveResourceUniqueness(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	groupID := primitive.NewObjectID()
	c := db.Collection("external_resources")

	if _, err := c.InsertOne(ctx, bson.M{
		"group_id": groupID, "resource_type": "directory_folder",
		"external_id": "folder-1", "is_active": true,
	}); err != nil {
		t.Fatalf("Insert resource failed: %v", err)
	}

	// Second active folder for the same group: rejected.
	if _, err := c.InsertOne(ctx, bson.M{
		"group_id": groupID, "resource_type": "directory_folder",
		"external_id": "folder-2", "is_active": true,
	}); err == nil {
		t.Error("expected duplicate key error for a second active resource of the same type")
	}

	// Deactivated links fall outside the partial filter.
	if _, err := c.InsertOne(ctx, bson.M{
		"group_id": groupID, "resource_type": "directory_folder",
		"external_id": "folder-old", "is_active": false,
	}); err != nil {
		t.Errorf("expected inactive resource row to be allowed: %v", err)
	}
}
