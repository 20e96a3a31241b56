package syncstore_test

import (
	"errors"
	"testing"

	"github.com/memberhub-app/memberhub/internal/app/store/audit"
	membershipstore "github.com/memberhub-app/memberhub/internal/app/store/memberships"
	outboxstore "github.com/memberhub-app/memberhub/internal/app/store/outbox"
	syncstore "github.com/memberhub-app/memberhub/internal/app/store/sync"
	"github.com/memberhub-app/memberhub/internal/app/system/indexes"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"github.com/memberhub-app/memberhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func setup(t *testing.T) (*syncstore.Store, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	return syncstore.New(db.Client(), db), db
}

func TestStore_AddMember(t *testing.T) {
	store, db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	m, err := store.AddMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if !m.Current() {
		t.Error("expected an open membership row")
	}

	// The membership row, its outbox event, and its audit entry all landed.
	members := membershipstore.New(db)
	isMember, err := members.IsCurrentMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("IsCurrentMember failed: %v", err)
	}
	if !isMember {
		t.Error("expected an open membership")
	}

	outbox := outboxstore.New(db)
	pending, err := outbox.ListByStatus(ctx, models.OutboxPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending outbox event, got %d", len(pending))
	}
	ev := pending[0]
	if ev.EventType != models.EventAddMember {
		t.Errorf("expected add_member event, got %q", ev.EventType)
	}
	if ev.MembershipID != m.ID {
		t.Error("expected the outbox event anchored to the membership row")
	}
	if ev.DedupKey != models.OutboxDedupKey(models.EventAddMember, groupID, userID, m.ID) {
		t.Errorf("unexpected dedup key %q", ev.DedupKey)
	}

	audits := audit.New(db)
	entries, err := audits.Query(ctx, audit.QueryFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("audit Query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != audit.EventMemberAdded {
		t.Errorf("expected one member_added audit entry, got %+v", entries)
	}
}

func TestStore_AddMemberTwice(t *testing.T) {
	store, _ := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.AddMember(ctx, groupID, userID); err != nil {
		t.Fatalf("first AddMember failed: %v", err)
	}
	if _, err := store.AddMember(ctx, groupID, userID); !errors.Is(err, membershipstore.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestStore_RemoveMember(t *testing.T) {
	store, db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	opened, err := store.AddMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	closed, err := store.RemoveMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if closed.LeftAt == nil {
		t.Error("expected LeftAt set on the closed row")
	}
	if closed.ID != opened.ID {
		t.Error("expected the same membership row closed")
	}

	outbox := outboxstore.New(db)
	pending, err := outbox.ListByStatus(ctx, models.OutboxPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected add and remove events queued, got %d", len(pending))
	}
	// FIFO: the add was enqueued first, so the directory sees the grant
	// before the revoke.
	if pending[0].EventType != models.EventAddMember || pending[1].EventType != models.EventRemoveMember {
		t.Errorf("expected add then remove, got %q then %q", pending[0].EventType, pending[1].EventType)
	}
	// Both events share the causal membership row id.
	if pending[1].MembershipID != opened.ID {
		t.Error("expected the remove event anchored to the closed row")
	}
}

func TestStore_RemoveMemberWithoutOpenRow(t *testing.T) {
	store, _ := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.RemoveMember(ctx, primitive.NewObjectID(), primitive.NewObjectID())
	if !errors.Is(err, membershipstore.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestStore_AddRemoveAddLifecycle(t *testing.T) {
	store, db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	first, err := store.AddMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if _, err := store.RemoveMember(ctx, groupID, userID); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	second, err := store.AddMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("second AddMember failed: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a fresh membership row for the second stay")
	}

	// Three distinct sync operations queued: each stay has its own causal id,
	// so none of the dedup keys collide.
	outbox := outboxstore.New(db)
	pending, err := outbox.ListByStatus(ctx, models.OutboxPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("expected 3 queued events, got %d", len(pending))
	}
}
