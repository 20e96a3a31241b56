package membershipstore_test

import (
	"errors"
	"testing"

	membershipstore "github.com/memberhub-app/memberhub/internal/app/store/memberships"
	"github.com/memberhub-app/memberhub/internal/app/system/indexes"
	"github.com/memberhub-app/memberhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_OpenAndClose(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	opened, err := store.Open(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if opened.JoinedAt.IsZero() {
		t.Error("expected JoinedAt to be set")
	}
	if !opened.Current() {
		t.Error("expected the new membership to be open")
	}

	isMember, err := store.IsCurrentMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("IsCurrentMember failed: %v", err)
	}
	if !isMember {
		t.Error("expected user to be a current member")
	}

	closed, err := store.Close(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.LeftAt == nil {
		t.Error("expected LeftAt to be set on the closed row")
	}
	if closed.ID != opened.ID {
		t.Error("expected Close to return the same row")
	}

	isMember, err = store.IsCurrentMember(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("IsCurrentMember failed: %v", err)
	}
	if isMember {
		t.Error("expected user to no longer be a current member")
	}
}

func TestStore_OpenRejectsSecondOpenRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// The single-open-row guarantee comes from the partial unique index.
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	store := membershipstore.New(db)

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.Open(ctx, groupID, userID); err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if _, err := store.Open(ctx, groupID, userID); !errors.Is(err, membershipstore.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestStore_ReopenAfterClose(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	store := membershipstore.New(db)

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.Open(ctx, groupID, userID); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.Close(ctx, groupID, userID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Eligibility regained: a fresh stay starts while the old row stays as
	// history.
	if _, err := store.Open(ctx, groupID, userID); err != nil {
		t.Fatalf("re-Open failed: %v", err)
	}

	history, err := store.HistoryByUser(ctx, userID)
	if err != nil {
		t.Fatalf("HistoryByUser failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
}

func TestStore_CloseWithoutOpenRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.Close(ctx, primitive.NewObjectID(), primitive.NewObjectID())
	if !errors.Is(err, membershipstore.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestStore_CurrentMemberIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	staying := primitive.NewObjectID()
	leaving := primitive.NewObjectID()

	for _, userID := range []primitive.ObjectID{staying, leaving} {
		if _, err := store.Open(ctx, groupID, userID); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
	}
	if _, err := store.Close(ctx, groupID, leaving); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ids, err := store.CurrentMemberIDs(ctx, groupID)
	if err != nil {
		t.Fatalf("CurrentMemberIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != staying {
		t.Errorf("expected only the open membership, got %v", ids)
	}

	count, err := store.CountCurrentByGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("CountCurrentByGroup failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestStore_CurrentGroupsByUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	groupA := primitive.NewObjectID()
	groupB := primitive.NewObjectID()

	for _, groupID := range []primitive.ObjectID{groupA, groupB} {
		if _, err := store.Open(ctx, groupID, userID); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
	}
	if _, err := store.Close(ctx, groupB, userID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ids, err := store.CurrentGroupsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("CurrentGroupsByUser failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != groupA {
		t.Errorf("expected only the open group, got %v", ids)
	}
}
