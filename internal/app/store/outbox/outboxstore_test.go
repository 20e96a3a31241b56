package outboxstore_test

import (
	"testing"

	outboxstore "github.com/memberhub-app/memberhub/internal/app/store/outbox"
	"github.com/memberhub-app/memberhub/internal/app/system/indexes"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"github.com/memberhub-app/memberhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newEvent(eventType string) models.OutboxEvent {
	return models.OutboxEvent{
		EventType:    eventType,
		GroupID:      primitive.NewObjectID(),
		UserID:       primitive.NewObjectID(),
		MembershipID: primitive.NewObjectID(),
	}
}

func TestStore_Enqueue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	enqueued, err := store.Enqueue(ctx, newEvent(models.EventAddMember))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !enqueued {
		t.Fatal("expected the event to be enqueued")
	}

	events, err := store.ListByStatus(ctx, models.OutboxPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(events))
	}

	ev := events[0]
	if ev.Status != models.OutboxPending {
		t.Errorf("expected pending status, got %q", ev.Status)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be set")
	}
	if ev.DedupKey == "" {
		t.Error("expected DedupKey to be derived")
	}
	if ev.RetryCount != 0 {
		t.Errorf("expected zero retries, got %d", ev.RetryCount)
	}
}

func TestStore_EnqueueDedup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// The dedup guarantee comes from the unique index.
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	store := outboxstore.New(db)

	ev := newEvent(models.EventAddMember)
	if _, err := store.Enqueue(ctx, ev); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	// Re-enqueueing the same logical change reports not-enqueued, no error.
	again := ev
	again.ID = primitive.NilObjectID
	enqueued, err := store.Enqueue(ctx, again)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if enqueued {
		t.Error("expected duplicate enqueue to be suppressed")
	}

	counts, err := store.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus failed: %v", err)
	}
	if counts[models.OutboxPending] != 1 {
		t.Errorf("expected 1 pending event, got %d", counts[models.OutboxPending])
	}
}

func TestStore_PendingBatchFIFO(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	first := newEvent(models.EventAddMember)
	second := newEvent(models.EventRemoveMember)
	third := newEvent(models.EventAddMember)
	for _, ev := range []models.OutboxEvent{first, second, third} {
		if _, err := store.Enqueue(ctx, ev); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	batch, err := store.PendingBatch(ctx, 2, 8)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch))
	}
	if batch[0].GroupID != first.GroupID || batch[1].GroupID != second.GroupID {
		t.Error("expected oldest-first selection order")
	}
}

func TestStore_MarkProcessed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Enqueue(ctx, newEvent(models.EventAddMember)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	batch, err := store.PendingBatch(ctx, 1, 8)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}

	if err := store.MarkProcessed(ctx, batch[0].ID); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	processed, err := store.ListByStatus(ctx, models.OutboxProcessed, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(processed) != 1 {
		t.Fatalf("expected 1 processed event, got %d", len(processed))
	}
	if processed[0].ProcessedAt == nil {
		t.Error("expected ProcessedAt to be set")
	}

	// Processed events never reappear in a batch.
	batch, err = store.PendingBatch(ctx, 10, 8)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected empty batch, got %d events", len(batch))
	}
}

func TestStore_MarkFailedUntilExhausted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	const retryCap = 3

	if _, err := store.Enqueue(ctx, newEvent(models.EventAddMember)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	batch, err := store.PendingBatch(ctx, 1, retryCap)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}
	id := batch[0].ID

	for attempt := 1; attempt < retryCap; attempt++ {
		exhausted, err := store.MarkFailed(ctx, id, "directory unavailable", retryCap)
		if err != nil {
			t.Fatalf("MarkFailed attempt %d failed: %v", attempt, err)
		}
		if exhausted {
			t.Fatalf("exhausted after %d attempts, cap is %d", attempt, retryCap)
		}
	}

	// The event stays selectable while below the cap.
	batch, err = store.PendingBatch(ctx, 10, retryCap)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected the event still pending, got %d", len(batch))
	}
	if batch[0].LastError == "" {
		t.Error("expected LastError recorded")
	}

	exhausted, err := store.MarkFailed(ctx, id, "directory unavailable", retryCap)
	if err != nil {
		t.Fatalf("final MarkFailed failed: %v", err)
	}
	if !exhausted {
		t.Fatal("expected exhaustion at the retry cap")
	}

	// Exhausted is terminal: out of every future batch, visible to operators.
	batch, err = store.PendingBatch(ctx, 10, retryCap)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected no selectable events, got %d", len(batch))
	}
	stuck, err := store.ListByStatus(ctx, models.OutboxExhausted, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].RetryCount != retryCap {
		t.Errorf("expected 1 exhausted event with retry_count=%d, got %+v", retryCap, stuck)
	}
}

func TestStore_MarkFailedFlipsExhaustedInOneWrite(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// With a cap of 1 the very first failure must land the event in
	// exhausted. Increment and status change are a single update, so there
	// is no window where the count sits at the cap with the event still
	// pending, invisible to both batch selection and the operator view.
	const retryCap = 1

	if _, err := store.Enqueue(ctx, newEvent(models.EventAddMember)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	batch, err := store.PendingBatch(ctx, 1, retryCap)
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}

	exhausted, err := store.MarkFailed(ctx, batch[0].ID, "directory unavailable", retryCap)
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if !exhausted {
		t.Fatal("expected exhaustion on the first failure with cap 1")
	}

	counts, err := store.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus failed: %v", err)
	}
	if counts[models.OutboxPending] != 0 || counts[models.OutboxExhausted] != 1 {
		t.Errorf("expected pending=0 exhausted=1, got pending=%d exhausted=%d",
			counts[models.OutboxPending], counts[models.OutboxExhausted])
	}

	stuck, err := store.ListByStatus(ctx, models.OutboxExhausted, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].RetryCount != retryCap || stuck[0].LastError == "" {
		t.Errorf("expected one exhausted event at the cap with the error recorded, got %+v", stuck)
	}
}

func TestStore_CountsByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	counts, err := store.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus failed: %v", err)
	}
	// All three statuses are always present, even at zero.
	for _, status := range []string{models.OutboxPending, models.OutboxProcessed, models.OutboxExhausted} {
		if _, ok := counts[status]; !ok {
			t.Errorf("expected %q in the counts map", status)
		}
	}

	if _, err := store.Enqueue(ctx, newEvent(models.EventAddMember)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	counts, err = store.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus failed: %v", err)
	}
	if counts[models.OutboxPending] != 1 {
		t.Errorf("expected 1 pending, got %d", counts[models.OutboxPending])
	}
}
