// internal/app/store/outbox/outboxstore.go
package outboxstore

import (
	"context"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store owns the outbox_events collection. The reconciler enqueues; the
// outbox processor is the only mutator afterwards. Rows are never deleted.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("outbox_events")}
}

// Enqueue inserts a pending event. A dedup-key collision means the same
// sync operation is already queued; that is reported as enqueued=false with
// no error, so callers inside a retry loop stay idempotent.
func (s *Store) Enqueue(ctx context.Context, ev models.OutboxEvent) (enqueued bool, err error) {
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = models.OutboxPending
	}
	if ev.DedupKey == "" {
		ev.DedupKey = models.OutboxDedupKey(ev.EventType, ev.GroupID, ev.UserID, ev.MembershipID)
	}

	if _, err := s.c.InsertOne(ctx, ev); err != nil {
		if wafflemongo.IsDup(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PendingBatch returns up to limit unprocessed events whose retry count is
// below the cap, oldest first. FIFO order preserves add-before-remove for
// any single (group, user) pair.
func (s *Store) PendingBatch(ctx context.Context, limit int64, retryCap int) ([]models.OutboxEvent, error) {
	filter := bson.M{
		"status":      models.OutboxPending,
		"retry_count": bson.M{"$lt": retryCap},
	}
	cur, err := s.c.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var events []models.OutboxEvent
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkProcessed records terminal success for one event.
func (s *Store) MarkProcessed(ctx context.Context, id primitive.ObjectID) error {
	if !models.ValidOutboxTransition(models.OutboxPending, models.OutboxProcessed) {
		return errBadTransition(models.OutboxProcessed)
	}
	now := time.Now().UTC()
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.OutboxPending},
		bson.M{"$set": bson.M{"status": models.OutboxProcessed, "processed_at": now, "last_error": ""}},
	)
	return err
}

// MarkFailed records one failed delivery attempt. When the incremented
// retry count reaches the cap, the event moves to exhausted and is returned
// with exhausted=true so the caller can surface it to operators.
//
// Increment and status flip happen in one pipeline update: a crash can never
// leave an event at the cap but still pending, which no batch selection and
// no operator view would ever show again.
func (s *Store) MarkFailed(ctx context.Context, id primitive.ObjectID, attemptErr string, retryCap int) (exhausted bool, err error) {
	if !models.ValidOutboxTransition(models.OutboxPending, models.OutboxExhausted) {
		return false, errBadTransition(models.OutboxExhausted)
	}

	nextCount := bson.M{"$add": bson.A{"$retry_count", 1}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"retry_count": nextCount,
			"last_error":  attemptErr,
			"status": bson.M{"$cond": bson.A{
				bson.M{"$gte": bson.A{nextCount, retryCap}},
				models.OutboxExhausted,
				"$status",
			}},
		}}},
	}

	var updated models.OutboxEvent
	dbErr := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.OutboxPending},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if dbErr != nil {
		return false, dbErr
	}
	return updated.Status == models.OutboxExhausted, nil
}

// ListByStatus returns events in one status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int64) ([]models.OutboxEvent, error) {
	cur, err := s.c.Find(ctx, bson.M{"status": status}, options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var events []models.OutboxEvent
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CountsByStatus returns pending/processed/exhausted totals for the ops view.
func (s *Store) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	counts := map[string]int64{
		models.OutboxPending:   0,
		models.OutboxProcessed: 0,
		models.OutboxExhausted: 0,
	}
	cur, err := s.c.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			N      int64  `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.N
	}
	return counts, cur.Err()
}

type errBadTransition string

func (e errBadTransition) Error() string {
	return "outbox: invalid status transition to " + string(e)
}
