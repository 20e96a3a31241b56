// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ActorSystem marks entries produced by the engine itself rather than an
// operator.
const ActorSystem = "system"

// Event categories
const (
	CategoryMembership = "membership"
	CategoryOutbox     = "outbox"
	CategoryDrift      = "drift"
	CategoryOperator   = "operator"
)

// Membership event types
const (
	EventMemberAdded   = "member_added"
	EventMemberRemoved = "member_removed"
)

// Outbox event types
const (
	EventSyncExhausted = "sync_exhausted"
)

// Drift event types
const (
	EventDriftDetected    = "drift_detected"
	EventDriftApplied     = "drift_applied"
	EventDriftListFailed  = "drift_list_failed"
)

// Operator event types
const (
	EventManualReconcile = "manual_reconcile"
	EventManualDrain     = "manual_drain"
)

// Event is one entry in the engine's audit trail: a membership change, a
// detected drift or anomaly, or an operator action. Consumed by the
// out-of-scope admin UI.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`

	Category  string `bson:"category"`
	EventType string `bson:"event_type"`

	// Actor is "system" for scheduled runs, or an operator identifier for
	// manual triggers.
	Actor string `bson:"actor"`

	// Affected group/user, when the event concerns one.
	GroupID *primitive.ObjectID `bson:"group_id,omitempty"`
	UserID  *primitive.ObjectID `bson:"user_id,omitempty"`

	Success       bool   `bson:"success"`
	FailureReason string `bson:"failure_reason,omitempty"`

	// Description is the human-readable line shown in the admin UI.
	Description string `bson:"description,omitempty"`

	Details map[string]string `bson:"details,omitempty"`
}

// QueryFilter narrows audit queries.
type QueryFilter struct {
	GroupID   *primitive.ObjectID
	UserID    *primitive.ObjectID
	Category  string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int64
	Offset    int64
}

// Store manages audit event records.
type Store struct {
	c *mongo.Collection
}

// New creates a new audit Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_events")}
}

// CollectionName is exported for the sync store, which writes audit rows
// inside the same transaction as membership and outbox rows.
const CollectionName = "audit_events"

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = ActorSystem
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// Query retrieves audit events matching the given filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	query := buildQuery(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByFilter returns the count of events matching the filter.
func (s *Store) CountByFilter(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, buildQuery(filter))
}

// GetByUser retrieves recent audit events for a specific user.
func (s *Store) GetByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{UserID: &userID, Limit: limit})
}

// GetRecent retrieves the most recent audit events.
func (s *Store) GetRecent(ctx context.Context, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{Limit: limit})
}

// GetAnomalies retrieves recent failed or exhausted entries for the
// operator view.
func (s *Store) GetAnomalies(ctx context.Context, since time.Time, limit int64) ([]Event, error) {
	query := bson.M{
		"success":   false,
		"timestamp": bson.M{"$gte": since},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func buildQuery(filter QueryFilter) bson.M {
	query := bson.M{}
	if filter.GroupID != nil {
		query["group_id"] = filter.GroupID
	}
	if filter.UserID != nil {
		query["user_id"] = filter.UserID
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}
	if filter.StartTime != nil || filter.EndTime != nil {
		timeQuery := bson.M{}
		if filter.StartTime != nil {
			timeQuery["$gte"] = *filter.StartTime
		}
		if filter.EndTime != nil {
			timeQuery["$lte"] = *filter.EndTime
		}
		query["timestamp"] = timeQuery
	}
	return query
}
