// internal/domain/models/outboxevent.go
package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Outbox event types.
const (
	EventAddMember    = "add_member"
	EventRemoveMember = "remove_member"
)

// Outbox event statuses.
const (
	OutboxPending   = "pending"
	OutboxProcessed = "processed"
	OutboxExhausted = "exhausted"
)

// outboxTransitions is the allowed status transition table. Pending may
// stay pending across retries; processed and exhausted are terminal.
var outboxTransitions = map[string][]string{
	OutboxPending:   {OutboxPending, OutboxProcessed, OutboxExhausted},
	OutboxProcessed: {},
	OutboxExhausted: {},
}

// ValidOutboxTransition reports whether an event may move from one status
// to another.
func ValidOutboxTransition(from, to string) bool {
	for _, next := range outboxTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OutboxEvent is one pending or completed external-sync operation. Rows are
// append-only: the processor sets processed_at / retry_count / last_error /
// status but nothing ever deletes them, so the collection doubles as an
// audit of every sync attempt.
type OutboxEvent struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventType    string             `bson:"event_type" json:"event_type"` // add_member | remove_member
	GroupID      primitive.ObjectID `bson:"group_id" json:"group_id"`
	UserID       primitive.ObjectID `bson:"user_id" json:"user_id"`
	MembershipID primitive.ObjectID `bson:"membership_id" json:"membership_id"`
	OccurredAt   time.Time          `bson:"occurred_at" json:"occurred_at"`
	ProcessedAt  *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	Status       string             `bson:"status" json:"status"` // pending | processed | exhausted
	RetryCount   int                `bson:"retry_count" json:"retry_count"`
	LastError    string             `bson:"last_error,omitempty" json:"last_error,omitempty"`
	DedupKey     string             `bson:"dedup_key" json:"dedup_key"`
}

// OutboxDedupKey builds the unique deduplication key for an intended sync
// operation. The membership row id is the causal id: re-enqueueing the same
// change while it is pending collides, while a later open/close of the same
// (group, user) pair gets a fresh key.
func OutboxDedupKey(eventType string, groupID, userID, membershipID primitive.ObjectID) string {
	return fmt.Sprintf("%s:%s:%s:%s", eventType, groupID.Hex(), userID.Hex(), membershipID.Hex())
}
