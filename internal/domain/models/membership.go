// internal/domain/models/membership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupMembership is one stay of a user in a managed group. Rows are opened
// when eligibility becomes true and closed (LeftAt set) when it becomes
// false; they are never deleted, so the collection holds the full history.
//
// Invariant: at most one open (left_at = null) row per (group_id, user_id),
// enforced by a partial unique index.
type GroupMembership struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID  primitive.ObjectID `bson:"group_id" json:"group_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	JoinedAt time.Time          `bson:"joined_at" json:"joined_at"`
	// left_at is stored as an explicit null while open (no omitempty): the
	// partial unique index filters on $type null, which a missing field
	// would not match.
	LeftAt *time.Time `bson:"left_at" json:"left_at,omitempty"`
}

// Current reports whether the membership is still open.
func (m GroupMembership) Current() bool {
	return m.LeftAt == nil
}
