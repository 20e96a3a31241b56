// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User profile statuses. The identity subsystem owns the full lifecycle;
// the reconciliation engine only reads these.
const (
	UserStatusPending   = "pending"
	UserStatusApproved  = "approved"
	UserStatusSuspended = "suspended"
	UserStatusArchived  = "archived"
)

// User is the engine's read-only view of an identity record.
//
// NOTE:
//   - Profile editing, authentication, and the application workflow live in
//     the identity subsystem. This engine only consumes id, email, status.
//   - Email doubles as the principal in the external directory.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName  string             `bson:"full_name" json:"full_name"`
	Email     string             `bson:"email" json:"email"`
	Status    string             `bson:"status" json:"status"` // pending | approved | suspended | archived
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsApproved reports whether the profile passes base compliance gating.
func (u User) IsApproved() bool {
	return u.Status == UserStatusApproved
}

// IsSuspended reports whether the profile is suspended.
func (u User) IsSuspended() bool {
	return u.Status == UserStatusSuspended
}
