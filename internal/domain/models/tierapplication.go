// internal/domain/models/tierapplication.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Membership tiers a user can apply for.
const (
	TierContributor = "contributor"
	TierVoting      = "voting-member"
)

// Tier application statuses. The application workflow (out of scope here)
// owns transitions; the engine reads them.
const (
	ApplicationSubmitted = "submitted"
	ApplicationApproved  = "approved"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// TierApplication is a user's application for a membership tier. Only
// approved applications whose term has not lapsed count toward tier-group
// eligibility.
type TierApplication struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        primitive.ObjectID `bson:"user_id" json:"user_id"`
	Tier          string             `bson:"tier" json:"tier"`
	Status        string             `bson:"status" json:"status"`
	TermExpiresAt *time.Time         `bson:"term_expires_at,omitempty" json:"term_expires_at,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
}

// InTermOn reports whether the application is approved and its term covers
// the given day. The comparison is by calendar date in UTC, not instant,
// so eligibility does not flap around timezone boundaries.
func (a TierApplication) InTermOn(day time.Time) bool {
	if a.Status != ApplicationApproved {
		return false
	}
	if a.TermExpiresAt == nil {
		return false
	}
	y1, m1, d1 := a.TermExpiresAt.UTC().Date()
	y2, m2, d2 := day.UTC().Date()
	expires := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	today := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return !expires.Before(today)
}
