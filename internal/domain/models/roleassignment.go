// internal/domain/models/roleassignment.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RoleGovernance is the role name that feeds the governance group.
const RoleGovernance = "governance"

// RoleAssignment grants a named role to a user for a validity window.
// Invariant: ValidTo, if set, is strictly after ValidFrom.
type RoleAssignment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role      string             `bson:"role" json:"role"`
	ValidFrom time.Time          `bson:"valid_from" json:"valid_from"`
	ValidTo   *time.Time         `bson:"valid_to,omitempty" json:"valid_to,omitempty"`
}

// ActiveAt reports whether the assignment's window contains t
// (valid_from <= t < valid_to, open-ended when valid_to is unset).
func (a RoleAssignment) ActiveAt(t time.Time) bool {
	if t.Before(a.ValidFrom) {
		return false
	}
	return a.ValidTo == nil || t.Before(*a.ValidTo)
}
