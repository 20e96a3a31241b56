// internal/app/system/eligibility/snapshot.go
package eligibility

import (
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Snapshot is an immutable bundle of the facts one evaluation needs:
// profiles, team leadership, governance role holders, approved tier
// applications, required document versions, and signed consent versions.
// It is built once per reconciliation cycle (or once per single-user
// trigger) and discarded afterwards; nothing memoizes across calls, so a
// snapshot can never leak stale answers between concurrent evaluations.
type Snapshot struct {
	// Now is the evaluation instant. Term-expiry rules reduce it to a UTC
	// calendar date.
	Now time.Time

	// Users is the evaluated population. A full-cycle snapshot holds every
	// user; a single-user snapshot holds exactly one.
	Users map[primitive.ObjectID]models.User

	// TeamLeaders holds the users leading at least one active team.
	TeamLeaders map[primitive.ObjectID]bool

	// GovernanceHolders holds the users with an active governance role
	// assignment at Now.
	GovernanceHolders map[primitive.ObjectID]bool

	// Applications holds approved tier applications per user.
	Applications map[primitive.ObjectID][]models.TierApplication

	// RequiredVersions maps each group rule to the latest version of every
	// required document (slug -> version) for that rule's scope.
	RequiredVersions map[models.GroupRule]map[string]int

	// SignedVersions maps user -> slug -> highest signed version.
	SignedVersions map[primitive.ObjectID]map[string]int
}

// UserIDs returns the snapshot population in unspecified order.
func (s *Snapshot) UserIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	return ids
}

// Covered reports whether the user has signed the latest version of every
// document required for the rule's scope. A missing signature or one for a
// superseded version fails coverage.
func (s *Snapshot) Covered(userID primitive.ObjectID, rule models.GroupRule) bool {
	required := s.RequiredVersions[rule]
	if len(required) == 0 {
		return true
	}
	signed := s.SignedVersions[userID]
	for slug, version := range required {
		if signed[slug] < version {
			return false
		}
	}
	return true
}
