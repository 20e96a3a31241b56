// internal/app/system/eligibility/rules.go
package eligibility

import (
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Eligible evaluates one group rule for one user against the snapshot.
// Rules are pure: same snapshot, same answer.
func Eligible(s *Snapshot, rule models.GroupRule, userID primitive.ObjectID) bool {
	user, ok := s.Users[userID]
	if !ok {
		return false
	}

	switch rule {
	case models.RuleCompliance:
		return baseCompliant(user) && s.Covered(userID, rule)

	case models.RuleLeads:
		return s.TeamLeaders[userID] && s.Covered(userID, rule)

	case models.RuleGovernance:
		return s.GovernanceHolders[userID] && s.Covered(userID, rule)

	case models.RuleTierContributor, models.RuleTierVoting:
		return baseCompliant(user) &&
			hasTierInTerm(s, userID, rule.Tier()) &&
			s.Covered(userID, rule)
	}
	return false
}

// EligibleUserIDs returns every user in the snapshot population that
// satisfies the rule.
func EligibleUserIDs(s *Snapshot, rule models.GroupRule) []primitive.ObjectID {
	var ids []primitive.ObjectID
	for id := range s.Users {
		if Eligible(s, rule, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// baseCompliant is the profile gate shared by the compliance and tier
// rules: approved and not suspended.
func baseCompliant(u models.User) bool {
	return u.IsApproved() && !u.IsSuspended()
}

func hasTierInTerm(s *Snapshot, userID primitive.ObjectID, tier string) bool {
	for _, app := range s.Applications[userID] {
		if app.Tier == tier && app.InTermOn(s.Now) {
			return true
		}
	}
	return false
}
