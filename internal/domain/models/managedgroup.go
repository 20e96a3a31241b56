// internal/domain/models/managedgroup.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupRule identifies the eligibility rule that derives a managed group's
// membership. The set is fixed; managed groups are never created or deleted
// by end users.
type GroupRule string

const (
	RuleCompliance      GroupRule = "compliance"       // approved, not suspended, full consent coverage
	RuleLeads           GroupRule = "leads"            // leads at least one team
	RuleGovernance      GroupRule = "governance"       // active governance role assignment
	RuleTierContributor GroupRule = "tier-contributor" // approved contributor application in term
	RuleTierVoting      GroupRule = "tier-voting"      // approved voting-member application in term
)

// AllGroupRules lists every managed group rule, in seeding order.
var AllGroupRules = []GroupRule{
	RuleCompliance,
	RuleLeads,
	RuleGovernance,
	RuleTierContributor,
	RuleTierVoting,
}

// Valid reports whether r names a known rule.
func (r GroupRule) Valid() bool {
	for _, known := range AllGroupRules {
		if r == known {
			return true
		}
	}
	return false
}

// Tier returns the application tier a tier rule gates on, or "" for
// non-tier rules.
func (r GroupRule) Tier() string {
	switch r {
	case RuleTierContributor:
		return TierContributor
	case RuleTierVoting:
		return TierVoting
	}
	return ""
}

// ManagedGroup is a system-defined group whose membership is entirely
// derived from other facts. Seeded at startup, one document per rule.
type ManagedGroup struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Rule      GroupRule          `bson:"rule" json:"rule"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
