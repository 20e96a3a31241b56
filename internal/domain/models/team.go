// internal/domain/models/team.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Team membership roles.
const (
	TeamRoleLeader = "leader"
	TeamRoleMember = "member"
)

// Team is a user-created (non-system) group. Leading at least one active
// team is what feeds the leads managed group; teams themselves are managed
// by the out-of-scope web layer.
type Team struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Status    string             `bson:"status" json:"status"` // "active" | "archived"
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// TeamMembership joins users to teams with a scalar role.
type TeamMembership struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TeamID    primitive.ObjectID `bson:"team_id" json:"team_id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role      string             `bson:"role" json:"role"` // "leader" | "member"
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
