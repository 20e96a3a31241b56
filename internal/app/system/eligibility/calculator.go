// internal/app/system/eligibility/calculator.go
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Fact sources. Satisfied by the store packages; narrow so tests can swap
// in fixtures without a database.

type UserSource interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	ListAll(ctx context.Context) ([]models.User, error)
}

type TeamSource interface {
	LeaderUserIDs(ctx context.Context) ([]primitive.ObjectID, error)
	IsLeader(ctx context.Context, userID primitive.ObjectID) (bool, error)
}

type RoleSource interface {
	ActiveUserIDs(ctx context.Context, role string, now time.Time) ([]primitive.ObjectID, error)
	ByUser(ctx context.Context, userID primitive.ObjectID) ([]models.RoleAssignment, error)
}

type ApplicationSource interface {
	Approved(ctx context.Context) ([]models.TierApplication, error)
	ApprovedByUser(ctx context.Context, userID primitive.ObjectID) ([]models.TierApplication, error)
}

type ConsentSource interface {
	LatestBySlug(ctx context.Context, scope models.GroupRule) (map[string]models.ConsentDocument, error)
	SignedVersionsAll(ctx context.Context) (map[primitive.ObjectID]map[string]int, error)
	SignedVersionsByUser(ctx context.Context, userID primitive.ObjectID) (map[string]int, error)
}

// Calculator loads fact snapshots and answers eligibility questions. Every
// load error propagates: a failed query aborts the whole calculation cycle
// rather than reading as "zero eligible users", which would mass-remove
// members downstream.
type Calculator struct {
	users    UserSource
	teams    TeamSource
	roles    RoleSource
	apps     ApplicationSource
	consents ConsentSource
}

func NewCalculator(users UserSource, teams TeamSource, roles RoleSource, apps ApplicationSource, consents ConsentSource) *Calculator {
	return &Calculator{users: users, teams: teams, roles: roles, apps: apps, consents: consents}
}

// LoadSnapshot builds a full-population snapshot for one reconciliation
// cycle.
func (c *Calculator) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	now := time.Now().UTC()

	users, err := c.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	population := make(map[primitive.ObjectID]models.User, len(users))
	for _, u := range users {
		population[u.ID] = u
	}

	signed, err := c.consents.SignedVersionsAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load consent signatures: %w", err)
	}

	apps, err := c.apps.Approved(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tier applications: %w", err)
	}
	byUser := make(map[primitive.ObjectID][]models.TierApplication)
	for _, a := range apps {
		byUser[a.UserID] = append(byUser[a.UserID], a)
	}

	leaderIDs, err := c.teams.LeaderUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load team leaders: %w", err)
	}
	leaders := make(map[primitive.ObjectID]bool, len(leaderIDs))
	for _, id := range leaderIDs {
		leaders[id] = true
	}

	holderIDs, err := c.roles.ActiveUserIDs(ctx, models.RoleGovernance, now)
	if err != nil {
		return nil, fmt.Errorf("load governance roles: %w", err)
	}
	holders := make(map[primitive.ObjectID]bool, len(holderIDs))
	for _, id := range holderIDs {
		holders[id] = true
	}

	return c.finishSnapshot(ctx, now, population, leaders, holders, signed, byUser)
}

// LoadUserSnapshot builds a snapshot scoped to a single user, for
// low-latency "just changed" triggers. Every fact is loaded with a
// user-scoped query; the population-wide scans stay in LoadSnapshot.
func (c *Calculator) LoadUserSnapshot(ctx context.Context, userID primitive.ObjectID) (*Snapshot, error) {
	now := time.Now().UTC()

	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID.Hex(), err)
	}
	population := map[primitive.ObjectID]models.User{user.ID: user}

	versions, err := c.consents.SignedVersionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load consent signatures: %w", err)
	}
	signed := map[primitive.ObjectID]map[string]int{userID: versions}

	apps, err := c.apps.ApprovedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load tier applications: %w", err)
	}
	byUser := map[primitive.ObjectID][]models.TierApplication{userID: apps}

	leads, err := c.teams.IsLeader(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load team leadership: %w", err)
	}
	leaders := map[primitive.ObjectID]bool{}
	if leads {
		leaders[userID] = true
	}

	assignments, err := c.roles.ByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load role assignments: %w", err)
	}
	holders := map[primitive.ObjectID]bool{}
	for _, a := range assignments {
		if a.Role == models.RoleGovernance && a.ActiveAt(now) {
			holders[userID] = true
			break
		}
	}

	return c.finishSnapshot(ctx, now, population, leaders, holders, signed, byUser)
}

func (c *Calculator) finishSnapshot(
	ctx context.Context,
	now time.Time,
	population map[primitive.ObjectID]models.User,
	leaders map[primitive.ObjectID]bool,
	holders map[primitive.ObjectID]bool,
	signed map[primitive.ObjectID]map[string]int,
	apps map[primitive.ObjectID][]models.TierApplication,
) (*Snapshot, error) {
	required := make(map[models.GroupRule]map[string]int, len(models.AllGroupRules))
	for _, rule := range models.AllGroupRules {
		docs, err := c.consents.LatestBySlug(ctx, rule)
		if err != nil {
			return nil, fmt.Errorf("load required documents for %s: %w", rule, err)
		}
		versions := make(map[string]int, len(docs))
		for slug, doc := range docs {
			versions[slug] = doc.Version
		}
		required[rule] = versions
	}

	return &Snapshot{
		Now:               now,
		Users:             population,
		TeamLeaders:       leaders,
		GovernanceHolders: holders,
		Applications:      apps,
		RequiredVersions:  required,
		SignedVersions:    signed,
	}, nil
}

// ComputeEligibleUserIDs loads a fresh snapshot and returns the users
// currently eligible for the rule.
func (c *Calculator) ComputeEligibleUserIDs(ctx context.Context, rule models.GroupRule) ([]primitive.ObjectID, error) {
	snap, err := c.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return EligibleUserIDs(snap, rule), nil
}

// MembershipStatus summarizes one user's standing across all managed groups.
type MembershipStatus struct {
	UserID        primitive.ObjectID `json:"user_id"`
	ProfileStatus string             `json:"profile_status"`
	EligibleRules []models.GroupRule `json:"eligible_rules"`
}

// ComputeStatus evaluates every rule for one user from a user-scoped
// snapshot.
func (c *Calculator) ComputeStatus(ctx context.Context, userID primitive.ObjectID) (MembershipStatus, error) {
	snap, err := c.LoadUserSnapshot(ctx, userID)
	if err != nil {
		return MembershipStatus{}, err
	}

	status := MembershipStatus{
		UserID:        userID,
		ProfileStatus: snap.Users[userID].Status,
	}
	for _, rule := range models.AllGroupRules {
		if Eligible(snap, rule, userID) {
			status.EligibleRules = append(status.EligibleRules, rule)
		}
	}
	return status, nil
}
