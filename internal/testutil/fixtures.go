package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

func (f *Fixtures) insert(ctx context.Context, collection string, doc any) {
	f.t.Helper()
	if _, err := f.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		f.t.Fatalf("failed to insert %s fixture: %v", collection, err)
	}
}

// CreateUser creates a test user with the given email and profile status.
func (f *Fixtures) CreateUser(ctx context.Context, email, status string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	user := models.User{
		ID:        primitive.NewObjectID(),
		FullName:  "Test User",
		Email:     email,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.insert(ctx, "users", user)
	return user
}

// CreateGroup creates one managed group for the given rule.
func (f *Fixtures) CreateGroup(ctx context.Context, rule models.GroupRule) models.ManagedGroup {
	f.t.Helper()

	now := time.Now().UTC()
	group := models.ManagedGroup{
		ID:        primitive.NewObjectID(),
		Rule:      rule,
		Name:      "Test " + string(rule),
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.insert(ctx, "managed_groups", group)
	return group
}

// OpenMembership inserts an open membership row directly.
func (f *Fixtures) OpenMembership(ctx context.Context, groupID, userID primitive.ObjectID) models.GroupMembership {
	f.t.Helper()

	m := models.GroupMembership{
		ID:       primitive.NewObjectID(),
		GroupID:  groupID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
	}
	f.insert(ctx, "group_memberships", m)
	return m
}

// CreateConsentDocument publishes one version of a required document.
func (f *Fixtures) CreateConsentDocument(ctx context.Context, slug string, scope models.GroupRule, version int) models.ConsentDocument {
	f.t.Helper()

	doc := models.ConsentDocument{
		ID:        primitive.NewObjectID(),
		Slug:      slug,
		Scope:     scope,
		Version:   version,
		Title:     "Test " + slug,
		CreatedAt: time.Now().UTC(),
	}
	f.insert(ctx, "consent_documents", doc)
	return doc
}

// SignConsent records a signature on one document version.
func (f *Fixtures) SignConsent(ctx context.Context, userID primitive.ObjectID, doc models.ConsentDocument) models.ConsentSignature {
	f.t.Helper()

	sig := models.ConsentSignature{
		ID:         primitive.NewObjectID(),
		UserID:     userID,
		DocumentID: doc.ID,
		Slug:       doc.Slug,
		Version:    doc.Version,
		SignedAt:   time.Now().UTC(),
	}
	f.insert(ctx, "consent_signatures", sig)
	return sig
}

// CreateTierApplication creates an application in the given status with a
// term expiring at the given time (nil for no term).
func (f *Fixtures) CreateTierApplication(ctx context.Context, userID primitive.ObjectID, tier, status string, expires *time.Time) models.TierApplication {
	f.t.Helper()

	now := time.Now().UTC()
	app := models.TierApplication{
		ID:            primitive.NewObjectID(),
		UserID:        userID,
		Tier:          tier,
		Status:        status,
		TermExpiresAt: expires,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.insert(ctx, "tier_applications", app)
	return app
}

// CreateTeamWithLeader creates an active team led by the given user.
func (f *Fixtures) CreateTeamWithLeader(ctx context.Context, leaderID primitive.ObjectID) models.Team {
	f.t.Helper()

	now := time.Now().UTC()
	team := models.Team{
		ID:        primitive.NewObjectID(),
		Name:      "Test Team",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.insert(ctx, "team_groups", team)
	f.insert(ctx, "team_memberships", models.TeamMembership{
		ID:        primitive.NewObjectID(),
		TeamID:    team.ID,
		UserID:    leaderID,
		Role:      models.TeamRoleLeader,
		CreatedAt: now,
	})
	return team
}

// AssignRole grants a role valid from an hour ago, open-ended or until the
// given time.
func (f *Fixtures) AssignRole(ctx context.Context, userID primitive.ObjectID, role string, validTo *time.Time) models.RoleAssignment {
	f.t.Helper()

	a := models.RoleAssignment{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		Role:      role,
		ValidFrom: time.Now().UTC().Add(-time.Hour),
		ValidTo:   validTo,
	}
	f.insert(ctx, "role_assignments", a)
	return a
}

// LinkResource links an active external resource to a group.
func (f *Fixtures) LinkResource(ctx context.Context, groupID primitive.ObjectID, resourceType, externalID string) models.ExternalResource {
	f.t.Helper()

	r := models.ExternalResource{
		ID:           primitive.NewObjectID(),
		ResourceType: resourceType,
		GroupID:      groupID,
		ExternalID:   externalID,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	f.insert(ctx, "external_resources", r)
	return r
}
