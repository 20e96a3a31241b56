// internal/app/store/applications/applicationstore.go
package applicationstore

import (
	"context"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store reads tier applications. The application workflow (submission,
// review, approval) is out of scope; the engine consumes outcomes only.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("tier_applications")}
}

// Approved returns every approved application, across tiers. Term-expiry
// filtering is a calendar-date decision and is left to the eligibility
// rules so it is applied consistently in one place.
func (s *Store) Approved(ctx context.Context) ([]models.TierApplication, error) {
	cur, err := s.c.Find(ctx, bson.M{"status": models.ApplicationApproved})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.TierApplication
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ApprovedByUser returns the user's approved applications.
func (s *Store) ApprovedByUser(ctx context.Context, userID primitive.ObjectID) ([]models.TierApplication, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID, "status": models.ApplicationApproved})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.TierApplication
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
