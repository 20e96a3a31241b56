// internal/app/store/roles/rolestore.go
package rolestore

import (
	"context"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store reads role assignments. Assignment CRUD belongs to the admin UI;
// the engine only evaluates validity windows.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("role_assignments")}
}

// ActiveUserIDs returns the users holding the named role at instant now
// (valid_from <= now < valid_to, or valid_to unset).
func (s *Store) ActiveUserIDs(ctx context.Context, role string, now time.Time) ([]primitive.ObjectID, error) {
	filter := bson.M{
		"role":       role,
		"valid_from": bson.M{"$lte": now},
		"$or": []bson.M{
			{"valid_to": nil},
			{"valid_to": bson.M{"$gt": now}},
		},
	}
	cur, err := s.c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var a models.RoleAssignment
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		ids = append(ids, a.UserID)
	}
	return ids, cur.Err()
}

// ByUser returns all assignments for one user, regardless of validity.
func (s *Store) ByUser(ctx context.Context, userID primitive.ObjectID) ([]models.RoleAssignment, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.RoleAssignment
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
