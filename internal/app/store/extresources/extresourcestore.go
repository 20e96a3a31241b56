// internal/app/store/extresources/extresourcestore.go
package extresourcestore

import (
	"context"
	"errors"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrDuplicateResource is returned when linking a second active resource of
// the same type to a group.
var ErrDuplicateResource = errors.New("group already has an active resource of this type")

// Store manages links between managed groups and external directory objects.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("external_resources")}
}

// Link records a new active resource for a group. The partial unique index
// on (group_id, resource_type, is_active=true) enforces at most one.
func (s *Store) Link(ctx context.Context, groupID primitive.ObjectID, resourceType, externalID string) (models.ExternalResource, error) {
	r := models.ExternalResource{
		ID:           primitive.NewObjectID(),
		ResourceType: resourceType,
		GroupID:      groupID,
		ExternalID:   externalID,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, r); err != nil {
		if wafflemongo.IsDup(err) {
			return models.ExternalResource{}, ErrDuplicateResource
		}
		return models.ExternalResource{}, err
	}
	return r, nil
}

// Deactivate marks a resource inactive. The external object itself is left
// alone; it simply stops being reconciled.
func (s *Store) Deactivate(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_active": false}})
	return err
}

// ActiveByGroup returns the group's active resources (zero, one, or two:
// at most one folder and one mailing list).
func (s *Store) ActiveByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.ExternalResource, error) {
	cur, err := s.c.Find(ctx, bson.M{"group_id": groupID, "is_active": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.ExternalResource
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActive returns every active resource across all groups, for drift
// preview sweeps.
func (s *Store) ListActive(ctx context.Context) ([]models.ExternalResource, error) {
	cur, err := s.c.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.ExternalResource
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
