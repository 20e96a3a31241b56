// internal/app/store/groups/groupstore.go
package groupstore

import (
	"context"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store manages the managed-group catalog. Groups are seeded from the fixed
// rule enumeration at startup and are never created or deleted by end users.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("managed_groups")}
}

func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.ManagedGroup, error) {
	var g models.ManagedGroup
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return models.ManagedGroup{}, err
	}
	return g, nil
}

func (s *Store) GetByRule(ctx context.Context, rule models.GroupRule) (models.ManagedGroup, error) {
	var g models.ManagedGroup
	if err := s.c.FindOne(ctx, bson.M{"rule": rule}).Decode(&g); err != nil {
		return models.ManagedGroup{}, err
	}
	return g, nil
}

// List returns the whole catalog in seeding order.
func (s *Store) List(ctx context.Context) ([]models.ManagedGroup, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var groups []models.ManagedGroup
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// Seed upserts one managed group per rule. Idempotent; existing documents
// keep their id and only refresh the display name.
func (s *Store) Seed(ctx context.Context, names map[models.GroupRule]string) error {
	now := time.Now().UTC()
	for _, rule := range models.AllGroupRules {
		name := names[rule]
		if name == "" {
			name = string(rule)
		}
		_, err := s.c.UpdateOne(ctx,
			bson.M{"rule": rule},
			bson.M{
				"$set":         bson.M{"name": name, "updated_at": now},
				"$setOnInsert": bson.M{"rule": rule, "created_at": now},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
