// internal/app/store/teams/teamstore.go
package teamstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store reads team (non-system group) membership to answer one question:
// who currently leads at least one active team.
type Store struct {
	teams       *mongo.Collection
	memberships *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		teams:       db.Collection("team_groups"),
		memberships: db.Collection("team_memberships"),
	}
}

// LeaderUserIDs returns the distinct users holding a leader role in any
// active team.
func (s *Store) LeaderUserIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	activeIDs, err := s.activeTeamIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(activeIDs) == 0 {
		return nil, nil
	}

	raw, err := s.memberships.Distinct(ctx, "user_id", bson.M{
		"role":    "leader",
		"team_id": bson.M{"$in": activeIDs},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// IsLeader reports whether the user leads at least one active team.
func (s *Store) IsLeader(ctx context.Context, userID primitive.ObjectID) (bool, error) {
	activeIDs, err := s.activeTeamIDs(ctx)
	if err != nil {
		return false, err
	}
	if len(activeIDs) == 0 {
		return false, nil
	}

	err = s.memberships.FindOne(ctx, bson.M{
		"user_id": userID,
		"role":    "leader",
		"team_id": bson.M{"$in": activeIDs},
	}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) activeTeamIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	raw, err := s.teams.Distinct(ctx, "_id", bson.M{"status": "active"})
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
