// internal/app/store/memberships/membershipstore.go
package membershipstore

import (
	"context"
	"errors"
	"time"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrAlreadyMember is returned when opening a membership that is already
// open for the same (group, user) pair.
var ErrAlreadyMember = errors.New("user already has an open membership in this group")

// ErrNotMember is returned when closing a membership that is not open.
var ErrNotMember = errors.New("user has no open membership in this group")

// Store owns the group_memberships collection: the authoritative internal
// record of who is currently in which managed group. Rows are opened and
// closed, never deleted.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("group_memberships")}
}

// Open creates a new open membership row and returns it. The partial unique
// index on (group_id, user_id, left_at=null) rejects a second open row.
func (s *Store) Open(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error) {
	m := models.GroupMembership{
		ID:       primitive.NewObjectID(),
		GroupID:  groupID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if wafflemongo.IsDup(err) {
			return models.GroupMembership{}, ErrAlreadyMember
		}
		return models.GroupMembership{}, err
	}
	return m, nil
}

// Close sets left_at on the open membership row for (groupID, userID) and
// returns the closed row.
func (s *Store) Close(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error) {
	now := time.Now().UTC()
	var m models.GroupMembership
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"group_id": groupID, "user_id": userID, "left_at": nil},
		bson.M{"$set": bson.M{"left_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return models.GroupMembership{}, ErrNotMember
	}
	if err != nil {
		return models.GroupMembership{}, err
	}
	return m, nil
}

// CurrentMemberIDs returns the user ids with an open membership in the group.
func (s *Store) CurrentMemberIDs(ctx context.Context, groupID primitive.ObjectID) ([]primitive.ObjectID, error) {
	cur, err := s.c.Find(ctx, bson.M{"group_id": groupID, "left_at": nil})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var m models.GroupMembership
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		ids = append(ids, m.UserID)
	}
	return ids, cur.Err()
}

// IsCurrentMember reports whether the user has an open membership in the group.
func (s *Store) IsCurrentMember(ctx context.Context, groupID, userID primitive.ObjectID) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID, "left_at": nil}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CurrentGroupsByUser returns the group ids the user is currently a member of.
func (s *Store) CurrentGroupsByUser(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID, "left_at": nil})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var m models.GroupMembership
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		ids = append(ids, m.GroupID)
	}
	return ids, cur.Err()
}

// HistoryByUser returns every membership row (open and closed) for a user,
// newest join first. Feeds the operator user-status view.
func (s *Store) HistoryByUser(ctx context.Context, userID primitive.ObjectID) ([]models.GroupMembership, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "joined_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.GroupMembership
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// CountCurrentByGroup returns the number of open memberships in a group.
func (s *Store) CountCurrentByGroup(ctx context.Context, groupID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"group_id": groupID, "left_at": nil})
}
