// internal/app/store/sync/syncstore.go
package syncstore

import (
	"context"
	"time"

	"github.com/memberhub-app/memberhub/internal/app/store/audit"
	membershipstore "github.com/memberhub-app/memberhub/internal/app/store/memberships"
	"github.com/memberhub-app/memberhub/internal/app/system/txn"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store applies one membership change as a single unit: the membership row,
// its outbox event, and its audit entry commit together, so a crash can
// never record a membership change without the matching sync operation.
//
// On replica-set deployments the unit is a multi-document transaction
// (txn.WithTransaction). On standalone servers the writes run sequentially
// with the outbox row first, so an interrupted add/remove surfaces as a
// queued sync operation rather than a silent membership change; the drift
// previewer and the next reconcile tick converge the remainder.
type Store struct {
	client      *mongo.Client
	memberships *mongo.Collection
	outbox      *mongo.Collection
	audit       *mongo.Collection
}

func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:      client,
		memberships: db.Collection("group_memberships"),
		outbox:      db.Collection("outbox_events"),
		audit:       db.Collection(audit.CollectionName),
	}
}

// AddMember opens a membership row for (groupID, userID), enqueues the
// add_member outbox event, and writes the audit entry, atomically. Returns
// membershipstore.ErrAlreadyMember when an open row already exists.
func (s *Store) AddMember(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error) {
	now := time.Now().UTC()
	m := models.GroupMembership{
		ID:       primitive.NewObjectID(),
		GroupID:  groupID,
		UserID:   userID,
		JoinedAt: now,
	}
	ev := pendingEvent(models.EventAddMember, m, now)
	entry := audit.Event{
		ID:          primitive.NewObjectID(),
		Timestamp:   now,
		Category:    audit.CategoryMembership,
		EventType:   audit.EventMemberAdded,
		Actor:       audit.ActorSystem,
		GroupID:     &groupID,
		UserID:      &userID,
		Success:     true,
		Description: "membership opened by reconciliation",
	}

	err := s.run(ctx, func(ctx context.Context) error {
		if _, err := s.outbox.InsertOne(ctx, ev); err != nil && !wafflemongo.IsDup(err) {
			return err
		}
		if _, err := s.audit.InsertOne(ctx, entry); err != nil {
			return err
		}
		if _, err := s.memberships.InsertOne(ctx, m); err != nil {
			if wafflemongo.IsDup(err) {
				return membershipstore.ErrAlreadyMember
			}
			return err
		}
		return nil
	})
	if err != nil {
		return models.GroupMembership{}, err
	}
	return m, nil
}

// RemoveMember closes the open membership row for (groupID, userID),
// enqueues the remove_member outbox event, and writes the audit entry,
// atomically. Returns membershipstore.ErrNotMember when no open row exists.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error) {
	now := time.Now().UTC()
	var closed models.GroupMembership

	err := s.run(ctx, func(ctx context.Context) error {
		// Locate the open row first: its id is the causal id on the
		// outbox event's dedup key.
		var open models.GroupMembership
		err := s.memberships.FindOne(ctx,
			bson.M{"group_id": groupID, "user_id": userID, "left_at": nil},
		).Decode(&open)
		if err == mongo.ErrNoDocuments {
			return membershipstore.ErrNotMember
		}
		if err != nil {
			return err
		}

		ev := pendingEvent(models.EventRemoveMember, open, now)
		if _, err := s.outbox.InsertOne(ctx, ev); err != nil && !wafflemongo.IsDup(err) {
			return err
		}

		entry := audit.Event{
			ID:          primitive.NewObjectID(),
			Timestamp:   now,
			Category:    audit.CategoryMembership,
			EventType:   audit.EventMemberRemoved,
			Actor:       audit.ActorSystem,
			GroupID:     &groupID,
			UserID:      &userID,
			Success:     true,
			Description: "membership closed by reconciliation",
		}
		if _, err := s.audit.InsertOne(ctx, entry); err != nil {
			return err
		}

		err = s.memberships.FindOneAndUpdate(ctx,
			bson.M{"_id": open.ID, "left_at": nil},
			bson.M{"$set": bson.M{"left_at": now}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&closed)
		if err == mongo.ErrNoDocuments {
			return membershipstore.ErrNotMember
		}
		return err
	})
	if err != nil {
		return models.GroupMembership{}, err
	}
	return closed, nil
}

func pendingEvent(eventType string, m models.GroupMembership, now time.Time) models.OutboxEvent {
	return models.OutboxEvent{
		ID:           primitive.NewObjectID(),
		EventType:    eventType,
		GroupID:      m.GroupID,
		UserID:       m.UserID,
		MembershipID: m.ID,
		OccurredAt:   now,
		Status:       models.OutboxPending,
		DedupKey:     models.OutboxDedupKey(eventType, m.GroupID, m.UserID, m.ID),
	}
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context) error) error {
	return txn.WithTransaction(ctx, s.client, fn)
}
