// internal/app/store/consents/consentstore.go
package consentstore

import (
	"context"

	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store reads consent documents and signatures. Document publication and
// signature capture are out of scope; coverage evaluation happens in the
// eligibility rules.
type Store struct {
	docs *mongo.Collection
	sigs *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		docs: db.Collection("consent_documents"),
		sigs: db.Collection("consent_signatures"),
	}
}

// LatestBySlug returns the latest version of each required document for a
// scope, keyed by slug. Superseded versions never appear in the result, so
// coverage checks can only ever accept the current version.
func (s *Store) LatestBySlug(ctx context.Context, scope models.GroupRule) (map[string]models.ConsentDocument, error) {
	cur, err := s.docs.Find(ctx, bson.M{"scope": scope},
		options.Find().SetSort(bson.D{{Key: "slug", Value: 1}, {Key: "version", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	latest := make(map[string]models.ConsentDocument)
	for cur.Next(ctx) {
		var d models.ConsentDocument
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		if have, ok := latest[d.Slug]; !ok || d.Version > have.Version {
			latest[d.Slug] = d
		}
	}
	return latest, cur.Err()
}

// SignedVersionsAll returns, for every user with any signature, the highest
// signed version per document slug. One query feeds the full-cycle snapshot.
func (s *Store) SignedVersionsAll(ctx context.Context) (map[primitive.ObjectID]map[string]int, error) {
	cur, err := s.sigs.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	return collectSignatures(ctx, cur)
}

// SignedVersionsByUser returns the highest signed version per slug for one
// user. Feeds single-user scoped snapshots.
func (s *Store) SignedVersionsByUser(ctx context.Context, userID primitive.ObjectID) (map[string]int, error) {
	cur, err := s.sigs.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	byUser, err := collectSignatures(ctx, cur)
	if err != nil {
		return nil, err
	}
	if versions, ok := byUser[userID]; ok {
		return versions, nil
	}
	return map[string]int{}, nil
}

func collectSignatures(ctx context.Context, cur *mongo.Cursor) (map[primitive.ObjectID]map[string]int, error) {
	result := make(map[primitive.ObjectID]map[string]int)
	for cur.Next(ctx) {
		var sig models.ConsentSignature
		if err := cur.Decode(&sig); err != nil {
			return nil, err
		}
		versions := result[sig.UserID]
		if versions == nil {
			versions = make(map[string]int)
			result[sig.UserID] = versions
		}
		if sig.Version > versions[sig.Slug] {
			versions[sig.Slug] = sig.Version
		}
	}
	return result, cur.Err()
}
