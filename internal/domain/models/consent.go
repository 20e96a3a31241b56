// internal/domain/models/consent.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConsentDocument is one version of a required legal document, scoped to a
// managed group rule. Publishing a new version supersedes the previous one;
// coverage checks only accept the latest version per (scope, slug).
type ConsentDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Slug      string             `bson:"slug" json:"slug"` // stable document identity across versions
	Scope     GroupRule          `bson:"scope" json:"scope"`
	Version   int                `bson:"version" json:"version"`
	Title     string             `bson:"title" json:"title"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// ConsentSignature records that a user signed one document version.
// Captured by the consent UI (out of scope); read-only here.
type ConsentSignature struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	DocumentID primitive.ObjectID `bson:"document_id" json:"document_id"`
	Slug       string             `bson:"slug" json:"slug"`
	Version    int                `bson:"version" json:"version"`
	SignedAt   time.Time          `bson:"signed_at" json:"signed_at"`
}
