// internal/domain/models/externalresource.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// External resource types.
const (
	ResourceDirectoryFolder = "directory_folder"
	ResourceMailingList     = "mailing_list"
)

// ExternalResource links a managed group to one object in the external
// directory system (a shared folder or a mailing list). At most one active
// resource per (group_id, resource_type), enforced by a partial unique
// index.
type ExternalResource struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ResourceType string             `bson:"resource_type" json:"resource_type"` // directory_folder | mailing_list
	GroupID      primitive.ObjectID `bson:"group_id" json:"group_id"`
	ExternalID   string             `bson:"external_id" json:"external_id"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
