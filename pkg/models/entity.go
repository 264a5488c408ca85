package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a person, organization or other subject that facts attach to.
type Entity struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	Name         string     `json:"name"`
	EntityType   string     `json:"entity_type"`
	Description  *string    `json:"description,omitempty"`
	Embedding    []float32  `json:"-"`
	MergedIntoID *uuid.UUID `json:"merged_into_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Identifier types with special meaning during attribution.
const (
	IdentifierTypeEmail  = "email"
	IdentifierTypePhone  = "phone"
	IdentifierTypeHandle = "handle"

	// IdentifierTypeAlias records an alternative name, e.g. of a merged entity.
	IdentifierTypeAlias = "alias"
)

// EntityIdentifier is an email, phone number or handle that identifies an entity.
type EntityIdentifier struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	EntityID       uuid.UUID `json:"entity_id"`
	IdentifierType string    `json:"identifier_type"`
	Value          string    `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
}
