package models

import (
	"time"

	"github.com/google/uuid"
)

// Commitment is a task or promise extracted from a conversation.
type Commitment struct {
	ID                  uuid.UUID  `json:"id"`
	OwnerID             uuid.UUID  `json:"owner_id"`
	EntityID            *uuid.UUID `json:"entity_id,omitempty"`
	Title               string     `json:"title"`
	Description         *string    `json:"description,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	Embedding           []float32  `json:"-"`
	Status              string     `json:"status"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	SourceInteractionID *string    `json:"source_interaction_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}
