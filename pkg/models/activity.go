package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity is an event that happened, e.g. a meeting or a trip.
type Activity struct {
	ID                  uuid.UUID  `json:"id"`
	OwnerID             uuid.UUID  `json:"owner_id"`
	EntityID            *uuid.UUID `json:"entity_id,omitempty"`
	ActivityType        string     `json:"activity_type"`
	Name                string     `json:"name"`
	Description         *string    `json:"description,omitempty"`
	OccurredAt          *time.Time `json:"occurred_at,omitempty"`
	Embedding           []float32  `json:"-"`
	Status              string     `json:"status"`
	SourceInteractionID *string    `json:"source_interaction_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}
