package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConfirmationType names the question a pending confirmation asks.
type ConfirmationType string

const (
	// ConfirmationTypeIdentifierAttribution asks which entity owns an identifier.
	ConfirmationTypeIdentifierAttribution ConfirmationType = "IDENTIFIER_ATTRIBUTION"
	// ConfirmationTypeEntityMerge asks whether two entities are the same.
	ConfirmationTypeEntityMerge ConfirmationType = "ENTITY_MERGE"
	// ConfirmationTypeFactSubject asks which entity a fact is about.
	ConfirmationTypeFactSubject ConfirmationType = "FACT_SUBJECT"
	// ConfirmationTypeFactValue asks which value of a fact is right.
	ConfirmationTypeFactValue ConfirmationType = "FACT_VALUE"
)

// ConfirmationTypes lists every confirmation type.
var ConfirmationTypes = []ConfirmationType{
	ConfirmationTypeIdentifierAttribution,
	ConfirmationTypeEntityMerge,
	ConfirmationTypeFactSubject,
	ConfirmationTypeFactValue,
}

// IsValid reports whether t is a known confirmation type.
func (t ConfirmationType) IsValid() bool {
	switch t {
	case ConfirmationTypeIdentifierAttribution, ConfirmationTypeEntityMerge,
		ConfirmationTypeFactSubject, ConfirmationTypeFactValue:
		return true
	}
	return false
}

// ParseConfirmationType validates a type received over the wire.
func ParseConfirmationType(s string) (ConfirmationType, error) {
	t := ConfirmationType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown confirmation type %q", s)
	}
	return t, nil
}

// ConfirmationStatus is the lifecycle state of a pending confirmation.
type ConfirmationStatus string

const (
	ConfirmationStatusPending   ConfirmationStatus = "PENDING"
	ConfirmationStatusConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationStatusDeclined  ConfirmationStatus = "DECLINED"
	ConfirmationStatusExpired   ConfirmationStatus = "EXPIRED"
)

// Resolvers recorded in resolved_by.
const (
	ResolvedByUser    = "user"
	ResolvedByExpired = "expired"
)

// DeclineOptionID is the conventional id of the "none of these" option.
const DeclineOptionID = "decline"

// Resolution keys written when a confirmation handler fails.
const (
	ResolutionKeyHandlerError    = "handlerError"
	ResolutionKeyHandlerFailedAt = "handlerFailedAt"
)

// ConfirmationOption is one answer the user can pick.
type ConfirmationOption struct {
	ID             string     `json:"id"`
	Label          string     `json:"label"`
	Sublabel       string     `json:"sublabel,omitempty"`
	TargetEntityID *uuid.UUID `json:"targetEntityId,omitempty"`
	IsCreateNew    bool       `json:"isCreateNew,omitempty"`
	IsDecline      bool       `json:"isDecline,omitempty"`
}

// PendingConfirmation is a question awaiting a user answer.
type PendingConfirmation struct {
	ID               uuid.UUID            `json:"id"`
	OwnerID          uuid.UUID            `json:"owner_id"`
	Type             ConfirmationType     `json:"type"`
	Context          map[string]any       `json:"context"`
	Options          []ConfirmationOption `json:"options"`
	Confidence       *float64             `json:"confidence,omitempty"`
	SourceMessageID  *string              `json:"source_message_id,omitempty"`
	SourceEntityID   *uuid.UUID           `json:"source_entity_id,omitempty"`
	PendingFactID    *uuid.UUID           `json:"pending_fact_id,omitempty"`
	ExtractedEventID *string              `json:"extracted_event_id,omitempty"`
	Status           ConfirmationStatus   `json:"status"`
	SelectedOptionID *string              `json:"selected_option_id,omitempty"`
	Resolution       map[string]any       `json:"resolution,omitempty"`
	ResolvedAt       *time.Time           `json:"resolved_at,omitempty"`
	ResolvedBy       *string              `json:"resolved_by,omitempty"`
	ExpiresAt        *time.Time           `json:"expires_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Option returns the option with the given id.
func (c *PendingConfirmation) Option(id string) (*ConfirmationOption, bool) {
	for i := range c.Options {
		if c.Options[i].ID == id {
			return &c.Options[i], true
		}
	}
	return nil, false
}

// ContextString returns a string value from the context map.
func (c *PendingConfirmation) ContextString(key string) string {
	if c.Context == nil {
		return ""
	}
	s, _ := c.Context[key].(string)
	return s
}

// PendingConfirmationFilter narrows GetPending.
type PendingConfirmationFilter struct {
	Type     *ConfirmationType
	EntityID *uuid.UUID
	Limit    int
	Offset   int
}
