package models

import (
	"time"

	"github.com/google/uuid"
)

// FactSource records how a fact entered the store.
type FactSource string

const (
	FactSourceManual    FactSource = "manual"
	FactSourceExtracted FactSource = "extracted"
	FactSourceImported  FactSource = "imported"
)

// Priority is the trust weight of a source. Higher wins ties in fusion prompts.
func (s FactSource) Priority() int {
	switch s {
	case FactSourceManual:
		return 100
	case FactSourceExtracted:
		return 70
	case FactSourceImported:
		return 50
	}
	return 0
}

// IsValid reports whether s is a known source.
func (s FactSource) IsValid() bool {
	return s.Priority() > 0
}

// FactRank orders alternatives for the same subject.
type FactRank string

const (
	FactRankPreferred  FactRank = "preferred"
	FactRankNormal     FactRank = "normal"
	FactRankDeprecated FactRank = "deprecated"
)

// Record status shared by facts, activities and commitments. Drafts wait in
// the approval queue and are invisible to current-fact queries.
const (
	RecordStatusDraft  = "draft"
	RecordStatusActive = "active"
)

// Fact is an atomic attribute of an entity.
type Fact struct {
	ID                  uuid.UUID      `json:"id"`
	OwnerID             uuid.UUID      `json:"owner_id"`
	EntityID            *uuid.UUID     `json:"entity_id,omitempty"`
	FactType            string         `json:"fact_type"`
	Category            string         `json:"category,omitempty"`
	Value               string         `json:"value"`
	ValueJSON           map[string]any `json:"value_json,omitempty"`
	ValueDate           *time.Time     `json:"value_date,omitempty"`
	Source              FactSource     `json:"source"`
	Confidence          *float64       `json:"confidence,omitempty"`
	ConfirmationCount   int            `json:"confirmation_count"`
	Rank                FactRank       `json:"rank"`
	ValidFrom           time.Time      `json:"valid_from"`
	ValidUntil          *time.Time     `json:"valid_until,omitempty"`
	SupersededByID      *uuid.UUID     `json:"superseded_by_id,omitempty"`
	SupersedesID        *uuid.UUID     `json:"supersedes_id,omitempty"`
	NeedsReview         bool           `json:"needs_review"`
	ReviewReason        *string        `json:"review_reason,omitempty"`
	Embedding           []float32      `json:"-"`
	Status              string         `json:"status"`
	SourceInteractionID *string        `json:"source_interaction_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           *time.Time     `json:"deleted_at,omitempty"`
}

// IsCurrent reports whether the fact is the live value for its subject.
func (f *Fact) IsCurrent() bool {
	return f.ValidUntil == nil && f.DeletedAt == nil && f.Status != RecordStatusDraft
}

// ConfidenceOr returns the recorded confidence or def when none was recorded.
func (f *Fact) ConfidenceOr(def float64) float64 {
	if f.Confidence == nil {
		return def
	}
	return *f.Confidence
}

// NewFactData is a proposed fact that has not been written yet.
type NewFactData struct {
	EntityID            *uuid.UUID     `json:"entity_id,omitempty"`
	FactType            string         `json:"fact_type"`
	Category            string         `json:"category,omitempty"`
	Value               string         `json:"value"`
	ValueJSON           map[string]any `json:"value_json,omitempty"`
	ValueDate           *time.Time     `json:"value_date,omitempty"`
	Source              FactSource     `json:"source"`
	Confidence          *float64       `json:"confidence,omitempty"`
	SourceInteractionID *string        `json:"source_interaction_id,omitempty"`
	Embedding           []float32      `json:"-"`
}

// ToFact builds an unsaved current fact for ownerID from the proposal.
func (d *NewFactData) ToFact(ownerID uuid.UUID) *Fact {
	source := d.Source
	if source == "" {
		source = FactSourceExtracted
	}
	return &Fact{
		OwnerID:             ownerID,
		EntityID:            d.EntityID,
		FactType:            d.FactType,
		Category:            d.Category,
		Value:               d.Value,
		ValueJSON:           d.ValueJSON,
		ValueDate:           d.ValueDate,
		Source:              source,
		Confidence:          d.Confidence,
		ConfirmationCount:   1,
		Rank:                FactRankNormal,
		Status:              RecordStatusActive,
		SourceInteractionID: d.SourceInteractionID,
		Embedding:           d.Embedding,
	}
}
