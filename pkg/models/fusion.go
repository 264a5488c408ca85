package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FusionAction is the decided relationship between a new fact and an existing one.
type FusionAction string

const (
	// FusionActionConfirm means the new value restates the existing one.
	FusionActionConfirm FusionAction = "CONFIRM"
	// FusionActionEnrich means the new value adds detail to the existing one.
	FusionActionEnrich FusionAction = "ENRICH"
	// FusionActionSupersede means the new value replaces the existing one.
	FusionActionSupersede FusionAction = "SUPERSEDE"
	// FusionActionCoexist means both values are true at once.
	FusionActionCoexist FusionAction = "COEXIST"
	// FusionActionConflict means the values contradict and a human must decide.
	FusionActionConflict FusionAction = "CONFLICT"
)

// FusionActions lists every action in prompt order.
var FusionActions = []FusionAction{
	FusionActionConfirm,
	FusionActionEnrich,
	FusionActionSupersede,
	FusionActionCoexist,
	FusionActionConflict,
}

// ParseFusionAction accepts any casing and surrounding whitespace.
func ParseFusionAction(s string) (FusionAction, error) {
	a := FusionAction(strings.ToUpper(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("unknown fusion action %q", s)
	}
	return a, nil
}

// IsValid reports whether a is one of the five actions.
func (a FusionAction) IsValid() bool {
	switch a {
	case FusionActionConfirm, FusionActionEnrich, FusionActionSupersede, FusionActionCoexist, FusionActionConflict:
		return true
	}
	return false
}

// FusionDecision is the classifier verdict for one (existing, new) pair.
type FusionDecision struct {
	Action      FusionAction `json:"action"`
	MergedValue *string      `json:"merged_value,omitempty"`
	Explanation string       `json:"explanation"`
	Confidence  float64      `json:"confidence"`
}

// MatchKind records how a duplicate candidate was found.
type MatchKind string

const (
	MatchKindExact          MatchKind = "exact"
	MatchKindLexical        MatchKind = "lexical"
	MatchKindSemantic       MatchKind = "semantic"
	MatchKindTemporalUpdate MatchKind = "temporal_update"
	MatchKindPartialName    MatchKind = "partial_name"
)

// Candidate is an existing record that may duplicate a new one.
type Candidate[T any] struct {
	Record     T         `json:"record"`
	Similarity float64   `json:"similarity"`
	MatchKind  MatchKind `json:"match_kind"`
}

// FusionResultAction is what the store did when applying a decision.
type FusionResultAction string

const (
	FusionResultCreated FusionResultAction = "created"
	FusionResultUpdated FusionResultAction = "updated"
	FusionResultSkipped FusionResultAction = "skipped"
)

// FusionResult reports the effect of applying a decision.
type FusionResult struct {
	ResultFact     *Fact              `json:"result_fact,omitempty"`
	Action         FusionResultAction `json:"action"`
	Reason         string             `json:"reason"`
	ExistingFactID *uuid.UUID         `json:"existing_fact_id,omitempty"`
	NeedsReview    bool               `json:"needs_review"`
	// NewFactData carries the unsaved proposal when the decision was CONFLICT.
	NewFactData *NewFactData `json:"new_fact_data,omitempty"`
	// ConflictToken identifies the stored conflict a human will resolve.
	ConflictToken string `json:"conflict_token,omitempty"`
}
