package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConflictChoice is the answer to a contradicting fact.
type ConflictChoice string

const (
	ConflictChoiceUseNew   ConflictChoice = "use_new"
	ConflictChoiceKeepOld  ConflictChoice = "keep_old"
	ConflictChoiceKeepBoth ConflictChoice = "keep_both"
)

// ConflictChoices lists every choice offered in a conflict notification.
var ConflictChoices = []ConflictChoice{ConflictChoiceUseNew, ConflictChoiceKeepOld, ConflictChoiceKeepBoth}

// ParseConflictChoice validates a choice received from a notification callback.
func ParseConflictChoice(s string) (ConflictChoice, error) {
	switch c := ConflictChoice(s); c {
	case ConflictChoiceUseNew, ConflictChoiceKeepOld, ConflictChoiceKeepBoth:
		return c, nil
	}
	return "", fmt.Errorf("unknown conflict choice %q", s)
}

// Conflict status constants.
const (
	ConflictStatusPending  = "pending"
	ConflictStatusResolved = "resolved"
)

// FactConflict is a stored contradiction addressed by a short token.
type FactConflict struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	Token          string          `json:"token"`
	ExistingFactID uuid.UUID       `json:"existing_fact_id"`
	NewFactData    NewFactData     `json:"new_fact_data"`
	Explanation    string          `json:"explanation"`
	Status         string          `json:"status"`
	Choice         *ConflictChoice `json:"choice,omitempty"`
	ResultFactID   *uuid.UUID      `json:"result_fact_id,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
