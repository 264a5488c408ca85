package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApprovalItemType names the table a pending approval points at.
type ApprovalItemType string

const (
	ApprovalItemFact       ApprovalItemType = "FACT"
	ApprovalItemActivity   ApprovalItemType = "ACTIVITY"
	ApprovalItemCommitment ApprovalItemType = "COMMITMENT"
)

// IsValid reports whether t is a known item type.
func (t ApprovalItemType) IsValid() bool {
	switch t {
	case ApprovalItemFact, ApprovalItemActivity, ApprovalItemCommitment:
		return true
	}
	return false
}

// ParseApprovalItemType validates an item type received over the wire.
func ParseApprovalItemType(s string) (ApprovalItemType, error) {
	t := ApprovalItemType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown approval item type %q", s)
	}
	return t, nil
}

// ApprovalStatus is the lifecycle state of a pending approval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// PendingApproval is a draft record waiting for review.
type PendingApproval struct {
	ID                  uuid.UUID        `json:"id"`
	OwnerID             uuid.UUID        `json:"owner_id"`
	ItemType            ApprovalItemType `json:"item_type"`
	TargetID            uuid.UUID        `json:"target_id"`
	BatchID             uuid.UUID        `json:"batch_id"`
	Status              ApprovalStatus   `json:"status"`
	Confidence          *float64         `json:"confidence,omitempty"`
	SourceQuote         *string          `json:"source_quote,omitempty"`
	SourceInteractionID *string          `json:"source_interaction_id,omitempty"`
	MessageRef          *string          `json:"message_ref,omitempty"`
	ReviewedAt          *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// BatchStats summarizes the approvals of one extraction batch.
type BatchStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// BatchResult reports a batch approve or reject. One failing item never
// stops the others.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}
