package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeConflictRaised is emitted when a new fact contradicts an existing one.
	EventTypeConflictRaised = "fusion.conflict.raised"
	// EventTypeConflictResolved is emitted once a conflict token is answered.
	EventTypeConflictResolved = "fusion.conflict.resolved"
)

// EventHeader is shared by every payload.
type EventHeader struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	OwnerID       string    `json:"owner_id"`
}

func newHeader(eventType, ownerID string, now time.Time) EventHeader {
	return EventHeader{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     now.UTC(),
		OwnerID:       ownerID,
	}
}

// ConflictFact is the fact snapshot shown to the person resolving.
type ConflictFact struct {
	ID       string `json:"id,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	FactType string `json:"fact_type"`
	Value    string `json:"value"`
	Source   string `json:"source,omitempty"`
}

// ConflictChoice is one button in the notification.
type ConflictChoice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ConflictRaisedEvent asks a human to pick between two values.
type ConflictRaisedEvent struct {
	EventHeader
	Token       string           `json:"token"`
	Existing    ConflictFact     `json:"existing"`
	Proposed    ConflictFact     `json:"proposed"`
	Explanation string           `json:"explanation"`
	Choices     []ConflictChoice `json:"choices"`
	// CallbackURL accepts POST {"choice": "<id>"}.
	CallbackURL string `json:"callback_url"`
}

// NewConflictRaisedEvent fills in the header.
func NewConflictRaisedEvent(ownerID, token string, now time.Time) *ConflictRaisedEvent {
	return &ConflictRaisedEvent{
		EventHeader: newHeader(EventTypeConflictRaised, ownerID, now),
		Token:       token,
	}
}

// ConflictResolvedEvent reports the choice made for a token.
type ConflictResolvedEvent struct {
	EventHeader
	Token        string `json:"token"`
	Choice       string `json:"choice"`
	ResultFactID string `json:"result_fact_id,omitempty"`
}

// NewConflictResolvedEvent fills in the header.
func NewConflictResolvedEvent(ownerID, token, choice string, now time.Time) *ConflictResolvedEvent {
	return &ConflictResolvedEvent{
		EventHeader: newHeader(EventTypeConflictResolved, ownerID, now),
		Token:       token,
		Choice:      choice,
	}
}
