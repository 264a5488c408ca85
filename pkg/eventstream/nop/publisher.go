package nop

import (
	"context"

	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) PublishConflictRaised(_ context.Context, event *eventstream.ConflictRaisedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

func (p *Publisher) PublishConflictResolved(_ context.Context, event *eventstream.ConflictResolvedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*Publisher)(nil)
