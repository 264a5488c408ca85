// Package eventstream publishes conflict notifications to downstream
// consumers (notification UI, chat bots) that present the resolution choices.
package eventstream

import "context"

// Publisher publishes conflict events to an event stream backend.
type Publisher interface {
	PublishConflictRaised(ctx context.Context, event *ConflictRaisedEvent) error
	PublishConflictResolved(ctx context.Context, event *ConflictResolvedEvent) error
	Close() error
}
