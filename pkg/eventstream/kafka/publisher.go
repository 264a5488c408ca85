// Package kafka publishes conflict events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream"
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish. Zero uses 10s.
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes one message per event, keyed by owner so a consumer sees
// an owner's conflicts in order.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(writer, cfg.WriteTimeout, logger), nil
}

func newPublisher(w messageWriter, timeout time.Duration, logger *zap.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{writer: w, timeout: timeout, logger: logger.Named("kafka-publisher")}
}

func (p *Publisher) PublishConflictRaised(ctx context.Context, event *eventstream.ConflictRaisedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.EventHeader, event)
}

func (p *Publisher) PublishConflictResolved(ctx context.Context, event *eventstream.ConflictResolvedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.EventHeader, event)
}

func (p *Publisher) publish(ctx context.Context, header eventstream.EventHeader, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", header.EventType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(header.OwnerID),
		Value: value,
		Time:  header.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(header.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(header.SchemaVersion))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", header.EventType, err)
	}

	p.logger.Debug("Published event",
		zap.String("event_type", header.EventType),
		zap.String("event_id", header.EventID))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
