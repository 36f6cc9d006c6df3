// Package kafka publishes processing events to an Apache Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the bootstrap broker list.
	Brokers []string

	// Topic receives batch events.
	Topic string

	// BatchTimeout bounds how long the writer buffers before flushing.
	// Zero uses the writer default.
	BatchTimeout time.Duration
}

// Publisher writes batch events to a Kafka topic, keyed by session so events
// for one session stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed eventstream publisher.
func NewPublisher(config Config, logger *zap.Logger) (*Publisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Publisher{writer: writer, logger: logger}, nil
}

// PublishBatch serializes the event as JSON and writes it to the topic.
func (p *Publisher) PublishBatch(ctx context.Context, event *eventstream.BatchProcessedEvent) error {
	if event == nil {
		return eventstream.ErrNilBatchEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling batch event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.Source.SessionID),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("writing batch event: %w", err)
	}

	p.logger.Debug("published batch event",
		zap.String("event_id", event.EventID),
		zap.String("topic", p.writer.Topic),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
