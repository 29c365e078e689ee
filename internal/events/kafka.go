package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// KafkaPublisher writes events to a single topic, keyed by owner id so one
// owner's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  *kafka.Writer
	config  *Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewFromConfig returns the Kafka publisher when brokers are configured,
// the no-op publisher otherwise.
func NewFromConfig(config *Config, m *metrics.Metrics, logger *logrus.Logger) (Publisher, error) {
	if config == nil || len(config.Brokers) == 0 {
		if logger != nil {
			logger.Info("Event stream disabled, no brokers configured")
		}
		return NewNoop(), nil
	}
	return NewKafkaPublisher(config, m, logger)
}

// NewKafkaPublisher creates a publisher. The connection is lazy; an
// unreachable cluster surfaces per publish, never at construction.
// Metrics may be nil; a nil logger gets a default.
func NewKafkaPublisher(config *Config, m *metrics.Metrics, logger *logrus.Logger) (*KafkaPublisher, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid events config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  config.MaxAttempts,
	}

	logger.WithFields(logrus.Fields{
		"brokers": config.Brokers,
		"topic":   config.Topic,
	}).Info("Event stream enabled")

	return &KafkaPublisher{
		writer:  writer,
		config:  config,
		metrics: m,
		logger:  logger,
	}, nil
}

// Publish sends one event. Failures are counted and logged here; the
// returned error is informational and safe to ignore.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OwnerID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.WriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
		p.logger.WithError(err).WithField("type", event.Type).Warn("Event publish failed")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	}
	p.logger.WithFields(logrus.Fields{
		"type":     event.Type,
		"owner_id": event.OwnerID,
	}).Debug("Event published")
	return nil
}

// Close flushes and releases the writer.
func (p *KafkaPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
