package events

import (
	"fmt"
	"time"
)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers lists the bootstrap addresses. Empty means the stream is
	// disabled and NewFromConfig hands out the no-op publisher.
	Brokers []string `json:"brokers"`

	// Topic carries all engine events; the type travels in the payload
	// and a header.
	Topic string `json:"topic"`

	ClientID string `json:"client_id"`

	// BatchTimeout is deliberately short. Event volume is one per engine
	// operation, so waiting to fill batches only adds publish latency.
	BatchTimeout time.Duration `json:"batch_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	MaxAttempts  int           `json:"max_attempts"`
}

// DefaultConfig returns publisher defaults with the stream disabled; set
// Brokers to turn it on.
func DefaultConfig() *Config {
	return &Config{
		Brokers:      nil,
		Topic:        "whisperengine.memory.events",
		ClientID:     "whisperengine-memoryd",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
	}
}

// Validate checks the configuration for a live publisher.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers are required")
	}
	for _, b := range c.Brokers {
		if b == "" {
			return fmt.Errorf("broker address cannot be empty")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// WithBrokers sets the bootstrap addresses.
func (c *Config) WithBrokers(brokers ...string) *Config {
	c.Brokers = brokers
	return c
}

// WithTopic sets the stream topic.
func (c *Config) WithTopic(topic string) *Config {
	c.Topic = topic
	return c
}

// WithWriteTimeout sets the per-publish deadline.
func (c *Config) WithWriteTimeout(d time.Duration) *Config {
	c.WriteTimeout = d
	return c
}
