// Package history is the authoritative relational message log. The vector
// store keeps embedded fragments of a conversation; this package keeps the
// complete original turns, so chunked retrieval hits can be hydrated back
// to full messages and recent-context windows come from one ordered source.
//
// Two backends implement the same Store interface: Postgres (pgxpool) for
// shared deployments and an embedded SQLite file for single-node ones.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// ErrNotFound is returned when a message id is not in the log.
var ErrNotFound = errors.New("message not found")

const defaultRecentLimit = 20

// Message is one full conversation turn. ID doubles as the message_id
// stamped on the vector fragments derived from it.
type Message struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	BotName    string            `json:"bot_name"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ChannelID  string            `json:"channel_id,omitempty"`
	SourceType memory.SourceType `json:"source_type"`
	Importance int               `json:"importance"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Normalize fills defaults: a fresh UUID, a UTC timestamp, importance 5,
// source human_direct.
func (m *Message) Normalize(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = m.Timestamp.UTC()
	if m.Importance == 0 {
		m.Importance = 5
	}
	if m.Importance < 1 {
		m.Importance = 1
	}
	if m.Importance > 10 {
		m.Importance = 10
	}
	if m.SourceType == "" {
		m.SourceType = memory.SourceHumanDirect
	}
}

// Validate checks the message at the store boundary.
func (m *Message) Validate() error {
	if m.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if m.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if m.Role == "" {
		return fmt.Errorf("role is required")
	}
	if m.Content == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// Store is the message log contract shared by both backends.
type Store interface {
	// Record appends a message, filling defaults first. Re-recording an
	// id already in the log is a no-op, so retried writes stay safe.
	Record(ctx context.Context, msg *Message) error

	// GetByMessageID returns the message or ErrNotFound.
	GetByMessageID(ctx context.Context, messageID string) (*Message, error)

	// Recent returns up to limit messages between an owner and a
	// character, ordered oldest to newest.
	Recent(ctx context.Context, ownerID, botName string, limit int) ([]*Message, error)

	// PurgeOwner removes the owner's messages, across every character
	// when botName is empty, and reports how many rows went.
	PurgeOwner(ctx context.Context, ownerID, botName string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// New opens the backend selected by config.
func New(ctx context.Context, config *Config, m *metrics.Metrics, logger *logrus.Logger) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch config.Backend {
	case BackendPostgres:
		return NewPostgresStore(ctx, config, m, logger)
	case BackendSQLite:
		return NewSQLiteStore(ctx, config, m, logger)
	default:
		return nil, fmt.Errorf("unknown history backend %q", config.Backend)
	}
}

// NewWithFallback opens the configured backend; when Postgres is selected
// but unreachable it drops to the embedded SQLite store so a single-node
// deployment still has a message log.
func NewWithFallback(ctx context.Context, config *Config, m *metrics.Metrics, logger *logrus.Logger) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if config.Backend != BackendPostgres {
		return New(ctx, config, m, logger)
	}
	s, err := NewPostgresStore(ctx, config, m, logger)
	if err == nil {
		return s, nil
	}
	logger.WithError(err).Warn("Postgres unavailable, falling back to embedded history store")
	return NewSQLiteStore(ctx, config, m, logger)
}

// HydrateFragment recovers the full text behind a retrieval hit. Chunked
// fragments embed only a slice of the original message; when the parent
// message is still in the log its complete content wins. Fragments with no
// message id, or whose message has been purged, keep their own content. On
// store errors the fragment text is returned alongside the error so
// callers can degrade.
func HydrateFragment(ctx context.Context, s Store, f memory.Fragment) (string, error) {
	if s == nil || !f.IsChunk || f.MessageID == "" {
		return f.Content, nil
	}
	msg, err := s.GetByMessageID(ctx, f.MessageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return f.Content, nil
		}
		return f.Content, err
	}
	return msg.Content, nil
}

// reverseMessages flips a newest-first page into chronological order.
func reverseMessages(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
