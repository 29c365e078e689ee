package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		bot_name TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT 'human_direct',
		importance INTEGER NOT NULL DEFAULT 5,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_owner_bot_time
		ON messages (owner_id, bot_name, created_at DESC)`,
}

// PostgresStore is the shared-deployment message log on a pgx pool.
type PostgresStore struct {
	pool    *pgxpool.Pool
	config  *Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies connectivity and provisions the
// schema. Metrics may be nil; a nil config or logger gets defaults.
func NewPostgresStore(ctx context.Context, config *Config, m *metrics.Metrics, logger *logrus.Logger) (*PostgresStore, error) {
	if config == nil {
		config = DefaultConfig().WithBackend(BackendPostgres)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid history config: %w", err)
	}
	if config.Backend != BackendPostgres {
		return nil, fmt.Errorf("config selects backend %q, not %q", config.Backend, BackendPostgres)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	pool, err := pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresStore{
		pool:    pool,
		config:  config,
		metrics: m,
		logger:  logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.setUp(1)
	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"database": config.Database,
	}).Info("Relational history connected")

	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	for i, migration := range postgresMigrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("history migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *PostgresStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.Timeout)
}

func (s *PostgresStore) setUp(v float64) {
	if s.metrics != nil {
		s.metrics.StoreUp.WithLabelValues("postgres").Set(v)
	}
}

// Record appends a message. A duplicate id is skipped, not an error.
func (s *PostgresStore) Record(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	msg.Normalize(time.Now())
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	query := `
		INSERT INTO messages (id, owner_id, bot_name, role, content, channel_id, source_type, importance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query,
		msg.ID,
		msg.OwnerID,
		msg.BotName,
		msg.Role,
		msg.Content,
		msg.ChannelID,
		string(msg.SourceType),
		msg.Importance,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithField("message_id", msg.ID).Debug("Message already recorded")
		return nil
	}

	if s.metrics != nil {
		s.metrics.HistoryWrites.Inc()
	}
	return nil
}

// GetByMessageID returns the message or ErrNotFound.
func (s *PostgresStore) GetByMessageID(ctx context.Context, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message id is required")
	}

	query := `
		SELECT id, owner_id, bot_name, role, content, channel_id, source_type, importance, created_at
		FROM messages
		WHERE id = $1
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := scanPostgresMessage(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// Recent returns the last limit messages of an owner/character pair in
// chronological order.
func (s *PostgresStore) Recent(ctx context.Context, ownerID, botName string, limit int) ([]*Message, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if botName == "" {
		return nil, fmt.Errorf("bot name is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `
		SELECT id, owner_id, bot_name, role, content, channel_id, source_type, importance, created_at
		FROM messages
		WHERE owner_id = $1 AND bot_name = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, ownerID, botName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	reverseMessages(out)
	return out, nil
}

// PurgeOwner deletes the owner's messages, every character's when botName
// is empty.
func (s *PostgresStore) PurgeOwner(ctx context.Context, ownerID, botName string) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("owner id is required")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		tag pgconn.CommandTag
		err error
	)
	if botName == "" {
		tag, err = s.pool.Exec(ctx, `DELETE FROM messages WHERE owner_id = $1`, ownerID)
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM messages WHERE owner_id = $1 AND bot_name = $2`, ownerID, botName)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}

	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"bot_name": botName,
			"removed":  removed,
		}).Info("Owner history purged")
	}
	return removed, nil
}

// Ping verifies connectivity and refreshes the store gauge.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		s.setUp(0)
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	s.setUp(1)
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	s.setUp(0)
	return nil
}

func scanPostgresMessage(row pgx.Row) (*Message, error) {
	var (
		msg    Message
		source string
	)
	err := row.Scan(
		&msg.ID,
		&msg.OwnerID,
		&msg.BotName,
		&msg.Role,
		&msg.Content,
		&msg.ChannelID,
		&source,
		&msg.Importance,
		&msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	msg.SourceType = memory.SourceType(source)
	msg.Timestamp = msg.Timestamp.UTC()
	return &msg, nil
}
