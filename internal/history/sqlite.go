package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// Timestamps are stored as fixed-width UTC text so lexicographic order in
// the index stays chronological. RFC3339Nano parses them back.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		bot_name TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT 'human_direct',
		importance INTEGER NOT NULL DEFAULT 5,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_owner_bot_time
		ON messages (owner_id, bot_name, created_at DESC)`,
}

// SQLiteStore is the embedded message log for single-node deployments.
type SQLiteStore struct {
	db      *sql.DB
	config  *Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens, and if needed creates, the database file and
// provisions the schema. The configured backend is ignored so the store
// can serve as a fallback; an empty path gets the default file.
func NewSQLiteStore(ctx context.Context, config *Config, m *metrics.Metrics, logger *logrus.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.Backend = BackendSQLite
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid history config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// database/sql would otherwise hand every pooled connection its
		// own private in-memory database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:      db,
		config:  &cfg,
		metrics: m,
		logger:  logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.setUp(1)
	logger.WithField("path", cfg.Path).Info("Embedded history store opened")

	return s, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	for i, migration := range sqliteMigrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("history migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.Timeout)
}

func (s *SQLiteStore) setUp(v float64) {
	if s.metrics != nil {
		s.metrics.StoreUp.WithLabelValues("sqlite").Set(v)
	}
}

// Record appends a message. A duplicate id is skipped, not an error.
func (s *SQLiteStore) Record(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	msg.Normalize(time.Now())
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	query := `
		INSERT INTO messages (id, owner_id, bot_name, role, content, channel_id, source_type, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.OwnerID,
		msg.BotName,
		msg.Role,
		msg.Content,
		msg.ChannelID,
		string(msg.SourceType),
		msg.Importance,
		msg.Timestamp.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.WithField("message_id", msg.ID).Debug("Message already recorded")
		return nil
	}

	if s.metrics != nil {
		s.metrics.HistoryWrites.Inc()
	}
	return nil
}

// GetByMessageID returns the message or ErrNotFound.
func (s *SQLiteStore) GetByMessageID(ctx context.Context, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message id is required")
	}

	query := `
		SELECT id, owner_id, bot_name, role, content, channel_id, source_type, importance, created_at
		FROM messages
		WHERE id = ?
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// Recent returns the last limit messages of an owner/character pair in
// chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, ownerID, botName string, limit int) ([]*Message, error) {
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
		WHERE owner_id = ? AND bot_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, ownerID, botName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
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
func (s *SQLiteStore) PurgeOwner(ctx context.Context, ownerID, botName string) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("owner id is required")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if botName == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE owner_id = ?`, ownerID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE owner_id = ? AND bot_name = ?`, ownerID, botName)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"bot_name": botName,
			"removed":  removed,
		}).Info("Owner history purged")
	}
	return removed, nil
}

// Ping verifies the database file is still usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.setUp(0)
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	s.setUp(1)
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.setUp(0)
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanSQLiteMessage(row interface {
	Scan(dest ...interface{}) error
}) (*Message, error) {
	var (
		msg     Message
		source  string
		created string
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
		&created,
	)
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message timestamp: %w", err)
	}
	msg.SourceType = memory.SourceType(source)
	msg.Timestamp = ts.UTC()
	return &msg, nil
}
