// Package analytics ships retrieval and maintenance telemetry to
// ClickHouse for offline tuning of half-lives, source weights and prune
// cadence. The sink is optional: a nil *Sink is valid and every method on
// it is a no-op, so callers never branch on whether the warehouse exists.
// Identifiers are hashed before they leave the process.
package analytics

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// RetrievalEvent captures one scored search.
type RetrievalEvent struct {
	OwnerHash  string
	QueryHash  string
	BotName    string
	Kind       string
	Timestamp  time.Time
	LatencyMs  float32
	Candidates int
	Returned   int
	TopScore   float32
	MeanScore  float32
}

// PruneRun captures the outcome of one graph maintenance run.
type PruneRun struct {
	BotName              string
	Timestamp            time.Time
	DryRun               bool
	DurationMs           float32
	OrphansRemoved       int
	StaleFactsRemoved    int
	DuplicatesMerged     int
	LowConfidenceRemoved int
	Errors               int
}

// RetrievalStats is an aggregate over a bot's recent searches.
type RetrievalStats struct {
	TotalSearches int64
	AvgLatencyMs  float64
	P95LatencyMs  float64
	AvgCandidates float64
	AvgReturned   float64
	AvgTopScore   float64
	AvgMeanScore  float64
	Window        string
}

// Sink writes telemetry to ClickHouse.
type Sink struct {
	conn   *sql.DB
	config *Config
	logger *logrus.Logger
}

// HashID anonymizes an identifier for the warehouse.
func HashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// NewFromConfig returns a connected sink, or nil when no host is
// configured. The nil sink is safe to use.
func NewFromConfig(config *Config, logger *logrus.Logger) (*Sink, error) {
	if config == nil || config.Host == "" {
		if logger != nil {
			logger.Info("Analytics sink disabled, no host configured")
		}
		return nil, nil
	}
	return NewSink(config, logger)
}

// NewSink connects to ClickHouse and provisions the telemetry tables.
func NewSink(config *Config, logger *logrus.Logger) (*Sink, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analytics config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	conn, err := sql.Open("clickhouse", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{
		conn:   conn,
		config: config,
		logger: logger,
	}
	if err := s.ensureSchema(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Analytics sink initialized")

	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS retrieval_events (
			owner_hash String,
			query_hash String,
			bot_name String,
			kind String,
			timestamp DateTime64(3),
			latency_ms Float32,
			candidates UInt16,
			returned UInt16,
			top_score Float32,
			mean_score Float32
		) ENGINE = MergeTree()
		ORDER BY (bot_name, timestamp)`,
		`CREATE TABLE IF NOT EXISTS prune_runs (
			bot_name String,
			timestamp DateTime64(3),
			dry_run Bool,
			duration_ms Float32,
			orphans_removed UInt32,
			stale_facts_removed UInt32,
			duplicates_merged UInt32,
			low_confidence_removed UInt32,
			errors UInt8
		) ENGINE = MergeTree()
		ORDER BY (bot_name, timestamp)`,
	}
	for i, table := range tables {
		if _, err := s.conn.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("analytics table %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *Sink) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := 10 * time.Second
	if s.config != nil && s.config.Timeout > 0 {
		timeout = s.config.Timeout
	}
	return context.WithTimeout(ctx, timeout)
}

// RecordRetrieval stores one retrieval event.
func (s *Sink) RecordRetrieval(ctx context.Context, event RetrievalEvent) error {
	if s == nil || s.conn == nil {
		return nil
	}

	query := `
		INSERT INTO retrieval_events (
			owner_hash, query_hash, bot_name, kind, timestamp,
			latency_ms, candidates, returned, top_score, mean_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, query,
		event.OwnerHash,
		event.QueryHash,
		event.BotName,
		event.Kind,
		event.Timestamp,
		event.LatencyMs,
		event.Candidates,
		event.Returned,
		event.TopScore,
		event.MeanScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert retrieval event: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bot_name": event.BotName,
		"kind":     event.Kind,
	}).Debug("Retrieval event stored")

	return nil
}

// RecordRetrievalBatch stores multiple retrieval events in one
// transaction.
func (s *Sink) RecordRetrievalBatch(ctx context.Context, events []RetrievalEvent) error {
	if s == nil || s.conn == nil || len(events) == 0 {
		return nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO retrieval_events (
			owner_hash, query_hash, bot_name, kind, timestamp,
			latency_ms, candidates, returned, top_score, mean_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.OwnerHash,
			event.QueryHash,
			event.BotName,
			event.Kind,
			event.Timestamp,
			event.LatencyMs,
			event.Candidates,
			event.Returned,
			event.TopScore,
			event.MeanScore,
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.WithField("count", len(events)).Debug("Batch retrieval events stored")

	return nil
}

// RecordPruneRun stores one maintenance run outcome.
func (s *Sink) RecordPruneRun(ctx context.Context, run PruneRun) error {
	if s == nil || s.conn == nil {
		return nil
	}

	query := `
		INSERT INTO prune_runs (
			bot_name, timestamp, dry_run, duration_ms, orphans_removed,
			stale_facts_removed, duplicates_merged, low_confidence_removed, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, query,
		run.BotName,
		run.Timestamp,
		run.DryRun,
		run.DurationMs,
		run.OrphansRemoved,
		run.StaleFactsRemoved,
		run.DuplicatesMerged,
		run.LowConfidenceRemoved,
		run.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prune run: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bot_name": run.BotName,
		"dry_run":  run.DryRun,
	}).Debug("Prune run stored")

	return nil
}

// RetrievalStats aggregates a bot's searches over a trailing window.
func (s *Sink) RetrievalStats(ctx context.Context, botName string, window time.Duration) (*RetrievalStats, error) {
	if s == nil || s.conn == nil {
		return nil, nil
	}

	query := `
		SELECT
			COUNT(*) as total_searches,
			AVG(latency_ms) as avg_latency_ms,
			quantile(0.95)(latency_ms) as p95_latency_ms,
			AVG(candidates) as avg_candidates,
			AVG(returned) as avg_returned,
			AVG(top_score) as avg_top_score,
			AVG(mean_score) as avg_mean_score
		FROM retrieval_events
		WHERE bot_name = ? AND timestamp >= now() - INTERVAL ? SECOND
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var stats RetrievalStats
	err := s.conn.QueryRowContext(ctx, query, botName, int64(window.Seconds())).Scan(
		&stats.TotalSearches,
		&stats.AvgLatencyMs,
		&stats.P95LatencyMs,
		&stats.AvgCandidates,
		&stats.AvgReturned,
		&stats.AvgTopScore,
		&stats.AvgMeanScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query retrieval stats: %w", err)
	}

	stats.Window = fmt.Sprintf("last_%s", window.String())
	return &stats, nil
}

// Close closes the ClickHouse connection. Safe on a nil sink.
func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
