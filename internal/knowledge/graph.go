// Package knowledge owns the property-graph half of the memory engine:
// the fact store with its merge/overwrite/conflict semantics, the
// maintenance pruner, and the synapse that mirrors vector writes into
// graph nodes.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// ErrNotConnected is returned when an operation is attempted before Connect.
var ErrNotConnected = errors.New("not connected to neo4j")

// ErrQueryRejected is returned for translated queries that fail the
// read-only allow-list.
var ErrQueryRejected = errors.New("query rejected")

// Record is one result row, keyed by return alias.
type Record map[string]interface{}

// cypherRunner is the session seam shared by the fact store, pruner and
// synapse. Tests substitute an in-memory graph.
type cypherRunner interface {
	Read(ctx context.Context, query string, params map[string]interface{}) ([]Record, error)
	Write(ctx context.Context, query string, params map[string]interface{}) ([]Record, error)
}

// neoRunner executes statements through driver-managed transactions,
// which retry transient failures internally. Safe here because every
// mutation this package issues is idempotent.
type neoRunner struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

func (r *neoRunner) Read(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	return r.run(ctx, neo4j.AccessModeRead, query, params)
}

func (r *neoRunner) Write(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	return r.run(ctx, neo4j.AccessModeWrite, query, params)
}

func (r *neoRunner) run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]interface{}) ([]Record, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)

	collect := func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var rows []Record
		for result.Next(ctx) {
			rows = append(rows, Record(result.Record().AsMap()))
		}
		return rows, result.Err()
	}

	var out interface{}
	var err error
	if mode == neo4j.AccessModeRead {
		out, err = session.ExecuteRead(ctx, collect)
	} else {
		out, err = session.ExecuteWrite(ctx, collect)
	}
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]Record)
	return rows, nil
}

// Graph is the shared Neo4j handle. It carries no state beyond the
// connection; all durable data lives in the store.
type Graph struct {
	config  *GraphConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu        sync.RWMutex
	driver    neo4j.DriverWithContext
	runner    cypherRunner
	connected bool
}

// NewGraph creates a Graph handle. Call Connect before use.
func NewGraph(config *GraphConfig, m *metrics.Metrics, logger *logrus.Logger) (*Graph, error) {
	if config == nil {
		config = DefaultGraphConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Graph{
		config:  config,
		metrics: m,
		logger:  logger,
	}, nil
}

// Connect dials Neo4j and verifies connectivity. Idempotent.
func (g *Graph) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected {
		return nil
	}

	driver, err := neo4j.NewDriverWithContext(g.config.URI, neo4j.BasicAuth(g.config.Username, g.config.Password, ""))
	if err != nil {
		return fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		g.setUp(0)
		return fmt.Errorf("failed to connect to neo4j at %s: %w", g.config.URI, err)
	}

	g.driver = driver
	g.runner = &neoRunner{driver: driver, database: g.config.Database, timeout: g.config.Timeout}
	g.connected = true
	g.setUp(1)
	g.logger.WithFields(logrus.Fields{
		"uri":      g.config.URI,
		"database": g.config.Database,
		"bot_name": g.config.BotName,
	}).Info("Connected to Neo4j")
	return nil
}

// Close releases the driver. Idempotent.
func (g *Graph) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil
	}
	g.connected = false
	g.runner = nil
	g.setUp(0)

	if g.driver != nil {
		if err := g.driver.Close(ctx); err != nil {
			return fmt.Errorf("failed to close neo4j driver: %w", err)
		}
		g.driver = nil
	}
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (g *Graph) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// BotName returns the owning character this handle writes as.
func (g *Graph) BotName() string {
	return g.config.BotName
}

func (g *Graph) guard() (cypherRunner, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.connected || g.runner == nil {
		return nil, ErrNotConnected
	}
	return g.runner, nil
}

func (g *Graph) read(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	runner, err := g.guard()
	if err != nil {
		return nil, err
	}
	rows, err := runner.Read(ctx, query, params)
	if err != nil {
		g.countQueryError()
		return nil, err
	}
	return rows, nil
}

func (g *Graph) write(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	runner, err := g.guard()
	if err != nil {
		return nil, err
	}
	rows, err := runner.Write(ctx, query, params)
	if err != nil {
		g.countQueryError()
		return nil, err
	}
	return rows, nil
}

func (g *Graph) countQueryError() {
	if g.metrics != nil {
		g.metrics.GraphQueryErrors.Inc()
	}
}

func (g *Graph) setUp(v float64) {
	if g.metrics != nil {
		g.metrics.StoreUp.WithLabelValues("neo4j").Set(v)
	}
}

const cypherPing = "RETURN 1 AS ok"

// Ping runs a trivial query to probe the connection.
func (g *Graph) Ping(ctx context.Context) error {
	if _, err := g.read(ctx, cypherPing, nil); err != nil {
		g.setUp(0)
		return fmt.Errorf("neo4j ping failed: %w", err)
	}
	g.setUp(1)
	return nil
}

const (
	cypherCountNodes         = "MATCH (n) RETURN count(n) AS n"
	cypherCountRelationships = "MATCH ()-[r]->() RETURN count(r) AS n"
)

// NodeCount returns the total node count.
func (g *Graph) NodeCount(ctx context.Context) (int64, error) {
	return g.singleCount(ctx, cypherCountNodes, nil)
}

// RelationshipCount returns the total relationship count.
func (g *Graph) RelationshipCount(ctx context.Context) (int64, error) {
	return g.singleCount(ctx, cypherCountRelationships, nil)
}

func (g *Graph) singleCount(ctx context.Context, query string, params map[string]interface{}) (int64, error) {
	rows, err := g.read(ctx, query, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	return recordInt(rows[0], "n"), nil
}

// readOnlyPrefixes are the only statement openers accepted from the
// natural-language query translator.
var readOnlyPrefixes = []string{"MATCH", "OPTIONAL MATCH", "RETURN", "WITH"}

// mutationKeywords reject any translated statement that could write.
// False positives (a keyword inside quoted text) are acceptable; a
// rejected question degrades to "no answer".
var mutationKeywords = []string{"CREATE", "MERGE", "DELETE", "DETACH", "SET ", "REMOVE", "DROP", "LOAD CSV", "CALL", "FOREACH"}

// ValidateReadOnlyQuery gates translator output: the statement must open
// with an allow-listed keyword and contain no mutation clauses.
func ValidateReadOnlyQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrQueryRejected)
	}

	upper := strings.ToUpper(trimmed)
	allowed := false
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(upper, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: statement must start with MATCH", ErrQueryRejected)
	}

	for _, keyword := range mutationKeywords {
		if strings.Contains(upper, keyword) {
			return fmt.Errorf("%w: mutation keyword %q", ErrQueryRejected, strings.TrimSpace(keyword))
		}
	}
	return nil
}

// RunReadOnly executes a translated query after gating it. Rejected
// statements never reach the store.
func (g *Graph) RunReadOnly(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	if err := ValidateReadOnlyQuery(query); err != nil {
		return nil, err
	}
	rows, err := g.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to run translated query: %w", err)
	}
	return rows, nil
}

func firstCount(rows []Record, key string) int64 {
	if len(rows) == 0 {
		return 0
	}
	return recordInt(rows[0], key)
}

func recordString(r Record, key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

func recordInt(r Record, key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func recordFloat(r Record, key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func recordTime(r Record, key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func recordStrings(r Record, key string) []string {
	raw, ok := r[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
