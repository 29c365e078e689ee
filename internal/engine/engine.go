// Package engine composes the stores into the memory engine: one facade
// the transport layer calls for remembering, recalling, reflecting,
// forgetting and maintenance. The vector store is the write path's source
// of truth; the relational log, the knowledge graph, the cache, the event
// stream and the analytics sink all degrade independently without failing
// an operation that already persisted its fragment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/analytics"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/events"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/extraction"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/history"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/knowledge"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// MemoryStore is the vector store surface the engine drives.
type MemoryStore interface {
	Write(ctx context.Context, frag *memory.Fragment) (*memory.WriteResult, error)
	WriteSummary(ctx context.Context, sum *memory.Summary) (*memory.WriteResult, error)
	Search(ctx context.Context, req *memory.SearchRequest) ([]memory.ScoredFragment, error)
	SearchSummaries(ctx context.Context, req *memory.SearchRequest) ([]memory.ScoredSummary, error)
	Purge(ctx context.Context, botName, ownerID string) (int64, error)
	Ping(ctx context.Context) error
}

// FactStore is the knowledge graph surface the engine drives.
type FactStore interface {
	MergeFact(ctx context.Context, req *knowledge.MergeRequest) (*knowledge.MergeOutcome, error)
	QueryFacts(ctx context.Context, subject knowledge.Subject, predicateFilter string) ([]knowledge.Fact, error)
	DeleteFacts(ctx context.Context, req *knowledge.DeleteRequest) (int64, error)
	RunReadOnly(ctx context.Context, query string, params map[string]interface{}) ([]knowledge.Record, error)
	Ping(ctx context.Context) error
}

// Maintainer runs graph garbage collection.
type Maintainer interface {
	RunFullPrune(ctx context.Context, dryRun bool) (*knowledge.PruneReport, error)
	HealthReport(ctx context.Context) (*knowledge.GraphHealth, error)
}

// MirrorStore removes an owner's graph mirrors on forget.
type MirrorStore interface {
	DeleteOwnerMirrors(ctx context.Context, ownerID, botName string) error
}

// ContextCache caches assembled contexts. May be nil.
type ContextCache interface {
	Key(ownerID, botName, query string) string
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateOwner(ctx context.Context, ownerID, botName string)
	Close() error
}

// Deps are the engine's collaborators. Memories, Facts, Maintainer and
// History are required; the rest default to disabled implementations.
type Deps struct {
	Memories   MemoryStore
	Facts      FactStore
	Maintainer Maintainer
	Mirrors    MirrorStore
	History    history.Store
	Cache      ContextCache
	Events     events.Publisher
	Analytics  *analytics.Sink
	Extractor  extraction.Extractor
	Translator extraction.Translator
}

// Options are the engine-level knobs.
type Options struct {
	// BotName is the character every operation is scoped to.
	BotName string

	// ExtractionEnabled turns write-path fact extraction on.
	ExtractionEnabled bool

	// Per-source caps for context assembly. Zero skips the source.
	MemoryLimit  int
	SummaryLimit int
	FactLimit    int
	HistoryLimit int
}

// DefaultOptions returns the production caps with extraction on.
func DefaultOptions(botName string) Options {
	return Options{
		BotName:           botName,
		ExtractionEnabled: true,
		MemoryLimit:       10,
		SummaryLimit:      3,
		FactLimit:         15,
		HistoryLimit:      10,
	}
}

// Engine is the memory engine facade.
type Engine struct {
	opts       Options
	memories   MemoryStore
	facts      FactStore
	maintainer Maintainer
	mirrors    MirrorStore
	history    history.Store
	cache      ContextCache
	events     events.Publisher
	analytics  *analytics.Sink
	extractor  extraction.Extractor
	translator extraction.Translator
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	clock      func() time.Time
}

// New composes an engine from already-connected stores. Metrics may be
// nil. Missing optional collaborators are replaced with no-ops.
func New(deps Deps, opts Options, m *metrics.Metrics, logger *logrus.Logger) (*Engine, error) {
	if deps.Memories == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if deps.Facts == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	if deps.Maintainer == nil {
		return nil, fmt.Errorf("maintainer is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if opts.BotName == "" {
		return nil, fmt.Errorf("bot name is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Events == nil {
		deps.Events = events.NewNoop()
	}
	if deps.Extractor == nil {
		deps.Extractor = extraction.NoopExtractor{}
	}
	if deps.Translator == nil {
		deps.Translator = extraction.NoopTranslator{}
	}

	return &Engine{
		opts:       opts,
		memories:   deps.Memories,
		facts:      deps.Facts,
		maintainer: deps.Maintainer,
		mirrors:    deps.Mirrors,
		history:    deps.History,
		cache:      deps.Cache,
		events:     deps.Events,
		analytics:  deps.Analytics,
		extractor:  deps.Extractor,
		translator: deps.Translator,
		metrics:    m,
		logger:     logger,
		clock:      time.Now,
	}, nil
}

// BotName returns the character this engine serves.
func (e *Engine) BotName() string {
	return e.opts.BotName
}

// Open verifies the required stores answer before the engine takes
// traffic. Collaborators that degrade at runtime are not checked here.
func (e *Engine) Open(ctx context.Context) error {
	if err := e.memories.Ping(ctx); err != nil {
		return fmt.Errorf("vector store not ready: %w", err)
	}
	if err := e.facts.Ping(ctx); err != nil {
		return fmt.Errorf("graph store not ready: %w", err)
	}
	if err := e.history.Ping(ctx); err != nil {
		return fmt.Errorf("history store not ready: %w", err)
	}
	e.logger.WithField("bot_name", e.opts.BotName).Info("Memory engine ready")
	return nil
}

// Close releases every collaborator the engine holds. Failures are
// collected; a slow graph close never blocks the rest.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	if err := e.analytics.Close(); err != nil {
		errs = append(errs, fmt.Errorf("analytics: %w", err))
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if err := e.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	if closer, ok := e.facts.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graph: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RememberRequest is one conversation turn to persist.
type RememberRequest struct {
	OwnerID    string            `json:"owner_id"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ChannelID  string            `json:"channel_id,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	Importance int               `json:"importance,omitempty"`
	SourceType memory.SourceType `json:"source_type,omitempty"`
	Tier       memory.MemoryTier `json:"tier,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
}

// RememberResult reports what a turn persisted.
type RememberResult struct {
	Write       *memory.WriteResult `json:"write"`
	FactsMerged int                 `json:"facts_merged"`
}

// Remember persists one turn: vector write first, then the relational
// log, graph fact extraction and the event stream, all best-effort once
// the fragment is stored.
func (e *Engine) Remember(ctx context.Context, req *RememberRequest) (*RememberResult, error) {
	if req == nil {
		return nil, fmt.Errorf("remember request is required")
	}
	role := req.Role
	if role == "" {
		role = memory.RoleHuman
	}
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = memory.SourceHumanDirect
	}

	frag := &memory.Fragment{
		OwnerID:    req.OwnerID,
		BotName:    e.opts.BotName,
		Role:       role,
		Content:    req.Content,
		Timestamp:  req.Timestamp,
		ChannelID:  req.ChannelID,
		MessageID:  req.MessageID,
		Importance: req.Importance,
		SourceType: sourceType,
		Tier:       req.Tier,
		Extra:      req.Extra,
	}

	write, err := e.memories.Write(ctx, frag)
	if err != nil {
		return nil, fmt.Errorf("failed to remember: %w", err)
	}

	e.recordHistory(ctx, frag)

	merged := 0
	if e.shouldExtract(role, sourceType) {
		merged = e.extractFacts(ctx, req.OwnerID, req.Content)
	}

	e.invalidate(ctx, req.OwnerID)
	e.publish(ctx, events.MemoryWritten(req.OwnerID, e.opts.BotName, map[string]interface{}{
		"fragment_id": write.FragmentID,
		"chunked":     write.Chunked,
		"chunks":      len(write.ChunkIDs),
		"role":        role,
	}))

	return &RememberResult{Write: write, FactsMerged: merged}, nil
}

// recordHistory appends the turn to the relational log. The fragment is
// already in the vector store, so a log failure degrades to a warning.
func (e *Engine) recordHistory(ctx context.Context, frag *memory.Fragment) {
	msg := &history.Message{
		ID:         frag.MessageID,
		OwnerID:    frag.OwnerID,
		BotName:    frag.BotName,
		Role:       frag.Role,
		Content:    frag.Content,
		ChannelID:  frag.ChannelID,
		SourceType: frag.SourceType,
		Importance: frag.Importance,
		Timestamp:  frag.Timestamp,
	}
	if err := e.history.Record(ctx, msg); err != nil {
		e.logger.WithError(err).WithField("owner_id", frag.OwnerID).Warn("History record failed")
	}
}

// shouldExtract gates fact extraction to direct human turns. The
// character's own responses and derived content (dreams, gossip) must
// not seed user facts.
func (e *Engine) shouldExtract(role string, sourceType memory.SourceType) bool {
	return e.opts.ExtractionEnabled &&
		role == memory.RoleHuman &&
		sourceType == memory.SourceHumanDirect
}

// extractFacts pulls facts from the turn and folds them into the graph.
// Every step is best-effort; a dead extractor or graph costs facts, not
// the memory.
func (e *Engine) extractFacts(ctx context.Context, ownerID, content string) int {
	facts, err := e.extractor.Extract(ctx, content)
	if err != nil {
		e.logger.WithError(err).Debug("Fact extraction failed")
		return 0
	}

	merged := 0
	for _, fact := range facts {
		outcome, err := e.facts.MergeFact(ctx, &knowledge.MergeRequest{
			Subject:    knowledge.UserSubject(ownerID),
			Predicate:  knowledge.NormalizePredicate(fact.Predicate),
			Object:     fact.Object,
			Confidence: fact.Confidence,
			SourceBot:  e.opts.BotName,
		})
		if err != nil {
			e.logger.WithError(err).WithField("predicate", fact.Predicate).Warn("Fact merge failed")
			continue
		}
		merged++
		e.publish(ctx, events.FactMerged(ownerID, e.opts.BotName, map[string]interface{}{
			"predicate":  knowledge.NormalizePredicate(fact.Predicate),
			"resolution": outcome.Resolution,
			"confidence": outcome.Confidence,
		}))
	}
	return merged
}

// ReflectRequest is a closed-session summary to persist.
type ReflectRequest struct {
	OwnerID        string    `json:"owner_id"`
	Content        string    `json:"content"`
	Meaningfulness int       `json:"meaningfulness,omitempty"`
	Emotions       []string  `json:"emotions,omitempty"`
	Topics         []string  `json:"topics,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// Reflect stores a session summary.
func (e *Engine) Reflect(ctx context.Context, req *ReflectRequest) (*memory.WriteResult, error) {
	if req == nil {
		return nil, fmt.Errorf("reflect request is required")
	}
	sum := &memory.Summary{
		Fragment: memory.Fragment{
			OwnerID:    req.OwnerID,
			BotName:    e.opts.BotName,
			Role:       memory.RoleAI,
			Content:    req.Content,
			Timestamp:  req.Timestamp,
			SourceType: memory.SourceSummary,
		},
		Meaningfulness: req.Meaningfulness,
		Emotions:       req.Emotions,
		Topics:         req.Topics,
	}

	write, err := e.memories.WriteSummary(ctx, sum)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect: %w", err)
	}

	e.invalidate(ctx, req.OwnerID)
	e.publish(ctx, events.MemoryWritten(req.OwnerID, e.opts.BotName, map[string]interface{}{
		"fragment_id": write.FragmentID,
		"summary":     true,
	}))
	return write, nil
}

// ForgetRequest scopes an owner deletion. The optional fact fields limit
// the graph-side edge removal; when both are empty the owner's fact
// edges stay and only mirrors, fragments and log rows go.
type ForgetRequest struct {
	OwnerID         string `json:"owner_id"`
	FactPredicate   string `json:"fact_predicate,omitempty"`
	FactObjectMatch string `json:"fact_object_match,omitempty"`
}

// ForgetResult counts what a forget removed.
type ForgetResult struct {
	FragmentsPurged int64 `json:"fragments_purged"`
	MessagesPurged  int64 `json:"messages_purged"`
	FactsRemoved    int64 `json:"facts_removed"`
}

// Forget removes an owner's data from every store it reached. Stores are
// cleared independently; the result carries whatever succeeded alongside
// the joined errors.
func (e *Engine) Forget(ctx context.Context, req *ForgetRequest) (*ForgetResult, error) {
	if req == nil || strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	result := &ForgetResult{}
	var errs []error

	purged, err := e.memories.Purge(ctx, e.opts.BotName, req.OwnerID)
	result.FragmentsPurged = purged
	if err != nil {
		errs = append(errs, fmt.Errorf("vector purge: %w", err))
	}

	removed, err := e.history.PurgeOwner(ctx, req.OwnerID, e.opts.BotName)
	result.MessagesPurged = removed
	if err != nil {
		errs = append(errs, fmt.Errorf("history purge: %w", err))
	}

	if e.mirrors != nil {
		if err := e.mirrors.DeleteOwnerMirrors(ctx, req.OwnerID, e.opts.BotName); err != nil {
			errs = append(errs, fmt.Errorf("mirror delete: %w", err))
		}
	}

	if req.FactPredicate != "" || req.FactObjectMatch != "" {
		deleted, err := e.facts.DeleteFacts(ctx, &knowledge.DeleteRequest{
			Subject:     knowledge.UserSubject(req.OwnerID),
			Predicate:   req.FactPredicate,
			ObjectMatch: req.FactObjectMatch,
		})
		result.FactsRemoved = deleted
		if err != nil {
			errs = append(errs, fmt.Errorf("fact delete: %w", err))
		}
	}

	e.invalidate(ctx, req.OwnerID)

	e.logger.WithFields(logrus.Fields{
		"owner_id":  req.OwnerID,
		"fragments": result.FragmentsPurged,
		"messages":  result.MessagesPurged,
		"facts":     result.FactsRemoved,
		"errors":    len(errs),
	}).Info("Owner forgotten")

	return result, errors.Join(errs...)
}

// MergeFact folds one externally observed fact into the graph.
func (e *Engine) MergeFact(ctx context.Context, req *knowledge.MergeRequest) (*knowledge.MergeOutcome, error) {
	outcome, err := e.facts.MergeFact(ctx, req)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.FactMerged(req.Subject.Key, e.opts.BotName, map[string]interface{}{
		"predicate":  knowledge.NormalizePredicate(req.Predicate),
		"resolution": outcome.Resolution,
		"confidence": outcome.Confidence,
	}))
	return outcome, nil
}

// QueryFacts returns a subject's facts, newest first.
func (e *Engine) QueryFacts(ctx context.Context, subject knowledge.Subject, predicateFilter string) ([]knowledge.Fact, error) {
	return e.facts.QueryFacts(ctx, subject, predicateFilter)
}

// DeleteFacts removes a scoped set of fact edges.
func (e *Engine) DeleteFacts(ctx context.Context, req *knowledge.DeleteRequest) (int64, error) {
	removed, err := e.facts.DeleteFacts(ctx, req)
	if err == nil && req != nil {
		e.invalidate(ctx, req.Subject.Key)
	}
	return removed, err
}

// Maintain runs one graph maintenance pass and reports it to the
// analytics sink and the event stream.
func (e *Engine) Maintain(ctx context.Context, dryRun bool) (*knowledge.PruneReport, error) {
	report, err := e.maintainer.RunFullPrune(ctx, dryRun)
	if err != nil {
		return nil, fmt.Errorf("failed to run maintenance: %w", err)
	}

	if recErr := e.analytics.RecordPruneRun(ctx, analytics.PruneRun{
		BotName:              e.opts.BotName,
		Timestamp:            report.StartedAt,
		DryRun:               report.DryRun,
		DurationMs:           float32(report.Duration.Milliseconds()),
		OrphansRemoved:       int(report.OrphansRemoved),
		StaleFactsRemoved:    int(report.StaleFactsRemoved),
		DuplicatesMerged:     int(report.DuplicatesMerged),
		LowConfidenceRemoved: int(report.LowConfidenceRemoved),
		Errors:               len(report.Errors),
	}); recErr != nil {
		e.logger.WithError(recErr).Debug("Prune telemetry dropped")
	}

	e.publish(ctx, events.GraphPruned(e.opts.BotName, map[string]interface{}{
		"dry_run":       report.DryRun,
		"total_removed": report.TotalRemoved(),
		"errors":        len(report.Errors),
	}))
	return report, nil
}

// GraphHealth returns the maintenance pressure snapshot.
func (e *Engine) GraphHealth(ctx context.Context) (*knowledge.GraphHealth, error) {
	return e.maintainer.HealthReport(ctx)
}

// Answer is the result of a natural-language graph question.
type Answer struct {
	// Asked is false when the translator declined or produced a query
	// the read-only gate refused.
	Asked   bool               `json:"asked"`
	Query   string             `json:"query,omitempty"`
	Records []knowledge.Record `json:"records,omitempty"`
}

// Ask translates a natural-language question into a graph query and runs
// it. Untranslatable questions and gate-rejected queries both come back
// as a declined answer, never an error: the caller's conversation goes
// on without graph recall either way.
func (e *Engine) Ask(ctx context.Context, ownerID, question string) (*Answer, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	query, err := e.translator.Translate(ctx, question)
	if err != nil {
		e.logger.WithError(err).Debug("Question translation failed")
		return &Answer{Asked: false}, nil
	}
	if extraction.IsNoAnswer(query) {
		return &Answer{Asked: false}, nil
	}
	if err := knowledge.ValidateReadOnlyQuery(query); err != nil {
		e.logger.WithError(err).WithField("query", query).Warn("Translated query rejected")
		return &Answer{Asked: false}, nil
	}

	records, err := e.facts.RunReadOnly(ctx, query, map[string]interface{}{"subject": ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to answer question: %w", err)
	}
	return &Answer{Asked: true, Query: query, Records: records}, nil
}

// Health pings each store and reports per-store status. "ok" means the
// store answered.
func (e *Engine) Health(ctx context.Context) map[string]string {
	report := map[string]string{}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			report[name] = err.Error()
			return
		}
		report[name] = "ok"
	}
	check("vector", e.memories.Ping)
	check("graph", e.facts.Ping)
	check("history", e.history.Ping)
	if e.cache != nil {
		if pinger, ok := e.cache.(interface{ Ping(context.Context) error }); ok {
			check("cache", pinger.Ping)
		}
	}
	return report
}

// publish sends an event without letting stream trouble surface; the
// publisher counts and logs its own failures.
func (e *Engine) publish(ctx context.Context, event events.Event) {
	_ = e.events.Publish(ctx, event)
}

// invalidate drops the owner's cached contexts after any write.
func (e *Engine) invalidate(ctx context.Context, ownerID string) {
	if e.cache == nil {
		return
	}
	e.cache.InvalidateOwner(ctx, ownerID, e.opts.BotName)
}
