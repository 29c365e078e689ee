package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/chunker"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/embedding"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/vectordb/qdrant"
)

// chunkNamespace derives deterministic chunk point ids, so a retried
// write upserts the same points instead of duplicating them.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://whisperengine.ai/memory/chunk"))

// VectorClient is the slice of the Qdrant client the store depends on.
type VectorClient interface {
	EnsureCollection(ctx context.Context, config *qdrant.CollectionConfig) error
	CreatePayloadIndex(ctx context.Context, collection, field string, schema qdrant.PayloadSchema) error
	UpsertPoints(ctx context.Context, collection string, points []qdrant.Point) error
	Search(ctx context.Context, collection string, vector []float32, opts *qdrant.SearchOptions) ([]qdrant.ScoredPoint, error)
	DeleteByFilter(ctx context.Context, collection string, filter *qdrant.Filter) error
	CountPoints(ctx context.Context, collection string, filter *qdrant.Filter) (int64, error)
	CollectionStats(ctx context.Context, name string) (*qdrant.CollectionStats, error)
	HealthCheck(ctx context.Context) error
}

// SynapseBridge mirrors fragments into the knowledge graph. All calls
// are best-effort; the store swallows and logs their failures.
type SynapseBridge interface {
	MirrorMemory(ctx context.Context, req MirrorRequest) error
	DeleteOwnerMirrors(ctx context.Context, ownerID, botName string) error
}

// MirrorRequest carries what the graph needs to index a fragment.
type MirrorRequest struct {
	OwnerID    string
	VectorID   string
	Content    string
	Timestamp  time.Time
	SourceType SourceType
	BotName    string
}

// MemoryConfig configures the vector memory store.
type MemoryConfig struct {
	// CollectionPrefix prefixes the per-character collection names.
	CollectionPrefix string `json:"collection_prefix"`
	// VectorSize is the fixed embedding dimension; writes and queries
	// whose vectors differ are rejected before touching the store.
	VectorSize   int             `json:"vector_size"`
	DefaultLimit int             `json:"default_limit"`
	Chunking     chunker.Options `json:"chunking"`
	Scoring      *ScoringConfig  `json:"scoring"`
}

// DefaultMemoryConfig returns the store defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		CollectionPrefix: "whisperengine_memory",
		VectorSize:       384,
		DefaultLimit:     10,
		Chunking:         chunker.DefaultOptions(),
		Scoring:          DefaultScoringConfig(),
	}
}

// Validate checks the store configuration.
func (c *MemoryConfig) Validate() error {
	if c.CollectionPrefix == "" {
		return fmt.Errorf("collection_prefix is required")
	}
	if c.VectorSize < 1 {
		return fmt.Errorf("vector_size must be at least 1")
	}
	if c.DefaultLimit < 1 {
		return fmt.Errorf("default_limit must be at least 1")
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("invalid chunking options: %w", err)
	}
	if c.Scoring != nil {
		if err := c.Scoring.Validate(); err != nil {
			return fmt.Errorf("invalid scoring config: %w", err)
		}
	}
	return nil
}

// WithCollectionPrefix sets the collection name prefix.
func (c *MemoryConfig) WithCollectionPrefix(prefix string) *MemoryConfig {
	c.CollectionPrefix = prefix
	return c
}

// WithVectorSize sets the embedding dimension.
func (c *MemoryConfig) WithVectorSize(n int) *MemoryConfig {
	c.VectorSize = n
	return c
}

// WithDefaultLimit sets the default search limit.
func (c *MemoryConfig) WithDefaultLimit(n int) *MemoryConfig {
	c.DefaultLimit = n
	return c
}

// SearchRequest asks for ranked fragments for one owner and character.
type SearchRequest struct {
	BotName   string     `json:"bot_name"`
	OwnerID   string     `json:"owner_id"`
	Query     string     `json:"query"`
	Limit     int        `json:"limit,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
}

func (r *SearchRequest) validate() error {
	if r.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if r.Query == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

// WriteResult reports what a write persisted.
type WriteResult struct {
	FragmentID string   `json:"fragment_id"`
	ChunkIDs   []string `json:"chunk_ids"`
	Chunked    bool     `json:"chunked"`
	Collection string   `json:"collection"`
}

// Store is the vector memory store: it chunks, embeds, persists and
// retrieves fragments in a named collection per character.
type Store struct {
	client   VectorClient
	embedder embedding.Provider
	scorer   *Scorer
	synapse  SynapseBridge
	config   *MemoryConfig
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// NewStore creates a memory store. Synapse and metrics may be nil; a nil
// config or logger gets defaults.
func NewStore(client VectorClient, embedder embedding.Provider, synapse SynapseBridge, config *MemoryConfig, m *metrics.Metrics, logger *logrus.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("vector client is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if config == nil {
		config = DefaultMemoryConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	scorer, err := NewScorer(config.Scoring, logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:   client,
		embedder: embedder,
		scorer:   scorer,
		synapse:  synapse,
		config:   config,
		metrics:  m,
		logger:   logger,
		ready:    make(map[string]bool),
	}, nil
}

// Scorer exposes the store's scorer for callers that need raw weights.
func (s *Store) Scorer() *Scorer {
	return s.scorer
}

// CollectionFor returns the collection name for a character.
func (s *Store) CollectionFor(botName string) string {
	return s.config.CollectionPrefix + "_" + sanitizeName(botName)
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ensureReady creates the character's collection and payload indexes
// once per process. Index creation failures only cost filter speed, so
// they are logged and ignored.
func (s *Store) ensureReady(ctx context.Context, botName string) (string, error) {
	collection := s.CollectionFor(botName)

	s.mu.Lock()
	if s.ready[collection] {
		s.mu.Unlock()
		return collection, nil
	}
	s.mu.Unlock()

	cc := qdrant.DefaultCollectionConfig(collection, s.config.VectorSize)
	if err := s.client.EnsureCollection(ctx, cc); err != nil {
		return "", fmt.Errorf("failed to ensure collection %s: %w", collection, err)
	}

	indexes := []struct {
		field  string
		schema qdrant.PayloadSchema
	}{
		{fieldOwnerID, qdrant.PayloadKeyword},
		{fieldBotName, qdrant.PayloadKeyword},
		{fieldMemoryType, qdrant.PayloadKeyword},
		{fieldSourceType, qdrant.PayloadKeyword},
		{fieldTimestampUnix, qdrant.PayloadFloat},
	}
	for _, idx := range indexes {
		if err := s.client.CreatePayloadIndex(ctx, collection, idx.field, idx.schema); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"collection": collection,
				"field":      idx.field,
			}).Warn("Failed to create payload index")
		}
	}

	s.mu.Lock()
	s.ready[collection] = true
	s.mu.Unlock()

	s.logger.WithField("collection", collection).Debug("Collection ready")
	return collection, nil
}

// Write chunks, embeds and persists a fragment as one batch of points,
// then mirrors it into the graph best-effort. The fragment's ID becomes
// the parent id when chunking splits it.
func (s *Store) Write(ctx context.Context, frag *Fragment) (*WriteResult, error) {
	if frag == nil {
		return nil, fmt.Errorf("fragment is required")
	}
	frag.Normalize(time.Now().UTC())
	if err := frag.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fragment: %w", err)
	}

	return s.persist(ctx, frag, (*Fragment).toPayload)
}

// WriteSummary persists a closed-session summary. The record lands in
// the same collection tagged type=summary so summary retrieval can
// filter on it.
func (s *Store) WriteSummary(ctx context.Context, sum *Summary) (*WriteResult, error) {
	if sum == nil {
		return nil, fmt.Errorf("summary is required")
	}
	sum.Fragment.SourceType = SourceSummary
	sum.Fragment.Normalize(time.Now().UTC())
	if err := sum.Fragment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid summary: %w", err)
	}
	if sum.Meaningfulness < 1 {
		sum.Meaningfulness = 5
	}
	if sum.Meaningfulness > 10 {
		sum.Meaningfulness = 10
	}

	return s.persist(ctx, &sum.Fragment, func(f *Fragment) map[string]interface{} {
		shadow := *sum
		shadow.Fragment = *f
		return shadow.toPayload()
	})
}

// persist runs the shared write path. payloadOf builds the store payload
// for each chunk fragment, letting summaries decorate the base shape.
func (s *Store) persist(ctx context.Context, frag *Fragment, payloadOf func(*Fragment) map[string]interface{}) (*WriteResult, error) {
	collection, err := s.ensureReady(ctx, frag.BotName)
	if err != nil {
		s.countWriteError()
		return nil, err
	}

	segments := chunker.Chunk(frag.Content, s.config.Chunking)
	pieces := s.fragmentsFor(frag, segments)

	texts := make([]string, len(pieces))
	for i := range pieces {
		texts[i] = pieces[i].Content
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.countWriteError()
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(vectors) != len(pieces) {
		s.countWriteError()
		return nil, fmt.Errorf("embedder returned %d vectors for %d segments", len(vectors), len(pieces))
	}
	for _, vec := range vectors {
		if len(vec) != s.config.VectorSize {
			s.countWriteError()
			return nil, fmt.Errorf("embedding dimension %d does not match collection dimension %d: %w",
				len(vec), s.config.VectorSize, embedding.ErrDimensionMismatch)
		}
	}

	points := make([]qdrant.Point, len(pieces))
	for i := range pieces {
		points[i] = qdrant.Point{
			ID:      pieces[i].ID,
			Vector:  vectors[i],
			Payload: payloadOf(&pieces[i]),
		}
	}

	if err := s.client.UpsertPoints(ctx, collection, points); err != nil {
		s.countWriteError()
		return nil, fmt.Errorf("failed to persist fragment: %w", err)
	}

	if s.metrics != nil {
		s.metrics.FragmentWrites.WithLabelValues(string(frag.SourceType)).Inc()
		s.metrics.ChunksPerWrite.Observe(float64(len(pieces)))
	}

	s.logger.WithFields(logrus.Fields{
		"fragment_id": frag.ID,
		"owner_id":    frag.OwnerID,
		"collection":  collection,
		"chunks":      len(pieces),
	}).Debug("Fragment written")

	s.mirror(ctx, frag)

	result := &WriteResult{
		FragmentID: frag.ID,
		ChunkIDs:   make([]string, len(pieces)),
		Chunked:    len(pieces) > 1,
		Collection: collection,
	}
	for i := range pieces {
		result.ChunkIDs[i] = pieces[i].ID
	}
	return result, nil
}

// fragmentsFor expands a fragment into its chunk fragments. A single
// segment keeps the fragment as-is; multiple segments share the original
// id as parent and get deterministic ids per index.
func (s *Store) fragmentsFor(frag *Fragment, segments []chunker.Segment) []Fragment {
	if len(segments) <= 1 {
		return []Fragment{*frag}
	}

	pieces := make([]Fragment, len(segments))
	for i, seg := range segments {
		piece := *frag
		piece.ID = chunkID(frag.ID, seg.Index)
		piece.Content = seg.Text
		piece.IsChunk = true
		piece.ChunkIndex = seg.Index
		piece.ChunkTotal = len(segments)
		piece.ParentID = frag.ID
		piece.OriginalLength = len(frag.Content)
		pieces[i] = piece
	}
	return pieces
}

func chunkID(parentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d", parentID, index))).String()
}

// mirror pushes the fragment into the knowledge graph. Failures are
// logged and swallowed; the write has already succeeded.
func (s *Store) mirror(ctx context.Context, frag *Fragment) {
	if s.synapse == nil {
		return
	}

	err := s.synapse.MirrorMemory(ctx, MirrorRequest{
		OwnerID:    frag.OwnerID,
		VectorID:   frag.ID,
		Content:    frag.Content,
		Timestamp:  frag.Timestamp,
		SourceType: frag.SourceType,
		BotName:    frag.BotName,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.SynapseFailures.Inc()
		}
		s.logger.WithError(err).WithField("fragment_id", frag.ID).Warn("Memory graph mirror failed")
		return
	}
	if s.metrics != nil {
		s.metrics.SynapseMirrors.Inc()
	}
}

func (s *Store) countWriteError() {
	if s.metrics != nil {
		s.metrics.WriteErrors.Inc()
	}
}

// Search returns ranked, deduplicated fragments for an owner. Summaries
// are excluded; SearchSummaries serves those.
func (s *Store) Search(ctx context.Context, req *SearchRequest) ([]ScoredFragment, error) {
	if req == nil {
		return nil, fmt.Errorf("search request is required")
	}
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	started := time.Now()
	filter := qdrant.NewFilter().
		MustMatch(fieldOwnerID, req.OwnerID).
		MustNotMatch(fieldMemoryType, typeSummary)

	points, err := s.fetchCandidates(ctx, req, limit, filter)
	if err != nil {
		return nil, err
	}

	candidates := s.decodeFragments(points)
	results := s.scorer.Rank(candidates, limit, req.TimeRange, time.Now().UTC())

	s.observeSearch("memories", started, len(points))
	return results, nil
}

// SearchSummaries returns ranked session summaries for an owner.
func (s *Store) SearchSummaries(ctx context.Context, req *SearchRequest) ([]ScoredSummary, error) {
	if req == nil {
		return nil, fmt.Errorf("search request is required")
	}
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	started := time.Now()
	filter := qdrant.NewFilter().
		MustMatch(fieldOwnerID, req.OwnerID).
		MustMatch(fieldMemoryType, typeSummary)

	points, err := s.fetchCandidates(ctx, req, limit, filter)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Summary, len(points))
	candidates := make([]Candidate, 0, len(points))
	for _, p := range points {
		sum, err := summaryFromPayload(p.ID, p.Payload)
		if err != nil {
			s.logger.WithError(err).WithField("point_id", p.ID).Warn("Skipping undecodable summary")
			continue
		}
		byID[sum.ID] = sum
		candidates = append(candidates, Candidate{Fragment: sum.Fragment, Similarity: float64(p.Score)})
	}

	ranked := s.scorer.Rank(candidates, limit, req.TimeRange, time.Now().UTC())
	results := make([]ScoredSummary, len(ranked))
	for i, sf := range ranked {
		results[i] = ScoredSummary{
			Summary:    byID[sf.Fragment.ID],
			Similarity: sf.Similarity,
			Score:      sf.Score,
		}
	}

	s.observeSearch("summaries", started, len(points))
	return results, nil
}

func (s *Store) fetchCandidates(ctx context.Context, req *SearchRequest, limit int, filter *qdrant.Filter) ([]qdrant.ScoredPoint, error) {
	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("query embedding dimension %d does not match collection dimension %d: %w",
			len(vector), s.config.VectorSize, embedding.ErrDimensionMismatch)
	}

	opts := qdrant.DefaultSearchOptions().
		WithLimit(limit * s.scorer.Config().OverfetchFactor).
		WithFilter(filter)

	points, err := s.client.Search(ctx, s.CollectionFor(req.BotName), vector, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	return points, nil
}

// decodeFragments converts raw points concurrently, gathering per-point
// failures instead of aborting the batch. Undecodable points are logged
// and excluded; order is preserved for stable tie-breaking.
func (s *Store) decodeFragments(points []qdrant.ScoredPoint) []Candidate {
	type slot struct {
		candidate Candidate
		err       error
		ok        bool
	}

	slots := make([]slot, len(points))
	var wg sync.WaitGroup
	for i := range points {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frag, err := fragmentFromPayload(points[i].ID, points[i].Payload)
			if err != nil {
				slots[i] = slot{err: err}
				return
			}
			slots[i] = slot{
				candidate: Candidate{Fragment: frag, Similarity: float64(points[i].Score)},
				ok:        true,
			}
		}(i)
	}
	wg.Wait()

	candidates := make([]Candidate, 0, len(points))
	for i, sl := range slots {
		if sl.err != nil {
			s.logger.WithError(sl.err).WithField("point_id", points[i].ID).Warn("Skipping undecodable fragment")
			continue
		}
		if sl.ok {
			candidates = append(candidates, sl.candidate)
		}
	}
	return candidates
}

// Purge deletes every fragment the owner has in the character's
// collection, then asks the graph to drop its mirror nodes best-effort.
// Returns how many points were removed.
func (s *Store) Purge(ctx context.Context, botName, ownerID string) (int64, error) {
	if botName == "" {
		return 0, fmt.Errorf("bot_name is required")
	}
	if ownerID == "" {
		return 0, fmt.Errorf("owner_id is required")
	}

	collection := s.CollectionFor(botName)
	filter := qdrant.NewFilter().MustMatch(fieldOwnerID, ownerID)

	count, err := s.client.CountPoints(ctx, collection, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count owner fragments: %w", err)
	}

	if err := s.client.DeleteByFilter(ctx, collection, filter); err != nil {
		s.countWriteError()
		return 0, fmt.Errorf("failed to purge owner fragments: %w", err)
	}

	if s.synapse != nil {
		if err := s.synapse.DeleteOwnerMirrors(ctx, ownerID, botName); err != nil {
			if s.metrics != nil {
				s.metrics.SynapseFailures.Inc()
			}
			s.logger.WithError(err).WithFields(logrus.Fields{
				"owner_id": ownerID,
				"bot_name": botName,
			}).Warn("Mirror cleanup failed after purge")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"owner_id":   ownerID,
		"collection": collection,
		"deleted":    count,
	}).Info("Owner memories purged")
	return count, nil
}

// Ping verifies the vector store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// Stats returns collection statistics for a character.
func (s *Store) Stats(ctx context.Context, botName string) (*qdrant.CollectionStats, error) {
	return s.client.CollectionStats(ctx, s.CollectionFor(botName))
}

func (s *Store) observeSearch(kind string, started time.Time, candidates int) {
	if s.metrics == nil {
		return
	}
	s.metrics.Searches.WithLabelValues(kind).Inc()
	s.metrics.SearchLatency.Observe(time.Since(started).Seconds())
	s.metrics.SearchCandidates.Observe(float64(candidates))
}
