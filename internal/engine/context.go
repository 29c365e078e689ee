package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/analytics"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/history"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/knowledge"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
)

// RecallRequest asks for the assembled context for one exchange.
type RecallRequest struct {
	OwnerID string `json:"owner_id"`
	Query   string `json:"query"`
	// TimeRange narrows the vector search; time-scoped requests bypass
	// the cache.
	TimeRange *memory.TimeRange `json:"time_range,omitempty"`
	// SkipCache forces a rebuild.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// MemoryContext is everything the engine knows that is worth carrying
// into the next response: ranked memories, session summaries, graph
// facts and the recent turn log.
type MemoryContext struct {
	OwnerID   string                  `json:"owner_id"`
	BotName   string                  `json:"bot_name"`
	Query     string                  `json:"query"`
	Memories  []memory.ScoredFragment `json:"memories,omitempty"`
	Summaries []memory.ScoredSummary  `json:"summaries,omitempty"`
	Facts     []knowledge.Fact        `json:"facts,omitempty"`
	History   []*history.Message      `json:"history,omitempty"`

	// Partial marks a build where at least one source failed; Failures
	// names them.
	Partial  bool     `json:"partial,omitempty"`
	Failures []string `json:"failures,omitempty"`

	FromCache bool      `json:"from_cache,omitempty"`
	BuiltAt   time.Time `json:"built_at"`
}

// Empty reports whether the context carries nothing at all.
func (mc *MemoryContext) Empty() bool {
	return len(mc.Memories) == 0 && len(mc.Summaries) == 0 &&
		len(mc.Facts) == 0 && len(mc.History) == 0
}

// Recall assembles the context for a query. The four sources are fetched
// in parallel and fail independently; the context that comes back holds
// whatever was reachable. Only when every attempted source fails does
// Recall return an error.
func (e *Engine) Recall(ctx context.Context, req *RecallRequest) (*MemoryContext, error) {
	if req == nil {
		return nil, fmt.Errorf("recall request is required")
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	started := e.clock()

	cacheable := e.cache != nil && !req.SkipCache && req.TimeRange == nil
	var key string
	if cacheable {
		key = e.cache.Key(req.OwnerID, e.opts.BotName, req.Query)
		var cached MemoryContext
		hit, err := e.cache.Get(ctx, key, &cached)
		if err != nil {
			e.logger.WithError(err).Debug("Context cache read failed")
		}
		if hit {
			cached.FromCache = true
			return &cached, nil
		}
	}

	mc := &MemoryContext{
		OwnerID: req.OwnerID,
		BotName: e.opts.BotName,
		Query:   req.Query,
	}

	// The group is used as a bounded waitgroup: tasks stash failures
	// instead of returning them, so one dead store never cancels the
	// rest of the fan-out.
	var g errgroup.Group
	g.SetLimit(4)
	var mu sync.Mutex
	attempted := 0
	fail := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		mc.Failures = append(mc.Failures, fmt.Sprintf("%s: %v", source, err))
	}

	if e.opts.MemoryLimit > 0 {
		attempted++
		g.Go(func() error {
			hits, err := e.memories.Search(ctx, &memory.SearchRequest{
				BotName:   e.opts.BotName,
				OwnerID:   req.OwnerID,
				Query:     req.Query,
				Limit:     e.opts.MemoryLimit,
				TimeRange: req.TimeRange,
			})
			if err != nil {
				fail("memories", err)
				return nil
			}
			mu.Lock()
			mc.Memories = hits
			mu.Unlock()
			return nil
		})
	}

	if e.opts.SummaryLimit > 0 {
		attempted++
		g.Go(func() error {
			hits, err := e.memories.SearchSummaries(ctx, &memory.SearchRequest{
				BotName:   e.opts.BotName,
				OwnerID:   req.OwnerID,
				Query:     req.Query,
				Limit:     e.opts.SummaryLimit,
				TimeRange: req.TimeRange,
			})
			if err != nil {
				fail("summaries", err)
				return nil
			}
			mu.Lock()
			mc.Summaries = hits
			mu.Unlock()
			return nil
		})
	}

	if e.opts.FactLimit > 0 {
		attempted++
		g.Go(func() error {
			facts, err := e.facts.QueryFacts(ctx, knowledge.UserSubject(req.OwnerID), "")
			if err != nil {
				fail("facts", err)
				return nil
			}
			if len(facts) > e.opts.FactLimit {
				facts = facts[:e.opts.FactLimit]
			}
			mu.Lock()
			mc.Facts = facts
			mu.Unlock()
			return nil
		})
	}

	if e.opts.HistoryLimit > 0 {
		attempted++
		g.Go(func() error {
			msgs, err := e.history.Recent(ctx, req.OwnerID, e.opts.BotName, e.opts.HistoryLimit)
			if err != nil {
				fail("history", err)
				return nil
			}
			mu.Lock()
			mc.History = msgs
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	mc.Partial = len(mc.Failures) > 0
	if attempted > 0 && len(mc.Failures) == attempted {
		return nil, fmt.Errorf("context build failed: %s", strings.Join(mc.Failures, "; "))
	}

	e.hydrate(ctx, mc)
	mc.BuiltAt = e.clock().UTC()

	// Degraded builds are not cached; the next request should retry the
	// failed sources instead of inheriting the gap.
	if cacheable && !mc.Partial {
		if err := e.cache.Set(ctx, key, mc, 0); err != nil {
			e.logger.WithError(err).Debug("Context cache fill failed")
		}
	}

	e.recordRetrieval(ctx, req, mc, started)
	return mc, nil
}

// hydrate swaps chunk snippets for the full message text where the log
// still has it. A failed lookup keeps the snippet.
func (e *Engine) hydrate(ctx context.Context, mc *MemoryContext) {
	for i := range mc.Memories {
		frag := mc.Memories[i].Fragment
		if !frag.IsChunk || frag.MessageID == "" {
			continue
		}
		content, err := history.HydrateFragment(ctx, e.history, frag)
		if err != nil {
			e.logger.WithError(err).WithField("message_id", frag.MessageID).Debug("Fragment hydration failed")
		}
		mc.Memories[i].Fragment.Content = content
	}
}

// recordRetrieval ships one telemetry row for the build. Best-effort.
func (e *Engine) recordRetrieval(ctx context.Context, req *RecallRequest, mc *MemoryContext, started time.Time) {
	var top, sum float64
	for i, hit := range mc.Memories {
		if i == 0 || hit.Score > top {
			top = hit.Score
		}
		sum += hit.Score
	}
	mean := 0.0
	if len(mc.Memories) > 0 {
		mean = sum / float64(len(mc.Memories))
	}

	err := e.analytics.RecordRetrieval(ctx, analytics.RetrievalEvent{
		OwnerHash:  analytics.HashID(req.OwnerID),
		QueryHash:  analytics.HashID(req.Query),
		BotName:    e.opts.BotName,
		Kind:       "context_build",
		Timestamp:  mc.BuiltAt,
		LatencyMs:  float32(e.clock().Sub(started).Seconds() * 1000),
		Candidates: len(mc.Memories) + len(mc.Summaries),
		Returned:   len(mc.Memories) + len(mc.Summaries) + len(mc.Facts) + len(mc.History),
		TopScore:   float32(top),
		MeanScore:  float32(mean),
	})
	if err != nil {
		e.logger.WithError(err).Debug("Retrieval telemetry dropped")
	}
}

// PromptBlock renders the context as the text block handed to the
// character's response model. Sections appear only when populated.
func (mc *MemoryContext) PromptBlock() string {
	var b strings.Builder

	if len(mc.Memories) > 0 {
		b.WriteString("RELEVANT MEMORIES:\n")
		for _, hit := range mc.Memories {
			fmt.Fprintf(&b, "- [%s] %s: %s\n",
				hit.Fragment.Timestamp.Format("2006-01-02"),
				hit.Fragment.Role,
				hit.Fragment.Content)
		}
	}

	if len(mc.Summaries) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("PAST SESSION SUMMARIES:\n")
		for _, hit := range mc.Summaries {
			fmt.Fprintf(&b, "- [%s] %s\n",
				hit.Summary.Timestamp.Format("2006-01-02"),
				hit.Summary.Content)
			if len(hit.Summary.Topics) > 0 {
				fmt.Fprintf(&b, "  (topics: %s)\n", strings.Join(hit.Summary.Topics, ", "))
			}
		}
	}

	if len(mc.Facts) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("KNOWN FACTS:\n")
		for _, fact := range mc.Facts {
			fmt.Fprintf(&b, "- %s %s (confidence %.2f)\n",
				fact.Predicate, fact.Object, fact.Confidence)
		}
	}

	if len(mc.History) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("RECENT CONVERSATION:\n")
		for _, msg := range mc.History {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	return b.String()
}
