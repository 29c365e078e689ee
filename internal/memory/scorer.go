package memory

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ScoringConfig tunes the retrieval scorer. Half-lives are keyed by what
// a fragment is (summaries, tiered long-term memories) and fall back to
// episodic decay for ordinary conversation turns.
type ScoringConfig struct {
	EpisodicHalfLife   time.Duration `json:"episodic_half_life"`
	DefaultHalfLife    time.Duration `json:"default_half_life"`
	SummaryHalfLife    time.Duration `json:"summary_half_life"`
	ReflectiveHalfLife time.Duration `json:"reflective_half_life"`
	CoreHalfLife       time.Duration `json:"core_half_life"`

	// SummaryFloor keeps old session summaries reachable; decay never
	// drops a summary's temporal weight below it.
	SummaryFloor float64 `json:"summary_floor"`

	SourceWeights       map[SourceType]float64 `json:"source_weights"`
	UnknownSourceWeight float64                `json:"unknown_source_weight"`

	// OverfetchFactor multiplies the caller's limit when pulling
	// candidates, leaving room for dedup and date filtering.
	OverfetchFactor int `json:"overfetch_factor"`
}

// DefaultScoringConfig returns the production weights.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		EpisodicHalfLife:   7 * 24 * time.Hour,
		DefaultHalfLife:    30 * 24 * time.Hour,
		SummaryHalfLife:    30 * 24 * time.Hour,
		ReflectiveHalfLife: 90 * 24 * time.Hour,
		CoreHalfLife:       365 * 24 * time.Hour,
		SummaryFloor:       0.3,
		SourceWeights: map[SourceType]float64{
			SourceHumanDirect: 1.0,
			SourceInference:   0.8,
			SourceSummary:     0.7,
			SourceDream:       0.4,
			SourceGossip:      0.3,
		},
		UnknownSourceWeight: 0.5,
		OverfetchFactor:     3,
	}
}

// Validate checks the scoring configuration.
func (c *ScoringConfig) Validate() error {
	for name, hl := range map[string]time.Duration{
		"episodic_half_life":   c.EpisodicHalfLife,
		"default_half_life":    c.DefaultHalfLife,
		"summary_half_life":    c.SummaryHalfLife,
		"reflective_half_life": c.ReflectiveHalfLife,
		"core_half_life":       c.CoreHalfLife,
	} {
		if hl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.SummaryFloor < 0 || c.SummaryFloor >= 1 {
		return fmt.Errorf("summary_floor must be in [0, 1)")
	}
	for st, w := range c.SourceWeights {
		if w <= 0 || w > 1 {
			return fmt.Errorf("source weight for %s must be in (0, 1]", st)
		}
	}
	if c.UnknownSourceWeight <= 0 || c.UnknownSourceWeight > 1 {
		return fmt.Errorf("unknown_source_weight must be in (0, 1]")
	}
	if c.OverfetchFactor < 1 {
		return fmt.Errorf("overfetch_factor must be at least 1")
	}
	return nil
}

// Candidate is a raw vector hit awaiting scoring.
type Candidate struct {
	Fragment   Fragment
	Similarity float64
}

// Scorer turns raw similarity hits into ranked, deduplicated results.
type Scorer struct {
	config *ScoringConfig
	logger *logrus.Logger
}

// NewScorer creates a scorer. Nil config gets defaults, nil logger a
// fresh logrus logger.
func NewScorer(config *ScoringConfig, logger *logrus.Logger) (*Scorer, error) {
	if config == nil {
		config = DefaultScoringConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scorer{config: config, logger: logger}, nil
}

// Config returns the active scoring configuration.
func (s *Scorer) Config() *ScoringConfig {
	return s.config
}

// Score computes similarity x temporal x source x importance.
func (s *Scorer) Score(similarity float64, f *Fragment, now time.Time) float64 {
	return similarity * s.TemporalWeight(f, now) * s.SourceWeight(f.SourceType) * s.ImportanceWeight(f.Importance)
}

// TemporalWeight is 0.5^(age_days / half_life_days), a pure function of
// the fragment's timestamp and kind. Summaries are floored.
func (s *Scorer) TemporalWeight(f *Fragment, now time.Time) float64 {
	ageDays := now.Sub(f.Timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	halfLife, floor := s.halfLifeFor(f)
	w := math.Pow(0.5, ageDays/(halfLife.Hours()/24))
	if w < floor {
		w = floor
	}
	return w
}

func (s *Scorer) halfLifeFor(f *Fragment) (time.Duration, float64) {
	if f.SourceType == SourceSummary {
		return s.config.SummaryHalfLife, s.config.SummaryFloor
	}
	switch f.Tier {
	case TierLongTerm:
		return s.config.CoreHalfLife, 0
	case TierMediumTerm:
		return s.config.ReflectiveHalfLife, 0
	case TierShortTerm:
		return s.config.EpisodicHalfLife, 0
	}
	switch f.SourceType {
	case SourceDream:
		return s.config.ReflectiveHalfLife, 0
	case SourceHumanDirect, SourceInference, SourceGossip:
		return s.config.EpisodicHalfLife, 0
	}
	return s.config.DefaultHalfLife, 0
}

// SourceWeight looks up the trust weight for a source type. Unknown
// types get a conservative default, never zero.
func (s *Scorer) SourceWeight(st SourceType) float64 {
	if w, ok := s.config.SourceWeights[st]; ok {
		return w
	}
	return s.config.UnknownSourceWeight
}

// ImportanceWeight maps the 1-10 importance score linearly onto
// [0.5, 1.0]. Out-of-range values are clamped.
func (s *Scorer) ImportanceWeight(importance int) float64 {
	if importance < 1 {
		importance = 1
	}
	if importance > 10 {
		importance = 10
	}
	return 0.5 + float64(importance-1)*(0.5/9)
}

// Rank runs the retrieval pipeline over raw candidates: score, stable
// sort descending, dedup to one representative per logical message,
// apply the optional inclusive date range, truncate to limit. Ties keep
// the vector store's order. A non-positive limit returns everything.
func (s *Scorer) Rank(candidates []Candidate, limit int, timeRange *TimeRange, now time.Time) []ScoredFragment {
	scored := make([]ScoredFragment, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		scored = append(scored, ScoredFragment{
			Fragment:   c.Fragment,
			Similarity: c.Similarity,
			Score:      s.Score(c.Similarity, &c.Fragment, now),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	seen := make(map[string]bool, len(scored))
	results := scored[:0]
	for _, sf := range scored {
		key := sf.Fragment.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		if !timeRange.Contains(sf.Fragment.Timestamp) {
			continue
		}
		results = append(results, sf)
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
