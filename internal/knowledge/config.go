package knowledge

import (
	"fmt"
	"time"
)

// GraphConfig holds connection settings for the Neo4j property graph.
type GraphConfig struct {
	// URI is the bolt endpoint, e.g. bolt://localhost:7687.
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	// BotName identifies the running character; fact edges are stamped
	// with it and maintenance never touches another character's edges.
	BotName string `json:"bot_name"`
	// Timeout bounds each query, on top of the caller's context.
	Timeout time.Duration `json:"timeout"`
	// FetchLimit caps the rows a fact query returns.
	FetchLimit int `json:"fetch_limit"`
}

// DefaultGraphConfig returns default Neo4j configuration.
func DefaultGraphConfig() *GraphConfig {
	return &GraphConfig{
		URI:        "bolt://localhost:7687",
		Username:   "neo4j",
		Password:   "",
		Database:   "neo4j",
		BotName:    "whisperengine",
		Timeout:    15 * time.Second,
		FetchLimit: 50,
	}
}

// Validate checks the configuration for errors.
func (c *GraphConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.FetchLimit < 1 {
		return fmt.Errorf("fetch_limit must be at least 1")
	}
	return nil
}

// WithBotName sets the owning character name.
func (c *GraphConfig) WithBotName(name string) *GraphConfig {
	c.BotName = name
	return c
}

// WithDatabase selects a non-default database.
func (c *GraphConfig) WithDatabase(db string) *GraphConfig {
	c.Database = db
	return c
}

// WithTimeout sets the per-query deadline.
func (c *GraphConfig) WithTimeout(d time.Duration) *GraphConfig {
	c.Timeout = d
	return c
}

// PruneConfig tunes the graph maintenance strategies.
type PruneConfig struct {
	// OrphanGrace protects newly created entities from orphan removal.
	OrphanGrace time.Duration `json:"orphan_grace"`
	// StaleRetention is how long an untouched fact edge survives.
	StaleRetention time.Duration `json:"stale_retention"`
	// StaleMaxAccess keeps facts read at least this many times.
	StaleMaxAccess int `json:"stale_max_access"`
	// LowConfidenceFloor removes facts that never firmed up past it.
	LowConfidenceFloor float64 `json:"low_confidence_floor"`
	// LowConfidenceGrace gives weak facts time to be reinforced.
	LowConfidenceGrace time.Duration `json:"low_confidence_grace"`
}

// DefaultPruneConfig returns the maintenance defaults.
func DefaultPruneConfig() *PruneConfig {
	return &PruneConfig{
		OrphanGrace:        7 * 24 * time.Hour,
		StaleRetention:     90 * 24 * time.Hour,
		StaleMaxAccess:     3,
		LowConfidenceFloor: 0.3,
		LowConfidenceGrace: 14 * 24 * time.Hour,
	}
}

// Validate checks the prune configuration.
func (c *PruneConfig) Validate() error {
	if c.OrphanGrace <= 0 {
		return fmt.Errorf("orphan_grace must be positive")
	}
	if c.StaleRetention <= 0 {
		return fmt.Errorf("stale_retention must be positive")
	}
	if c.StaleMaxAccess < 0 {
		return fmt.Errorf("stale_max_access cannot be negative")
	}
	if c.LowConfidenceFloor <= 0 || c.LowConfidenceFloor > 1 {
		return fmt.Errorf("low_confidence_floor must be in (0, 1]")
	}
	if c.LowConfidenceGrace <= 0 {
		return fmt.Errorf("low_confidence_grace must be positive")
	}
	return nil
}

// WithOrphanGrace sets the orphan grace period.
func (c *PruneConfig) WithOrphanGrace(d time.Duration) *PruneConfig {
	c.OrphanGrace = d
	return c
}

// WithStaleRetention sets the stale fact retention window.
func (c *PruneConfig) WithStaleRetention(d time.Duration) *PruneConfig {
	c.StaleRetention = d
	return c
}

// WithLowConfidenceFloor sets the confidence floor.
func (c *PruneConfig) WithLowConfidenceFloor(f float64) *PruneConfig {
	c.LowConfidenceFloor = f
	return c
}

// SynapseConfig tunes the vector-to-graph mirror.
type SynapseConfig struct {
	// SnippetLength bounds the content stored on a :Memory node.
	SnippetLength int `json:"snippet_length"`
	// NeighborhoodDepth is 1 for the owner's own facts, 2 to also pull
	// other subjects connected through shared entities.
	NeighborhoodDepth int `json:"neighborhood_depth"`
	// MaxNeighbors caps each neighborhood lookup.
	MaxNeighbors int `json:"max_neighbors"`
}

// DefaultSynapseConfig returns the mirror defaults.
func DefaultSynapseConfig() *SynapseConfig {
	return &SynapseConfig{
		SnippetLength:     200,
		NeighborhoodDepth: 1,
		MaxNeighbors:      25,
	}
}

// Validate checks the synapse configuration.
func (c *SynapseConfig) Validate() error {
	if c.SnippetLength < 1 {
		return fmt.Errorf("snippet_length must be at least 1")
	}
	if c.NeighborhoodDepth < 1 || c.NeighborhoodDepth > 2 {
		return fmt.Errorf("neighborhood_depth must be 1 or 2")
	}
	if c.MaxNeighbors < 1 {
		return fmt.Errorf("max_neighbors must be at least 1")
	}
	return nil
}

// WithNeighborhoodDepth sets the lookup depth.
func (c *SynapseConfig) WithNeighborhoodDepth(depth int) *SynapseConfig {
	c.NeighborhoodDepth = depth
	return c
}

// WithSnippetLength sets the mirrored content bound.
func (c *SynapseConfig) WithSnippetLength(n int) *SynapseConfig {
	c.SnippetLength = n
	return c
}
