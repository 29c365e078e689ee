package qdrant

import (
	"fmt"
	"time"
)

// Distance is the similarity metric a collection is built with.
type Distance string

const (
	DistanceCosine    Distance = "Cosine"
	DistanceEuclid    Distance = "Euclid"
	DistanceDot       Distance = "Dot"
	DistanceManhattan Distance = "Manhattan"
)

// Config holds connection settings for the Qdrant REST API.
type Config struct {
	Host           string        `json:"host"`
	HTTPPort       int           `json:"http_port"`
	APIKey         string        `json:"api_key"`
	UseTLS         bool          `json:"use_tls"`
	Timeout        time.Duration `json:"timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay"`
	DefaultLimit   int           `json:"default_limit"`
	ScoreThreshold float32       `json:"score_threshold"`
	WithPayload    bool          `json:"with_payload"`
	WithVectors    bool          `json:"with_vectors"`
}

// DefaultConfig returns default Qdrant configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		HTTPPort:       6333,
		APIKey:         "",
		UseTLS:         false,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		DefaultLimit:   10,
		ScoreThreshold: 0.0,
		WithPayload:    true,
		WithVectors:    false,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.DefaultLimit < 1 {
		return fmt.Errorf("default_limit must be at least 1")
	}
	return nil
}

// GetHTTPURL returns the base URL for REST requests.
func (c *Config) GetHTTPURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.HTTPPort)
}

// CollectionConfig describes a collection to create.
type CollectionConfig struct {
	Name              string   `json:"name"`
	VectorSize        int      `json:"vector_size"`
	Distance          Distance `json:"distance"`
	OnDiskPayload     bool     `json:"on_disk_payload"`
	IndexingThreshold int      `json:"indexing_threshold"`
	ShardNumber       int      `json:"shard_number"`
	ReplicationFactor int      `json:"replication_factor"`
}

// DefaultCollectionConfig returns a collection config with sensible defaults.
func DefaultCollectionConfig(name string, vectorSize int) *CollectionConfig {
	return &CollectionConfig{
		Name:              name,
		VectorSize:        vectorSize,
		Distance:          DistanceCosine,
		OnDiskPayload:     false,
		IndexingThreshold: 20000,
		ShardNumber:       1,
		ReplicationFactor: 1,
	}
}

// Validate checks the collection configuration.
func (c *CollectionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.VectorSize < 1 {
		return fmt.Errorf("vector_size must be at least 1")
	}
	switch c.Distance {
	case DistanceCosine, DistanceEuclid, DistanceDot, DistanceManhattan:
	default:
		return fmt.Errorf("invalid distance metric: %s", c.Distance)
	}
	return nil
}

// WithDistance sets the distance metric.
func (c *CollectionConfig) WithDistance(d Distance) *CollectionConfig {
	c.Distance = d
	return c
}

// WithOnDiskPayload stores payloads on disk instead of RAM.
func (c *CollectionConfig) WithOnDiskPayload() *CollectionConfig {
	c.OnDiskPayload = true
	return c
}

// WithIndexingThreshold sets the optimizer indexing threshold.
func (c *CollectionConfig) WithIndexingThreshold(n int) *CollectionConfig {
	c.IndexingThreshold = n
	return c
}

// WithShards sets the shard count.
func (c *CollectionConfig) WithShards(n int) *CollectionConfig {
	c.ShardNumber = n
	return c
}

// WithReplication sets the replication factor.
func (c *CollectionConfig) WithReplication(n int) *CollectionConfig {
	c.ReplicationFactor = n
	return c
}

// SearchOptions controls a similarity search.
type SearchOptions struct {
	Limit          int
	Offset         int
	ScoreThreshold float32
	WithPayload    bool
	WithVectors    bool
	Filter         *Filter
}

// DefaultSearchOptions returns search options with sensible defaults.
func DefaultSearchOptions() *SearchOptions {
	return &SearchOptions{
		Limit:          10,
		Offset:         0,
		ScoreThreshold: 0.0,
		WithPayload:    true,
		WithVectors:    false,
		Filter:         nil,
	}
}

// WithLimit sets the result limit.
func (o *SearchOptions) WithLimit(n int) *SearchOptions {
	o.Limit = n
	return o
}

// WithOffset sets the result offset.
func (o *SearchOptions) WithOffset(n int) *SearchOptions {
	o.Offset = n
	return o
}

// WithScoreThreshold sets a minimum similarity score.
func (o *SearchOptions) WithScoreThreshold(t float32) *SearchOptions {
	o.ScoreThreshold = t
	return o
}

// WithVectorsEnabled includes vectors in results.
func (o *SearchOptions) WithVectorsEnabled() *SearchOptions {
	o.WithVectors = true
	return o
}

// WithFilter attaches a payload filter.
func (o *SearchOptions) WithFilter(f *Filter) *SearchOptions {
	o.Filter = f
	return o
}
