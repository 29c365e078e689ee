// Package config assembles the service configuration from environment
// variables, an optional .env file, and an optional YAML overlay selected
// by MEMORY_CONFIG_FILE. Precedence is defaults, then environment, then
// the overlay file, so a deployment file pins settings regardless of what
// the ambient environment carries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/analytics"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/cache"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/embedding"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/events"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/extraction"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/history"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/knowledge"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/telemetry"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/vectordb/qdrant"
)

// Config is the full service configuration.
type Config struct {
	Log        LogConfig
	Server     ServerConfig
	Engine     EngineConfig
	Qdrant     *qdrant.Config
	Graph      *knowledge.GraphConfig
	Prune      *knowledge.PruneConfig
	Synapse    *knowledge.SynapseConfig
	Memory     *memory.MemoryConfig
	History    *history.Config
	Cache      *cache.Config
	Events     *events.Config
	Analytics  *analytics.Config
	Embedding  embedding.Config
	Extraction extraction.Config
	Telemetry  telemetry.Config
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	JWTSecret       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr renders the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the listener settings.
func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("mode must be debug, release, or test")
	}
	// No hardcoded fallback secret; refusing to start beats silently
	// accepting forged tokens.
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("read and write timeouts must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// EngineConfig holds the knobs the engine facade reads directly.
type EngineConfig struct {
	// BotName scopes every store operation to one character. It is also
	// copied into the graph configuration so both stores agree.
	BotName string

	// ExtractionEnabled turns the write-path fact extraction on.
	ExtractionEnabled bool

	Context   ContextConfig
	Scheduler SchedulerConfig
}

// ContextConfig caps each section of an assembled conversation context.
// A limit of zero skips that source entirely.
type ContextConfig struct {
	MemoryLimit  int
	SummaryLimit int
	FactLimit    int
	HistoryLimit int
}

// SchedulerConfig controls the background maintenance loop.
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	// Jitter spreads runs out so a fleet of characters does not hit the
	// graph store at the same instant.
	Jitter time.Duration
	DryRun bool
}

// Validate checks the engine settings.
func (c EngineConfig) Validate() error {
	if c.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	for name, limit := range map[string]int{
		"memory_limit":  c.Context.MemoryLimit,
		"summary_limit": c.Context.SummaryLimit,
		"fact_limit":    c.Context.FactLimit,
		"history_limit": c.Context.HistoryLimit,
	} {
		if limit < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler interval must be positive")
		}
		if c.Scheduler.Jitter < 0 || c.Scheduler.Jitter >= c.Scheduler.Interval {
			return fmt.Errorf("scheduler jitter must be shorter than the interval")
		}
	}
	return nil
}

// Load builds the configuration from the environment. A .env file in the
// working directory is folded in first when present. Unparseable values
// keep their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getIntEnv("PORT", 8080),
			Mode:            getEnv("GIN_MODE", "release"),
			JWTSecret:       getEnv("JWT_SECRET", ""),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Engine: EngineConfig{
			BotName:           getEnv("BOT_NAME", "whisperengine"),
			ExtractionEnabled: getBoolEnv("EXTRACTION_ENABLED", true),
			Context: ContextConfig{
				MemoryLimit:  getIntEnv("CONTEXT_MEMORY_LIMIT", 10),
				SummaryLimit: getIntEnv("CONTEXT_SUMMARY_LIMIT", 3),
				FactLimit:    getIntEnv("CONTEXT_FACT_LIMIT", 15),
				HistoryLimit: getIntEnv("CONTEXT_HISTORY_LIMIT", 10),
			},
			Scheduler: SchedulerConfig{
				Enabled:  getBoolEnv("PRUNE_SCHEDULE_ENABLED", false),
				Interval: getDurationEnv("PRUNE_INTERVAL", 24*time.Hour),
				Jitter:   getDurationEnv("PRUNE_JITTER", time.Hour),
				DryRun:   getBoolEnv("PRUNE_DRY_RUN", false),
			},
		},
	}

	cfg.Embedding = embedding.DefaultConfig()
	cfg.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", "")
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getIntEnv("EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.Timeout = getDurationEnv("EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)

	// The vector store must be sized to whatever the embedder produces,
	// so the dimension doubles as the vector size default.
	cfg.Memory = memory.DefaultMemoryConfig()
	cfg.Memory.CollectionPrefix = getEnv("MEMORY_COLLECTION_PREFIX", cfg.Memory.CollectionPrefix)
	cfg.Memory.VectorSize = getIntEnv("MEMORY_VECTOR_SIZE", cfg.Embedding.Dimension)
	cfg.Memory.DefaultLimit = getIntEnv("MEMORY_DEFAULT_LIMIT", cfg.Memory.DefaultLimit)
	cfg.Memory.Chunking.Size = getIntEnv("CHUNK_SIZE", cfg.Memory.Chunking.Size)
	cfg.Memory.Chunking.Overlap = getIntEnv("CHUNK_OVERLAP", cfg.Memory.Chunking.Overlap)
	cfg.Memory.Chunking.Threshold = getIntEnv("CHUNK_THRESHOLD", cfg.Memory.Chunking.Threshold)
	cfg.Memory.Scoring.EpisodicHalfLife = getDurationEnv("SCORING_EPISODIC_HALF_LIFE", cfg.Memory.Scoring.EpisodicHalfLife)
	cfg.Memory.Scoring.SummaryFloor = getFloatEnv("SCORING_SUMMARY_FLOOR", cfg.Memory.Scoring.SummaryFloor)
	cfg.Memory.Scoring.OverfetchFactor = getIntEnv("SCORING_OVERFETCH_FACTOR", cfg.Memory.Scoring.OverfetchFactor)

	cfg.Qdrant = qdrant.DefaultConfig()
	cfg.Qdrant.Host = getEnv("QDRANT_HOST", cfg.Qdrant.Host)
	cfg.Qdrant.HTTPPort = getIntEnv("QDRANT_PORT", cfg.Qdrant.HTTPPort)
	cfg.Qdrant.APIKey = getEnv("QDRANT_API_KEY", "")
	cfg.Qdrant.UseTLS = getBoolEnv("QDRANT_USE_TLS", cfg.Qdrant.UseTLS)
	cfg.Qdrant.Timeout = getDurationEnv("QDRANT_TIMEOUT", cfg.Qdrant.Timeout)
	cfg.Qdrant.ScoreThreshold = float32(getFloatEnv("QDRANT_SCORE_THRESHOLD", float64(cfg.Qdrant.ScoreThreshold)))

	cfg.Graph = knowledge.DefaultGraphConfig()
	cfg.Graph.URI = getEnv("NEO4J_URI", cfg.Graph.URI)
	cfg.Graph.Username = getEnv("NEO4J_USERNAME", cfg.Graph.Username)
	cfg.Graph.Password = getEnv("NEO4J_PASSWORD", "")
	cfg.Graph.Database = getEnv("NEO4J_DATABASE", cfg.Graph.Database)
	cfg.Graph.Timeout = getDurationEnv("GRAPH_TIMEOUT", cfg.Graph.Timeout)
	cfg.Graph.FetchLimit = getIntEnv("GRAPH_FETCH_LIMIT", cfg.Graph.FetchLimit)
	cfg.Graph.BotName = cfg.Engine.BotName

	cfg.Prune = knowledge.DefaultPruneConfig()
	cfg.Prune.OrphanGrace = getDurationEnv("PRUNE_ORPHAN_GRACE", cfg.Prune.OrphanGrace)
	cfg.Prune.StaleRetention = getDurationEnv("PRUNE_STALE_RETENTION", cfg.Prune.StaleRetention)
	cfg.Prune.StaleMaxAccess = getIntEnv("PRUNE_STALE_MAX_ACCESS", cfg.Prune.StaleMaxAccess)
	cfg.Prune.LowConfidenceFloor = getFloatEnv("PRUNE_LOW_CONFIDENCE_FLOOR", cfg.Prune.LowConfidenceFloor)
	cfg.Prune.LowConfidenceGrace = getDurationEnv("PRUNE_LOW_CONFIDENCE_GRACE", cfg.Prune.LowConfidenceGrace)

	cfg.Synapse = knowledge.DefaultSynapseConfig()
	cfg.Synapse.SnippetLength = getIntEnv("SYNAPSE_SNIPPET_LENGTH", cfg.Synapse.SnippetLength)
	cfg.Synapse.NeighborhoodDepth = getIntEnv("SYNAPSE_NEIGHBORHOOD_DEPTH", cfg.Synapse.NeighborhoodDepth)
	cfg.Synapse.MaxNeighbors = getIntEnv("SYNAPSE_MAX_NEIGHBORS", cfg.Synapse.MaxNeighbors)

	cfg.History = history.DefaultConfig()
	cfg.History.Backend = getEnv("HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.Host = getEnv("DB_HOST", cfg.History.Host)
	cfg.History.Port = getIntEnv("DB_PORT", cfg.History.Port)
	cfg.History.Username = getEnv("DB_USER", cfg.History.Username)
	cfg.History.Password = getEnv("DB_PASSWORD", "")
	cfg.History.Database = getEnv("DB_NAME", cfg.History.Database)
	cfg.History.SSLMode = getEnv("DB_SSLMODE", cfg.History.SSLMode)
	cfg.History.Path = getEnv("HISTORY_SQLITE_PATH", cfg.History.Path)
	cfg.History.Timeout = getDurationEnv("HISTORY_TIMEOUT", cfg.History.Timeout)

	cfg.Cache = cache.DefaultConfig()
	cfg.Cache.Addr = getEnv("REDIS_ADDR", cfg.Cache.Addr)
	cfg.Cache.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Cache.DB = getIntEnv("REDIS_DB", cfg.Cache.DB)
	cfg.Cache.TTL = getDurationEnv("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", cfg.Cache.KeyPrefix)

	cfg.Events = events.DefaultConfig()
	cfg.Events.Brokers = getEnvSlice("KAFKA_BROKERS", nil)
	cfg.Events.Topic = getEnv("KAFKA_TOPIC", cfg.Events.Topic)
	cfg.Events.ClientID = getEnv("KAFKA_CLIENT_ID", cfg.Events.ClientID)

	cfg.Analytics = analytics.DefaultConfig()
	cfg.Analytics.Host = getEnv("CLICKHOUSE_HOST", "")
	cfg.Analytics.Port = getIntEnv("CLICKHOUSE_PORT", cfg.Analytics.Port)
	cfg.Analytics.Database = getEnv("CLICKHOUSE_DATABASE", cfg.Analytics.Database)
	cfg.Analytics.Username = getEnv("CLICKHOUSE_USERNAME", cfg.Analytics.Username)
	cfg.Analytics.Password = getEnv("CLICKHOUSE_PASSWORD", "")
	cfg.Analytics.TLS = getBoolEnv("CLICKHOUSE_TLS", cfg.Analytics.TLS)

	cfg.Extraction = extraction.DefaultConfig()
	cfg.Extraction.BaseURL = getEnv("EXTRACTION_BASE_URL", "")
	cfg.Extraction.APIKey = getEnv("EXTRACTION_API_KEY", "")
	cfg.Extraction.Model = getEnv("EXTRACTION_MODEL", cfg.Extraction.Model)
	cfg.Extraction.Timeout = getDurationEnv("EXTRACTION_TIMEOUT", cfg.Extraction.Timeout)

	cfg.Telemetry = telemetry.DefaultConfig()
	cfg.Telemetry.Enabled = getBoolEnv("TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = getEnv("SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTLP_ENDPOINT", "")
	cfg.Telemetry.Insecure = getBoolEnv("OTLP_INSECURE", cfg.Telemetry.Insecure)
	cfg.Telemetry.SampleRatio = getFloatEnv("TRACING_SAMPLE_RATIO", cfg.Telemetry.SampleRatio)

	if path := os.Getenv("MEMORY_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("failed to apply config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks every section. Optional subsystems (events, analytics,
// LLM extraction) are validated only when configured on.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: level %q is invalid", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log: format must be json or text")
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Qdrant.Validate(); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	if err := c.Graph.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	if err := c.Prune.Validate(); err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	if err := c.Synapse.Validate(); err != nil {
		return fmt.Errorf("synapse: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if len(c.Events.Brokers) > 0 {
		if err := c.Events.Validate(); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}
	if c.Analytics.Host != "" {
		if err := c.Analytics.Validate(); err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if c.Extraction.BaseURL != "" {
		if err := c.Extraction.Validate(); err != nil {
			return fmt.Errorf("extraction: %w", err)
		}
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry: sample_ratio must be in [0, 1]")
		}
	}
	if c.Embedding.Dimension != c.Memory.VectorSize {
		return fmt.Errorf("embedding dimension %d does not match memory vector size %d",
			c.Embedding.Dimension, c.Memory.VectorSize)
	}
	return nil
}

// fileConfig is the YAML overlay shape. Pointer fields distinguish a key
// that is absent from one set to a zero value.
type fileConfig struct {
	Log struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Host      *string `yaml:"host"`
		Port      *int    `yaml:"port"`
		Mode      *string `yaml:"mode"`
		JWTSecret *string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Engine struct {
		BotName           *string `yaml:"bot_name"`
		ExtractionEnabled *bool   `yaml:"extraction_enabled"`
	} `yaml:"engine"`
	Qdrant struct {
		Host   *string `yaml:"host"`
		Port   *int    `yaml:"port"`
		APIKey *string `yaml:"api_key"`
		UseTLS *bool   `yaml:"use_tls"`
	} `yaml:"qdrant"`
	Graph struct {
		URI      *string `yaml:"uri"`
		Username *string `yaml:"username"`
		Password *string `yaml:"password"`
		Database *string `yaml:"database"`
	} `yaml:"graph"`
	Memory struct {
		CollectionPrefix *string `yaml:"collection_prefix"`
		VectorSize       *int    `yaml:"vector_size"`
	} `yaml:"memory"`
	History struct {
		Backend  *string `yaml:"backend"`
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		Username *string `yaml:"username"`
		Password *string `yaml:"password"`
		Database *string `yaml:"database"`
		SSLMode  *string `yaml:"ssl_mode"`
		Path     *string `yaml:"path"`
	} `yaml:"history"`
	Cache struct {
		Addr     *string `yaml:"addr"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
	} `yaml:"cache"`
	Events struct {
		Brokers []string `yaml:"brokers"`
		Topic   *string  `yaml:"topic"`
	} `yaml:"events"`
	Analytics struct {
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		Database *string `yaml:"database"`
		Username *string `yaml:"username"`
		Password *string `yaml:"password"`
		TLS      *bool   `yaml:"tls"`
	} `yaml:"analytics"`
	Embedding struct {
		BaseURL   *string `yaml:"base_url"`
		APIKey    *string `yaml:"api_key"`
		Model     *string `yaml:"model"`
		Dimension *int    `yaml:"dimension"`
	} `yaml:"embedding"`
	Extraction struct {
		BaseURL *string `yaml:"base_url"`
		APIKey  *string `yaml:"api_key"`
		Model   *string `yaml:"model"`
	} `yaml:"extraction"`
	Telemetry struct {
		Enabled      *bool    `yaml:"enabled"`
		OTLPEndpoint *string  `yaml:"otlp_endpoint"`
		SampleRatio  *float64 `yaml:"sample_ratio"`
	} `yaml:"telemetry"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	override(&c.Log.Level, f.Log.Level)
	override(&c.Log.Format, f.Log.Format)

	override(&c.Server.Host, f.Server.Host)
	override(&c.Server.Port, f.Server.Port)
	override(&c.Server.Mode, f.Server.Mode)
	override(&c.Server.JWTSecret, f.Server.JWTSecret)

	override(&c.Engine.BotName, f.Engine.BotName)
	override(&c.Engine.ExtractionEnabled, f.Engine.ExtractionEnabled)
	override(&c.Graph.BotName, f.Engine.BotName)

	override(&c.Qdrant.Host, f.Qdrant.Host)
	override(&c.Qdrant.HTTPPort, f.Qdrant.Port)
	override(&c.Qdrant.APIKey, f.Qdrant.APIKey)
	override(&c.Qdrant.UseTLS, f.Qdrant.UseTLS)

	override(&c.Graph.URI, f.Graph.URI)
	override(&c.Graph.Username, f.Graph.Username)
	override(&c.Graph.Password, f.Graph.Password)
	override(&c.Graph.Database, f.Graph.Database)

	override(&c.Memory.CollectionPrefix, f.Memory.CollectionPrefix)
	override(&c.Memory.VectorSize, f.Memory.VectorSize)

	override(&c.History.Backend, f.History.Backend)
	override(&c.History.Host, f.History.Host)
	override(&c.History.Port, f.History.Port)
	override(&c.History.Username, f.History.Username)
	override(&c.History.Password, f.History.Password)
	override(&c.History.Database, f.History.Database)
	override(&c.History.SSLMode, f.History.SSLMode)
	override(&c.History.Path, f.History.Path)

	override(&c.Cache.Addr, f.Cache.Addr)
	override(&c.Cache.Password, f.Cache.Password)
	override(&c.Cache.DB, f.Cache.DB)

	if len(f.Events.Brokers) > 0 {
		c.Events.Brokers = f.Events.Brokers
	}
	override(&c.Events.Topic, f.Events.Topic)

	override(&c.Analytics.Host, f.Analytics.Host)
	override(&c.Analytics.Port, f.Analytics.Port)
	override(&c.Analytics.Database, f.Analytics.Database)
	override(&c.Analytics.Username, f.Analytics.Username)
	override(&c.Analytics.Password, f.Analytics.Password)
	override(&c.Analytics.TLS, f.Analytics.TLS)

	override(&c.Embedding.BaseURL, f.Embedding.BaseURL)
	override(&c.Embedding.APIKey, f.Embedding.APIKey)
	override(&c.Embedding.Model, f.Embedding.Model)
	override(&c.Embedding.Dimension, f.Embedding.Dimension)

	override(&c.Extraction.BaseURL, f.Extraction.BaseURL)
	override(&c.Extraction.APIKey, f.Extraction.APIKey)
	override(&c.Extraction.Model, f.Extraction.Model)

	override(&c.Telemetry.Enabled, f.Telemetry.Enabled)
	override(&c.Telemetry.OTLPEndpoint, f.Telemetry.OTLPEndpoint)
	override(&c.Telemetry.SampleRatio, f.Telemetry.SampleRatio)

	return nil
}

func override[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
