// Package cache is the read-path context cache. Context builds fan out to
// every store; their merged result is cached here under the owner,
// character and query that produced it, with a short TTL. The cache is
// strictly best-effort: a cold or unreachable redis only costs a rebuild.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

const scanBatch = 100

// Cache wraps a redis client with JSON serialization and the engine's
// keying scheme.
type Cache struct {
	client  *redis.Client
	config  *Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// New creates a cache client. Connection is lazy: an unreachable redis
// surfaces on first use, never at construction, so the engine still boots
// without it. Metrics may be nil; a nil config or logger gets defaults.
func New(config *Config, m *metrics.Metrics, logger *logrus.Logger) (*Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Cache{
		client:  client,
		config:  config,
		metrics: m,
		logger:  logger,
	}, nil
}

// Key builds the cache key for an owner/character/query triple. The query
// text is hashed so free-form input stays within key limits and never
// needs escaping.
func (c *Cache) Key(ownerID, botName, query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s%s:%s:%x", c.config.KeyPrefix, ownerID, botName, sum[:8])
}

// ownerPattern matches every key of an owner, one character's when botName
// is set.
func (c *Cache) ownerPattern(ownerID, botName string) string {
	if botName == "" {
		return c.config.KeyPrefix + ownerID + ":*"
	}
	return c.config.KeyPrefix + ownerID + ":" + botName + ":*"
}

func (c *Cache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeout)
}

// Set stores value as JSON. A non-positive ttl uses the configured
// default.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Get loads a JSON entry into dest and reports whether it was present.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.countMiss()
		return false, nil
	}
	if err != nil {
		c.countMiss()
		return false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.countMiss()
		return false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	c.countHit()
	return true, nil
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching a glob pattern via SCAN, and
// reports how many went.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var removed int64
	var batch []string

	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			n, err := c.client.Del(ctx, batch...).Result()
			removed += n
			if err != nil {
				return removed, fmt.Errorf("failed to delete matched entries: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan pattern %q: %w", pattern, err)
	}
	if len(batch) > 0 {
		n, err := c.client.Del(ctx, batch...).Result()
		removed += n
		if err != nil {
			return removed, fmt.Errorf("failed to delete matched entries: %w", err)
		}
	}
	return removed, nil
}

// InvalidateOwner drops an owner's cached contexts after a write, one
// character's when botName is set. Best-effort: failures are logged and
// swallowed, stale entries expire on their own TTL.
func (c *Cache) InvalidateOwner(ctx context.Context, ownerID, botName string) {
	if ownerID == "" {
		return
	}
	removed, err := c.DeletePattern(ctx, c.ownerPattern(ownerID, botName))
	if err != nil {
		c.logger.WithError(err).WithField("owner_id", ownerID).Warn("Cache invalidation failed")
		return
	}
	if removed > 0 {
		c.logger.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"bot_name": botName,
			"removed":  removed,
		}).Debug("Cached contexts invalidated")
	}
}

// Ping verifies connectivity and refreshes the store gauge.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.setUp(0)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	c.setUp(1)
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	c.setUp(0)
	return c.client.Close()
}

func (c *Cache) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *Cache) setUp(v float64) {
	if c.metrics != nil {
		c.metrics.StoreUp.WithLabelValues("redis").Set(v)
	}
}
