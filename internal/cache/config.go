package cache

import (
	"fmt"
	"time"
)

// Config holds connection and keying settings for the context cache.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`

	// KeyPrefix namespaces every key this cache writes.
	KeyPrefix string `json:"key_prefix"`

	// TTL is the default lifetime of a cached context. Conversations move
	// fast; entries are cheap to rebuild and risky to serve stale.
	TTL time.Duration `json:"ttl"`

	// Timeout bounds each redis command, on top of the caller's context.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns default redis cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "whisperengine:context:",
		TTL:       5 * time.Minute,
		Timeout:   3 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db cannot be negative")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// WithAddr sets the redis address.
func (c *Config) WithAddr(addr string) *Config {
	c.Addr = addr
	return c
}

// WithTTL sets the default entry lifetime.
func (c *Config) WithTTL(d time.Duration) *Config {
	c.TTL = d
	return c
}

// WithKeyPrefix sets the key namespace.
func (c *Config) WithKeyPrefix(prefix string) *Config {
	c.KeyPrefix = prefix
	return c
}
