package analytics

import (
	"fmt"
	"time"
)

// Config defines ClickHouse connection settings. An empty Host leaves the
// sink disabled.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"-"`
	TLS      bool   `json:"tls"`

	// Timeout bounds each statement, on top of the caller's context.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns sink defaults with no host; set Host to turn the
// sink on.
func DefaultConfig() *Config {
	return &Config{
		Host:     "",
		Port:     9000,
		Database: "whisperengine",
		Username: "default",
		Password: "",
		TLS:      false,
		Timeout:  10 * time.Second,
	}
}

// Validate checks the configuration for a live sink.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// DSN renders the ClickHouse connection string.
func (c *Config) DSN() string {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
	if !c.TLS {
		dsn += "?secure=false"
	}
	return dsn
}

// WithHost sets the server host, enabling the sink.
func (c *Config) WithHost(host string) *Config {
	c.Host = host
	return c
}

// WithDatabase selects a non-default database.
func (c *Config) WithDatabase(db string) *Config {
	c.Database = db
	return c
}
