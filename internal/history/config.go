package history

import (
	"fmt"
	"time"
)

// Backends selectable through Config.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config selects and parametrizes the message log backend.
type Config struct {
	// Backend is "postgres" or "sqlite".
	Backend string `json:"backend"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`

	// Path is the SQLite database file. ":memory:" keeps the log
	// process-local.
	Path string `json:"path"`

	// Timeout bounds each statement, on top of the caller's context.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns an embedded-store configuration with Postgres
// settings prefilled for deployments that switch the backend.
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendSQLite,
		Host:     "localhost",
		Port:     5432,
		Username: "whisperengine",
		Password: "",
		Database: "whisperengine",
		SSLMode:  "disable",
		Path:     "whisperengine_history.db",
		Timeout:  10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.Host == "" {
			return fmt.Errorf("host is required")
		}
		if c.Port <= 0 {
			return fmt.Errorf("port must be positive")
		}
		if c.Username == "" {
			return fmt.Errorf("username is required")
		}
		if c.Database == "" {
			return fmt.Errorf("database is required")
		}
	case BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("path is required")
		}
	default:
		return fmt.Errorf("backend must be %q or %q", BackendPostgres, BackendSQLite)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// ConnString renders the Postgres connection string.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// WithBackend selects the backend.
func (c *Config) WithBackend(backend string) *Config {
	c.Backend = backend
	return c
}

// WithPath sets the SQLite database file.
func (c *Config) WithPath(path string) *Config {
	c.Path = path
	return c
}

// WithDatabase selects a non-default Postgres database.
func (c *Config) WithDatabase(db string) *Config {
	c.Database = db
	return c
}

// WithTimeout sets the per-statement deadline.
func (c *Config) WithTimeout(d time.Duration) *Config {
	c.Timeout = d
	return c
}
