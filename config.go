package store

import (
	"fmt"
	"time"
)

// Config contains the connection settings shared by all backends.
type Config struct {
	// Type selects the adapter (sqlite, postgres, pgx, mysql, memory).
	Type     string
	Host     string
	Port     int
	Username string
	Password string
	Database string
	// FilePath is the database file for file-based backends. Empty means an
	// in-memory database.
	FilePath string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// Options carries driver-specific connection parameters.
	Options map[string]string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		MaxIdleConns:    10,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  30 * time.Second,
		QueryTimeout:    30 * time.Second,
		Options:         make(map[string]string),
	}
}

// Validate checks that the configuration can be used to open a backend.
func (c Config) Validate() error {
	switch c.Type {
	case "":
		return NewConfigErrorForField("type", c.Type, "adapter type is required")
	case "memory", "sqlite", "sqlite3":
		return nil
	case "postgres", "postgresql", "pgx", "mysql":
		if c.Database == "" {
			return NewConfigErrorForField("database", c.Database, fmt.Sprintf("database name is required for %s", c.Type))
		}
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return NewConfigError("connection pool sizes cannot be negative")
	}
	return nil
}
