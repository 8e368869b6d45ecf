package adapter

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"dsp/store"
)

// Adapter represents a SQL database adapter (PostgreSQL, MySQL, SQLite).
type Adapter interface {
	// Name returns the adapter's unique identifier.
	Name() string

	// DriverName is the database/sql driver the adapter opens.
	DriverName() string

	// Dialect groups adapters that accept the same SQL (sqlite, postgres,
	// mysql). Migrations are selected by dialect.
	Dialect() string

	// Connect establishes a connection to the database.
	Connect(ctx context.Context, config *Config) (*sql.DB, error)

	// ConnectionString builds the connection string from config.
	ConnectionString(config *Config) string

	// Statement building
	Placeholder() sq.PlaceholderFormat
	SupportsReturning() bool

	// Migrations and transactions
	MigrationTableSQL() string
	DefaultTxOptions() *sql.TxOptions

	// Error classification
	IsUniqueConstraintViolation(err error) bool
	IsForeignKeyViolation(err error) bool
	IsConnectionError(err error) bool

	// Close releases any resources held by the adapter.
	Close() error
}

// Config is an alias to store.Config.
type Config = store.Config

// DefaultConfig returns a SQL configuration with sensible defaults.
func DefaultConfig() Config {
	config := store.DefaultConfig()
	config.SSLMode = "disable"
	config.MaxOpenConns = 25
	return config
}
