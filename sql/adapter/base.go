package adapter

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dsp/store"
)

// BaseSQLAdapter provides common functionality for all SQL adapters.
type BaseSQLAdapter struct {
	db         *sql.DB
	driverName string
	name       string
	dialect    string
}

// NewBaseSQLAdapter creates a new base SQL adapter.
func NewBaseSQLAdapter(driverName, name, dialect string) *BaseSQLAdapter {
	return &BaseSQLAdapter{
		driverName: driverName,
		name:       name,
		dialect:    dialect,
	}
}

// Name returns the adapter name.
func (a *BaseSQLAdapter) Name() string {
	return a.name
}

// DriverName returns the database/sql driver name.
func (a *BaseSQLAdapter) DriverName() string {
	return a.driverName
}

// Dialect returns the SQL dialect.
func (a *BaseSQLAdapter) Dialect() string {
	return a.dialect
}

// open opens and pings a database with the configured pool settings.
func (a *BaseSQLAdapter) open(ctx context.Context, config *store.Config, connectionString string) (*sql.DB, error) {
	db, err := sql.Open(a.driverName, connectionString)
	if err != nil {
		return nil, store.WrapConnectionError(err, "connect", a.driverName, config.Host)
	}

	a.configureConnectionPool(db, config)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, store.WrapConnectionError(err, "ping", a.driverName, config.Host)
	}

	a.db = db
	return db, nil
}

func (a *BaseSQLAdapter) configureConnectionPool(db *sql.DB, config *store.Config) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}
}

// Close closes the database connection.
func (a *BaseSQLAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Placeholder returns the bind variable format. "?" unless overridden.
func (a *BaseSQLAdapter) Placeholder() sq.PlaceholderFormat {
	return sq.Question
}

func (a *BaseSQLAdapter) SupportsReturning() bool {
	return false
}

// MigrationTableSQL returns the migration bookkeeping table.
func (a *BaseSQLAdapter) MigrationTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
}

// DefaultTxOptions returns default transaction options.
func (a *BaseSQLAdapter) DefaultTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// IsConnectionError matches the connection failures common to all drivers.
func (a *BaseSQLAdapter) IsConnectionError(err error) bool {
	return containsAny(err,
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"driver: bad connection",
	)
}

// IsUniqueConstraintViolation is a message based fallback. Dialect adapters
// inspect driver error codes first.
func (a *BaseSQLAdapter) IsUniqueConstraintViolation(err error) bool {
	return containsAny(err, "unique constraint", "duplicate key", "duplicate entry")
}

// IsForeignKeyViolation is a message based fallback.
func (a *BaseSQLAdapter) IsForeignKeyViolation(err error) bool {
	return containsAny(err, "foreign key")
}

func containsAny(err error, patterns ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
