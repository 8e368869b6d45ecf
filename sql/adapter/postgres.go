package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgreSQLAdapter implements the Adapter interface for PostgreSQL using
// lib/pq.
type PostgreSQLAdapter struct {
	*BaseSQLAdapter
}

// NewPostgreSQLAdapter creates a new PostgreSQL adapter.
func NewPostgreSQLAdapter() *PostgreSQLAdapter {
	return &PostgreSQLAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("postgres", "postgres", "postgres"),
	}
}

// Connect establishes a connection to PostgreSQL.
func (a *PostgreSQLAdapter) Connect(ctx context.Context, config *Config) (*sql.DB, error) {
	return a.open(ctx, config, a.ConnectionString(config))
}

// ConnectionString constructs a key=value PostgreSQL connection string.
func (a *PostgreSQLAdapter) ConnectionString(config *Config) string {
	var parts []string

	if config.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", config.Host))
	}
	if config.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", config.Port))
	}
	if config.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", config.Database))
	}
	if config.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", config.Username))
	}
	if config.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", config.Password))
	}

	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, fmt.Sprintf("sslmode=%s", sslMode))

	if config.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(config.ConnectTimeout.Seconds())))
	}

	keys := make([]string, 0, len(config.Options))
	for key := range config.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, config.Options[key]))
	}

	return strings.Join(parts, " ")
}

// Placeholder returns "$n" bind variables.
func (a *PostgreSQLAdapter) Placeholder() sq.PlaceholderFormat {
	return sq.Dollar
}

// SupportsReturning indicates PostgreSQL supports the RETURNING clause.
func (a *PostgreSQLAdapter) SupportsReturning() bool {
	return true
}

// MigrationTableSQL returns PostgreSQL-specific migration table SQL.
func (a *PostgreSQLAdapter) MigrationTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`
}

// IsUniqueConstraintViolation checks the SQLSTATE of a lib/pq error.
func (a *PostgreSQLAdapter) IsUniqueConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return a.BaseSQLAdapter.IsUniqueConstraintViolation(err)
}

// IsForeignKeyViolation checks the SQLSTATE of a lib/pq error.
func (a *PostgreSQLAdapter) IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgForeignKeyViolation
	}
	return a.BaseSQLAdapter.IsForeignKeyViolation(err)
}
