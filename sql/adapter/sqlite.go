package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLiteAdapter implements the Adapter interface for SQLite.
type SQLiteAdapter struct {
	*BaseSQLAdapter
}

// NewSQLiteAdapter creates a new SQLite adapter.
func NewSQLiteAdapter() *SQLiteAdapter {
	return &SQLiteAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("sqlite3", "sqlite", "sqlite"),
	}
}

// Connect establishes a connection to SQLite. An in-memory database is
// private to its connection, so its pool is pinned to one connection.
func (a *SQLiteAdapter) Connect(ctx context.Context, config *Config) (*sql.DB, error) {
	cfg := *config
	memory := isMemoryPath(cfg.FilePath)
	if cfg.MaxOpenConns == 0 || memory {
		cfg.MaxOpenConns = 1
	}
	db, err := a.open(ctx, &cfg, a.ConnectionString(config))
	if err != nil {
		return nil, err
	}
	if memory {
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	return db, nil
}

func isMemoryPath(path string) bool {
	return path == "" || strings.HasPrefix(path, ":memory:") || strings.Contains(path, "mode=memory")
}

// ConnectionString constructs a SQLite DSN. Foreign keys are always on.
func (a *SQLiteAdapter) ConnectionString(config *Config) string {
	dbPath := config.FilePath
	if dbPath == "" {
		dbPath = ":memory:"
	} else if !strings.HasPrefix(dbPath, ":") && !strings.HasPrefix(dbPath, "file:") {
		dbPath = filepath.Clean(dbPath)
	}

	params := map[string]string{"_foreign_keys": "on", "_busy_timeout": "5000"}
	for key, value := range config.Options {
		params[key] = value
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, params[k])
	}
	return dbPath + "?" + strings.Join(parts, "&")
}

// MigrationTableSQL returns the SQLite migration table.
func (a *SQLiteAdapter) MigrationTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
}

// DefaultTxOptions returns default transaction options for SQLite.
func (a *SQLiteAdapter) DefaultTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

// IsUniqueConstraintViolation checks the extended result code.
func (a *SQLiteAdapter) IsUniqueConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return a.BaseSQLAdapter.IsUniqueConstraintViolation(err)
}

// IsForeignKeyViolation checks the extended result code.
func (a *SQLiteAdapter) IsForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return a.BaseSQLAdapter.IsForeignKeyViolation(err)
}

// IsConnectionError checks if an error is a connection-related error.
func (a *SQLiteAdapter) IsConnectionError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked || se.Code == sqlite3.ErrCantOpen
	}
	return a.BaseSQLAdapter.IsConnectionError(err)
}
