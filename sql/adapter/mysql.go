package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry  = 1062
	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
)

// MySQLAdapter implements the Adapter interface for MySQL.
type MySQLAdapter struct {
	*BaseSQLAdapter
}

// NewMySQLAdapter creates a new MySQL adapter.
func NewMySQLAdapter() *MySQLAdapter {
	return &MySQLAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("mysql", "mysql", "mysql"),
	}
}

// Connect establishes a connection to MySQL.
func (a *MySQLAdapter) Connect(ctx context.Context, config *Config) (*sql.DB, error) {
	return a.open(ctx, config, a.ConnectionString(config))
}

// ConnectionString constructs a MySQL DSN. Times are parsed and affected
// row counts include matched rows, so an update that changes nothing still
// reports the row.
func (a *MySQLAdapter) ConnectionString(config *Config) string {
	cfg := mysql.NewConfig()
	cfg.User = config.Username
	cfg.Passwd = config.Password
	cfg.DBName = config.Database
	if config.Host != "" || config.Port > 0 {
		host := config.Host
		if host == "" {
			host = "localhost"
		}
		port := config.Port
		if port == 0 {
			port = 3306
		}
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if config.ConnectTimeout > 0 {
		cfg.Timeout = config.ConnectTimeout
	}

	cfg.Params = map[string]string{}
	hasCharset := false
	for key, value := range config.Options {
		if strings.EqualFold(key, "charset") {
			hasCharset = true
		}
		cfg.Params[key] = value
	}
	if !hasCharset {
		cfg.Params["charset"] = "utf8mb4"
	}

	return cfg.FormatDSN()
}

// MigrationTableSQL returns MySQL-specific migration table SQL.
func (a *MySQLAdapter) MigrationTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
}

// DefaultTxOptions returns MySQL-specific transaction options.
func (a *MySQLAdapter) DefaultTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
}

// IsUniqueConstraintViolation checks the server error number.
func (a *MySQLAdapter) IsUniqueConstraintViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return a.BaseSQLAdapter.IsUniqueConstraintViolation(err)
}

// IsForeignKeyViolation checks the server error number.
func (a *MySQLAdapter) IsForeignKeyViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlRowIsReferenced || myErr.Number == mysqlNoReferencedRow
	}
	return a.BaseSQLAdapter.IsForeignKeyViolation(err)
}
