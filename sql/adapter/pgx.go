package adapter

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// PgxAdapter talks to PostgreSQL through the pgx database/sql driver. It
// shares connection strings and SQL with PostgreSQLAdapter.
type PgxAdapter struct {
	*PostgreSQLAdapter
}

// NewPgxAdapter creates a new pgx adapter.
func NewPgxAdapter() *PgxAdapter {
	return &PgxAdapter{
		PostgreSQLAdapter: &PostgreSQLAdapter{
			BaseSQLAdapter: NewBaseSQLAdapter("pgx", "pgx", "postgres"),
		},
	}
}

// IsUniqueConstraintViolation checks the SQLSTATE of a pgx error.
func (a *PgxAdapter) IsUniqueConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return a.BaseSQLAdapter.IsUniqueConstraintViolation(err)
}

// IsForeignKeyViolation checks the SQLSTATE of a pgx error.
func (a *PgxAdapter) IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return a.BaseSQLAdapter.IsForeignKeyViolation(err)
}

// IsConnectionError reports pgx connection failures.
func (a *PgxAdapter) IsConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return a.BaseSQLAdapter.IsConnectionError(err)
}
