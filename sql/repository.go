package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"dsp/store"
)

// Query returns the rows of table matching c.
func (s *Service) Query(ctx context.Context, table string, c store.Criteria) ([]*store.Record, error) {
	compiled, err := s.compiler(table).Select(c)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.elapsed("query", table, time.Now())

	rows, err := s.tx.executor(ctx).QueryxContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, s.mapError(err, "query", table, compiled)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.mapError(err, "scan", table, compiled)
	}
	return records, nil
}

// Count returns the number of rows of table matching c.
func (s *Service) Count(ctx context.Context, table string, c store.Criteria) (int64, error) {
	compiled, err := s.compiler(table).Count(c)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.elapsed("count", table, time.Now())

	var n int64
	if err := s.tx.executor(ctx).QueryRowxContext(ctx, compiled.SQL, compiled.Args...).Scan(&n); err != nil {
		return 0, s.mapError(err, "count", table, compiled)
	}
	return n, nil
}

// Mutate applies m to table. Inserts report the new primary key through
// RETURNING where the dialect supports it and LastInsertId otherwise.
func (s *Service) Mutate(ctx context.Context, table string, m store.Mutation) (store.MutationResult, error) {
	compiled, returning, err := s.compiler(table).Mutation(m, s.adapter.SupportsReturning())
	if err != nil {
		return store.MutationResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.elapsed("mutate", table, time.Now())

	exec := s.tx.executor(ctx)
	if len(returning) > 0 {
		var id any
		if err := exec.QueryRowxContext(ctx, compiled.SQL, compiled.Args...).Scan(&id); err != nil {
			return store.MutationResult{}, s.mapError(err, "insert", table, compiled)
		}
		return store.MutationResult{RowsAffected: 1, LastInsertID: store.FormatID(id)}, nil
	}

	res, err := exec.ExecContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return store.MutationResult{}, s.mapError(err, "mutate", table, compiled)
	}

	var result store.MutationResult
	if result.RowsAffected, err = res.RowsAffected(); err != nil {
		return store.MutationResult{}, s.mapError(err, "rows_affected", table, compiled)
	}
	if _, ok := m.(store.Insert); ok {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			result.LastInsertID = store.FormatID(id)
		}
	}
	return result, nil
}

func (s *Service) compiler(table string) *SQLCompiler {
	return NewSQLCompiler(table, s.adapter.Dialect(), s.builder)
}

// mapError converts driver errors into store error kinds.
func (s *Service) mapError(err error, op, table string, compiled *CompiledSQL) error {
	switch {
	case s.adapter.IsUniqueConstraintViolation(err):
		return &store.ValidationError{Message: "duplicate value violates a unique constraint on " + table, Err: err}
	case s.adapter.IsForeignKeyViolation(err):
		return store.NewBadRequestError("operation on %s violates a reference constraint", table)
	case s.adapter.IsConnectionError(err):
		return store.WrapConnectionError(err, op, s.adapter.Name(), s.config.Host)
	default:
		return store.WrapQueryError(err, op, table, compiled.SQL, compiled.Args)
	}
}

// scanRecords reads rows into records, keeping the column order. Byte
// slices become strings.
func scanRecords(rows *sqlx.Rows) ([]*store.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []*store.Record
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		rec := store.NewRecord()
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec.Set(col, v)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
