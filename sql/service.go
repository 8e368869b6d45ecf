// Package sqlstore implements store.Backend on database/sql. Statements are
// built with squirrel, rows are read with sqlx, and transactions travel in
// the context so that record writes and their hooks commit together.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"dsp/store"
	"dsp/store/sql/adapter"
)

// Service wraps a SQL adapter and implements store.Backend.
type Service struct {
	adapter adapter.Adapter
	db      *sqlx.DB
	config  *adapter.Config
	log     *zap.Logger
	builder sq.StatementBuilderType
	tx      *TransactionHandler
}

var _ store.Backend = (*Service)(nil)

// NewService creates a new SQL service with the given adapter.
func NewService(adpt adapter.Adapter, config *adapter.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		adapter: adpt,
		config:  config,
		log:     log.With(zap.String("backend", adpt.Name())),
		builder: sq.StatementBuilder.PlaceholderFormat(adpt.Placeholder()),
	}
}

// Name returns the adapter name.
func (s *Service) Name() string {
	return s.adapter.Name()
}

// Connect establishes the database connection.
func (s *Service) Connect(ctx context.Context) error {
	connectCtx := ctx
	var cancel context.CancelFunc
	if s.config.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	db, err := s.adapter.Connect(connectCtx, s.config)
	if err != nil {
		return store.WrapConnectionError(err, "connect", s.adapter.Name(), s.config.Host)
	}

	s.db = sqlx.NewDb(db, s.adapter.DriverName())
	s.tx = NewTransactionHandler(s.db, s.adapter)
	s.log.Info("Connected to database",
		zap.String("driver", s.adapter.DriverName()),
		zap.String("host", s.config.Host),
		zap.String("database", s.config.Database))
	return nil
}

// DB returns the underlying database handle.
func (s *Service) DB() *sqlx.DB {
	return s.db
}

// Adapter returns the underlying adapter.
func (s *Service) Adapter() adapter.Adapter {
	return s.adapter
}

// Close closes the database connection.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Stats returns database connection statistics.
func (s *Service) Stats() interface{} {
	if s.db != nil {
		return s.db.Stats()
	}
	return sql.DBStats{}
}

// WithTx runs fn in a read-write transaction.
func (s *Service) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return s.tx.WithTx(ctx, fn)
}

// WithReadTx runs fn in a read-only transaction.
func (s *Service) WithReadTx(ctx context.Context, fn func(context.Context) error) error {
	return s.tx.WithReadTx(ctx, fn)
}

// withTimeout applies the configured query timeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// ExecuteSQL executes raw SQL (for migrations, table creation, etc.).
func (s *Service) ExecuteSQL(ctx context.Context, query string, args ...interface{}) error {
	if _, err := s.tx.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return store.WrapQueryError(err, "execute_sql", "", query, args)
	}
	return nil
}

// Open creates and connects a new SQL service using the specified adapter.
func Open(ctx context.Context, adpt adapter.Adapter, config *adapter.Config, log *zap.Logger) (*Service, error) {
	service := NewService(adpt, config, log)
	if err := service.Connect(ctx); err != nil {
		return nil, err
	}
	return service, nil
}

// OpenWithName creates and connects a new SQL service using the named adapter.
func OpenWithName(ctx context.Context, adapterName string, config *adapter.Config, log *zap.Logger, opts ...store.Option) (*Service, error) {
	config.Apply(opts...)

	adpt, err := adapter.Get(adapterName)
	if err != nil {
		return nil, store.WrapDriverError(err, adapterName, "get adapter")
	}

	return Open(ctx, adpt, config, log)
}

// elapsed logs slow statements at debug level.
func (s *Service) elapsed(op, table string, start time.Time) {
	s.log.Debug("Statement executed",
		zap.String("op", op),
		zap.String("table", table),
		zap.Duration("took", time.Since(start)))
}
