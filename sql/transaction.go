package sqlstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"dsp/store"
	"dsp/store/sql/adapter"
)

type txContextKey struct{}

// TransactionFromContext extracts the transaction carried by ctx.
func TransactionFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sqlx.Tx)
	return tx, ok && tx != nil
}

// TransactionHandler runs functions inside database transactions. The
// transaction travels in the context; nested calls join it.
type TransactionHandler struct {
	db      *sqlx.DB
	adapter adapter.Adapter
}

func NewTransactionHandler(db *sqlx.DB, adpt adapter.Adapter) *TransactionHandler {
	return &TransactionHandler{db: db, adapter: adpt}
}

var _ store.Transactor = (*TransactionHandler)(nil)

// WithTx runs fn in a read-write transaction. When fn fails the transaction
// is rolled back and fn's error is returned unchanged.
func (t *TransactionHandler) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return t.run(ctx, t.adapter.DefaultTxOptions(), "", fn)
}

// WithReadTx runs fn in a read-only transaction.
func (t *TransactionHandler) WithReadTx(ctx context.Context, fn func(context.Context) error) error {
	opts := t.adapter.DefaultTxOptions()
	if opts == nil {
		opts = &sql.TxOptions{}
	}
	ro := *opts
	ro.ReadOnly = true
	return t.run(ctx, &ro, "_read", fn)
}

func (t *TransactionHandler) run(ctx context.Context, opts *sql.TxOptions, suffix string, fn func(context.Context) error) error {
	if _, ok := TransactionFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, opts)
	if err != nil {
		return store.WrapTransactionError(err, "begin"+suffix)
	}
	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.WrapTransactionError(err, "commit"+suffix)
	}
	return nil
}

// executor returns the transaction carried by ctx or the database.
func (t *TransactionHandler) executor(ctx context.Context) sqlx.ExtContext {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return t.db
}
