// Package kvstore implements a store.Backend on a key/value connection.
// Rows are stored as JSON documents under "<prefix>:rec:<table>:<id>" and
// ids come from a per-table counter. Queries scan the table's keys.
//
// Transactions snapshot the keyspace and restore it on failure. Writers are
// serialized; reads outside a transaction may observe uncommitted writes.
package kvstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"dsp/store"
	"dsp/store/kv/adapter"
)

// Service wraps a KV adapter and implements store.Backend.
type Service struct {
	adapter    adapter.Adapter
	connection adapter.Connection
	config     *adapter.Config
	log        *zap.Logger
	prefix     string

	// txMu is held for the duration of every write transaction.
	txMu sync.Mutex
}

var _ store.Backend = (*Service)(nil)

type txKey struct{}

// NewService creates a new KV service with the given adapter.
func NewService(adpt adapter.Adapter, config *adapter.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	prefix := "dsp"
	if p := config.Options["key_prefix"]; p != "" {
		prefix = p
	}
	return &Service{
		adapter: adpt,
		config:  config,
		log:     log.With(zap.String("backend", adpt.Name())),
		prefix:  prefix,
	}
}

// Name returns the adapter name.
func (s *Service) Name() string {
	return s.adapter.Name()
}

// Connect establishes the key-value store connection.
func (s *Service) Connect(ctx context.Context) error {
	connection, err := s.adapter.Connect(ctx, s.config)
	if err != nil {
		return store.WrapConnectionError(err, "connect", s.adapter.Name(), s.config.Host)
	}

	pingCtx := ctx
	var cancel context.CancelFunc
	if s.config.ConnectTimeout > 0 {
		pingCtx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	if err := connection.Ping(pingCtx); err != nil {
		_ = connection.Close()
		return store.WrapConnectionError(err, "ping", s.adapter.Name(), s.config.Host)
	}

	s.connection = connection
	s.log.Info("Connected to key/value store", zap.String("dsn", s.adapter.ConnectionString(s.config)))
	return nil
}

// Connection returns the underlying connection.
func (s *Service) Connection() adapter.Connection {
	return s.connection
}

// Close closes the connection.
func (s *Service) Close() error {
	if s.connection != nil {
		return s.connection.Close()
	}
	return nil
}

// Stats returns connection statistics.
func (s *Service) Stats() interface{} {
	if s.connection != nil {
		return s.connection.Stats()
	}
	return nil
}

func (s *Service) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Service)
	return owner == s
}

// WithTx runs fn with exclusive write access. When fn fails the keyspace is
// restored to its state before the call and fn's error is returned.
//
// Every outermost call copies the whole keyspace, so a write costs O(keys).
// That bounds this backend to development and test data sets; nested calls
// join the outer snapshot.
func (s *Service) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if !s.adapter.SupportsSnapshots() {
		return store.WrapTransactionError(store.ErrNotSupported, "begin")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap, err := s.connection.Snapshot(ctx)
	if err != nil {
		return store.WrapTransactionError(err, "begin")
	}
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		if rerr := snap.Restore(ctx); rerr != nil {
			s.log.Error("Failed to restore snapshot", zap.Error(rerr))
		}
		return err
	}
	return nil
}

// WithReadTx runs fn while no write transaction is in progress.
func (s *Service) WithReadTx(ctx context.Context, fn func(context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, s))
}

// Open creates and connects a new KV service using the specified adapter.
func Open(ctx context.Context, adpt adapter.Adapter, config *adapter.Config, log *zap.Logger) (*Service, error) {
	service := NewService(adpt, config, log)
	if err := service.Connect(ctx); err != nil {
		return nil, err
	}
	return service, nil
}

// OpenWithName creates and connects a new KV service using the named adapter.
func OpenWithName(ctx context.Context, adapterName string, config *adapter.Config, log *zap.Logger, opts ...store.Option) (*Service, error) {
	config.Apply(opts...)

	adpt, err := adapter.Get(adapterName)
	if err != nil {
		return nil, store.WrapDriverError(err, adapterName, "get adapter")
	}

	return Open(ctx, adpt, config, log)
}
