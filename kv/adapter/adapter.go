package adapter

import (
	"context"
	"errors"
	"time"

	"dsp/store"
)

// ErrKeyNotFound is returned by Get for missing or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// Adapter represents a key-value store adapter (Memory, etc.).
type Adapter interface {
	// Name returns the adapter's unique identifier.
	Name() string

	// Connect establishes a connection to the key-value store.
	Connect(ctx context.Context, config *store.Config) (Connection, error)

	// ConnectionString builds the connection string from config.
	ConnectionString(config *store.Config) string

	// SupportsSnapshots reports whether connections implement Snapshot.
	SupportsSnapshots() bool

	// Close releases any resources held by the adapter.
	Close() error
}

// Connection represents a connection to a key-value store.
type Connection interface {
	// Basic key-value operations
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Batch operations
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MDelete(ctx context.Context, keys []string) error

	// Keys returns the keys matching a glob-style pattern in ascending order.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Atomic operations
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, value int64) (int64, error)

	// Snapshot captures the whole keyspace so it can be restored later.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Health and stats
	Ping(ctx context.Context) error
	Stats() interface{}
	Close() error
}

// Snapshot is a point-in-time copy of a keyspace.
type Snapshot interface {
	// Restore replaces the keyspace with the captured state.
	Restore(ctx context.Context) error
}

// Config is an alias to store.Config. KV-specific settings go in Options.
type Config = store.Config

// DefaultConfig returns a KV configuration with sensible defaults.
func DefaultConfig() Config {
	config := store.DefaultConfig()
	config.Type = "memory"
	config.Options["key_prefix"] = "dsp"
	return config
}
