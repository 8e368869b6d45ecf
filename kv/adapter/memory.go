package adapter

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryAdapter implements the Adapter interface using in-memory storage.
type MemoryAdapter struct {
	store *MemoryStore
}

// MemoryStore represents an in-memory key-value store.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]*MemoryValue
	stats *MemoryStats
}

// MemoryValue represents a value in memory with expiration.
type MemoryValue struct {
	Data      []byte
	ExpiresAt *time.Time
}

func (v *MemoryValue) expired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

// MemoryStats tracks memory store statistics.
type MemoryStats struct {
	Keys         int64
	Gets         int64
	Sets         int64
	Deletes      int64
	Hits         int64
	Misses       int64
	Expired      int64
	Snapshots    int64
	Restores     int64
	LastAccessed time.Time
}

// MemoryConnection implements the Connection interface for memory storage.
type MemoryConnection struct {
	store *MemoryStore
}

// NewMemoryAdapter creates a new memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		store: &MemoryStore{
			data:  make(map[string]*MemoryValue),
			stats: &MemoryStats{},
		},
	}
}

// Name returns the adapter name.
func (a *MemoryAdapter) Name() string {
	return "memory"
}

// Connect establishes a connection to memory storage.
func (a *MemoryAdapter) Connect(ctx context.Context, config *Config) (Connection, error) {
	return &MemoryConnection{store: a.store}, nil
}

// ConnectionString returns a memory connection string.
func (a *MemoryAdapter) ConnectionString(config *Config) string {
	return "memory://localhost"
}

func (a *MemoryAdapter) SupportsSnapshots() bool { return true }

// Close releases resources.
func (a *MemoryAdapter) Close() error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	a.store.data = make(map[string]*MemoryValue)
	a.store.stats = &MemoryStats{}

	return nil
}

// Get retrieves a value by key.
func (c *MemoryConnection) Get(ctx context.Context, key string) ([]byte, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	return c.getLocked(key)
}

func (c *MemoryConnection) getLocked(key string) ([]byte, error) {
	now := time.Now()
	c.store.stats.Gets++
	c.store.stats.LastAccessed = now

	value, exists := c.store.data[key]
	if !exists {
		c.store.stats.Misses++
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if value.expired(now) {
		delete(c.store.data, key)
		c.store.stats.Keys--
		c.store.stats.Expired++
		c.store.stats.Misses++
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	c.store.stats.Hits++
	return value.Data, nil
}

// Set stores a value with optional expiration.
func (c *MemoryConnection) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.setLocked(key, value, expiration)
	return nil
}

func (c *MemoryConnection) setLocked(key string, value []byte, expiration time.Duration) {
	now := time.Now()
	c.store.stats.Sets++
	c.store.stats.LastAccessed = now

	var expiresAt *time.Time
	if expiration > 0 {
		expires := now.Add(expiration)
		expiresAt = &expires
	}

	if _, exists := c.store.data[key]; !exists {
		c.store.stats.Keys++
	}

	c.store.data[key] = &MemoryValue{
		Data:      append([]byte(nil), value...),
		ExpiresAt: expiresAt,
	}
}

// Delete removes a key.
func (c *MemoryConnection) Delete(ctx context.Context, key string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.stats.Deletes++
	c.store.stats.LastAccessed = time.Now()

	if _, exists := c.store.data[key]; exists {
		delete(c.store.data, key)
		c.store.stats.Keys--
	}

	return nil
}

// Exists checks if a key exists.
func (c *MemoryConnection) Exists(ctx context.Context, key string) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	value, exists := c.store.data[key]
	if !exists {
		return false, nil
	}
	if value.expired(time.Now()) {
		delete(c.store.data, key)
		c.store.stats.Keys--
		c.store.stats.Expired++
		return false, nil
	}

	return true, nil
}

// MGet retrieves the values of the keys that exist.
func (c *MemoryConnection) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, err := c.getLocked(key); err == nil {
			result[key] = value
		}
	}
	return result, nil
}

// MDelete removes several keys.
func (c *MemoryConnection) MDelete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the live keys matching pattern, sorted.
func (c *MemoryConnection) Keys(ctx context.Context, pattern string) ([]string, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, value := range c.store.data {
		if value.expired(now) {
			continue
		}
		ok, err := matchPattern(key, pattern)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr increments a key by 1.
func (c *MemoryConnection) Incr(ctx context.Context, key string) (int64, error) {
	return c.IncrBy(ctx, key, 1)
}

// IncrBy adds value to the integer stored at key. A missing key counts as 0.
func (c *MemoryConnection) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	var current int64
	if data, err := c.getLocked(key); err == nil {
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value of %s is not an integer", key)
		}
		current = n
	}
	current += value
	c.setLocked(key, []byte(strconv.FormatInt(current, 10)), 0)
	return current, nil
}

// Snapshot copies the keyspace.
func (c *MemoryConnection) Snapshot(ctx context.Context) (Snapshot, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	data := make(map[string]*MemoryValue, len(c.store.data))
	for k, v := range c.store.data {
		cp := *v
		data[k] = &cp
	}
	c.store.stats.Snapshots++
	return &memorySnapshot{store: c.store, data: data}, nil
}

type memorySnapshot struct {
	store *MemoryStore
	data  map[string]*MemoryValue
}

func (s *memorySnapshot) Restore(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.store.data = s.data
	s.store.stats.Keys = int64(len(s.data))
	s.store.stats.Restores++
	return nil
}

// Ping always succeeds.
func (c *MemoryConnection) Ping(ctx context.Context) error {
	return nil
}

func (c *MemoryConnection) Stats() interface{} {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	return *c.store.stats
}

func (c *MemoryConnection) Close() error {
	return nil
}

// matchPattern matches glob-style patterns ("rec:app:*").
func matchPattern(key, pattern string) (bool, error) {
	if pattern == "*" {
		return true, nil
	}
	ok, err := path.Match(pattern, key)
	if err != nil {
		return false, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
	}
	return ok, nil
}
