package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnection(t *testing.T) Connection {
	t.Helper()
	config := DefaultConfig()
	conn, err := NewMemoryAdapter().Connect(context.Background(), &config)
	require.NoError(t, err)
	return conn
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	conn := newConnection(t)

	value := []byte("v1")
	require.NoError(t, conn.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, err := conn.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got), "stored values are copied")

	_, err = conn.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryExpiration(t *testing.T) {
	ctx := context.Background()
	conn := newConnection(t)

	require.NoError(t, conn.Set(ctx, "short", []byte("x"), time.Nanosecond))
	time.Sleep(time.Millisecond)

	ok, err := conn.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryKeysAndIncr(t *testing.T) {
	ctx := context.Background()
	conn := newConnection(t)

	for _, k := range []string{"dsp:rec:b:2", "dsp:rec:a:1", "dsp:rec:b:1", "other"} {
		require.NoError(t, conn.Set(ctx, k, []byte("{}"), 0))
	}
	keys, err := conn.Keys(ctx, "dsp:rec:b:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"dsp:rec:b:1", "dsp:rec:b:2"}, keys)

	_, err = conn.Keys(ctx, "[")
	assert.Error(t, err)

	n, err := conn.Incr(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = conn.IncrBy(ctx, "seq", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	_, err = conn.Incr(ctx, "other")
	assert.Error(t, err)
}

func TestMemorySnapshotRestore(t *testing.T) {
	ctx := context.Background()
	conn := newConnection(t)
	require.NoError(t, conn.Set(ctx, "a", []byte("1"), 0))

	snap, err := conn.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Set(ctx, "a", []byte("2"), 0))
	require.NoError(t, conn.Set(ctx, "b", []byte("3"), 0))
	require.NoError(t, snap.Restore(ctx))

	got, err := conn.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
	ok, err := conn.Exists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, List(), "memory")
	_, err := Get("nope")
	assert.Error(t, err)
}
