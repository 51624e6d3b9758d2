package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, kv.Ping(ctx))

	_, ok, err := kv.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store should not have sessions")

	require.NoError(t, kv.Set(ctx, KeySessions, `[{"id":"a"}]`))
	v, ok, err := kv.Get(ctx, KeySessions)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"id":"a"}]`, v)

	require.NoError(t, kv.Set(ctx, KeySessions, `[]`))
	v, _, err = kv.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.Equal(t, `[]`, v)

	require.NoError(t, kv.Set(ctx, KeyCurrentSession, `"陈"`))
	v, _, err = kv.Get(ctx, KeyCurrentSession)
	require.NoError(t, err)
	assert.Equal(t, `"陈"`, v, "values must survive unicode untouched")

	require.NoError(t, kv.Delete(ctx, KeySessions))
	require.NoError(t, kv.Delete(ctx, KeySessions), "deleting an absent key is not an error")
	_, ok, err = kv.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "qiming.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	exerciseKV(t, s)
}

func TestSQLiteConnectionPragmas(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "qiming.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	// NORMAL
	var sync int
	require.NoError(t, s.db.QueryRow("PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 1, sync)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qiming.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyFavorites, `[{"name":"言希"}]`))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	v, ok, err := reopened.Get(ctx, KeyFavorites)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"name":"言希"}]`, v)
}

func TestRedisStoreLive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedis(addr)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	exerciseKV(t, Prefixed(s, "qiming-test:"+t.Name()+":"))
}

func TestPrefixedIsolatesNamespaces(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	a := Prefixed(base, "ws:a:")
	b := Prefixed(base, "ws:b:")

	require.NoError(t, a.Set(ctx, KeySessions, "A"))
	require.NoError(t, b.Set(ctx, KeySessions, "B"))

	va, _, _ := a.Get(ctx, KeySessions)
	vb, _, _ := b.Get(ctx, KeySessions)
	assert.Equal(t, "A", va)
	assert.Equal(t, "B", vb)
	assert.Equal(t, 2, base.Keys())

	raw, ok, _ := base.Get(ctx, "ws:a:"+KeySessions)
	assert.True(t, ok)
	assert.Equal(t, "A", raw)

	require.NoError(t, a.Close())
	require.NoError(t, b.Ping(ctx), "closing a namespace must not close the backend")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "etcd"})
	assert.Error(t, err)

	kv, err := Open(Options{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, kv)
}
