package store

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is a process-local KV. Values never expire and there is no
// janitor goroutine.
type MemoryStore struct {
	c *cache.Cache
}

var _ KV = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

// Get returns the value for key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores value under key.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.c.Set(key, value, cache.NoExpiration)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Keys returns the number of stored keys.
func (m *MemoryStore) Keys() int {
	return m.c.ItemCount()
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
