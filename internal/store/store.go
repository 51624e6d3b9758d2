// Package store provides the durable string key-value substrate the session
// and favorites stores persist into.
package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Well-known keys of the durable state.
const (
	KeySessions       = "sessions"
	KeyCurrentSession = "currentSession"
	KeyFavorites      = "favorites"
)

// KV is a string key-value store.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Options selects and configures a KV backend.
type Options struct {
	Driver   string
	DBPath   string
	RedisURL string
}

// Open builds the KV backend named by opts.Driver.
func Open(opts Options) (KV, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		s, err := NewSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		r, err := NewRedis(opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case DriverMemory:
		slog.Warn("Using in-memory store, state will not survive restarts")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
