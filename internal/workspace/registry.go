// Package workspace hosts one flow controller per anonymous browser
// workspace, each over its own namespace of the shared KV store.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/qiming/internal/catalog"
	"github.com/ashureev/qiming/internal/favorites"
	"github.com/ashureev/qiming/internal/flow"
	"github.com/ashureev/qiming/internal/session"
	"github.com/ashureev/qiming/internal/store"
)

// Config tunes the controllers the registry builds.
type Config struct {
	Delays                flow.Delays
	CancelPendingOnSwitch bool
	// Scheduler defaults to flow.RealScheduler.
	Scheduler flow.Scheduler
	// OnEvict is called with the id of every workspace the sweeper evicts.
	OnEvict func(workspaceID string)
}

type entry struct {
	ctrl     *flow.Controller
	lastUsed time.Time
}

// Registry lazily builds and caches controllers by workspace id.
type Registry struct {
	mu      sync.Mutex
	kv      store.KV
	catalog catalog.Catalog
	cfg     Config
	sink    flow.Listener
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]*entry
}

// NewRegistry creates a registry. sink receives the events of every
// workspace and may be nil.
func NewRegistry(kv store.KV, cat catalog.Catalog, cfg Config, sink flow.Listener, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = flow.RealScheduler{}
	}
	return &Registry{
		kv:      kv,
		catalog: cat,
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// KeyPrefix is the namespace of a workspace's keys in the shared store.
func KeyPrefix(workspaceID string) string {
	return "ws:" + workspaceID + ":"
}

// Get returns the controller for workspaceID, loading its state on first use.
func (r *Registry) Get(ctx context.Context, workspaceID string) (*flow.Controller, error) {
	if workspaceID == "" {
		return nil, errors.New("get workspace: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[workspaceID]; ok {
		e.lastUsed = r.now()
		return e.ctrl, nil
	}

	logger := r.logger.With("workspace_id", workspaceID)
	kv := store.Prefixed(r.kv, KeyPrefix(workspaceID))

	sessions := session.New(kv, session.WithLogger(logger))
	if err := sessions.Load(ctx); err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
	}
	favs := favorites.New(kv, favorites.WithLogger(logger))
	if err := favs.Load(ctx); err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
	}

	ctrl := flow.New(sessions, favs, r.catalog,
		flow.WithWorkspaceID(workspaceID),
		flow.WithLogger(r.logger),
		flow.WithListener(r.sink),
		flow.WithDelays(r.cfg.Delays),
		flow.WithScheduler(r.cfg.Scheduler),
		flow.WithCancelPendingOnSwitch(r.cfg.CancelPendingOnSwitch),
	)
	resumed, err := ctrl.Resume()
	if err != nil {
		return nil, fmt.Errorf("resume workspace %s: %w", workspaceID, err)
	}
	r.entries[workspaceID] = &entry{ctrl: ctrl, lastUsed: r.now()}
	logger.Info("Workspace loaded", "sessions", len(sessions.List()), "resumed_turns", resumed)
	return ctrl, nil
}

// Len reports how many workspaces are resident.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts workspaces idle for longer than ttl that have no agent turn
// pending. Their durable state stays in the store and is reloaded on the
// next Get.
func (r *Registry) Sweep(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	evicted := 0
	for id, e := range r.entries {
		if e.lastUsed.After(cutoff) || e.ctrl.IsComposing() {
			continue
		}
		e.ctrl.Close()
		delete(r.entries, id)
		evicted++
		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(id)
		}
		r.logger.Debug("Workspace evicted", "workspace_id", id, "idle", r.now().Sub(e.lastUsed))
	}
	return evicted
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("Workspace sweeper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(ttl); n > 0 {
				r.logger.Info("Workspace sweeper evicted idle workspaces", "count", n, "resident", r.Len())
			}
		case <-ctx.Done():
			r.logger.Info("Workspace sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Close shuts down every resident controller.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.ctrl.Close()
		delete(r.entries, id)
	}
}
