// Package favorites keeps the ledger of saved candidate names.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/qiming/internal/domain"
	"github.com/ashureev/qiming/internal/store"
	"github.com/google/uuid"
)

// Store owns the favorites list. Items reference sessions by id only and
// the referenced session may no longer exist.
type Store struct {
	mu     sync.Mutex
	kv     store.KV
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	items  []domain.FavoriteItem
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithIDGenerator overrides uuid.NewString.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// New creates an empty store over kv.
func New(kv store.KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the favorites list. Absent or malformed content loads as an
// empty list; only KV read failures are returned.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.kv.Get(ctx, store.KeyFavorites)
	if err != nil {
		return fmt.Errorf("load favorites: %w", err)
	}
	var items []domain.FavoriteItem
	if ok {
		items, err = decodeItems(raw)
		if err != nil {
			s.logger.Warn("Discarding malformed persisted favorites", "error", err)
			items = nil
		}
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

func decodeItems(raw string) ([]domain.FavoriteItem, error) {
	var items []domain.FavoriteItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	for i, it := range items {
		if it.ID == "" || it.Name == "" {
			return nil, fmt.Errorf("favorite %d: missing id or name", i)
		}
	}
	return items, nil
}

// Toggle adds name for subjectID, or removes it when already present. It
// reports whether the name is now a favorite. detail may be nil when the
// catalog has no record; a copy is stored so later catalog reloads never
// change a saved item.
func (s *Store) Toggle(ctx context.Context, subjectID, subjectLabel, name string, detail *domain.NameDetail) (bool, error) {
	if name == "" {
		return false, errors.New("toggle favorite: empty name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.find(subjectID, name); i >= 0 {
		next := slices.Delete(slices.Clone(s.items), i, i+1)
		if err := s.persist(ctx, next); err != nil {
			return true, err
		}
		s.items = next
		return false, nil
	}

	item := domain.FavoriteItem{
		ID:           s.newID(),
		SubjectID:    subjectID,
		SubjectLabel: subjectLabel,
		Name:         name,
		CreatedAt:    s.now(),
	}
	if detail != nil {
		snap := detail.Clone()
		item.NameDetailSnapshot = &snap
	}
	next := append(slices.Clone(s.items), item)
	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.items = next
	return true, nil
}

// Remove deletes the favorite with favoriteID. Unknown ids report false.
func (s *Store) Remove(ctx context.Context, favoriteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.items, func(it domain.FavoriteItem) bool { return it.ID == favoriteID })
	if i < 0 {
		return false, nil
	}
	next := slices.Delete(slices.Clone(s.items), i, i+1)
	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.items = next
	return true, nil
}

// IsFavorited reports whether name is saved for subjectID.
func (s *Store) IsFavorited(subjectID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(subjectID, name) >= 0
}

// List returns all favorites in the order they were added.
func (s *Store) List() []domain.FavoriteItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items, func(domain.FavoriteItem) bool { return true })
}

// ListForSubject returns the favorites saved for subjectID.
func (s *Store) ListForSubject(subjectID string) []domain.FavoriteItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items, func(it domain.FavoriteItem) bool { return it.SubjectID == subjectID })
}

func (s *Store) find(subjectID, name string) int {
	return slices.IndexFunc(s.items, func(it domain.FavoriteItem) bool {
		return it.SubjectID == subjectID && it.Name == name
	})
}

func (s *Store) persist(ctx context.Context, items []domain.FavoriteItem) error {
	if items == nil {
		items = []domain.FavoriteItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode favorites: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeyFavorites, string(data)); err != nil {
		return fmt.Errorf("persist favorites: %w", err)
	}
	return nil
}

func cloneItems(items []domain.FavoriteItem, keep func(domain.FavoriteItem) bool) []domain.FavoriteItem {
	out := make([]domain.FavoriteItem, 0, len(items))
	for _, it := range items {
		if !keep(it) {
			continue
		}
		if it.NameDetailSnapshot != nil {
			snap := it.NameDetailSnapshot.Clone()
			it.NameDetailSnapshot = &snap
		}
		out = append(out, it)
	}
	return out
}
