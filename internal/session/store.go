// Package session keeps the per-subject naming sessions and the pointer to
// the current one, persisted on every mutation.
package session

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

// Store owns the session list and the current-session pointer.
//
// All reads return deep copies; all writes go through Create, Update,
// SwitchCurrent and Delete, each of which persists synchronously before the
// in-memory state changes. If the write fails the in-memory state is left
// as it was.
type Store struct {
	mu       sync.Mutex
	kv       store.KV
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	sessions []*domain.BabySession
	current  string
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

// New creates an empty store over kv. Call Load to restore persisted state.
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

var errMalformed = errors.New("malformed session state")

// Load restores sessions and the current pointer from the KV store.
// Absent keys load as empty. Malformed content also loads as empty and is
// logged; only KV read failures are returned.
func (s *Store) Load(ctx context.Context) error {
	rawSessions, ok, err := s.kv.Get(ctx, store.KeySessions)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	var sessions []*domain.BabySession
	if ok {
		sessions, err = decodeSessions(rawSessions)
		if err != nil {
			s.logger.Warn("Discarding malformed persisted sessions", "error", err)
			sessions = nil
		}
	}

	rawCurrent, ok, err := s.kv.Get(ctx, store.KeyCurrentSession)
	if err != nil {
		return fmt.Errorf("load current session: %w", err)
	}
	var current string
	if ok {
		if err := json.Unmarshal([]byte(rawCurrent), &current); err != nil {
			s.logger.Warn("Discarding malformed current session id", "error", err)
			current = ""
		}
	}
	if current != "" && indexOf(sessions, current) < 0 {
		current = newestID(sessions)
		s.logger.Warn("Current session id does not resolve, falling back to newest",
			"session_id", current)
	}

	s.mu.Lock()
	s.sessions = sessions
	s.current = current
	s.mu.Unlock()

	s.logger.Debug("Loaded sessions", "count", len(sessions), "current", current)
	return nil
}

func decodeSessions(raw string) ([]*domain.BabySession, error) {
	var sessions []*domain.BabySession
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformed, err)
	}
	seen := make(map[string]bool, len(sessions))
	for i, sess := range sessions {
		switch {
		case sess == nil:
			return nil, fmt.Errorf("%w: null entry at %d", errMalformed, i)
		case sess.ID == "":
			return nil, fmt.Errorf("%w: entry %d has no id", errMalformed, i)
		case seen[sess.ID]:
			return nil, fmt.Errorf("%w: duplicate id %s", errMalformed, sess.ID)
		case !sess.CurrentStep.Valid():
			return nil, fmt.Errorf("%w: session %s has step %q", errMalformed, sess.ID, sess.CurrentStep)
		}
		seen[sess.ID] = true
		if sess.Messages == nil {
			sess.Messages = []domain.ChatMessage{}
		}
		if sess.NameCursor == nil {
			sess.NameCursor = map[string]int{}
		}
	}
	return sessions, nil
}

// Create adds a session for info and makes it current.
func (s *Store) Create(ctx context.Context, info domain.SubjectInfo) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := domain.NewBabySession(s.newID(), info, s.now())
	next := append(slices.Clone(s.sessions), sess)
	if err := s.persist(ctx, next, sess.ID); err != nil {
		return "", err
	}
	s.sessions = next
	s.current = sess.ID
	return sess.ID, nil
}

// Get returns a copy of the session with id.
func (s *Store) Get(id string) (*domain.BabySession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.sessions, id)
	if i < 0 {
		return nil, false
	}
	return s.sessions[i].Clone(), true
}

// Current returns a copy of the current session.
func (s *Store) Current() (*domain.BabySession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.sessions, s.current)
	if i < 0 {
		return nil, false
	}
	return s.sessions[i].Clone(), true
}

// CurrentID returns the current session id, empty when there is none.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SwitchCurrent makes id current. It never creates a session: an unknown id
// leaves the current pointer unchanged and reports false.
func (s *Store) SwitchCurrent(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.sessions, id) < 0 {
		return false, nil
	}
	if s.current == id {
		return true, nil
	}
	if err := s.persist(ctx, s.sessions, id); err != nil {
		return false, err
	}
	s.current = id
	return true, nil
}

// Update applies fn to the session with id, bumps UpdatedAt and persists.
// A missing id is a silent no-op that reports false; Update never creates.
// fn works on a copy, so a failed write leaves the stored session intact.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.BabySession)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.sessions, id)
	if i < 0 {
		return false, nil
	}
	updated := s.sessions[i].Clone()
	fn(updated)
	// id and creation time are immutable
	updated.ID = s.sessions[i].ID
	updated.CreatedAt = s.sessions[i].CreatedAt
	updated.UpdatedAt = s.now()

	next := slices.Clone(s.sessions)
	next[i] = updated
	if err := s.persist(ctx, next, s.current); err != nil {
		return false, err
	}
	s.sessions = next
	return true, nil
}

// List returns copies of all sessions ordered by creation time.
func (s *Store) List() []*domain.BabySession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.BabySession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	slices.SortStableFunc(out, func(a, b *domain.BabySession) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Delete removes the session with id. When it was current, the most
// recently created remaining session becomes current.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.sessions, id)
	if i < 0 {
		return false, nil
	}
	next := slices.Delete(slices.Clone(s.sessions), i, i+1)
	current := s.current
	if current == id {
		current = newestID(next)
	}
	if err := s.persist(ctx, next, current); err != nil {
		return false, err
	}
	s.sessions = next
	s.current = current
	return true, nil
}

// newestID returns the id of the most recently created session, or "".
func newestID(sessions []*domain.BabySession) string {
	var newest *domain.BabySession
	for _, sess := range sessions {
		if newest == nil || !sess.CreatedAt.Before(newest.CreatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return ""
	}
	return newest.ID
}

// persist writes sessions before currentSession. The two keys are not
// written atomically: a crash between them leaves the previous current id,
// which either still resolves (create, switch) or names a deleted session
// that Load replaces with the newest one, the same choice Delete makes.
func (s *Store) persist(ctx context.Context, sessions []*domain.BabySession, current string) error {
	if sessions == nil {
		sessions = []*domain.BabySession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeySessions, string(data)); err != nil {
		return fmt.Errorf("persist sessions: %w", err)
	}
	if current == "" {
		if err := s.kv.Delete(ctx, store.KeyCurrentSession); err != nil {
			return fmt.Errorf("persist current session: %w", err)
		}
		return nil
	}
	cur, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode current session: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeyCurrentSession, string(cur)); err != nil {
		return fmt.Errorf("persist current session: %w", err)
	}
	return nil
}

func indexOf(sessions []*domain.BabySession, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(sessions, func(s *domain.BabySession) bool { return s.ID == id })
}
