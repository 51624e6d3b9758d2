package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/qiming/internal/domain"
	"github.com/ashureev/qiming/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickClock struct {
	t time.Time
}

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

func newTestStore(t *testing.T, kv store.KV) *Store {
	t.Helper()
	clock := &tickClock{t: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)}
	s := New(kv, WithClock(clock.Now), WithIDGenerator(seqIDs()))
	require.NoError(t, s.Load(context.Background()))
	return s
}

var chen = domain.SubjectInfo{Surname: "陈", Gender: domain.GenderBoy, BirthDate: "2024-03-10"}

func TestCreateMakesSessionCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())

	_, ok := s.Current()
	assert.False(t, ok)

	id, err := s.Create(ctx, chen)
	require.NoError(t, err)

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, id, cur.ID)
	assert.Equal(t, domain.StepWelcome, cur.CurrentStep)
	assert.Equal(t, "陈", cur.SubjectInfo.Surname)
	assert.Empty(t, cur.Messages)
	assert.NotNil(t, cur.NameCursor)
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())
	id, err := s.Create(ctx, chen)
	require.NoError(t, err)

	got, ok := s.Get(id)
	require.True(t, ok)
	got.SubjectInfo.Surname = "李"
	got.NameCursor["poetic"] = 2

	again, _ := s.Get(id)
	assert.Equal(t, "陈", again.SubjectInfo.Surname)
	assert.Empty(t, again.NameCursor)
}

func TestSwitchCurrentNeverCreates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())
	a, err := s.Create(ctx, chen)
	require.NoError(t, err)
	b, err := s.Create(ctx, domain.SubjectInfo{Surname: "李", Gender: domain.GenderGirl})
	require.NoError(t, err)
	assert.Equal(t, b, s.CurrentID())

	ok, err := s.SwitchCurrent(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a, s.CurrentID())

	ok, err = s.SwitchCurrent(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, a, s.CurrentID(), "unknown id must leave current unchanged")
	assert.Len(t, s.List(), 2)
}

func TestUpdateBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())
	id, err := s.Create(ctx, domain.PlaceholderSubject())
	require.NoError(t, err)
	before, _ := s.Get(id)

	ok, err := s.Update(ctx, id, func(sess *domain.BabySession) {
		sess.SubjectInfo = chen
		sess.ID = "hijacked"
		sess.CurrentStep = domain.StepCollectingPreference
	})
	require.NoError(t, err)
	require.True(t, ok)

	after, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, after.ID, "id is immutable")
	assert.Equal(t, "陈", after.SubjectInfo.Surname)
	assert.Equal(t, domain.StepCollectingPreference, after.CurrentStep)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestUpdateMissingSessionIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())
	_, err := s.Create(ctx, chen)
	require.NoError(t, err)
	before := s.List()

	called := false
	ok, err := s.Update(ctx, "missing", func(*domain.BabySession) { called = true })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
	assert.Len(t, s.List(), len(before))
	_, found := s.Get("missing")
	assert.False(t, found)
}

type failingKV struct {
	store.KV
	fail bool
	// failKey fails writes to a single key only.
	failKey string
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.fail || key == f.failKey {
		return errors.New("disk full")
	}
	return f.KV.Set(ctx, key, value)
}

func (f *failingKV) Delete(ctx context.Context, key string) error {
	if f.fail || key == f.failKey {
		return errors.New("disk full")
	}
	return f.KV.Delete(ctx, key)
}

func TestFailedWriteLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: store.NewMemory()}
	s := newTestStore(t, kv)
	id, err := s.Create(ctx, chen)
	require.NoError(t, err)

	kv.fail = true
	_, err = s.Update(ctx, id, func(sess *domain.BabySession) { sess.SelectedName = "沐泽" })
	require.Error(t, err)
	_, err = s.Create(ctx, chen)
	require.Error(t, err)

	got, _ := s.Get(id)
	assert.Empty(t, got.SelectedName)
	assert.Len(t, s.List(), 1)
}

func TestTornWriteReloadsConsistently(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: store.NewMemory()}
	s := newTestStore(t, kv)
	first, err := s.Create(ctx, chen)
	require.NoError(t, err)
	second, err := s.Create(ctx, chen)
	require.NoError(t, err)

	kv.failKey = store.KeyCurrentSession

	t.Run("create", func(t *testing.T) {
		_, err := s.Create(ctx, chen)
		require.Error(t, err)

		reloaded := New(kv.KV)
		require.NoError(t, reloaded.Load(ctx))
		assert.Len(t, reloaded.List(), 3)
		assert.Equal(t, second, reloaded.CurrentID(), "previous current still resolves")
	})

	t.Run("delete current", func(t *testing.T) {
		_, err := s.Delete(ctx, second)
		require.Error(t, err)

		reloaded := New(kv.KV)
		require.NoError(t, reloaded.Load(ctx))
		_, found := reloaded.Get(second)
		assert.False(t, found)
		assert.Equal(t, first, reloaded.CurrentID(), "dangling current falls back to newest")
	})
}

func TestListOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())
	var ids []string
	for _, surname := range []string{"陈", "李", "王"} {
		id, err := s.Create(ctx, domain.SubjectInfo{Surname: surname, Gender: domain.GenderUnknown})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// touching the first one must not reorder the list
	_, err := s.Update(ctx, ids[0], func(sess *domain.BabySession) { sess.PreferenceStyle = "poetic" })
	require.NoError(t, err)

	var got []string
	for _, sess := range s.List() {
		got = append(got, sess.ID)
	}
	assert.Equal(t, ids, got)
}

func TestDeleteFallsBackToNewest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemory())
	a, _ := s.Create(ctx, chen)
	b, _ := s.Create(ctx, chen)
	c, _ := s.Create(ctx, chen)

	ok, err := s.Delete(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, b, s.CurrentID())

	ok, err = s.SwitchCurrent(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Delete(ctx, b)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a, s.CurrentID(), "deleting a non-current session keeps current")

	_, err = s.Delete(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentID())
	_, ok = s.Current()
	assert.False(t, ok)

	ok, err = s.Delete(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	kvs := map[string]func(t *testing.T) store.KV{
		"memory": func(*testing.T) store.KV { return store.NewMemory() },
		"sqlite": func(t *testing.T) store.KV {
			kv, err := store.NewSQLite(filepath.Join(t.TempDir(), "qiming.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = kv.Close() })
			return kv
		},
	}

	for name, newKV := range kvs {
		for _, n := range []int{0, 1, 3} {
			t.Run(fmt.Sprintf("%s/%d sessions", name, n), func(t *testing.T) {
				kv := newKV(t)
				s := newTestStore(t, kv)
				for i := 0; i < n; i++ {
					id, err := s.Create(ctx, chen)
					require.NoError(t, err)
					_, err = s.Update(ctx, id, func(sess *domain.BabySession) {
						sess.CurrentStep = domain.StepPresentingCandidate
						sess.PreferenceStyle = "poetic"
						sess.OptionalDetails = &domain.OptionalDetails{TabooWords: []string{"国"}}
						sess.SelectedDirectionID = "poetic"
						sess.NameCursor["poetic"] = i
						sess.AppendMessage(domain.ChatMessage{
							ID: "m1", Speaker: domain.SpeakerAgent, Text: "你好",
							CreatedAt: sess.UpdatedAt, Card: domain.SubjectInfoCard{},
						})
						sess.AppendMessage(domain.ChatMessage{
							ID: "m2", Speaker: domain.SpeakerAgent,
							CreatedAt: sess.UpdatedAt,
							Card:      domain.CandidateCard{DirectionID: "poetic", Name: "沐泽", Cursor: i},
						})
					})
					require.NoError(t, err)
				}

				reloaded := New(kv)
				require.NoError(t, reloaded.Load(ctx))

				if diff := cmp.Diff(s.List(), reloaded.List(), cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("sessions differ after reload (-want +got):\n%s", diff)
				}
				assert.Equal(t, s.CurrentID(), reloaded.CurrentID())
			})
		}
	}
}

func TestLoadTreatsMalformedStateAsEmpty(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		sessions string
		current  string
	}{
		{name: "not json", sessions: "{{{", current: `"x"`},
		{name: "wrong shape", sessions: `{"id":"x"}`, current: `"x"`},
		{name: "missing id", sessions: `[{"currentStep":"welcome"}]`},
		{name: "unknown step", sessions: `[{"id":"x","currentStep":"dancing"}]`, current: `"x"`},
		{name: "unknown card", sessions: `[{"id":"x","currentStep":"welcome","messages":[{"id":"m","cardKind":"video"}]}]`},
		{name: "current not a string", sessions: `[]`, current: `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := store.NewMemory()
			require.NoError(t, kv.Set(ctx, store.KeySessions, tt.sessions))
			if tt.current != "" {
				require.NoError(t, kv.Set(ctx, store.KeyCurrentSession, tt.current))
			}

			s := New(kv)
			require.NoError(t, s.Load(ctx))
			assert.Empty(t, s.List())
			assert.Empty(t, s.CurrentID())
		})
	}
}

func TestLoadNormalizesMissingCollections(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.Set(ctx, store.KeySessions, `[{"id":"x","currentStep":"welcome"}]`))
	require.NoError(t, kv.Set(ctx, store.KeyCurrentSession, `"x"`))

	s := New(kv)
	require.NoError(t, s.Load(ctx))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.NotNil(t, cur.Messages)
	assert.NotNil(t, cur.NameCursor)
}
