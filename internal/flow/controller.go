// Package flow drives the naming conversation: it answers each user trigger
// with an immediate echo and a delayed agent turn, and keeps the session,
// cursor and favorites state consistent.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/qiming/internal/catalog"
	"github.com/ashureev/qiming/internal/domain"
	"github.com/google/uuid"
)

// SessionStore is the session persistence the controller drives.
type SessionStore interface {
	Create(ctx context.Context, info domain.SubjectInfo) (string, error)
	Get(id string) (*domain.BabySession, bool)
	Current() (*domain.BabySession, bool)
	CurrentID() string
	SwitchCurrent(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, id string, fn func(*domain.BabySession)) (bool, error)
	List() []*domain.BabySession
	Delete(ctx context.Context, id string) (bool, error)
}

// FavoritesStore is the favorites ledger the controller drives.
type FavoritesStore interface {
	Toggle(ctx context.Context, subjectID, subjectLabel, name string, detail *domain.NameDetail) (bool, error)
	Remove(ctx context.Context, favoriteID string) (bool, error)
	IsFavorited(subjectID, name string) bool
	List() []domain.FavoriteItem
	ListForSubject(subjectID string) []domain.FavoriteItem
}

// Controller is the single writer of one application's naming state.
//
// Triggers validate the current step, apply their synchronous effects
// (step change, user echo) and queue the agent turn. Agent turns land in
// FIFO order, each on the session that was current when it was triggered;
// a turn whose session was deleted in the meantime is discarded.
type Controller struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	sessions  SessionStore
	favorites FavoritesStore
	catalog   catalog.Catalog

	logger         *slog.Logger
	listener       Listener
	delays         Delays
	sched          Scheduler
	now            func() time.Time
	newID          func() string
	workspaceID    string
	cancelOnSwitch bool

	comp   *composer
	closed bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithDelays sets the composing delays.
func WithDelays(d Delays) Option {
	return func(c *Controller) { c.delays = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithListener registers the event listener.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithWorkspaceID tags events and log lines with the owning workspace.
func WithWorkspaceID(id string) Option {
	return func(c *Controller) { c.workspaceID = id }
}

// WithCancelPendingOnSwitch cuts the composing delay of a session's queued
// agent turns when the user switches away from it, so they land at once
// instead of arriving after the user has left. Deleting a session takes its
// turns off the queue.
func WithCancelPendingOnSwitch(enabled bool) Option {
	return func(c *Controller) { c.cancelOnSwitch = enabled }
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides uuid.NewString for message ids.
func WithIDGenerator(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

// New creates a controller over already-loaded stores.
func New(sessions SessionStore, favorites FavoritesStore, cat catalog.Catalog, opts ...Option) *Controller {
	c := &Controller{
		sessions:  sessions,
		favorites: favorites,
		catalog:   cat,
		logger:    slog.Default(),
		delays:    DefaultDelays(),
		sched:     RealScheduler{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workspaceID != "" {
		c.logger = c.logger.With("workspace_id", c.workspaceID)
	}
	c.comp = newComposer(c.sched, c.land)
	return c
}

// batch collects the events of one state change.
type batch struct {
	events []Event
}

func (b *batch) message(sessionID string, m domain.ChatMessage) {
	b.events = append(b.events, Event{Kind: EventMessage, SessionID: sessionID, Message: &m})
}

func (b *batch) step(sessionID string, s domain.Step) {
	b.events = append(b.events, Event{Kind: EventStep, SessionID: sessionID, Step: s})
}

func (b *batch) composing(on bool) {
	b.events = append(b.events, Event{Kind: EventComposing, Composing: on})
}

func (b *batch) session(currentID string) {
	b.events = append(b.events, Event{Kind: EventSession, SessionID: currentID})
}

// commit runs fn under the state lock, then delivers its events. emitMu is
// taken before the state lock is released so listeners observe changes in
// the order they were made.
func (c *Controller) commit(fn func(b *batch) error) error {
	c.mu.Lock()
	b := &batch{}
	var err error
	if c.closed {
		err = ErrClosed
	} else {
		err = fn(b)
	}
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	if c.listener != nil {
		for _, e := range b.events {
			e.WorkspaceID = c.workspaceID
			c.listener(e)
		}
	}
	return err
}

// Start opens the conversation on the current session, creating a
// placeholder session when there is none.
func (c *Controller) Start(ctx context.Context) error {
	return c.commit(func(b *batch) error {
		sess, ok := c.sessions.Current()
		if !ok {
			id, err := c.sessions.Create(ctx, domain.PlaceholderSubject())
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			b.session(id)
			if sess, ok = c.sessions.Get(id); !ok {
				return ErrNoSession
			}
		}
		return c.start(ctx, b, sess)
	})
}

// NewSession creates a placeholder session, makes it current and starts
// the conversation on it.
func (c *Controller) NewSession(ctx context.Context) (string, error) {
	var id string
	err := c.commit(func(b *batch) error {
		if prev := c.sessions.CurrentID(); c.cancelOnSwitch && prev != "" {
			c.flushPending(b, prev)
		}
		var err error
		id, err = c.sessions.Create(ctx, domain.PlaceholderSubject())
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		b.session(id)
		sess, ok := c.sessions.Get(id)
		if !ok {
			return ErrNoSession
		}
		return c.start(ctx, b, sess)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Controller) start(ctx context.Context, b *batch, sess *domain.BabySession) error {
	if err := expectStep(sess, "start", domain.StepWelcome); err != nil {
		return err
	}
	return c.advance(ctx, b, sess.ID, "",
		func(s *domain.BabySession) { s.CurrentStep = domain.StepCollectingSubjectInfo },
		&turn{delay: c.delays.Start, text: textWelcome, card: domain.SubjectInfoCard{}},
	)
}

// SubmitSubjectInfo records the subject on the current session, replacing
// the placeholder in place.
func (c *Controller) SubmitSubjectInfo(ctx context.Context, info domain.SubjectInfo) error {
	info.Surname = strings.TrimSpace(info.Surname)
	info.BirthLocation = strings.TrimSpace(info.BirthLocation)
	if info.Surname == "" {
		return fmt.Errorf("%w: surname is required", ErrInvalidInput)
	}
	if info.Gender == "" {
		info.Gender = domain.GenderUnknown
	}
	if !info.Gender.Valid() {
		return fmt.Errorf("%w: gender %q", ErrInvalidInput, info.Gender)
	}

	return c.commit(func(b *batch) error {
		sess, err := c.current()
		if err != nil {
			return err
		}
		if err := expectStep(sess, "submit subject info", domain.StepCollectingSubjectInfo); err != nil {
			return err
		}
		return c.advance(ctx, b, sess.ID, subjectEcho(info),
			func(s *domain.BabySession) {
				s.SubjectInfo = info
				s.CurrentStep = domain.StepCollectingPreference
			},
			&turn{
				delay: c.delays.Subject,
				text:  subjectReply(info),
				card:  domain.PreferenceCard{Options: StyleOptions()},
			},
		)
	})
}

// SubmitPreference records the naming style. Unknown style ids are kept
// and echoed as given.
func (c *Controller) SubmitPreference(ctx context.Context, styleID string) error {
	styleID = strings.TrimSpace(styleID)
	if styleID == "" {
		return fmt.Errorf("%w: style is required", ErrInvalidInput)
	}

	return c.commit(func(b *batch) error {
		sess, err := c.current()
		if err != nil {
			return err
		}
		if err := expectStep(sess, "submit preference", domain.StepCollectingPreference); err != nil {
			return err
		}
		return c.advance(ctx, b, sess.ID, StyleLabel(styleID),
			func(s *domain.BabySession) {
				s.PreferenceStyle = styleID
				s.CurrentStep = domain.StepCollectingOptionalDetails
			},
			&turn{delay: c.delays.Preference, text: textAskOptional, card: domain.OptionalDetailsCard{}},
		)
	})
}

// SubmitOptionalDetails records the optional constraints (or the skip) and
// queues the profile turn followed by the directions turn.
func (c *Controller) SubmitOptionalDetails(ctx context.Context, details domain.OptionalDetails) error {
	details = normalizeDetails(details)

	return c.commit(func(b *batch) error {
		sess, err := c.current()
		if err != nil {
			return err
		}
		if err := expectStep(sess, "submit optional details", domain.StepCollectingOptionalDetails); err != nil {
			return err
		}
		snap := c.catalog.NumerologySnapshot()
		return c.advance(ctx, b, sess.ID, optionalEcho(details),
			func(s *domain.BabySession) {
				d := details
				n := snap.Clone()
				s.OptionalDetails = &d
				s.NumerologySnapshot = &n
				s.CurrentStep = domain.StepPresentingProfile
			},
			&turn{
				delay: c.delays.Profile,
				text:  textProfile,
				card:  domain.ProfileCard{Chart: snap.Chart, Elements: snap.ElementAnalysis},
			},
			&turn{
				delay: c.delays.Directions,
				text:  textDirections,
				card:  domain.DirectionsCard{Directions: c.catalog.Directions()},
				step:  domain.StepPresentingDirections,
			},
		)
	})
}

func normalizeDetails(d domain.OptionalDetails) domain.OptionalDetails {
	if d.Skip {
		return domain.OptionalDetails{Skip: true}
	}
	clean := func(in []string) []string {
		var out []string
		for _, s := range in {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	d.TabooWords = clean(d.TabooWords)
	d.FavoriteImagery = clean(d.FavoriteImagery)
	d.GenerationWord = strings.TrimSpace(d.GenerationWord)
	return d
}

// ChooseDirection opens a direction and shows the candidate at its cursor.
// A direction seen before resumes where it was left.
func (c *Controller) ChooseDirection(ctx context.Context, directionID string) error {
	return c.commit(func(b *batch) error {
		sess, err := c.current()
		if err != nil {
			return err
		}
		if err := expectStep(sess, "choose direction",
			domain.StepPresentingDirections, domain.StepPresentingCandidate); err != nil {
			return err
		}
		dir, ok := c.catalog.Direction(directionID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDirection, directionID)
		}
		cursor := normalize(sess.Cursor(dir.ID), len(dir.SampleNames))
		return c.advance(ctx, b, sess.ID, directionEcho(dir),
			func(s *domain.BabySession) {
				s.SelectedDirectionID = dir.ID
				s.NameCursor[dir.ID] = cursor
				s.CurrentStep = domain.StepPresentingCandidate
			},
			&turn{delay: c.delays.Direction, text: directionReply(dir), card: c.candidateCard(dir, cursor)},
		)
	})
}

// RequestAnother advances the active direction's cursor by one, wrapping
// over that direction's own sample list.
func (c *Controller) RequestAnother(ctx context.Context) error {
	return c.commit(func(b *batch) error {
		sess, dir, err := c.activeDirection("request another")
		if err != nil {
			return err
		}
		next := Advance(sess.Cursor(dir.ID), 1, len(dir.SampleNames))
		return c.advance(ctx, b, sess.ID, textAskAnother,
			func(s *domain.BabySession) { s.NameCursor[dir.ID] = next },
			&turn{delay: c.delays.Another, text: textAnother, card: c.candidateCard(dir, next)},
		)
	})
}

// SelectCandidate jumps the cursor to name within the active direction.
func (c *Controller) SelectCandidate(ctx context.Context, name string) error {
	return c.commit(func(b *batch) error {
		sess, dir, err := c.activeDirection("select candidate")
		if err != nil {
			return err
		}
		idx := slices.Index(dir.SampleNames, name)
		if idx < 0 {
			return fmt.Errorf("%w: %q in %q", ErrUnknownName, name, dir.ID)
		}
		return c.advance(ctx, b, sess.ID, selectEcho(name),
			func(s *domain.BabySession) { s.NameCursor[dir.ID] = idx },
			&turn{delay: c.delays.Select, text: selectReply(name), card: c.candidateCard(dir, idx)},
		)
	})
}

// Confirm completes the conversation with the displayed candidate. An
// empty name confirms whatever is displayed; any other name must match it.
func (c *Controller) Confirm(ctx context.Context, name string) error {
	return c.commit(func(b *batch) error {
		sess, dir, err := c.activeDirection("confirm")
		if err != nil {
			return err
		}
		displayed := candidateName(dir, sess.Cursor(dir.ID))
		if name == "" {
			name = displayed
		}
		if name != displayed {
			return fmt.Errorf("%w: %q (displayed %q)", ErrNotDisplayed, name, displayed)
		}
		return c.advance(ctx, b, sess.ID, confirmEcho(name),
			func(s *domain.BabySession) {
				s.SelectedName = name
				s.CurrentStep = domain.StepCompleted
			},
			&turn{delay: c.delays.Confirm, text: completionReply(name), card: domain.CompletionCard{Name: name}},
		)
	})
}

// SwitchSession makes id current. Agent turns already queued for the
// previous session still land there after their delay; with
// cancel-pending-on-switch they land at once, before the switch.
func (c *Controller) SwitchSession(ctx context.Context, id string) error {
	return c.commit(func(b *batch) error {
		prev := c.sessions.CurrentID()
		ok, err := c.sessions.SwitchCurrent(ctx, id)
		if err != nil {
			return fmt.Errorf("switch session: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSession, id)
		}
		if prev == id {
			return nil
		}
		if c.cancelOnSwitch && prev != "" {
			c.flushPending(b, prev)
		}
		b.session(id)
		c.logger.Debug("Switched session", "session_id", id, "previous", prev)
		return nil
	})
}

// DeleteSession removes a session. Its favorites are kept.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	return c.commit(func(b *batch) error {
		prev := c.sessions.CurrentID()
		ok, err := c.sessions.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSession, id)
		}
		if c.cancelOnSwitch {
			c.flushPending(b, id)
		}
		if cur := c.sessions.CurrentID(); cur != prev || prev == id {
			b.session(cur)
		}
		c.logger.Info("Deleted session", "session_id", id)
		return nil
	})
}

// ToggleFavorite saves or unsaves name for the current session and reports
// whether it is now saved.
func (c *Controller) ToggleFavorite(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	var added bool
	err := c.commit(func(*batch) error {
		sess, err := c.current()
		if err != nil {
			return err
		}
		var detail *domain.NameDetail
		if d, ok := c.catalog.NameDetail(name); ok {
			detail = &d
		}
		added, err = c.favorites.Toggle(ctx, sess.ID, sess.SubjectInfo.Surname, name, detail)
		if err != nil {
			return fmt.Errorf("toggle favorite: %w", err)
		}
		return nil
	})
	return added, err
}

// RemoveFavorite deletes a saved favorite by id.
func (c *Controller) RemoveFavorite(ctx context.Context, favoriteID string) error {
	return c.commit(func(*batch) error {
		ok, err := c.favorites.Remove(ctx, favoriteID)
		if err != nil {
			return fmt.Errorf("remove favorite: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoFavorite, favoriteID)
		}
		return nil
	})
}

// Close lands every queued agent turn at once, skipping the remaining
// delays, so no session is left waiting on a reply. Later triggers return
// ErrClosed.
func (c *Controller) Close() {
	_ = c.commit(func(b *batch) error {
		c.closed = true
		if !c.comp.busy() {
			return nil
		}
		turns := c.comp.stop()
		c.logger.Debug("Landing queued agent turns on close", "count", len(turns))
		for _, t := range turns {
			c.deliver(b, t)
		}
		b.composing(false)
		return nil
	})
}

// Resume queues the agent turns owed to sessions whose last reply never
// landed, as after a crash between a trigger and its reply. It reports how
// many turns were queued.
func (c *Controller) Resume() (int, error) {
	var n int
	err := c.commit(func(b *batch) error {
		for _, sess := range c.sessions.List() {
			if c.comp.holds(sess.ID) {
				continue
			}
			for _, t := range c.owedTurns(sess) {
				t.sessionID = sess.ID
				if c.comp.push(t) {
					b.composing(true)
				}
				n++
			}
		}
		return nil
	})
	if n > 0 {
		c.logger.Info("Resumed unanswered sessions", "turns", n)
	}
	return n, err
}

// owedTurns derives the agent turns sess is still waiting for from its step
// and its last message.
func (c *Controller) owedTurns(sess *domain.BabySession) []*turn {
	var last *domain.ChatMessage
	if len(sess.Messages) > 0 {
		last = &sess.Messages[len(sess.Messages)-1]
	}
	waiting := last == nil || last.Speaker == domain.SpeakerUser

	directions := &turn{
		delay: c.delays.Directions,
		text:  textDirections,
		card:  domain.DirectionsCard{Directions: c.catalog.Directions()},
		step:  domain.StepPresentingDirections,
	}

	switch sess.CurrentStep {
	case domain.StepCollectingSubjectInfo:
		if waiting {
			return []*turn{{delay: c.delays.Start, text: textWelcome, card: domain.SubjectInfoCard{}}}
		}
	case domain.StepCollectingPreference:
		if waiting {
			return []*turn{{
				delay: c.delays.Subject,
				text:  subjectReply(sess.SubjectInfo),
				card:  domain.PreferenceCard{Options: StyleOptions()},
			}}
		}
	case domain.StepCollectingOptionalDetails:
		if waiting {
			return []*turn{{delay: c.delays.Preference, text: textAskOptional, card: domain.OptionalDetailsCard{}}}
		}
	case domain.StepPresentingProfile:
		if !waiting {
			return []*turn{directions}
		}
		snap := c.catalog.NumerologySnapshot()
		if sess.NumerologySnapshot != nil {
			snap = *sess.NumerologySnapshot
		}
		return []*turn{
			{delay: c.delays.Profile, text: textProfile, card: domain.ProfileCard{Chart: snap.Chart, Elements: snap.ElementAnalysis}},
			directions,
		}
	case domain.StepPresentingCandidate:
		if !waiting {
			return nil
		}
		dir, ok := c.catalog.Direction(sess.SelectedDirectionID)
		if !ok {
			c.logger.Warn("Cannot resume session with unknown direction", "session_id", sess.ID, "direction", sess.SelectedDirectionID)
			return nil
		}
		cursor := normalize(sess.Cursor(dir.ID), len(dir.SampleNames))
		text := directionReply(dir)
		if last.Text == textAskAnother {
			text = textAnother
		}
		return []*turn{{delay: c.delays.Direction, text: text, card: c.candidateCard(dir, cursor)}}
	case domain.StepCompleted:
		if waiting && sess.SelectedName != "" {
			return []*turn{{
				delay: c.delays.Confirm,
				text:  completionReply(sess.SelectedName),
				card:  domain.CompletionCard{Name: sess.SelectedName},
			}}
		}
	}
	return nil
}

// CurrentSession returns a copy of the current session.
func (c *Controller) CurrentSession() (*domain.BabySession, bool) {
	return c.sessions.Current()
}

// CurrentMessages returns the current session's transcript, empty when
// there is no current session.
func (c *Controller) CurrentMessages() []domain.ChatMessage {
	sess, ok := c.sessions.Current()
	if !ok {
		return []domain.ChatMessage{}
	}
	return sess.Messages
}

// CurrentCandidate returns the candidate displayed on the current session.
func (c *Controller) CurrentCandidate() (*domain.NameDetail, error) {
	sess, _ := c.sessions.Current()
	return CurrentCandidate(sess, c.catalog)
}

// Numerology returns the snapshot recorded on the current session.
func (c *Controller) Numerology() (*domain.NumerologySnapshot, bool) {
	sess, ok := c.sessions.Current()
	if !ok || sess.NumerologySnapshot == nil {
		return nil, false
	}
	return sess.NumerologySnapshot, true
}

// IsComposing reports whether any agent turn is pending.
func (c *Controller) IsComposing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comp.busy()
}

// Sessions lists all sessions by creation time.
func (c *Controller) Sessions() []*domain.BabySession {
	return c.sessions.List()
}

// Favorites lists every saved favorite.
func (c *Controller) Favorites() []domain.FavoriteItem {
	return c.favorites.List()
}

// CurrentFavorites lists the favorites of the current session.
func (c *Controller) CurrentFavorites() []domain.FavoriteItem {
	id := c.sessions.CurrentID()
	if id == "" {
		return []domain.FavoriteItem{}
	}
	return c.favorites.ListForSubject(id)
}

// IsFavorited reports whether name is saved for the current session.
func (c *Controller) IsFavorited(name string) bool {
	id := c.sessions.CurrentID()
	return id != "" && c.favorites.IsFavorited(id, name)
}

// Directions returns the catalog's naming directions.
func (c *Controller) Directions() []domain.NameDirection {
	return c.catalog.Directions()
}

// advance applies mutate and the user echo to sessionID in one update and
// queues turns for it.
func (c *Controller) advance(ctx context.Context, b *batch, sessionID, echo string,
	mutate func(*domain.BabySession), turns ...*turn) error {
	var echoMsg *domain.ChatMessage
	if echo != "" {
		m := c.newMessage(domain.SpeakerUser, echo, nil)
		echoMsg = &m
	}

	var stepped domain.Step
	ok, err := c.sessions.Update(ctx, sessionID, func(s *domain.BabySession) {
		before := s.CurrentStep
		if mutate != nil {
			mutate(s)
		}
		if echoMsg != nil {
			s.AppendMessage(*echoMsg)
		}
		if s.CurrentStep != before {
			stepped = s.CurrentStep
		}
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}

	if echoMsg != nil {
		b.message(sessionID, *echoMsg)
	}
	if stepped != "" {
		b.step(sessionID, stepped)
	}
	for _, t := range turns {
		t.sessionID = sessionID
		if c.comp.push(t) {
			b.composing(true)
		}
	}
	return nil
}

// land is the composer's timer callback.
func (c *Controller) land(t *turn) {
	_ = c.commit(func(b *batch) error {
		if !c.comp.isHead(t) {
			return nil
		}
		busy := c.comp.pop()
		c.deliver(b, t)
		if !busy {
			b.composing(false)
		}
		return nil
	})
}

// deliver appends t's message to its session and applies its step. A turn
// whose session is gone is dropped.
func (c *Controller) deliver(b *batch, t *turn) {
	msg := c.newMessage(domain.SpeakerAgent, t.text, t.card)
	ok, err := c.sessions.Update(context.Background(), t.sessionID, func(s *domain.BabySession) {
		s.AppendMessage(msg)
		if t.step != "" {
			s.CurrentStep = t.step
		}
	})
	switch {
	case err != nil:
		c.logger.Error("Failed to append agent turn", "session_id", t.sessionID, "error", err)
	case !ok:
		c.logger.Debug("Dropping agent turn for missing session", "session_id", t.sessionID)
	default:
		b.message(t.sessionID, msg)
		if t.step != "" {
			b.step(t.sessionID, t.step)
		}
	}
}

// flushPending lands the queued turns of sessionID at once, without
// waiting out their delays.
func (c *Controller) flushPending(b *batch, sessionID string) {
	turns := c.comp.drop(func(t *turn) bool { return t.sessionID == sessionID })
	if len(turns) == 0 {
		return
	}
	for _, t := range turns {
		c.deliver(b, t)
	}
	c.logger.Debug("Landed queued agent turns early", "session_id", sessionID, "count", len(turns))
	if !c.comp.busy() {
		b.composing(false)
	}
}

func (c *Controller) current() (*domain.BabySession, error) {
	sess, ok := c.sessions.Current()
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

func (c *Controller) activeDirection(trigger string) (*domain.BabySession, domain.NameDirection, error) {
	sess, err := c.current()
	if err != nil {
		return nil, domain.NameDirection{}, err
	}
	if err := expectStep(sess, trigger, domain.StepPresentingCandidate); err != nil {
		return nil, domain.NameDirection{}, err
	}
	dir, ok := c.catalog.Direction(sess.SelectedDirectionID)
	if !ok {
		return nil, domain.NameDirection{}, fmt.Errorf("%w: %q", ErrUnknownDirection, sess.SelectedDirectionID)
	}
	return sess, dir, nil
}

func (c *Controller) candidateCard(dir domain.NameDirection, cursor int) domain.CandidateCard {
	name := candidateName(dir, cursor)
	card := domain.CandidateCard{DirectionID: dir.ID, Name: name, Cursor: cursor}
	if d, ok := c.catalog.NameDetail(name); ok {
		card.Detail = &d
	} else {
		c.logger.Warn("Catalog has no detail for candidate", "direction", dir.ID, "name", name)
	}
	return card
}

func (c *Controller) newMessage(speaker domain.Speaker, text string, card domain.Card) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        c.newID(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: c.now(),
		Card:      card,
	}
}

func expectStep(sess *domain.BabySession, trigger string, allowed ...domain.Step) error {
	if slices.Contains(allowed, sess.CurrentStep) {
		return nil
	}
	return fmt.Errorf("%w: %s in step %s", ErrOutOfStep, trigger, sess.CurrentStep)
}
