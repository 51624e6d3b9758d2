package api

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/qiming/internal/flow"
)

const (
	defaultReplaySize   = 100
	subscriberQueueSize = 64
)

// Envelope is a flow event stamped with its hub-wide event id.
type Envelope struct {
	ID    int64      `json:"id"`
	Event flow.Event `json:"event"`
	At    time.Time  `json:"at"`
}

// ReplayQueue buffers recent events per workspace so reconnecting clients
// can catch up. Each workspace has its own bounded list; one workspace's
// burst cannot evict another's events.
type ReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewReplayQueue creates a per-workspace replay queue.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = defaultReplaySize
	}
	return &ReplayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends env to the workspace's queue, evicting its oldest entry
// when full.
func (q *ReplayQueue) Enqueue(workspaceID string, env Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[workspaceID]
	if !ok {
		l = list.New()
		q.queues[workspaceID] = l
	}
	l.PushBack(env)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the workspace's events with an id greater than afterID.
func (q *ReplayQueue) Since(workspaceID string, afterID int64) []Envelope {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[workspaceID]
	if !ok {
		return nil
	}
	var missed []Envelope
	for e := l.Front(); e != nil; e = e.Next() {
		env := e.Value.(Envelope)
		if env.ID > afterID {
			missed = append(missed, env)
		}
	}
	return missed
}

// Prune drops a workspace's queue.
func (q *ReplayQueue) Prune(workspaceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, workspaceID)
}

// Subscription receives a workspace's live events. C is closed when the
// subscription ends, either by Unsubscribe or because the subscriber fell
// too far behind; a client that sees C close should reconnect with the last
// id it received.
type Subscription struct {
	ID          int64
	WorkspaceID string
	C           <-chan Envelope

	ch chan Envelope
}

// Hub fans flow events out to the push connections of each workspace.
type Hub struct {
	mu      sync.Mutex
	replay  *ReplayQueue
	subs    map[string]map[int64]*Subscription
	lastID  int64
	nextSub int64
	now     func() time.Time
	logger  *slog.Logger
}

// NewHub creates a hub keeping replaySize events per workspace.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		replay: NewReplayQueue(replaySize),
		subs:   make(map[string]map[int64]*Subscription),
		now:    time.Now,
		logger: logger,
	}
}

// Publish stamps e and delivers it to every subscriber of its workspace.
// It never blocks: a subscriber whose buffer is full is disconnected.
func (h *Hub) Publish(e flow.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	env := Envelope{ID: h.lastID, Event: e, At: h.now()}
	h.replay.Enqueue(e.WorkspaceID, env)

	for id, sub := range h.subs[e.WorkspaceID] {
		select {
		case sub.ch <- env:
		default:
			h.logger.Warn("Push subscriber too slow, disconnecting",
				"workspace_id", e.WorkspaceID,
				"subscription_id", id,
				"event_id", env.ID,
			)
			h.removeLocked(sub)
		}
	}
}

// Listener returns Publish as a flow listener.
func (h *Hub) Listener() flow.Listener {
	return h.Publish
}

// Subscribe registers a subscriber for workspaceID and returns the events
// it missed after lastEventID. No event is lost or repeated between the
// replay and the live channel.
func (h *Hub) Subscribe(workspaceID string, lastEventID int64) (*Subscription, []Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	ch := make(chan Envelope, subscriberQueueSize)
	sub := &Subscription{ID: h.nextSub, WorkspaceID: workspaceID, C: ch, ch: ch}
	if _, ok := h.subs[workspaceID]; !ok {
		h.subs[workspaceID] = make(map[int64]*Subscription)
	}
	h.subs[workspaceID][sub.ID] = sub

	var missed []Envelope
	if lastEventID > 0 {
		missed = h.replay.Since(workspaceID, lastEventID)
	}
	return sub, missed
}

// Unsubscribe ends sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs, ok := h.subs[sub.WorkspaceID]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, sub.WorkspaceID)
	}
}

// LastEventID returns the id of the most recent event.
func (h *Hub) LastEventID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastID
}

// Forget drops the replay buffer of an evicted workspace.
func (h *Hub) Forget(workspaceID string) {
	h.replay.Prune(workspaceID)
}

// Subscribers reports how many subscribers a workspace has.
func (h *Hub) Subscribers(workspaceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[workspaceID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for _, sub := range subs {
			h.removeLocked(sub)
		}
	}
}
