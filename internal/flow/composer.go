package flow

import (
	"time"

	"github.com/ashureev/qiming/internal/domain"
)

// turn is a delayed agent message bound to the session it was triggered in.
type turn struct {
	sessionID string
	delay     time.Duration
	text      string
	card      domain.Card
	// step is applied when the turn lands; empty leaves the step alone.
	step domain.Step
}

// composer serializes agent turns. Only the head of the queue has a live
// timer; the next one is armed when the head lands, so turns land strictly
// in the order they were queued and each waits its own delay after the
// previous one.
//
// composer is not safe for concurrent use: the Controller guards it with
// its state lock, and fire is expected to take that same lock.
type composer struct {
	sched Scheduler
	fire  func(*turn)
	queue []*turn
	timer Timer
}

func newComposer(sched Scheduler, fire func(*turn)) *composer {
	return &composer{sched: sched, fire: fire}
}

func (q *composer) busy() bool { return len(q.queue) > 0 }

// holds reports whether any queued turn targets sessionID.
func (q *composer) holds(sessionID string) bool {
	for _, t := range q.queue {
		if t.sessionID == sessionID {
			return true
		}
	}
	return false
}

// push queues t and reports whether the composer went from idle to busy.
func (q *composer) push(t *turn) bool {
	q.queue = append(q.queue, t)
	if len(q.queue) == 1 {
		q.arm()
		return true
	}
	return false
}

// isHead reports whether t is the turn whose timer is live. A timer that
// fires after its turn was dropped finds it is no longer the head.
func (q *composer) isHead(t *turn) bool {
	return len(q.queue) > 0 && q.queue[0] == t
}

// pop removes the head and arms the next turn. It reports whether the
// composer is still busy.
func (q *composer) pop() bool {
	if len(q.queue) == 0 {
		return false
	}
	q.queue[0] = nil
	q.queue = q.queue[1:]
	q.timer = nil
	if len(q.queue) > 0 {
		q.arm()
		return true
	}
	return false
}

// drop removes every queued turn matching fn and returns them in queue
// order.
func (q *composer) drop(fn func(*turn) bool) []*turn {
	if len(q.queue) == 0 {
		return nil
	}
	head := q.queue[0]
	var dropped []*turn
	kept := q.queue[:0]
	for _, t := range q.queue {
		if fn(t) {
			dropped = append(dropped, t)
		} else {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(q.queue); i++ {
		q.queue[i] = nil
	}
	q.queue = kept

	if len(q.queue) == 0 || q.queue[0] != head {
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		if len(q.queue) > 0 {
			q.arm()
		}
	}
	return dropped
}

// stop empties the queue and returns the turns it held.
func (q *composer) stop() []*turn {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	turns := q.queue
	q.queue = nil
	return turns
}

func (q *composer) arm() {
	head := q.queue[0]
	q.timer = q.sched.AfterFunc(head.delay, func() { q.fire(head) })
}
