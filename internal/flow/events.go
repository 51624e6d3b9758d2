package flow

import "github.com/ashureev/qiming/internal/domain"

// EventKind identifies what changed.
type EventKind string

const (
	// EventMessage carries a message appended to a session.
	EventMessage EventKind = "message"
	// EventComposing reports the agent starting or stopping composing.
	EventComposing EventKind = "composing"
	// EventStep reports a session entering a new step.
	EventStep EventKind = "step"
	// EventSession reports a change of the current session or the session list.
	EventSession EventKind = "session"
)

// Event is delivered to the Listener after the change it describes.
type Event struct {
	Kind        EventKind           `json:"kind"`
	WorkspaceID string              `json:"workspaceId,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`
	Message     *domain.ChatMessage `json:"message,omitempty"`
	Step        domain.Step         `json:"step,omitempty"`
	Composing   bool                `json:"composing"`
}

// Listener receives events serially, in the order the changes were made.
// It runs outside the controller's state lock but must not call back into
// the controller.
type Listener func(Event)

// Listeners fans one event out to several listeners.
func Listeners(ls ...Listener) Listener {
	return func(e Event) {
		for _, l := range ls {
			if l != nil {
				l(e)
			}
		}
	}
}
