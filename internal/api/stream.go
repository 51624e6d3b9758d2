package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/qiming/internal/identity"
	"github.com/go-chi/chi/v5"
)

// StreamConfig tunes the push endpoints.
type StreamConfig struct {
	Keepalive  time.Duration
	RetryDelay time.Duration
	// AllowedOrigins is matched against the WebSocket Origin header; empty
	// accepts same-origin only.
	AllowedOrigins []string
}

// StreamHandler pushes flow events to browsers over SSE and WebSocket.
type StreamHandler struct {
	*Handler
	hub *Hub
	cfg StreamConfig
}

// NewStreamHandler creates a new push handler.
func NewStreamHandler(base *Handler, hub *Hub, cfg StreamConfig) *StreamHandler {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	return &StreamHandler{Handler: base, hub: hub, cfg: cfg}
}

// RegisterRoutes registers push routes.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/stream", h.HandleStream)
	r.Get("/ws/chat", h.HandleWebSocket)
}

func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// HandleStream serves GET /api/stream. Clients reconnecting with
// Last-Event-ID first receive the events they missed.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	workspaceID := identity.WorkspaceIDFromContext(r.Context())
	if workspaceID == "" {
		Error(w, http.StatusUnauthorized, "missing workspace")
		return
	}
	last := lastEventID(r)
	logger := h.logger.With("workspace_id", workspaceID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		logger.Warn("Failed to write SSE retry header", "error", err)
		return
	}

	sub, missed := h.hub.Subscribe(workspaceID, last)
	defer h.hub.Unsubscribe(sub)

	for _, env := range missed {
		if err := writeEnvelope(w, env); err != nil {
			logger.Warn("Failed to replay SSE event", "error", err, "event_id", env.ID)
			return
		}
	}
	connected := fmt.Sprintf(`{"status":"connected","last_event_id":%d,"replayed":%d}`, h.hub.LastEventID(), len(missed))
	if err := writeSSE(w, "connected", connected); err != nil {
		logger.Warn("Failed to write SSE connected event", "error", err)
		return
	}
	flusher.Flush()
	logger.Info("SSE stream connected", "subscription_id", sub.ID, "reconnect", last > 0, "replayed", len(missed))

	keepalive := time.NewTicker(h.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("SSE stream disconnected", "subscription_id", sub.ID)
			return
		case env, ok := <-sub.C:
			if !ok {
				logger.Info("SSE subscription ended", "subscription_id", sub.ID)
				return
			}
			if err := writeEnvelope(w, env); err != nil {
				logger.Warn("Failed to write SSE event", "error", err, "event_id", env.ID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				logger.Warn("Failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEnvelope(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return writeSSEWithID(w, env.ID, string(env.Event.Kind), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
