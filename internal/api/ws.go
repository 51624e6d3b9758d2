package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/qiming/internal/flow"
	"github.com/ashureev/qiming/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
)

const wsWriteTimeout = 5 * time.Second

// wsCommand is a trigger sent by the client over the socket.
type wsCommand struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsFrame is everything the server sends: pushed events, command acks and
// command errors.
type wsFrame struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	EventID int64       `json:"eventId,omitempty"`
	Event   *flow.Event `json:"event,omitempty"`
	State   *flowState  `json:"state,omitempty"`
	Error   string      `json:"error,omitempty"`
	Status  int         `json:"status,omitempty"`
}

// HandleWebSocket serves GET /ws/chat. It pushes the workspace's events and
// accepts the same triggers as the JSON API as {"type", "ref", "payload"}
// commands.
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	workspaceID := identity.WorkspaceIDFromContext(r.Context())
	if workspaceID == "" {
		Error(w, http.StatusUnauthorized, "missing workspace")
		return
	}
	logger := h.logger.With("workspace_id", workspaceID)

	if _, err := h.workspaces.Get(r.Context(), workspaceID); err != nil {
		logger.Error("Failed to load workspace", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load workspace")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		logger.Warn("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sub, missed := h.hub.Subscribe(workspaceID, lastEventID(r))
	defer h.hub.Unsubscribe(sub)
	logger.Info("WebSocket connected", "subscription_id", sub.ID, "replayed", len(missed))

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		return h.pushLoop(ctx, ws, sub, missed)
	})
	g.Go(func() error {
		return h.inputLoop(ctx, ws, workspaceID)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("WebSocket session ended", "error", err)
	}
}

func (h *StreamHandler) pushLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription, missed []Envelope) error {
	for _, env := range missed {
		if err := writeFrame(ctx, ws, eventFrame(env)); err != nil {
			return err
		}
	}

	keepalive := time.NewTicker(h.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C:
			if !ok {
				_ = ws.Close(websocket.StatusTryAgainLater, "fell behind, reconnect with lastEventId")
				return errors.New("subscription ended")
			}
			if err := writeFrame(ctx, ws, eventFrame(env)); err != nil {
				return err
			}
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// inputLoop reads commands until the client goes away. The controller is
// looked up per command so a workspace evicted while the socket is open is
// reloaded rather than answering with a closed controller.
func (h *StreamHandler) inputLoop(ctx context.Context, ws *websocket.Conn, workspaceID string) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return context.Canceled
			}
			return err
		}

		var cmd wsCommand
		if typ != websocket.MessageText || json.Unmarshal(data, &cmd) != nil {
			if err := writeFrame(ctx, ws, wsFrame{Type: "error", Error: "malformed command", Status: http.StatusBadRequest}); err != nil {
				return err
			}
			continue
		}

		ctrl, err := h.workspaces.Get(ctx, workspaceID)
		if err != nil {
			return fmt.Errorf("load workspace: %w", err)
		}

		state, err := h.dispatch(ctx, ctrl, cmd)
		frame := wsFrame{Type: "ack", Ref: cmd.Ref, State: state}
		if err != nil {
			status := flowStatus(err)
			if status == http.StatusInternalServerError {
				h.logger.Error("WebSocket command failed", "workspace_id", workspaceID, "type", cmd.Type, "error", err)
			}
			frame = wsFrame{Type: "error", Ref: cmd.Ref, Error: publicMessage(status, err), Status: status}
		}
		if err := writeFrame(ctx, ws, frame); err != nil {
			return err
		}
	}
}

// dispatch runs one socket command against the controller.
func (h *StreamHandler) dispatch(ctx context.Context, c *flow.Controller, cmd wsCommand) (*flowState, error) {
	var err error
	switch cmd.Type {
	case "start":
		err = c.Start(ctx)
	case "new_session":
		_, err = c.NewSession(ctx)
	case "subject":
		var req subjectRequest
		if err = h.bind(cmd.Payload, &req); err == nil {
			err = c.SubmitSubjectInfo(ctx, req.info())
		}
	case "preference":
		var req preferenceRequest
		if err = h.bind(cmd.Payload, &req); err == nil {
			err = c.SubmitPreference(ctx, req.Style)
		}
	case "details":
		var req detailsRequest
		if err = h.bind(cmd.Payload, &req); err == nil {
			err = c.SubmitOptionalDetails(ctx, req.details())
		}
	case "direction":
		var req directionRequest
		if err = h.bind(cmd.Payload, &req); err == nil {
			err = c.ChooseDirection(ctx, req.DirectionID)
		}
	case "another":
		err = c.RequestAnother(ctx)
	case "select":
		var req nameRequest
		if err = h.bind(cmd.Payload, &req); err == nil {
			err = c.SelectCandidate(ctx, req.Name)
		}
	case "confirm":
		var req confirmRequest
		if len(cmd.Payload) > 0 {
			err = h.bind(cmd.Payload, &req)
		}
		if err == nil {
			err = c.Confirm(ctx, req.Name)
		}
	case "switch_session":
		var req switchRequest
		if err = h.bind(cmd.Payload, &req); err == nil {
			err = c.SwitchSession(ctx, req.ID)
		}
	default:
		err = fmt.Errorf("%w: unknown command %q", flow.ErrInvalidInput, cmd.Type)
	}
	if err != nil {
		return nil, err
	}
	return currentState(c), nil
}

// bind decodes and validates a command payload.
func (h *Handler) bind(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", flow.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", flow.ErrInvalidInput, validationMessage(err))
	}
	return nil
}

func eventFrame(env Envelope) wsFrame {
	e := env.Event
	return wsFrame{Type: "event", EventID: env.ID, Event: &e}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f wsFrame) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}
