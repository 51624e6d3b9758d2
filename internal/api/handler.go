// Package api provides HTTP handlers for the naming API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/ashureev/qiming/internal/catalog"
	"github.com/ashureev/qiming/internal/flow"
	"github.com/ashureev/qiming/internal/identity"
	"github.com/go-playground/validator/v10"
)

// maxRequestBodySize caps trigger payloads (64KB).
const maxRequestBodySize = 64 << 10

// Workspaces resolves the controller serving a workspace.
type Workspaces interface {
	Get(ctx context.Context, workspaceID string) (*flow.Controller, error)
}

// Handler provides common handler utilities.
type Handler struct {
	workspaces Workspaces
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(workspaces Workspaces, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		workspaces: workspaces,
		validate:   newValidator(),
		logger:     logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// controller resolves the caller's workspace controller, writing the error
// response itself when that fails.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*flow.Controller, bool) {
	id := identity.WorkspaceIDFromContext(r.Context())
	if id == "" {
		Error(w, http.StatusUnauthorized, "missing workspace")
		return nil, false
	}
	c, err := h.workspaces.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load workspace", "workspace_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load workspace")
		return nil, false
	}
	return c, true
}

// decode reads a JSON body into dst and validates it. On failure the
// response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be omitted. An
// empty body, chunked or not, leaves dst at its zero value.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, true)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		Error(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// flowStatus maps controller errors onto HTTP statuses.
func flowStatus(err error) int {
	switch {
	case errors.Is(err, flow.ErrOutOfStep), errors.Is(err, flow.ErrNotDisplayed):
		return http.StatusConflict
	case errors.Is(err, flow.ErrUnknownDirection),
		errors.Is(err, flow.ErrUnknownName),
		errors.Is(err, flow.ErrNoSession),
		errors.Is(err, flow.ErrNoFavorite),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage hides internal failures from clients.
func publicMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func (h *Handler) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	status := flowStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Flow operation failed",
			"workspace_id", identity.WorkspaceIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		h.logger.Debug("Flow operation rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, publicMessage(status, err))
}
