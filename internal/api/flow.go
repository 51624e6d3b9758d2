package api

import (
	"net/http"
	"time"

	"github.com/ashureev/qiming/internal/domain"
	"github.com/ashureev/qiming/internal/flow"
	"github.com/go-chi/chi/v5"
)

// FlowHandler exposes the conversation triggers and read models.
type FlowHandler struct {
	*Handler
}

// NewFlowHandler creates a new flow handler.
func NewFlowHandler(base *Handler) *FlowHandler {
	return &FlowHandler{Handler: base}
}

// RegisterRoutes registers flow routes.
func (h *FlowHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/flow", func(r chi.Router) {
			r.Post("/start", h.Start)
			r.Post("/subject", h.SubmitSubject)
			r.Post("/preference", h.SubmitPreference)
			r.Post("/details", h.SubmitDetails)
			r.Post("/direction", h.ChooseDirection)
			r.Post("/another", h.RequestAnother)
			r.Post("/select", h.SelectCandidate)
			r.Post("/confirm", h.Confirm)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.NewSession)
			r.Get("/current", h.GetCurrent)
			r.Put("/current", h.SwitchSession)
			r.Delete("/{id}", h.DeleteSession)
		})

		r.Get("/messages", h.GetMessages)
		r.Get("/candidate", h.GetCandidate)
		r.Get("/numerology", h.GetNumerology)
		r.Get("/directions", h.GetDirections)

		r.Route("/favorites", func(r chi.Router) {
			r.Get("/", h.ListFavorites)
			r.Post("/toggle", h.ToggleFavorite)
			r.Delete("/{id}", h.RemoveFavorite)
		})
	})
}

type subjectRequest struct {
	Surname       string        `json:"surname" validate:"required,max=8"`
	Gender        domain.Gender `json:"gender" validate:"required,oneof=boy girl unknown"`
	BirthDate     string        `json:"birthDate" validate:"required,datetime=2006-01-02"`
	BirthTime     string        `json:"birthTime" validate:"omitempty,datetime=15:04"`
	BirthLocation string        `json:"birthLocation" validate:"max=64"`
}

func (req subjectRequest) info() domain.SubjectInfo {
	return domain.SubjectInfo{
		Surname:       req.Surname,
		Gender:        req.Gender,
		BirthDate:     req.BirthDate,
		BirthTime:     req.BirthTime,
		BirthLocation: req.BirthLocation,
	}
}

type preferenceRequest struct {
	Style string `json:"style" validate:"required,max=32"`
}

type detailsRequest struct {
	Skip            bool     `json:"skip"`
	TabooWords      []string `json:"tabooWords" validate:"max=20,dive,max=16"`
	GenerationWord  string   `json:"generationWord" validate:"max=4"`
	FavoriteImagery []string `json:"favoriteImagery" validate:"max=20,dive,max=16"`
}

func (req detailsRequest) details() domain.OptionalDetails {
	return domain.OptionalDetails{
		Skip:            req.Skip,
		TabooWords:      req.TabooWords,
		GenerationWord:  req.GenerationWord,
		FavoriteImagery: req.FavoriteImagery,
	}
}

type directionRequest struct {
	DirectionID string `json:"directionId" validate:"required,max=64"`
}

type nameRequest struct {
	Name string `json:"name" validate:"required,max=16"`
}

type confirmRequest struct {
	Name string `json:"name" validate:"max=16"`
}

type switchRequest struct {
	ID string `json:"id" validate:"required"`
}

// flowState is returned by every accepted trigger.
type flowState struct {
	SessionID string      `json:"sessionId"`
	Step      domain.Step `json:"step"`
	Composing bool        `json:"composing"`
}

type sessionSummary struct {
	ID           string        `json:"id"`
	Surname      string        `json:"surname"`
	Gender       domain.Gender `json:"gender"`
	Step         domain.Step   `json:"step"`
	SelectedName string        `json:"selectedName,omitempty"`
	Current      bool          `json:"current"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func currentState(c *flow.Controller) *flowState {
	state := &flowState{Composing: c.IsComposing()}
	if sess, ok := c.CurrentSession(); ok {
		state.SessionID = sess.ID
		state.Step = sess.CurrentStep
	}
	return state
}

// trigger runs fn against the caller's controller and answers with the
// resulting flow state.
func (h *FlowHandler) trigger(w http.ResponseWriter, r *http.Request, fn func(*flow.Controller) error) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := fn(c); err != nil {
		h.writeFlowError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, currentState(c))
}

// Start opens the conversation, creating a session when there is none.
func (h *FlowHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.Start(r.Context())
	})
}

// SubmitSubject records the subject of the current session.
func (h *FlowHandler) SubmitSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.SubmitSubjectInfo(r.Context(), req.info())
	})
}

func (h *FlowHandler) SubmitPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.SubmitPreference(r.Context(), req.Style)
	})
}

func (h *FlowHandler) SubmitDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.SubmitOptionalDetails(r.Context(), req.details())
	})
}

func (h *FlowHandler) ChooseDirection(w http.ResponseWriter, r *http.Request) {
	var req directionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.ChooseDirection(r.Context(), req.DirectionID)
	})
}

func (h *FlowHandler) RequestAnother(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.RequestAnother(r.Context())
	})
}

func (h *FlowHandler) SelectCandidate(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.SelectCandidate(r.Context(), req.Name)
	})
}

// Confirm confirms the displayed candidate. An empty name means whichever
// candidate is on screen.
func (h *FlowHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.Confirm(r.Context(), req.Name)
	})
}

// ListSessions returns session summaries in creation order.
func (h *FlowHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	current := ""
	if sess, ok := c.CurrentSession(); ok {
		current = sess.ID
	}
	sessions := c.Sessions()
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummary{
			ID:           s.ID,
			Surname:      s.SubjectInfo.Surname,
			Gender:       s.SubjectInfo.Gender,
			Step:         s.CurrentStep,
			SelectedName: s.SelectedName,
			Current:      s.ID == current,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// NewSession creates a session, makes it current and starts it.
func (h *FlowHandler) NewSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	id, err := c.NewSession(r.Context())
	if err != nil {
		h.writeFlowError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, flowState{
		SessionID: id,
		Step:      domain.StepCollectingSubjectInfo,
		Composing: c.IsComposing(),
	})
}

// GetCurrent returns the full current session.
func (h *FlowHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	sess, ok := c.CurrentSession()
	if !ok {
		Error(w, http.StatusNotFound, "no current session")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session":   sess,
		"composing": c.IsComposing(),
		"favorites": c.CurrentFavorites(),
	})
}

func (h *FlowHandler) SwitchSession(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.SwitchSession(r.Context(), req.ID)
	})
}

func (h *FlowHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.trigger(w, r, func(c *flow.Controller) error {
		return c.DeleteSession(r.Context(), id)
	})
}

func (h *FlowHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"messages":  c.CurrentMessages(),
		"composing": c.IsComposing(),
	})
}

// GetCandidate returns the displayed candidate's detail, or null when no
// direction is open.
func (h *FlowHandler) GetCandidate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	detail, err := c.CurrentCandidate()
	if err != nil {
		h.writeFlowError(w, r, err)
		return
	}
	resp := map[string]any{"candidate": detail}
	if detail != nil {
		resp["favorited"] = c.IsFavorited(detail.Name)
	}
	JSON(w, http.StatusOK, resp)
}

func (h *FlowHandler) GetNumerology(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	snap, ok := c.Numerology()
	if !ok {
		Error(w, http.StatusNotFound, "no numerology recorded")
		return
	}
	JSON(w, http.StatusOK, snap)
}

func (h *FlowHandler) GetDirections(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{"directions": c.Directions()})
}

// ListFavorites returns every favorite, or only the current session's with
// ?scope=current.
func (h *FlowHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var items []domain.FavoriteItem
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "all":
		items = c.Favorites()
	case "current":
		items = c.CurrentFavorites()
	default:
		Error(w, http.StatusBadRequest, "unknown scope "+scope)
		return
	}
	if items == nil {
		items = []domain.FavoriteItem{}
	}
	JSON(w, http.StatusOK, map[string]any{"favorites": items})
}

func (h *FlowHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	added, err := c.ToggleFavorite(r.Context(), req.Name)
	if err != nil {
		h.writeFlowError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"name": req.Name, "favorited": added})
}

func (h *FlowHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := c.RemoveFavorite(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeFlowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
