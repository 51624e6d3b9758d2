//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/qiming/internal/catalog"
	"github.com/ashureev/qiming/internal/domain"
	"github.com/ashureev/qiming/internal/flow"
	"github.com/ashureev/qiming/internal/identity"
	"github.com/ashureev/qiming/internal/store"
	"github.com/ashureev/qiming/internal/workspace"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkspace = "ws_0123456789abcdef0123456789abcdef"

type testServer struct {
	router   chi.Router
	hub      *Hub
	registry *workspace.Registry
}

// newTestServer wires the real registry with zero compose delays, so agent
// turns land asynchronously but almost immediately.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	hub := NewHub(16, nil)
	reg := workspace.NewRegistry(store.NewMemory(), cat, workspace.Config{}, hub.Listener(), nil)
	t.Cleanup(func() {
		reg.Close()
		hub.Close()
	})

	base := NewHandler(reg, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewFlowHandler(base).RegisterRoutes(r)
	NewStreamHandler(base, hub, StreamConfig{Keepalive: time.Hour}).RegisterRoutes(r)
	return &testServer{router: r, hub: hub, registry: reg}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(identity.WorkspaceHeaderName, testWorkspace)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) trigger(t *testing.T, path string, body any) flowState {
	t.Helper()
	w := s.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var state flowState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	s.waitIdle(t)
	return state
}

func (s *testServer) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		var resp struct {
			Composing bool `json:"composing"`
		}
		w := s.do(t, http.MethodGet, "/api/messages", nil)
		return json.Unmarshal(w.Body.Bytes(), &resp) == nil && !resp.Composing
	}, 2*time.Second, 5*time.Millisecond)
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestFlowStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("choose: %w", flow.ErrOutOfStep), http.StatusConflict},
		{flow.ErrNotDisplayed, http.StatusConflict},
		{flow.ErrUnknownDirection, http.StatusNotFound},
		{flow.ErrUnknownName, http.StatusNotFound},
		{flow.ErrNoSession, http.StatusNotFound},
		{flow.ErrNoFavorite, http.StatusNotFound},
		{fmt.Errorf("name 沐泽: %w", catalog.ErrNotFound), http.StatusNotFound},
		{flow.ErrInvalidInput, http.StatusBadRequest},
		{flow.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, flowStatus(tt.err), tt.err.Error())
	}
	assert.Equal(t, "internal error", publicMessage(http.StatusInternalServerError, errors.New("disk on fire")))
}

func TestNamingScenarioOverHTTP(t *testing.T) {
	s := newTestServer(t)

	state := s.trigger(t, "/api/flow/start", nil)
	assert.Equal(t, domain.StepCollectingSubjectInfo, state.Step)

	s.trigger(t, "/api/flow/subject", map[string]string{"surname": "陈", "gender": "boy", "birthDate": "2024-03-10"})
	s.trigger(t, "/api/flow/preference", map[string]string{"style": "poetic"})
	s.trigger(t, "/api/flow/details", map[string]bool{"skip": true})

	state = s.trigger(t, "/api/flow/direction", map[string]string{"directionId": "poetic"})
	assert.Equal(t, domain.StepPresentingCandidate, state.Step)

	type candidateResp struct {
		Candidate *domain.NameDetail `json:"candidate"`
		Favorited bool               `json:"favorited"`
	}
	got := decodeBody[candidateResp](t, s.do(t, http.MethodGet, "/api/candidate", nil))
	require.NotNil(t, got.Candidate)
	assert.Equal(t, "沐泽", got.Candidate.Name)

	s.trigger(t, "/api/flow/another", nil)
	got = decodeBody[candidateResp](t, s.do(t, http.MethodGet, "/api/candidate", nil))
	require.NotNil(t, got.Candidate)
	assert.Equal(t, "怀瑾", got.Candidate.Name)

	state = s.trigger(t, "/api/flow/confirm", map[string]string{"name": "怀瑾"})
	assert.Equal(t, domain.StepCompleted, state.Step)

	type currentResp struct {
		Session domain.BabySession `json:"session"`
	}
	cur := decodeBody[currentResp](t, s.do(t, http.MethodGet, "/api/sessions/current", nil))
	assert.Equal(t, "怀瑾", cur.Session.SelectedName)
	assert.Equal(t, domain.StepCompleted, cur.Session.CurrentStep)
	assert.Equal(t, "陈", cur.Session.SubjectInfo.Surname)

	w := s.do(t, http.MethodGet, "/api/numerology", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/flow/preference", map[string]string{"style": "poetic"})
	assert.Equal(t, http.StatusNotFound, w.Code, "no session yet")

	s.trigger(t, "/api/flow/start", nil)

	w = s.do(t, http.MethodPost, "/api/flow/preference", map[string]string{"style": "poetic"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/flow/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate start is dropped")

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing surname", map[string]string{"gender": "boy", "birthDate": "2024-03-10"}, "surname: required"},
		{"missing birth date", map[string]string{"surname": "陈", "gender": "boy"}, "birthDate: required"},
		{"bad gender", map[string]string{"surname": "陈", "gender": "cat", "birthDate": "2024-03-10"}, "gender: oneof"},
		{"bad date", map[string]string{"surname": "陈", "gender": "boy", "birthDate": "10/03/2024"}, "birthDate: datetime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/flow/subject", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/flow/subject", strings.NewReader("{not json"))
	req.Header.Set(identity.WorkspaceHeaderName, testWorkspace)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	huge := strings.Repeat("x", maxRequestBodySize+1)
	w = s.do(t, http.MethodPost, "/api/flow/subject", map[string]string{"surname": huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestConfirmWithoutBody(t *testing.T) {
	tests := []struct {
		name string
		body func() io.Reader
	}{
		{"no body", func() io.Reader { return nil }},
		{"chunked empty body", func() io.Reader { return io.NopCloser(strings.NewReader("")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.trigger(t, "/api/flow/start", nil)
			s.trigger(t, "/api/flow/subject", map[string]string{"surname": "陈", "gender": "boy", "birthDate": "2024-03-10"})
			s.trigger(t, "/api/flow/preference", map[string]string{"style": "poetic"})
			s.trigger(t, "/api/flow/details", map[string]bool{"skip": true})
			s.trigger(t, "/api/flow/direction", map[string]string{"directionId": "poetic"})

			req := httptest.NewRequest(http.MethodPost, "/api/flow/confirm", tt.body())
			req.Header.Set(identity.WorkspaceHeaderName, testWorkspace)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			s.waitIdle(t)

			type currentResp struct {
				Session domain.BabySession `json:"session"`
			}
			cur := decodeBody[currentResp](t, s.do(t, http.MethodGet, "/api/sessions/current", nil))
			assert.Equal(t, "沐泽", cur.Session.SelectedName)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	first := decodeBody[flowState](t, w).SessionID
	s.waitIdle(t)

	w = s.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	second := decodeBody[flowState](t, w).SessionID
	s.waitIdle(t)

	type listResp struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	list := decodeBody[listResp](t, s.do(t, http.MethodGet, "/api/sessions", nil))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, first, list.Sessions[0].ID)
	assert.True(t, list.Sessions[1].Current)
	assert.Empty(t, list.Sessions[0].Surname, "placeholder subject")

	w = s.do(t, http.MethodPut, "/api/sessions/current", map[string]string{"id": first})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, first, decodeBody[flowState](t, w).SessionID)

	w = s.do(t, http.MethodPut, "/api/sessions/current", map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code, "switching never creates")

	w = s.do(t, http.MethodDelete, "/api/sessions/"+second, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = s.do(t, http.MethodDelete, "/api/sessions/"+second, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFavoriteEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.trigger(t, "/api/flow/start", nil)

	type toggleResp struct {
		Favorited bool `json:"favorited"`
	}
	w := s.do(t, http.MethodPost, "/api/favorites/toggle", map[string]string{"name": "沐泽"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[toggleResp](t, w).Favorited)

	type listResp struct {
		Favorites []domain.FavoriteItem `json:"favorites"`
	}
	list := decodeBody[listResp](t, s.do(t, http.MethodGet, "/api/favorites?scope=current", nil))
	require.Len(t, list.Favorites, 1)
	assert.Equal(t, "沐泽", list.Favorites[0].Name)
	require.NotNil(t, list.Favorites[0].NameDetailSnapshot)

	w = s.do(t, http.MethodGet, "/api/favorites?scope=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := list.Favorites[0].ID
	w = s.do(t, http.MethodDelete, "/api/favorites/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/api/favorites/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	list = decodeBody[listResp](t, s.do(t, http.MethodGet, "/api/favorites", nil))
	assert.Empty(t, list.Favorites)
}

func TestDirectionsAndEmptyCandidate(t *testing.T) {
	s := newTestServer(t)

	type dirResp struct {
		Directions []domain.NameDirection `json:"directions"`
	}
	dirs := decodeBody[dirResp](t, s.do(t, http.MethodGet, "/api/directions", nil))
	assert.NotEmpty(t, dirs.Directions)

	w := s.do(t, http.MethodGet, "/api/candidate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"candidate":null}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/numerology", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingWorkspaceIsUnauthorized(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	reg := workspace.NewRegistry(store.NewMemory(), cat, workspace.Config{}, nil, nil)
	t.Cleanup(reg.Close)

	r := chi.NewRouter()
	NewFlowHandler(NewHandler(reg, nil)).RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
