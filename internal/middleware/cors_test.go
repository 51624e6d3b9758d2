package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"explicit origin", []string{"http://localhost:5173"}, "http://localhost:5173", http.MethodGet, "http://localhost:5173", "true", http.StatusTeapot},
		{"wildcard has no credentials", []string{"*"}, "https://evil.example", http.MethodGet, "https://evil.example", "", http.StatusTeapot},
		{"unknown origin", []string{"http://localhost:5173"}, "https://evil.example", http.MethodGet, "", "", http.StatusTeapot},
		{"no origin header", []string{"*"}, "", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight short-circuits", []string{"http://localhost:5173"}, "http://localhost:5173", http.MethodOptions, "http://localhost:5173", "true", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/session", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantOrigin != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")
			}
		})
	}
}
