// Package identity provides the anonymous per-browser workspace identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

const (
	WorkspaceCookieName = "qiming_ws"
	// WorkspaceHeaderName lets non-browser clients pin a workspace.
	WorkspaceHeaderName = "X-Qiming-Workspace"
	cookieMaxAge        = 180 * 24 * time.Hour
)

type contextKey int

const workspaceIDKey contextKey = iota

var workspaceIDPattern = regexp.MustCompile(`^ws_[a-f0-9]{32}$`)

// WorkspaceIDFromContext extracts the workspace ID from the request context.
func WorkspaceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithWorkspaceID returns a copy of ctx carrying id.
func WithWorkspaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, id)
}

func generateWorkspaceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate workspace id: %w", err)
	}
	return "ws_" + hex.EncodeToString(buf), nil
}

// IsValidWorkspaceID reports whether id has the shape the server issues.
func IsValidWorkspaceID(id string) bool {
	return workspaceIDPattern.MatchString(id)
}

func setCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     WorkspaceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateWorkspaceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if id := r.Header.Get(WorkspaceHeaderName); IsValidWorkspaceID(id) {
		return id, nil
	}
	if c, err := r.Cookie(WorkspaceCookieName); err == nil && IsValidWorkspaceID(c.Value) {
		setCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateWorkspaceID()
	if err != nil {
		return "", err
	}
	setCookie(w, id, isDev)
	return id, nil
}

// Middleware attaches a workspace ID to every request, issuing a cookie on
// first contact and refreshing it afterwards.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := getOrCreateWorkspaceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish workspace"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithWorkspaceID(r.Context(), id)))
		})
	}
}
