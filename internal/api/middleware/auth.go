package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	appsessions "Postwing/internal/core/sessions"
)

// HeaderSessionID lets non-browser clients authenticate without cookies.
const HeaderSessionID = "X-Session-ID"

// Context keys for storing the authenticated identity
type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	SessionIDKey contextKey = "session_id"
)

// SessionAuth resolves the session_id cookie or X-Session-ID header to an
// active auth session and injects the user id into the request context.
type SessionAuth struct {
	store appsessions.Store
}

// NewSessionAuth creates the session authentication middleware.
func NewSessionAuth(store appsessions.Store) *SessionAuth {
	return &SessionAuth{store: store}
}

// RequireAuth rejects unauthenticated requests with 401. On success the
// request context carries the user id and session id.
func (m *SessionAuth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := SessionIDFromCookie(r)
		if sid == "" {
			sid = r.Header.Get(HeaderSessionID)
		}
		if sid == "" {
			writeAuthError(w, "Authentication required")
			return
		}

		material, err := m.store.Get(r.Context(), sid)
		if err != nil {
			switch {
			case errors.Is(err, appsessions.ErrSessionNotFound),
				errors.Is(err, appsessions.ErrSessionExpired),
				errors.Is(err, appsessions.ErrSessionRevoked):
				writeAuthError(w, "Session is no longer valid")
			default:
				slog.Error("session lookup failed",
					"session_id", sid, "path", r.URL.Path, "error", err)
				writeServerError(w, "Failed to verify session")
			}
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, material.UserID)
		ctx = context.WithValue(ctx, SessionIDKey, material.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID returns the authenticated user id from the request context,
// or "" when the request did not pass RequireAuth.
func GetUserID(r *http.Request) string {
	uid, _ := r.Context().Value(UserIDKey).(string)
	return uid
}

// GetSessionID returns the auth session id from the request context.
func GetSessionID(r *http.Request) string {
	sid, _ := r.Context().Value(SessionIDKey).(string)
	return sid
}

// writeAuthError emits the standard envelope without importing the
// handlers package, which itself imports this one.
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "UNAUTHORIZED",
		"message": message,
		"code":    http.StatusUnauthorized,
	})
}

func writeServerError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "SERVER_ERROR",
		"message": message,
		"code":    http.StatusInternalServerError,
	})
}
