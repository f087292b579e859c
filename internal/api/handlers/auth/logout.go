package auth

import (
	"log/slog"
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/sessions"
)

// RevokeReasonLogout marks sessions ended by the user.
const RevokeReasonLogout = "logout"

// LogoutHandler ends the browser session and revokes the session row.
type LogoutHandler struct {
	store sessions.Store
}

// NewLogoutHandler creates a new logout handler.
func NewLogoutHandler(store sessions.Store) *LogoutHandler {
	return &LogoutHandler{store: store}
}

// HandleLogout clears the session cookie and revokes the database row.
// Both happen on every logout; a half-logged-out state is not allowed.
// POST /auth/logout
func (h *LogoutHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r)

	if err := h.store.Revoke(r.Context(), sessionID, RevokeReasonLogout); err != nil {
		// The cookie is cleared regardless; a row that failed to revoke
		// still refuses authentication once its tokens expire.
		slog.Error("failed to revoke session on logout",
			"session_id", sessionID, "error", err)
	}

	middleware.ClearSessionCookie(w, r)

	handlers.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
