package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/users"
)

// ProfileHandler returns the authenticated user's account.
type ProfileHandler struct {
	users users.UserService
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(userSvc users.UserService) *ProfileHandler {
	return &ProfileHandler{users: userSvc}
}

// HandleProfile returns the current user.
// GET /auth/profile
func (h *ProfileHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			handlers.WriteError(w, http.StatusNotFound, handlers.KindNotFound,
				"User not found")
			return
		}
		slog.Error("failed to load user profile", "user_id", userID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.KindServer,
			"Failed to load profile")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
