package auth

import (
	"log/slog"
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/atproto/oauth"
)

// LoginHandler starts the OAuth authorization flow.
type LoginHandler struct {
	auth *oauth.Client
}

// NewLoginHandler creates a new login handler.
func NewLoginHandler(auth *oauth.Client) *LoginHandler {
	return &LoginHandler{auth: auth}
}

// HandleLogin builds the authorization URL and parks the state and PKCE
// verifier in short-lived flow cookies.
// GET /auth/login
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, verifier, err := h.auth.AuthorizeURL()
	if err != nil {
		slog.Error("failed to build authorization URL", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.KindOAuth,
			"Failed to start authorization")
		return
	}

	setFlowCookie(w, stateCookieName, state)
	setFlowCookie(w, verifierCookieName, verifier)

	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"redirectUrl": authURL,
	})
}
