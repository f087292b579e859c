package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/atproto/oauth"
)

const maxCallbackBodyBytes = 1 << 20 // 1MB

// CallbackHandler completes the OAuth authorization.
type CallbackHandler struct {
	auth *oauth.Client
}

// NewCallbackHandler creates a new callback handler.
func NewCallbackHandler(auth *oauth.Client) *CallbackHandler {
	return &CallbackHandler{auth: auth}
}

type callbackRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	CodeVerifier string `json:"codeVerifier"`
}

// HandleCallback exchanges the authorization code for tokens, establishes
// the user and auth session, and hands the browser its session cookie.
// POST /auth/callback
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodyBytes)

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"Invalid request body")
		return
	}
	if req.Code == "" || req.State == "" {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"code and state are required")
		return
	}

	// The verifier may arrive in the body or ride the flow cookie.
	verifier := req.CodeVerifier
	if verifier == "" {
		verifier = flowCookieValue(r, verifierCookieName)
	}

	result, err := h.auth.HandleCallback(r.Context(), oauth.CallbackRequest{
		Code:              req.Code,
		State:             req.State,
		PresentedVerifier: verifier,
		UserAgent:         r.UserAgent(),
		SourceAddr:        r.RemoteAddr,
	})
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrStateNotFound):
			handlers.WriteError(w, http.StatusBadRequest, handlers.KindOAuth,
				"Authorization state is unknown or expired; restart the login flow")
		case errors.Is(err, oauth.ErrVerifierMismatch):
			handlers.WriteError(w, http.StatusBadRequest, handlers.KindOAuth,
				"PKCE verifier does not match this authorization")
		default:
			slog.Error("oauth callback failed", "error", err)
			handlers.WriteError(w, http.StatusBadGateway, handlers.KindOAuth,
				"Authorization could not be completed")
		}
		return
	}

	clearFlowCookie(w, stateCookieName)
	clearFlowCookie(w, verifierCookieName)

	if err := middleware.SetSessionCookie(w, r, result.SessionID); err != nil {
		slog.Error("failed to set session cookie",
			"session_id", result.SessionID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.KindServer,
			"Failed to establish browser session")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":      result.User,
		"sessionId": result.SessionID,
	})
}
