package post

import (
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/posts"

	"github.com/go-chi/chi/v5"
)

// GetHandler serves single posts.
type GetHandler struct {
	svc posts.Service
}

// NewGetHandler creates a new post fetch handler.
func NewGetHandler(svc posts.Service) *GetHandler {
	return &GetHandler{svc: svc}
}

// HandleGet returns one post owned by the caller.
// GET /posts/{id}
func (h *GetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	if postID == "" {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"post id is required")
		return
	}

	found, err := h.svc.GetPost(r.Context(), middleware.GetUserID(r), postID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"post": found})
}
