package post

import (
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/posts"

	"github.com/go-chi/chi/v5"
)

// DeleteHandler cancels pending posts.
type DeleteHandler struct {
	svc posts.Service
}

// NewDeleteHandler creates a new post cancellation handler.
func NewDeleteHandler(svc posts.Service) *DeleteHandler {
	return &DeleteHandler{svc: svc}
}

// HandleDelete cancels a PENDING post. Posts that already left PENDING
// are rejected.
// DELETE /posts/{id}
func (h *DeleteHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	if postID == "" {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"post id is required")
		return
	}

	if err := h.svc.CancelPost(r.Context(), middleware.GetUserID(r), postID); err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
