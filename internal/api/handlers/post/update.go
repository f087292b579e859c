package post

import (
	"encoding/json"
	"net/http"
	"time"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/posts"

	"github.com/go-chi/chi/v5"
)

// UpdateHandler edits pending posts.
type UpdateHandler struct {
	svc posts.Service
}

// NewUpdateHandler creates a new post update handler.
func NewUpdateHandler(svc posts.Service) *UpdateHandler {
	return &UpdateHandler{svc: svc}
}

type updateRequest struct {
	Content     *string    `json:"content,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// HandleUpdate rewrites content and/or schedule while the post is still
// PENDING.
// PUT /posts/{id}
func (h *UpdateHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	if postID == "" {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"post id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"Invalid request body")
		return
	}
	if req.Content == nil && req.ScheduledAt == nil {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"nothing to update: provide content or scheduledAt")
		return
	}

	updated, err := h.svc.UpdatePost(r.Context(), middleware.GetUserID(r), postID, posts.UpdatePostRequest{
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"post": updated})
}
