package post

import (
	"encoding/json"
	"net/http"
	"time"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/posts"
)

const maxRequestBodyBytes = 1 << 20 // 1MB

// CreateHandler schedules new posts.
type CreateHandler struct {
	svc posts.Service
}

// NewCreateHandler creates a new post creation handler.
func NewCreateHandler(svc posts.Service) *CreateHandler {
	return &CreateHandler{svc: svc}
}

type createRequest struct {
	Content      string    `json:"content"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	ParentPostID string    `json:"parentPostId,omitempty"`
	ThreadRootID string    `json:"threadRootId,omitempty"`
	ThreadIndex  int       `json:"threadIndex,omitempty"`
	IsThreadRoot bool      `json:"isThreadRoot,omitempty"`
}

// HandleCreate schedules a post for future publication.
// POST /posts
func (h *CreateHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"Invalid request body")
		return
	}
	if req.ScheduledAt.IsZero() {
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"scheduledAt is required (ISO 8601)")
		return
	}

	created, err := h.svc.CreatePost(r.Context(), middleware.GetUserID(r), posts.CreatePostRequest{
		ScheduledAt:  req.ScheduledAt,
		Content:      req.Content,
		ParentPostID: req.ParentPostID,
		ThreadRootID: req.ThreadRootID,
		ThreadIndex:  req.ThreadIndex,
		IsThreadRoot: req.IsThreadRoot,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusCreated, map[string]interface{}{"post": created})
}
