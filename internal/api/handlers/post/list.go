package post

import (
	"net/http"
	"strconv"

	"Postwing/internal/api/handlers"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/posts"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListHandler serves paged post listings.
type ListHandler struct {
	svc posts.Service
}

// NewListHandler creates a new post listing handler.
func NewListHandler(svc posts.Service) *ListHandler {
	return &ListHandler{svc: svc}
}

// HandleList returns the caller's posts, newest schedule first.
// GET /posts?status=&page=&limit=
func (h *ListHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status posts.Status
	if s := q.Get("status"); s != "" {
		status = posts.Status(s)
		if _, ok := posts.AllowedTransitions[status]; !ok {
			handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
				"unknown status filter: "+s)
			return
		}
	}

	page := parsePositiveInt(q.Get("page"), 1)
	limit := parsePositiveInt(q.Get("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	listed, total, err := h.svc.ListPosts(r.Context(), middleware.GetUserID(r), status, page, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"posts": listed,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func parsePositiveInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
