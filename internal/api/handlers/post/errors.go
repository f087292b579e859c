package post

import (
	"errors"
	"log/slog"
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/core/posts"
)

// handleServiceError maps post service errors onto the response envelope.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, posts.ErrPostNotFound):
		handlers.WriteError(w, http.StatusNotFound, handlers.KindNotFound,
			"Post not found")
	case errors.Is(err, posts.ErrForbidden):
		handlers.WriteError(w, http.StatusForbidden, handlers.KindForbidden,
			"You do not own this post")
	case errors.Is(err, posts.ErrNotEditable):
		handlers.WriteError(w, http.StatusConflict, handlers.KindInvalidOperation,
			"Only pending posts can be modified")
	case errors.Is(err, posts.ErrInvalidContent):
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			posts.ErrInvalidContent.Error())
	case errors.Is(err, posts.ErrInvalidSchedule):
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			posts.ErrInvalidSchedule.Error())
	case errors.Is(err, posts.ErrParentMissing):
		handlers.WriteError(w, http.StatusBadRequest, handlers.KindValidation,
			"Parent post does not exist")
	default:
		slog.Error("post operation failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.KindServer,
			"Internal server error")
	}
}
