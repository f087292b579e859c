package posts

import "errors"

var (
	// ErrPostNotFound indicates the requested post doesn't exist
	ErrPostNotFound = errors.New("post not found")

	// ErrAlreadyClaimed indicates the PENDING→EXECUTING compare-and-set
	// lost: another worker claimed the post, or it was cancelled
	ErrAlreadyClaimed = errors.New("post already claimed")

	// ErrForbidden indicates the acting user does not own the post.
	// Fatal, never retryable.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidContent indicates content is empty or exceeds 300 code points
	ErrInvalidContent = errors.New("content must be between 1 and 300 characters")

	// ErrInvalidSchedule indicates the scheduled time is not far enough
	// in the future
	ErrInvalidSchedule = errors.New("scheduled time must be at least 5 minutes from now")

	// ErrNotEditable indicates the post left PENDING and can no longer
	// be updated or cancelled
	ErrNotEditable = errors.New("post is not editable: only pending posts may change")

	// ErrParentMissing indicates a parent reference points at a post
	// that no longer exists
	ErrParentMissing = errors.New("parent post missing")
)
