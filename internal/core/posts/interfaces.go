package posts

import (
	"context"
	"time"
)

// PostRepository defines the data access interface for scheduled posts.
type PostRepository interface {
	Create(ctx context.Context, post *ScheduledPost) (*ScheduledPost, error)
	GetByID(ctx context.Context, id string) (*ScheduledPost, error)
	List(ctx context.Context, userID string, status Status, page, limit int) ([]*ScheduledPost, int, error)

	// Update rewrites content and scheduled time. The repository applies
	// it only while the row is still PENDING.
	Update(ctx context.Context, id, content string, scheduledAt time.Time) (*ScheduledPost, error)

	// ClaimForExecution is the PENDING→EXECUTING compare-and-set:
	// UPDATE ... SET status='EXECUTING' WHERE id=$1 AND status='PENDING'.
	// Returns false when the row was already claimed or cancelled.
	ClaimForExecution(ctx context.Context, id string) (bool, error)

	// MarkCompleted records a successful publication.
	MarkCompleted(ctx context.Context, id string, executedAt time.Time, uri, cid, rkey string) error

	// MarkRetry returns the post to PENDING with an incremented retry
	// count and a not-before gate for the next scan.
	MarkRetry(ctx context.Context, id, errorMsg string, notBefore time.Time) error

	// MarkFailed transitions to FAILED with the final attempt count and
	// appends the failure record in the same transaction.
	MarkFailed(ctx context.Context, id, errorMsg string, retryCount int) error

	// Cancel is a CAS from PENDING to CANCELLED. Returns false when the
	// post already left PENDING.
	Cancel(ctx context.Context, id, reason string) (bool, error)

	// FindDue returns up to limit posts ready to execute: PENDING,
	// scheduled_at <= now, past any not_before gate, can_execute, not
	// deleted; ordered by scheduled_at ascending.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledPost, error)

	// GetThread returns all posts sharing a thread root, ordered by
	// (thread_index, created_at).
	GetThread(ctx context.Context, threadRootID string) ([]*ScheduledPost, error)

	// ReclaimStuck reverts posts stuck in EXECUTING longer than the
	// watchdog timeout back to PENDING without touching retry_count.
	ReclaimStuck(ctx context.Context, olderThan time.Time) (int64, error)

	// ArchiveCompleted / ArchiveFailed stamp archived_at on old terminal
	// posts; used by daily maintenance.
	ArchiveCompleted(ctx context.Context, before time.Time) (int64, error)
	ArchiveFailed(ctx context.Context, before time.Time) (int64, error)
}

// FailureRepository stores append-only failure observations.
type FailureRepository interface {
	Append(ctx context.Context, postID, errorMsg string) error
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Publisher is the slice of the network client PostService needs: one
// authenticated record creation per publication attempt.
type Publisher interface {
	// CreatePost publishes a microblog post record on behalf of userID.
	// reply is nil for standalone posts and thread roots.
	CreatePost(ctx context.Context, userID, text string, createdAt time.Time, reply *ReplyRef) (uri, cid string, err error)
}

// ReplyRef points a post at its thread root and immediate parent.
type ReplyRef struct {
	RootURI   string
	RootCID   string
	ParentURI string
	ParentCID string
}

// Service is the post execution contract used by the Dispatcher and the
// HTTP boundary.
type Service interface {
	// CreatePost validates and stores a new scheduled post for userID.
	CreatePost(ctx context.Context, userID string, req CreatePostRequest) (*ScheduledPost, error)

	GetPost(ctx context.Context, userID, postID string) (*ScheduledPost, error)
	ListPosts(ctx context.Context, userID string, status Status, page, limit int) ([]*ScheduledPost, int, error)

	// UpdatePost rewrites content and/or schedule while PENDING.
	UpdatePost(ctx context.Context, userID, postID string, req UpdatePostRequest) (*ScheduledPost, error)

	// CancelPost transitions a PENDING post to CANCELLED.
	CancelPost(ctx context.Context, userID, postID string) error

	// Execute attempts one publication of the post: CAS claim, publish,
	// record outcome. Returns ErrAlreadyClaimed when the CAS loses.
	Execute(ctx context.Context, post *ScheduledPost) error

	// ExecuteThread publishes a whole thread sequentially, wiring reply
	// pointers and cancelling the remainder on first failure.
	ExecuteThread(ctx context.Context, root *ScheduledPost) error
}

// CreatePostRequest is the input for scheduling a post.
type CreatePostRequest struct {
	ScheduledAt  time.Time
	Content      string
	ParentPostID string
	ThreadRootID string
	ThreadIndex  int
	IsThreadRoot bool
}

// UpdatePostRequest carries optional edits to a PENDING post.
type UpdatePostRequest struct {
	ScheduledAt *time.Time
	Content     *string
}
