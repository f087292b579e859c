package posts

import (
	"time"
	"unicode/utf8"
)

// Status is the execution state of a scheduled post.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusRetrying  Status = "RETRYING"
)

// MaxRetry is the retry budget per post.
const MaxRetry = 3

// MaxContentLength is the upper bound on post content, in code points.
const MaxContentLength = 300

// MinLeadTime is how far in the future a user-submitted post must be
// scheduled.
const MinLeadTime = 5 * time.Minute

// CancelReasonParentFailed marks posts cancelled because an earlier post
// in their thread failed.
const CancelReasonParentFailed = "PARENT_FAILED"

// AllowedTransitions encodes the post state machine. COMPLETED, FAILED
// and CANCELLED are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusExecuting, StatusCancelled},
	StatusExecuting: {StatusCompleted, StatusFailed, StatusPending, StatusCancelled},
	StatusRetrying:  {StatusExecuting, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ScheduledPost is a post queued for future publication on the network.
type ScheduledPost struct {
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
	ScheduledAt  time.Time  `json:"scheduledAt" db:"scheduled_at"`
	ExecutedAt   *time.Time `json:"executedAt,omitempty" db:"executed_at"`
	NotBefore    *time.Time `json:"-" db:"not_before"`
	ArchivedAt   *time.Time `json:"-" db:"archived_at"`
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"userId" db:"user_id"`
	Content      string     `json:"content" db:"content"`
	Status       Status     `json:"status" db:"status"`
	ErrorMsg     string     `json:"errorMsg,omitempty" db:"error_msg"`
	BlueskyURI   string     `json:"blueskyUri,omitempty" db:"bluesky_uri"`
	BlueskyCID   string     `json:"-" db:"bluesky_cid"`
	BlueskyRkey  string     `json:"blueskyRkey,omitempty" db:"bluesky_rkey"`
	ParentPostID string     `json:"parentPostId,omitempty" db:"parent_post_id"`
	ThreadRootID string     `json:"threadRootId,omitempty" db:"thread_root_id"`
	ThreadIndex  int        `json:"threadIndex" db:"thread_index"`
	RetryCount   int        `json:"retryCount" db:"retry_count"`
	IsThreadRoot bool       `json:"isThreadRoot" db:"is_thread_root"`
	CanExecute   bool       `json:"-" db:"can_execute"`
	IsDeleted    bool       `json:"-" db:"is_deleted"`
}

// ValidateContent checks the 1–300 code point bound.
func ValidateContent(content string) error {
	n := utf8.RuneCountInString(content)
	if n < 1 || n > MaxContentLength {
		return ErrInvalidContent
	}
	return nil
}

// RetryDelay returns the backoff before the given attempt number
// (1-based): ~30s, 2m, 8m. Exponential with base 4.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 4
	}
	return d
}
