package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Postwing/internal/atproto/xrpc"
)

type postService struct {
	repo      PostRepository
	failures  FailureRepository
	publisher Publisher
}

// NewPostService creates the post execution service.
func NewPostService(repo PostRepository, failures FailureRepository, publisher Publisher) Service {
	return &postService{repo: repo, failures: failures, publisher: publisher}
}

func (s *postService) CreatePost(ctx context.Context, userID string, req CreatePostRequest) (*ScheduledPost, error) {
	if err := ValidateContent(req.Content); err != nil {
		return nil, err
	}
	if !req.ScheduledAt.After(time.Now().Add(MinLeadTime)) {
		return nil, ErrInvalidSchedule
	}

	if req.ParentPostID != "" {
		parent, err := s.repo.GetByID(ctx, req.ParentPostID)
		if err != nil {
			if errors.Is(err, ErrPostNotFound) {
				return nil, ErrParentMissing
			}
			return nil, err
		}
		if parent.UserID != userID {
			return nil, ErrForbidden
		}
	}

	post, err := s.repo.Create(ctx, &ScheduledPost{
		UserID:       userID,
		Content:      req.Content,
		ScheduledAt:  req.ScheduledAt.UTC(),
		Status:       StatusPending,
		ParentPostID: req.ParentPostID,
		ThreadRootID: req.ThreadRootID,
		ThreadIndex:  req.ThreadIndex,
		IsThreadRoot: req.IsThreadRoot,
		CanExecute:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return post, nil
}

func (s *postService) GetPost(ctx context.Context, userID, postID string) (*ScheduledPost, error) {
	post, err := s.repo.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrForbidden
	}
	return post, nil
}

func (s *postService) ListPosts(ctx context.Context, userID string, status Status, page, limit int) ([]*ScheduledPost, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, userID, status, page, limit)
}

func (s *postService) UpdatePost(ctx context.Context, userID, postID string, req UpdatePostRequest) (*ScheduledPost, error) {
	post, err := s.GetPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != StatusPending {
		return nil, ErrNotEditable
	}

	content := post.Content
	if req.Content != nil {
		if err := ValidateContent(*req.Content); err != nil {
			return nil, err
		}
		content = *req.Content
	}
	scheduledAt := post.ScheduledAt
	if req.ScheduledAt != nil {
		if !req.ScheduledAt.After(time.Now().Add(MinLeadTime)) {
			return nil, ErrInvalidSchedule
		}
		scheduledAt = req.ScheduledAt.UTC()
	}

	updated, err := s.repo.Update(ctx, postID, content, scheduledAt)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *postService) CancelPost(ctx context.Context, userID, postID string) error {
	post, err := s.GetPost(ctx, userID, postID)
	if err != nil {
		return err
	}
	if post.Status != StatusPending {
		return ErrNotEditable
	}

	ok, err := s.repo.Cancel(ctx, postID, "cancelled by user")
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race against the dispatcher's claim
		return ErrNotEditable
	}
	return nil
}

// Execute attempts one publication of a standalone post. A post with a
// parent pointer resolves the reply reference from the parent's stored
// record; a missing or unpublished parent fails the child.
func (s *postService) Execute(ctx context.Context, post *ScheduledPost) error {
	claimed, err := s.repo.ClaimForExecution(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("failed to claim post %s: %w", post.ID, err)
	}
	if !claimed {
		return ErrAlreadyClaimed
	}

	var reply *ReplyRef
	if post.ParentPostID != "" {
		reply, err = s.resolveReply(ctx, post)
		if err != nil {
			return s.recordFailure(ctx, post, err)
		}
	}

	return s.publish(ctx, post, reply)
}

// resolveReply builds the reply reference for a post that points at a
// parent outside of in-order thread execution.
func (s *postService) resolveReply(ctx context.Context, post *ScheduledPost) (*ReplyRef, error) {
	parent, err := s.repo.GetByID(ctx, post.ParentPostID)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return nil, ErrParentMissing
		}
		return nil, err
	}
	if parent.UserID != post.UserID {
		return nil, ErrForbidden
	}
	if parent.Status != StatusCompleted || parent.BlueskyURI == "" {
		return nil, fmt.Errorf("%w: parent %s not published", ErrParentMissing, parent.ID)
	}

	rootURI, rootCID := parent.BlueskyURI, parent.BlueskyCID
	if post.ThreadRootID != "" && post.ThreadRootID != parent.ID {
		root, rootErr := s.repo.GetByID(ctx, post.ThreadRootID)
		if rootErr == nil && root.Status == StatusCompleted && root.BlueskyURI != "" {
			rootURI, rootCID = root.BlueskyURI, root.BlueskyCID
		}
	}

	return &ReplyRef{
		RootURI:   rootURI,
		RootCID:   rootCID,
		ParentURI: parent.BlueskyURI,
		ParentCID: parent.BlueskyCID,
	}, nil
}

// publish performs the network call for an already-claimed post and
// records the outcome.
func (s *postService) publish(ctx context.Context, post *ScheduledPost, reply *ReplyRef) error {
	now := time.Now().UTC()
	uri, cid, err := s.publisher.CreatePost(ctx, post.UserID, post.Content, now, reply)
	if err != nil {
		return s.recordFailure(ctx, post, err)
	}

	rkey := trailingPathSegment(uri)
	if markErr := s.repo.MarkCompleted(ctx, post.ID, now, uri, cid, rkey); markErr != nil {
		return fmt.Errorf("post %s published but status update failed: %w", post.ID, markErr)
	}
	post.Status = StatusCompleted
	post.BlueskyURI = uri
	post.BlueskyCID = cid
	post.BlueskyRkey = rkey

	slog.Info("published scheduled post", "post_id", post.ID, "uri", uri)
	return nil
}

// recordFailure applies the retry policy after a failed attempt: back to
// PENDING with a not-before gate while attempts remain, FAILED plus a
// failure record otherwise. The attempt that reaches the budget is
// terminal; with a budget of 3, the third transient failure fails the
// post and nothing schedules a fourth attempt.
func (s *postService) recordFailure(ctx context.Context, post *ScheduledPost, cause error) error {
	attempt := post.RetryCount + 1

	if xrpc.Retryable(cause) && attempt < MaxRetry {
		notBefore := time.Now().UTC().Add(RetryDelay(attempt))
		if err := s.repo.MarkRetry(ctx, post.ID, cause.Error(), notBefore); err != nil {
			return fmt.Errorf("failed to schedule retry for post %s: %w", post.ID, err)
		}
		post.Status = StatusPending
		post.RetryCount = attempt
		slog.Warn("post attempt failed, retry scheduled",
			"post_id", post.ID, "attempt", attempt, "not_before", notBefore, "error", cause)
		return cause
	}

	// A transient failure that exhausts the budget still counts as an
	// attempt; a permanent failure keeps the count it arrived with.
	finalCount := post.RetryCount
	if xrpc.Retryable(cause) {
		finalCount = attempt
	}
	if err := s.repo.MarkFailed(ctx, post.ID, cause.Error(), finalCount); err != nil {
		return fmt.Errorf("failed to mark post %s failed: %w", post.ID, err)
	}
	post.Status = StatusFailed
	post.RetryCount = finalCount
	slog.Error("post permanently failed",
		"post_id", post.ID, "attempts", finalCount, "error", cause)
	return cause
}

// ExecuteThread publishes a thread strictly in (threadIndex, createdAt)
// order. The first terminal failure cancels every later post; posts that
// already completed are left alone; a retryable failure pauses the thread
// until the retried post succeeds on a later scan.
func (s *postService) ExecuteThread(ctx context.Context, root *ScheduledPost) error {
	rootID := root.ThreadRootID
	if rootID == "" {
		rootID = root.ID
	}
	thread, err := s.repo.GetThread(ctx, rootID)
	if err != nil {
		return fmt.Errorf("failed to load thread %s: %w", rootID, err)
	}

	var rootURI, rootCID, prevURI, prevCID string
	for i, p := range thread {
		switch p.Status {
		case StatusCompleted:
			if i == 0 {
				rootURI, rootCID = p.BlueskyURI, p.BlueskyCID
			}
			prevURI, prevCID = p.BlueskyURI, p.BlueskyCID
			continue
		case StatusCancelled, StatusFailed:
			// Remainder was already cancelled on a previous failure
			return nil
		}

		claimed, claimErr := s.repo.ClaimForExecution(ctx, p.ID)
		if claimErr != nil {
			return fmt.Errorf("failed to claim thread post %s: %w", p.ID, claimErr)
		}
		if !claimed {
			// Another worker owns this thread; leave it to them
			return ErrAlreadyClaimed
		}

		var reply *ReplyRef
		if i > 0 {
			reply = &ReplyRef{RootURI: rootURI, RootCID: rootCID, ParentURI: prevURI, ParentCID: prevCID}
		}

		if pubErr := s.publish(ctx, p, reply); pubErr != nil {
			if p.Status == StatusFailed {
				s.cancelRemainder(ctx, thread[i+1:])
			}
			return pubErr
		}

		if i == 0 {
			rootURI, rootCID = p.BlueskyURI, p.BlueskyCID
		}
		prevURI, prevCID = p.BlueskyURI, p.BlueskyCID
	}

	return nil
}

func (s *postService) cancelRemainder(ctx context.Context, remainder []*ScheduledPost) {
	for _, p := range remainder {
		if _, err := s.repo.Cancel(ctx, p.ID, CancelReasonParentFailed); err != nil {
			slog.Error("failed to cancel thread remainder", "post_id", p.ID, "error", err)
		}
	}
}

// trailingPathSegment extracts the record key from an AT-URI
// (at://did:plc:xyz/app.bsky.feed.post/<rkey>).
func trailingPathSegment(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			return uri[i+1:]
		}
	}
	return uri
}
