package postgres

import (
	"Postwing/internal/core/posts"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const postColumns = `id, user_id, content, status, scheduled_at, executed_at,
	not_before, retry_count, error_msg, bluesky_uri, bluesky_cid, bluesky_rkey,
	parent_post_id, thread_root_id, thread_index, is_thread_root,
	can_execute, is_deleted, archived_at, created_at, updated_at`

type postgresPostRepo struct {
	db *sql.DB
}

// NewPostRepository creates a new PostgreSQL scheduled post repository
func NewPostRepository(db *sql.DB) posts.PostRepository {
	return &postgresPostRepo{db: db}
}

func scanPost(row interface{ Scan(...interface{}) error }) (*posts.ScheduledPost, error) {
	p := &posts.ScheduledPost{}
	var executedAt, notBefore, archivedAt sql.NullTime
	var errorMsg, blueskyURI, blueskyCID, blueskyRkey, parentPostID, threadRootID sql.NullString

	err := row.Scan(&p.ID, &p.UserID, &p.Content, &p.Status, &p.ScheduledAt, &executedAt,
		&notBefore, &p.RetryCount, &errorMsg, &blueskyURI, &blueskyCID, &blueskyRkey,
		&parentPostID, &threadRootID, &p.ThreadIndex, &p.IsThreadRoot,
		&p.CanExecute, &p.IsDeleted, &archivedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if executedAt.Valid {
		t := executedAt.Time
		p.ExecutedAt = &t
	}
	if notBefore.Valid {
		t := notBefore.Time
		p.NotBefore = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		p.ArchivedAt = &t
	}
	p.ErrorMsg = errorMsg.String
	p.BlueskyURI = blueskyURI.String
	p.BlueskyCID = blueskyCID.String
	p.BlueskyRkey = blueskyRkey.String
	p.ParentPostID = parentPostID.String
	p.ThreadRootID = threadRootID.String
	return p, nil
}

// nullable maps "" to NULL for optional foreign keys
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new scheduled post in PENDING
func (r *postgresPostRepo) Create(ctx context.Context, post *posts.ScheduledPost) (*posts.ScheduledPost, error) {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}

	query := `
		INSERT INTO scheduled_posts (id, user_id, content, status, scheduled_at,
			parent_post_id, thread_root_id, thread_index, is_thread_root, can_execute)
		VALUES ($1, $2, $3, 'PENDING', $4, $5, $6, $7, $8, true)
		RETURNING ` + postColumns

	row := r.db.QueryRowContext(ctx, query,
		post.ID, post.UserID, post.Content, post.ScheduledAt,
		nullable(post.ParentPostID), nullable(post.ThreadRootID),
		post.ThreadIndex, post.IsThreadRoot)

	created, err := scanPost(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return created, nil
}

// GetByID retrieves a post by id
func (r *postgresPostRepo) GetByID(ctx context.Context, id string) (*posts.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1 AND is_deleted = false`

	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, posts.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, nil
}

// List returns a page of the user's posts, optionally filtered by
// status, newest schedule first, plus the unpaged total
func (r *postgresPostRepo) List(ctx context.Context, userID string, status posts.Status, page, limit int) ([]*posts.ScheduledPost, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	var total int
	var rows *sql.Rows
	var err error

	if status != "" {
		countQuery := `SELECT COUNT(*) FROM scheduled_posts WHERE user_id = $1 AND status = $2 AND is_deleted = false`
		if err := r.db.QueryRowContext(ctx, countQuery, userID, status).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count posts: %w", err)
		}
		query := `SELECT ` + postColumns + `
			FROM scheduled_posts
			WHERE user_id = $1 AND status = $2 AND is_deleted = false
			ORDER BY scheduled_at DESC
			LIMIT $3 OFFSET $4`
		rows, err = r.db.QueryContext(ctx, query, userID, status, limit, offset)
	} else {
		countQuery := `SELECT COUNT(*) FROM scheduled_posts WHERE user_id = $1 AND is_deleted = false`
		if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count posts: %w", err)
		}
		query := `SELECT ` + postColumns + `
			FROM scheduled_posts
			WHERE user_id = $1 AND is_deleted = false
			ORDER BY scheduled_at DESC
			LIMIT $2 OFFSET $3`
		rows, err = r.db.QueryContext(ctx, query, userID, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list posts: %w", err)
	}
	defer closeRows(rows)

	result, err := collectPosts(rows)
	if err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// Update rewrites content and schedule while the row is still PENDING
func (r *postgresPostRepo) Update(ctx context.Context, id, content string, scheduledAt time.Time) (*posts.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET content = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND is_deleted = false
		RETURNING ` + postColumns

	p, err := scanPost(r.db.QueryRowContext(ctx, query, id, content, scheduledAt))
	if err == sql.ErrNoRows {
		return nil, posts.ErrNotEditable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return p, nil
}

// ClaimForExecution is the PENDING→EXECUTING compare-and-set
func (r *postgresPostRepo) ClaimForExecution(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'EXECUTING', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND is_deleted = false`,
		id)
	if err != nil {
		return false, fmt.Errorf("failed to claim post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}
	return affected == 1, nil
}

// MarkCompleted records a successful publication
func (r *postgresPostRepo) MarkCompleted(ctx context.Context, id string, executedAt time.Time, uri, cid, rkey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'COMPLETED', executed_at = $2,
			bluesky_uri = $3, bluesky_cid = $4, bluesky_rkey = $5,
			error_msg = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'EXECUTING'`,
		id, executedAt, uri, cid, rkey)
	if err != nil {
		return fmt.Errorf("failed to mark post completed: %w", err)
	}
	return nil
}

// MarkRetry returns the post to PENDING with the retry gate set
func (r *postgresPostRepo) MarkRetry(ctx context.Context, id, errorMsg string, notBefore time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'PENDING', retry_count = retry_count + 1,
			error_msg = $2, not_before = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'EXECUTING'`,
		id, errorMsg, notBefore)
	if err != nil {
		return fmt.Errorf("failed to mark post for retry: %w", err)
	}
	return nil
}

// MarkFailed transitions to FAILED with the final attempt count and
// appends the failure record in the same transaction
func (r *postgresPostRepo) MarkFailed(ctx context.Context, id, errorMsg string, retryCount int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start fail transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("failed to rollback fail transaction",
				slog.String("post_id", id),
				slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'FAILED', error_msg = $2, retry_count = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'EXECUTING'`,
		id, errorMsg, retryCount); err != nil {
		return fmt.Errorf("failed to mark post failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO failure_records (id, post_id, error_msg)
		VALUES ($1, $2, $3)`,
		uuid.NewString(), id, errorMsg); err != nil {
		return fmt.Errorf("failed to write failure record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fail transaction: %w", err)
	}
	return nil
}

// Cancel is a CAS from PENDING to CANCELLED
func (r *postgresPostRepo) Cancel(ctx context.Context, id, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'CANCELLED', error_msg = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND is_deleted = false`,
		id, reason)
	if err != nil {
		return false, fmt.Errorf("failed to cancel post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check cancel result: %w", err)
	}
	return affected == 1, nil
}

// FindDue returns executable posts ordered by scheduled_at
func (r *postgresPostRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*posts.ScheduledPost, error) {
	query := `
		SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE status = 'PENDING'
			AND scheduled_at <= $1
			AND (not_before IS NULL OR not_before <= $1)
			AND can_execute = true
			AND is_deleted = false
		ORDER BY scheduled_at ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due posts: %w", err)
	}
	defer closeRows(rows)

	return collectPosts(rows)
}

// GetThread returns all posts sharing a thread root in execution order
func (r *postgresPostRepo) GetThread(ctx context.Context, threadRootID string) ([]*posts.ScheduledPost, error) {
	query := `
		SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE (thread_root_id = $1 OR id = $1) AND is_deleted = false
		ORDER BY thread_index ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, threadRootID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	defer closeRows(rows)

	return collectPosts(rows)
}

// ReclaimStuck reverts posts stuck in EXECUTING back to PENDING without
// touching retry_count
func (r *postgresPostRepo) ReclaimStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'PENDING', updated_at = NOW()
		WHERE status = 'EXECUTING' AND updated_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck posts: %w", err)
	}
	return result.RowsAffected()
}

// ArchiveCompleted stamps archived_at on old completed posts
func (r *postgresPostRepo) ArchiveCompleted(ctx context.Context, before time.Time) (int64, error) {
	return r.archive(ctx, posts.StatusCompleted, "executed_at", before)
}

// ArchiveFailed stamps archived_at on old failed posts
func (r *postgresPostRepo) ArchiveFailed(ctx context.Context, before time.Time) (int64, error) {
	return r.archive(ctx, posts.StatusFailed, "updated_at", before)
}

func (r *postgresPostRepo) archive(ctx context.Context, status posts.Status, tsColumn string, before time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE scheduled_posts
		SET archived_at = NOW()
		WHERE status = $1 AND archived_at IS NULL AND %s < $2`, tsColumn)

	result, err := r.db.ExecContext(ctx, query, status, before)
	if err != nil {
		return 0, fmt.Errorf("failed to archive %s posts: %w", status, err)
	}
	return result.RowsAffected()
}

func collectPosts(rows *sql.Rows) ([]*posts.ScheduledPost, error) {
	var result []*posts.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return result, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", slog.String("error", err.Error()))
	}
}
