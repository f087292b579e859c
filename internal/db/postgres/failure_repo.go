package postgres

import (
	"Postwing/internal/core/posts"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type postgresFailureRepo struct {
	db *sql.DB
}

// NewFailureRepository creates a new PostgreSQL failure record repository
func NewFailureRepository(db *sql.DB) posts.FailureRepository {
	return &postgresFailureRepo{db: db}
}

// Append writes one failure observation. The log is append-only.
func (r *postgresFailureRepo) Append(ctx context.Context, postID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failure_records (id, post_id, error_msg)
		VALUES ($1, $2, $3)`,
		uuid.NewString(), postID, errorMsg)
	if err != nil {
		return fmt.Errorf("failed to append failure record: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes failure records past the retention window
func (r *postgresFailureRepo) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM failure_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge failure records: %w", err)
	}
	return result.RowsAffected()
}
