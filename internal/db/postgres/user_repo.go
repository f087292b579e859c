package postgres

import (
	"Postwing/internal/core/users"
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type postgresUserRepo struct {
	db *sql.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sql.DB) users.UserRepository {
	return &postgresUserRepo{db: db}
}

// Upsert inserts the user or refreshes the handle of an existing row
func (r *postgresUserRepo) Upsert(ctx context.Context, user *users.User) (*users.User, error) {
	query := `
		INSERT INTO users (id, did, handle, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (did) DO UPDATE
		SET handle = EXCLUDED.handle, is_active = true, updated_at = NOW()
		RETURNING id, did, handle, is_active, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, uuid.NewString(), user.DID, user.Handle).
		Scan(&user.ID, &user.DID, &user.Handle, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by internal id
func (r *postgresUserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	user := &users.User{}
	query := `SELECT id, did, handle, is_active, created_at, updated_at FROM users WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.DID, &user.Handle, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// GetByDID retrieves a user by their DID
func (r *postgresUserRepo) GetByDID(ctx context.Context, did string) (*users.User, error) {
	user := &users.User{}
	query := `SELECT id, did, handle, is_active, created_at, updated_at FROM users WHERE did = $1`

	err := r.db.QueryRowContext(ctx, query, did).
		Scan(&user.ID, &user.DID, &user.Handle, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by DID: %w", err)
	}

	return user, nil
}
