package postgres

import (
	"Postwing/internal/core/sessions"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, access_token_enc, refresh_token_enc,
	dpop_private_jwk_enc, dpop_public_jwk, dpop_key_id,
	access_expires_at, refresh_expires_at, is_active,
	revoked_at, revoke_reason, user_agent, source_addr,
	last_used_at, created_at, updated_at`

type postgresSessionRepo struct {
	db *sql.DB
}

// NewSessionRepository creates a new PostgreSQL auth session repository
func NewSessionRepository(db *sql.DB) sessions.SessionRepository {
	return &postgresSessionRepo{db: db}
}

func scanSession(row interface{ Scan(...interface{}) error }) (*sessions.AuthSession, error) {
	s := &sessions.AuthSession{}
	var revokedAt sql.NullTime
	var revokeReason, userAgent, sourceAddr sql.NullString

	err := row.Scan(&s.ID, &s.UserID, &s.AccessTokenEnc, &s.RefreshTokenEnc,
		&s.DPoPPrivateEnc, &s.DPoPPublicJWK, &s.DPoPKeyID,
		&s.AccessExpiresAt, &s.RefreshExpiresAt, &s.IsActive,
		&revokedAt, &revokeReason, &userAgent, &sourceAddr,
		&s.LastUsedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	s.RevokeReason = revokeReason.String
	s.UserAgent = userAgent.String
	s.SourceAddr = sourceAddr.String
	return s, nil
}

// Create inserts a new session row with encrypted token material
func (r *postgresSessionRepo) Create(ctx context.Context, session *sessions.AuthSession) (*sessions.AuthSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	query := `
		INSERT INTO auth_sessions (id, user_id, access_token_enc, refresh_token_enc,
			dpop_private_jwk_enc, dpop_public_jwk, dpop_key_id,
			access_expires_at, refresh_expires_at, is_active,
			user_agent, source_addr, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $11, NOW())
		RETURNING ` + sessionColumns

	row := r.db.QueryRowContext(ctx, query,
		session.ID, session.UserID, session.AccessTokenEnc, session.RefreshTokenEnc,
		session.DPoPPrivateEnc, session.DPoPPublicJWK, session.DPoPKeyID,
		session.AccessExpiresAt, session.RefreshExpiresAt,
		session.UserAgent, session.SourceAddr)

	created, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// GetByID retrieves a session by id
func (r *postgresSessionRepo) GetByID(ctx context.Context, id string) (*sessions.AuthSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM auth_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetMostRecentActiveByUser returns the user's active session with the
// latest last_used_at
func (r *postgresSessionRepo) GetMostRecentActiveByUser(ctx context.Context, userID string) (*sessions.AuthSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM auth_sessions
		WHERE user_id = $1 AND is_active = true AND refresh_expires_at > NOW()
		ORDER BY last_used_at DESC
		LIMIT 1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return s, nil
}

// Rotate replaces ciphertexts and expiries, and appends the audit row,
// in one transaction
func (r *postgresSessionRepo) Rotate(ctx context.Context, req sessions.RotateUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rotate transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("failed to rollback rotate transaction",
				slog.String("session_id", req.SessionID),
				slog.String("error", err.Error()))
		}
	}()

	var result sql.Result
	if req.DPoPPrivateEnc != "" {
		result, err = tx.ExecContext(ctx, `
			UPDATE auth_sessions
			SET access_token_enc = $2, refresh_token_enc = $3,
				access_expires_at = $4, refresh_expires_at = $5,
				dpop_private_jwk_enc = $6, dpop_public_jwk = $7, dpop_key_id = $8,
				updated_at = NOW()
			WHERE id = $1 AND is_active = true`,
			req.SessionID, req.AccessTokenEnc, req.RefreshTokenEnc,
			req.AccessExpiresAt, req.RefreshExpiresAt,
			req.DPoPPrivateEnc, req.DPoPPublicJWK, req.DPoPKeyID)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE auth_sessions
			SET access_token_enc = $2, refresh_token_enc = $3,
				access_expires_at = $4, refresh_expires_at = $5,
				updated_at = NOW()
			WHERE id = $1 AND is_active = true`,
			req.SessionID, req.AccessTokenEnc, req.RefreshTokenEnc,
			req.AccessExpiresAt, req.RefreshExpiresAt)
	}
	if err != nil {
		return fmt.Errorf("failed to rotate session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rotate result: %w", err)
	}
	if affected == 0 {
		return sessions.ErrSessionNotFound
	}

	action := "token_rotation"
	if req.DPoPPrivateEnc != "" {
		action = "token_rotation_with_key"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, session_id, action, detail)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), req.SessionID, action, ""); err != nil {
		return fmt.Errorf("failed to write rotation audit row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rotate transaction: %w", err)
	}
	return nil
}

// Revoke deactivates the session. Idempotent: an already-revoked row
// keeps its original reason and timestamp
func (r *postgresSessionRepo) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start revoke transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("failed to rollback revoke transaction",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions
		SET is_active = false, revoked_at = $2, revoke_reason = $3, updated_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL`,
		id, at, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if affected > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (id, session_id, action, detail)
			VALUES ($1, $2, 'session_revoked', $3)`,
			uuid.NewString(), id, reason); err != nil {
			return fmt.Errorf("failed to write revocation audit row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revoke transaction: %w", err)
	}
	return nil
}

// Touch advances last_used_at
func (r *postgresSessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeactivateExpired bulk-deactivates sessions past their refresh expiry
func (r *postgresSessionRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET is_active = false, revoked_at = $1, revoke_reason = 'expired', updated_at = NOW()
		WHERE is_active = true AND refresh_expires_at <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired sessions: %w", err)
	}
	return result.RowsAffected()
}
