package sessions

import (
	"context"
	"time"
)

// SessionRepository defines the data access interface for auth sessions.
// Values cross this boundary only in encrypted form.
type SessionRepository interface {
	Create(ctx context.Context, session *AuthSession) (*AuthSession, error)

	GetByID(ctx context.Context, id string) (*AuthSession, error)

	// GetMostRecentActiveByUser returns the active session with the
	// latest last_used_at for the user, or ErrSessionNotFound.
	GetMostRecentActiveByUser(ctx context.Context, userID string) (*AuthSession, error)

	// Rotate overwrites token ciphertexts (and optionally the DPoP key
	// columns) and advances expiries, in a single transaction that also
	// appends an audit row. Prior ciphertexts are not kept.
	Rotate(ctx context.Context, req RotateUpdate) error

	// Revoke deactivates the session and stamps revoked_at. Idempotent;
	// an already-revoked session keeps its original reason and timestamp.
	Revoke(ctx context.Context, id, reason string, at time.Time) error

	// Touch advances last_used_at.
	Touch(ctx context.Context, id string, at time.Time) error

	// DeactivateExpired bulk-deactivates active sessions whose refresh
	// expiry has passed. Returns the number of rows changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// RotateUpdate is the encrypted form of a rotation handed to the repository.
type RotateUpdate struct {
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	AccessTokenEnc   string
	RefreshTokenEnc  string
	DPoPPrivateEnc   string // empty: keep current key
	DPoPPublicJWK    string
	DPoPKeyID        string
}

// Store is the token store contract: confidentiality at rest plus atomic
// rotation. It is the sole writer of session rows.
type Store interface {
	// Put encrypts the material (distinct IVs per value) and writes a new
	// active session row. Returns the new session id.
	Put(ctx context.Context, req PutRequest) (string, error)

	// Get returns decrypted material for an active, unexpired session.
	Get(ctx context.Context, sessionID string) (*Material, error)

	// GetMostRecentActive returns decrypted material for the user's most
	// recently used active session.
	GetMostRecentActive(ctx context.Context, userID string) (*Material, error)

	// Rotate atomically replaces tokens (and optionally the DPoP key).
	Rotate(ctx context.Context, req RotateRequest) error

	// Revoke deactivates a session. Idempotent.
	Revoke(ctx context.Context, sessionID, reason string) error

	// PurgeExpired deactivates sessions past their refresh expiry.
	PurgeExpired(ctx context.Context) (int64, error)
}
