package sessions

import (
	"time"
)

// Revocation reasons recorded on auth_sessions.revoke_reason.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonRefreshRejected = "refresh_rejected"
	RevokeReasonCryptoFailure   = "CRYPTO_FAILURE"
)

// AuthSession is the persisted form of a delegation: encrypted OAuth
// tokens plus the DPoP key material bound to them. One user may own many
// sessions (one per browser or device).
//
// Invariants: AccessExpiresAt <= RefreshExpiresAt; an active session has
// non-empty ciphertexts; a revoked session is never reactivated.
type AuthSession struct {
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	LastUsedAt       time.Time  `db:"last_used_at"`
	AccessExpiresAt  time.Time  `db:"access_expires_at"`
	RefreshExpiresAt time.Time  `db:"refresh_expires_at"`
	RevokedAt        *time.Time `db:"revoked_at"`
	ID               string     `db:"id"`
	UserID           string     `db:"user_id"`
	AccessTokenEnc   string     `db:"access_token_enc"`
	RefreshTokenEnc  string     `db:"refresh_token_enc"`
	DPoPPrivateEnc   string     `db:"dpop_private_jwk_enc"`
	DPoPPublicJWK    string     `db:"dpop_public_jwk"`
	DPoPKeyID        string     `db:"dpop_key_id"`
	UserAgent        string     `db:"user_agent"`
	SourceAddr       string     `db:"source_addr"`
	RevokeReason     string     `db:"revoke_reason"`
	IsActive         bool       `db:"is_active"`
}

// Material is the decrypted working set handed to AuthCore and the
// network client. It exists only in process memory for the lifetime of a
// request and must never be persisted.
type Material struct {
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	AccessToken      string
	RefreshToken     string
	DPoPPrivateJWK   string
	DPoPPublicJWK    string
	DPoPKeyID        string
}

// PutRequest carries the plaintext material for a brand-new session.
type PutRequest struct {
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	AccessToken      string
	RefreshToken     string
	DPoPPrivateJWK   string
	DPoPPublicJWK    string
	DPoPKeyID        string
	UserAgent        string
	SourceAddr       string
}

// RotateRequest carries the replacement material applied by a token
// refresh. The DPoP fields are optional: empty means the session keeps
// its current key pair.
type RotateRequest struct {
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	AccessToken      string
	RefreshToken     string
	DPoPPrivateJWK   string
	DPoPPublicJWK    string
	DPoPKeyID        string
}
