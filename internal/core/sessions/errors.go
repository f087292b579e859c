package sessions

import "errors"

var (
	// ErrSessionNotFound indicates the requested session doesn't exist
	ErrSessionNotFound = errors.New("auth session not found")

	// ErrSessionExpired indicates the session is inactive or its refresh
	// token has passed its expiry; callers must re-authenticate
	ErrSessionExpired = errors.New("auth session expired")

	// ErrSessionRevoked indicates the session was revoked and can never
	// be reactivated
	ErrSessionRevoked = errors.New("auth session revoked")

	// ErrCryptoFailure indicates stored ciphertext failed authentication.
	// Fatal for the session: it is deactivated and never silently retried.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrInvalidExpiry indicates access expiry exceeds refresh expiry
	ErrInvalidExpiry = errors.New("access expiry must not exceed refresh expiry")

	// ErrEmptyTokens indicates an active session would be stored with
	// empty token material
	ErrEmptyTokens = errors.New("tokens must not be empty")
)
