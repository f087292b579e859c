package oauth

import "errors"

var (
	// ErrStateNotFound means the callback presented a state that was
	// never issued, already used, or expired.
	ErrStateNotFound = errors.New("oauth state not found or expired")

	// ErrVerifierMismatch means the presented PKCE verifier does not
	// match the one stored for the state.
	ErrVerifierMismatch = errors.New("pkce verifier mismatch")

	// ErrRefreshRejected means the authorization server returned
	// invalid_grant for a refresh: the session is permanently broken.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrNonceRetryExhausted means the server demanded a DPoP nonce
	// twice in a row even after re-minting the proof.
	ErrNonceRetryExhausted = errors.New("dpop nonce retry exhausted")

	// ErrTooManyPending means the pending-authorization map is full.
	ErrTooManyPending = errors.New("too many pending authorizations")
)
