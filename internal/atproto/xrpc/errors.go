package xrpc

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an outbound call's failure the way callers act on it:
// PostService does retry accounting on TRANSIENT/RATE_LIMITED, the HTTP
// boundary maps AUTH_* to 401, everything unrecognized becomes a server
// error.
type Kind string

const (
	KindAuthExpired  Kind = "AUTH_EXPIRED"
	KindAuthRejected Kind = "AUTH_REJECTED"
	KindAuthNonce    Kind = "AUTH_NONCE_FAILURE"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindTransient    Kind = "TRANSIENT"
	KindPermanent    Kind = "PERMANENT"
)

// Error is a classified failure from the network client.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	RetryAfter time.Duration // set for RATE_LIMITED
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the classification from an error chain, or "" when the
// error did not come from the network client.
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}

// Retryable reports whether the failure is worth another attempt later
// (transient upstream trouble or a rate-limit window).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}
