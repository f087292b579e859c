package users

import "errors"

var (
	// ErrUserNotFound indicates the requested user doesn't exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidDID indicates the DID is malformed
	ErrInvalidDID = errors.New("invalid DID")

	// ErrInvalidHandle indicates the handle is malformed
	ErrInvalidHandle = errors.New("invalid handle")
)
