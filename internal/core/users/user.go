package users

import (
	"time"
)

// User represents a network account that has delegated posting authority
// to Postwing. Created on first successful authorization; never deleted
// while an auth session still points at it.
type User struct {
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	ID        string    `json:"id" db:"id"`
	DID       string    `json:"did" db:"did"`
	Handle    string    `json:"handle" db:"handle"`
	IsActive  bool      `json:"isActive" db:"is_active"`
}

// UpsertUserRequest is the input for creating or refreshing a user row
// after an OAuth callback resolves the account's identity.
type UpsertUserRequest struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}
