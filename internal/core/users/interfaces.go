package users

import "context"

// UserRepository defines the interface for user data persistence
type UserRepository interface {
	// Upsert creates the user identified by DID or updates its handle.
	// Idempotent: repeated calls with the same DID are safe.
	Upsert(ctx context.Context, user *User) (*User, error)

	GetByID(ctx context.Context, id string) (*User, error)
	GetByDID(ctx context.Context, did string) (*User, error)
}

// UserService defines the interface for user business logic
type UserService interface {
	// UpsertUser validates the identity strings and creates or refreshes
	// the user row. Called at the end of every OAuth callback.
	UpsertUser(ctx context.Context, req UpsertUserRequest) (*User, error)

	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByDID(ctx context.Context, did string) (*User, error)
}
