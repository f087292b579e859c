package users

import (
	"context"
	"fmt"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

type userService struct {
	repo UserRepository
}

// NewUserService creates a new user service
func NewUserService(repo UserRepository) UserService {
	return &userService{repo: repo}
}

// UpsertUser validates identity strings and creates or refreshes the user row.
func (s *userService) UpsertUser(ctx context.Context, req UpsertUserRequest) (*User, error) {
	if _, err := syntax.ParseDID(req.DID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDID, req.DID)
	}
	if _, err := syntax.ParseHandle(req.Handle); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, req.Handle)
	}

	user, err := s.repo.Upsert(ctx, &User{
		DID:      req.DID,
		Handle:   req.Handle,
		IsActive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *userService) GetUserByDID(ctx context.Context, did string) (*User, error) {
	if _, err := syntax.ParseDID(did); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDID, did)
	}
	return s.repo.GetByDID(ctx, did)
}
