package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type storeService struct {
	repo  SessionRepository
	vault *Vault
}

// NewStore creates the token store backed by the given repository and vault.
func NewStore(repo SessionRepository, vault *Vault) Store {
	return &storeService{repo: repo, vault: vault}
}

func (s *storeService) Put(ctx context.Context, req PutRequest) (string, error) {
	if req.AccessToken == "" || req.RefreshToken == "" || req.DPoPPrivateJWK == "" {
		return "", ErrEmptyTokens
	}
	if req.AccessExpiresAt.After(req.RefreshExpiresAt) {
		return "", ErrInvalidExpiry
	}

	accessEnc, err := s.vault.Encrypt(req.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := s.vault.Encrypt(req.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	keyEnc, err := s.vault.Encrypt(req.DPoPPrivateJWK)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt DPoP key: %w", err)
	}

	now := time.Now().UTC()
	created, err := s.repo.Create(ctx, &AuthSession{
		UserID:           req.UserID,
		AccessTokenEnc:   accessEnc,
		RefreshTokenEnc:  refreshEnc,
		DPoPPrivateEnc:   keyEnc,
		DPoPPublicJWK:    req.DPoPPublicJWK,
		DPoPKeyID:        req.DPoPKeyID,
		AccessExpiresAt:  req.AccessExpiresAt.UTC(),
		RefreshExpiresAt: req.RefreshExpiresAt.UTC(),
		UserAgent:        req.UserAgent,
		SourceAddr:       req.SourceAddr,
		IsActive:         true,
		LastUsedAt:       now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	return created.ID, nil
}

func (s *storeService) Get(ctx context.Context, sessionID string) (*Material, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.decrypt(ctx, sess)
}

func (s *storeService) GetMostRecentActive(ctx context.Context, userID string) (*Material, error) {
	sess, err := s.repo.GetMostRecentActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.decrypt(ctx, sess)
}

// decrypt enforces the liveness checks and unseals the stored material.
// A ciphertext that fails authentication permanently disables the session.
func (s *storeService) decrypt(ctx context.Context, sess *AuthSession) (*Material, error) {
	now := time.Now().UTC()
	if !sess.IsActive {
		if sess.RevokedAt != nil {
			return nil, fmt.Errorf("%w: %s", ErrSessionRevoked, sess.RevokeReason)
		}
		return nil, ErrSessionExpired
	}
	if !sess.RefreshExpiresAt.After(now) {
		return nil, ErrSessionExpired
	}

	access, err := s.vault.Decrypt(sess.AccessTokenEnc)
	if err == nil {
		var refresh, privateJWK string
		if refresh, err = s.vault.Decrypt(sess.RefreshTokenEnc); err == nil {
			privateJWK, err = s.vault.Decrypt(sess.DPoPPrivateEnc)
			if err == nil {
				_ = s.repo.Touch(ctx, sess.ID, now)
				return &Material{
					SessionID:        sess.ID,
					UserID:           sess.UserID,
					AccessToken:      access,
					RefreshToken:     refresh,
					DPoPPrivateJWK:   privateJWK,
					DPoPPublicJWK:    sess.DPoPPublicJWK,
					DPoPKeyID:        sess.DPoPKeyID,
					AccessExpiresAt:  sess.AccessExpiresAt,
					RefreshExpiresAt: sess.RefreshExpiresAt,
				}, nil
			}
		}
	}

	if errors.Is(err, ErrCryptoFailure) {
		// Decryption failures are fatal for the session: deactivate and
		// surface as an authentication error, never silently retry.
		slog.Error("session ciphertext failed authentication, revoking",
			"session_id", sess.ID)
		if revokeErr := s.repo.Revoke(ctx, sess.ID, RevokeReasonCryptoFailure, now); revokeErr != nil {
			slog.Error("failed to revoke session after crypto failure",
				"session_id", sess.ID, "error", revokeErr)
		}
	}
	return nil, err
}

func (s *storeService) Rotate(ctx context.Context, req RotateRequest) error {
	if req.AccessToken == "" || req.RefreshToken == "" {
		return ErrEmptyTokens
	}
	if req.AccessExpiresAt.After(req.RefreshExpiresAt) {
		return ErrInvalidExpiry
	}

	accessEnc, err := s.vault.Encrypt(req.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := s.vault.Encrypt(req.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	update := RotateUpdate{
		SessionID:        req.SessionID,
		AccessTokenEnc:   accessEnc,
		RefreshTokenEnc:  refreshEnc,
		AccessExpiresAt:  req.AccessExpiresAt.UTC(),
		RefreshExpiresAt: req.RefreshExpiresAt.UTC(),
	}

	// DPoP key rotation rides in the same transactional update
	if req.DPoPPrivateJWK != "" {
		keyEnc, encErr := s.vault.Encrypt(req.DPoPPrivateJWK)
		if encErr != nil {
			return fmt.Errorf("failed to encrypt DPoP key: %w", encErr)
		}
		update.DPoPPrivateEnc = keyEnc
		update.DPoPPublicJWK = req.DPoPPublicJWK
		update.DPoPKeyID = req.DPoPKeyID
	}

	if err := s.repo.Rotate(ctx, update); err != nil {
		return fmt.Errorf("failed to rotate session %s: %w", req.SessionID, err)
	}
	return nil
}

func (s *storeService) Revoke(ctx context.Context, sessionID, reason string) error {
	if err := s.repo.Revoke(ctx, sessionID, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke session %s: %w", sessionID, err)
	}
	return nil
}

func (s *storeService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeactivateExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	if n > 0 {
		slog.Info("deactivated expired auth sessions", "count", n)
	}
	return n, nil
}
