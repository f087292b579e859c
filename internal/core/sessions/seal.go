package sessions

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Vault encrypts tokens and DPoP private keys before they touch the
// database. AES-256-GCM with a fresh 12-byte IV per value.
//
// Stored form: base64url(iv) "." base64url(tag) "." base64url(ciphertext)
// so the three parts are unambiguously recoverable.
type Vault struct {
	key []byte
}

const gcmTagSize = 16

// NewVault derives the AES key from the configured secret via SHA-256.
// The secret must be at least 32 bytes; the raw secret is never logged
// or stored.
func NewVault(secret string) (*Vault, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 bytes, got %d", len(secret))
	}
	key := sha256.Sum256([]byte(secret))
	return &Vault{key: key[:]}, nil
}

// Encrypt seals a plaintext value for storage. Each call uses a fresh IV,
// so ciphertexts for identical plaintexts differ.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	// GCM.Seal returns ciphertext || tag; split them for the stored form
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	if len(sealed) < gcmTagSize {
		return "", fmt.Errorf("sealed output too short")
	}
	ct := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(iv),
		base64.RawURLEncoding.EncodeToString(tag),
		base64.RawURLEncoding.EncodeToString(ct),
	}, "."), nil
}

// Decrypt recovers a plaintext value from its stored form. Any
// tampering, truncation, or wrong-key decryption fails authentication.
func (v *Vault) Decrypt(stored string) (string, error) {
	parts := strings.Split(stored, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 parts, got %d", ErrCryptoFailure, len(parts))
	}

	iv, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: invalid IV encoding", ErrCryptoFailure)
	}
	tag, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: invalid tag encoding", ErrCryptoFailure)
	}
	ct, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrCryptoFailure)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcmTagSize {
		return "", fmt.Errorf("%w: malformed IV or tag", ErrCryptoFailure)
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	return string(plaintext), nil
}
