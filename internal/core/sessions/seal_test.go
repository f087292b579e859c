package sessions

import (
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 bytes

func TestVaultRoundTrip(t *testing.T) {
	vault, err := NewVault(testSecret)
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	cases := []string{
		"short",
		"eyJhbGciOiJFUzI1NiJ9.some.access-token",
		strings.Repeat("x", 4096),
		`{"kty":"EC","crv":"P-256","x":"abc","y":"def","d":"secret"}`,
	}

	for _, plaintext := range cases {
		sealed, err := vault.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}

		// Stored form is three separator-delimited base64url parts
		if parts := strings.Split(sealed, "."); len(parts) != 3 {
			t.Fatalf("Expected 3 parts in sealed form, got %d", len(parts))
		}

		got, err := vault.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Errorf("Round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestVaultFreshIV(t *testing.T) {
	vault, err := NewVault(testSecret)
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	a, err := vault.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := vault.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if a == b {
		t.Error("Two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestVaultRejectsShortSecret(t *testing.T) {
	if _, err := NewVault("too-short"); err == nil {
		t.Error("Expected error for secret shorter than 32 bytes")
	}
}

func TestVaultDetectsTampering(t *testing.T) {
	vault, err := NewVault(testSecret)
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	sealed, err := vault.Encrypt("sensitive token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip a character in the ciphertext part
	parts := strings.Split(sealed, ".")
	ct := []byte(parts[2])
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	parts[2] = string(ct)

	if _, err := vault.Decrypt(strings.Join(parts, ".")); err == nil {
		t.Error("Expected decryption of tampered ciphertext to fail")
	}
}

func TestVaultWrongKeyFails(t *testing.T) {
	vaultA, _ := NewVault(testSecret)
	vaultB, _ := NewVault("ffffffffffffffffffffffffffffffff")

	sealed, err := vaultA.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := vaultB.Decrypt(sealed); err == nil {
		t.Error("Expected decryption with wrong key to fail")
	}
}

func TestVaultMalformedInput(t *testing.T) {
	vault, _ := NewVault(testSecret)

	for _, input := range []string{"", "only-one-part", "two.parts", "a.b.c.d", "!!!.@@@.###"} {
		if _, err := vault.Decrypt(input); err == nil {
			t.Errorf("Expected error decrypting malformed input %q", input)
		}
	}
}
