package oauth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DPoP (Demonstrating Proof of Possession) - RFC 9449
// Binds access tokens to a session-held keypair via per-request proofs

// GenerateDPoPKey generates a new ES256 (NIST P-256) keypair for DPoP.
// Each AuthSession gets its own key; other algorithms are never produced.
func GenerateDPoPKey() (jwk.Key, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	jwkKey, err := jwk.FromRaw(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from private key: %w", err)
	}

	if err := jwkKey.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}
	if err := jwkKey.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}

	return jwkKey, nil
}

// KeyThumbprint returns the RFC 7638 JWK thumbprint (base64url SHA-256
// over the canonical {crv,kty,x,y} form). Stable across serialize and
// deserialize, so it serves as the key identifier.
func KeyThumbprint(key jwk.Key) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// NormalizeHTU reduces a request URL to scheme + host + path for the
// htu claim. Query and fragment are stripped per RFC 9449.
func NormalizeHTU(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid htu URL: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// CreateDPoPProof creates a DPoP proof JWT for an HTTP request.
//   - privateKey: the session's DPoP private key (ES256) as JWK
//   - method: HTTP method, uppercased into the htm claim
//   - uri: full request URL; normalized to scheme+host+path for htu
//   - nonce: last server-issued nonce for the host, empty if none yet
//   - accessToken: when non-empty, its SHA-256 hash is bound via ath
//
// Proofs are never reused; every call mints a fresh jti.
func CreateDPoPProof(privateKey jwk.Key, method, uri, nonce, accessToken string) (string, error) {
	pubKey, err := privateKey.PublicKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	htu, err := NormalizeHTU(uri)
	if err != nil {
		return "", err
	}

	builder := jwt.NewBuilder().
		Claim("htm", strings.ToUpper(method)).
		Claim("htu", htu).
		Claim("iat", time.Now().Unix()).
		Claim("jti", generateJTI())

	if nonce != "" {
		builder = builder.Claim("nonce", nonce)
	}
	if accessToken != "" {
		builder = builder.Claim("ath", hashAccessToken(accessToken))
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build JWT: %w", err)
	}

	payloadBytes, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}

	// RFC 9449 requires the "jwk" header to carry the public key as a
	// JSON object alongside typ=dpop+jwt
	headers := jws.NewHeaders()
	if setErr := headers.Set(jws.AlgorithmKey, jwa.ES256); setErr != nil {
		return "", fmt.Errorf("failed to set algorithm: %w", setErr)
	}
	if setErr := headers.Set(jws.TypeKey, "dpop+jwt"); setErr != nil {
		return "", fmt.Errorf("failed to set type: %w", setErr)
	}
	if setErr := headers.Set(jws.JWKKey, pubKey); setErr != nil {
		return "", fmt.Errorf("failed to set JWK: %w", setErr)
	}

	// jwt.Sign() overrides headers, so sign the payload with jws directly
	signed, err := jws.Sign(payloadBytes, jws.WithKey(jwa.ES256, privateKey, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return string(signed), nil
}

// generateJTI generates a unique JWT ID for DPoP proofs
func generateJTI() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// hashAccessToken creates the 'ath' (access token hash) claim
// ath = base64url(SHA-256(access_token))
func hashAccessToken(accessToken string) string {
	hash := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ParseJWKFromJSON parses a JWK from JSON bytes. Non-P-256 keys are
// rejected so a tampered stored key cannot downgrade the proof alg.
func ParseJWKFromJSON(data []byte) (jwk.Key, error) {
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWK: %w", err)
	}
	if key.KeyType() != jwa.EC {
		return nil, fmt.Errorf("unsupported DPoP key type %q", key.KeyType())
	}
	if crv, ok := key.Get(jwk.ECDSACrvKey); !ok || crv != jwa.P256 {
		return nil, fmt.Errorf("unsupported DPoP curve, want P-256")
	}
	return key, nil
}

// JWKToJSON converts a JWK to JSON bytes
func JWKToJSON(key jwk.Key) ([]byte, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWK: %w", err)
	}
	return data, nil
}
