package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Postwing/internal/core/sessions"
	"Postwing/internal/core/users"
)

type fakeStore struct {
	mu       sync.Mutex
	material *sessions.Material
	puts     []sessions.PutRequest
	rotates  []sessions.RotateRequest
	revoked  map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{revoked: make(map[string]string)}
}

func (s *fakeStore) Put(_ context.Context, req sessions.PutRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, req)
	return fmt.Sprintf("sess-%d", len(s.puts)), nil
}

func (s *fakeStore) Get(_ context.Context, sessionID string) (*sessions.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.material == nil || s.material.SessionID != sessionID {
		return nil, sessions.ErrSessionNotFound
	}
	m := *s.material
	return &m, nil
}

func (s *fakeStore) GetMostRecentActive(_ context.Context, _ string) (*sessions.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.material == nil {
		return nil, sessions.ErrSessionNotFound
	}
	m := *s.material
	return &m, nil
}

func (s *fakeStore) Rotate(_ context.Context, req sessions.RotateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotates = append(s.rotates, req)
	s.material.AccessToken = req.AccessToken
	s.material.RefreshToken = req.RefreshToken
	s.material.AccessExpiresAt = req.AccessExpiresAt
	s.material.RefreshExpiresAt = req.RefreshExpiresAt
	return nil
}

func (s *fakeStore) Revoke(_ context.Context, sessionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.revoked[sessionID]; !done {
		s.revoked[sessionID] = reason
	}
	return nil
}

func (s *fakeStore) PurgeExpired(_ context.Context) (int64, error) { return 0, nil }

type fakeUserSvc struct{}

func (fakeUserSvc) UpsertUser(_ context.Context, req users.UpsertUserRequest) (*users.User, error) {
	return &users.User{ID: "u1", DID: req.DID, Handle: req.Handle, IsActive: true}, nil
}
func (fakeUserSvc) GetUser(_ context.Context, _ string) (*users.User, error) {
	return nil, users.ErrUserNotFound
}
func (fakeUserSvc) GetUserByDID(_ context.Context, _ string) (*users.User, error) {
	return nil, users.ErrUserNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, serverURL string, store sessions.Store) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ClientID:      "https://app.example.com/client-metadata.json",
		RedirectURI:   "https://app.example.com/auth/callback",
		Scope:         "atproto transition:generic",
		AuthEndpoint:  serverURL + "/oauth/authorize",
		TokenEndpoint: serverURL + "/oauth/token",
		PDSURL:        serverURL,
	}, store, fakeUserSvc{}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// seededMaterial installs an almost-expired session backed by a real
// DPoP key so a refresh is forced.
func seededMaterial(t *testing.T, store *fakeStore) {
	t.Helper()
	key, err := GenerateDPoPKey()
	if err != nil {
		t.Fatalf("GenerateDPoPKey: %v", err)
	}
	privJSON, err := JWKToJSON(key)
	if err != nil {
		t.Fatalf("JWKToJSON: %v", err)
	}
	store.material = &sessions.Material{
		SessionID:        "sess-1",
		UserID:           "u1",
		AccessToken:      "stale-access",
		RefreshToken:     "refresh-1",
		AccessExpiresAt:  time.Now().UTC().Add(5 * time.Second),
		RefreshExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		DPoPPrivateJWK:   string(privJSON),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestAuthorizeURLCarriesPKCE(t *testing.T) {
	c := newTestClient(t, "https://pds.example.com", newFakeStore())

	authURL, state, verifier, err := c.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	q := u.Query()

	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q, want code", q.Get("response_type"))
	}
	if q.Get("state") != state {
		t.Errorf("state param %q != returned state %q", q.Get("state"), state)
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
	if len(verifier) < 43 {
		t.Errorf("verifier length %d, want >= 43", len(verifier))
	}

	// The challenge must be base64url(SHA-256(verifier)), no padding.
	hash := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(hash[:])
	if q.Get("code_challenge") != want {
		t.Errorf("code_challenge = %q, want %q", q.Get("code_challenge"), want)
	}
}

func TestHandleCallbackFullFlow(t *testing.T) {
	var tokenRequests atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if r.FormValue("code_verifier") == "" {
			t.Error("missing code_verifier")
		}
		if r.Header.Get("DPoP") == "" {
			t.Error("missing DPoP proof on token request")
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "DPoP",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.getSession", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "DPoP access-1" {
			t.Errorf("Authorization = %q", got)
		}
		// Proof must be bound to the token via ath.
		parts := strings.Split(r.Header.Get("DPoP"), ".")
		if len(parts) != 3 {
			t.Fatalf("malformed DPoP proof")
		}
		payloadJSON, _ := base64.RawURLEncoding.DecodeString(parts[1])
		var payload map[string]interface{}
		json.Unmarshal(payloadJSON, &payload)
		if payload["ath"] == nil {
			t.Error("identity proof missing ath claim")
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"did":    "did:plc:abc123",
			"handle": "alice.example.com",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newFakeStore()
	c := newTestClient(t, srv.URL, store)

	_, state, verifier, err := c.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	res, err := c.HandleCallback(context.Background(), CallbackRequest{
		Code:              "code-1",
		State:             state,
		PresentedVerifier: verifier,
		UserAgent:         "test-agent",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if res.User.DID != "did:plc:abc123" {
		t.Errorf("DID = %q", res.User.DID)
	}
	if tokenRequests.Load() != 1 {
		t.Errorf("token requests = %d, want 1", tokenRequests.Load())
	}
	if len(store.puts) != 1 {
		t.Fatalf("session puts = %d, want 1", len(store.puts))
	}
	put := store.puts[0]
	if put.AccessToken != "access-1" || put.RefreshToken != "refresh-1" {
		t.Errorf("stored tokens = (%q, %q)", put.AccessToken, put.RefreshToken)
	}
	if put.DPoPKeyID == "" || put.DPoPPrivateJWK == "" || put.DPoPPublicJWK == "" {
		t.Error("DPoP key material not persisted")
	}
}

func TestHandleCallbackStateSingleUse(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", newFakeStore())

	_, state, verifier, err := c.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	// Consume it once with a doomed exchange (no server reachable), the
	// state is deleted regardless of the exchange outcome.
	c.HandleCallback(context.Background(), CallbackRequest{Code: "x", State: state, PresentedVerifier: verifier})

	_, err = c.HandleCallback(context.Background(), CallbackRequest{Code: "x", State: state, PresentedVerifier: verifier})
	if !errors.Is(err, ErrStateNotFound) {
		t.Errorf("second use error = %v, want ErrStateNotFound", err)
	}
}

func TestHandleCallbackVerifierMismatch(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", newFakeStore())

	_, state, _, err := c.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	_, err = c.HandleCallback(context.Background(), CallbackRequest{
		Code:              "x",
		State:             state,
		PresentedVerifier: "not-the-right-verifier-not-the-right-verifier",
	})
	if !errors.Is(err, ErrVerifierMismatch) {
		t.Errorf("error = %v, want ErrVerifierMismatch", err)
	}
}

func TestTokenExchangeNonceRetry(t *testing.T) {
	var requests atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n == 1 {
			w.Header().Set("DPoP-Nonce", "nonce-abc")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "use_dpop_nonce"})
			return
		}
		// Second attempt must carry the nonce in its proof.
		parts := strings.Split(r.Header.Get("DPoP"), ".")
		payloadJSON, _ := base64.RawURLEncoding.DecodeString(parts[1])
		var payload map[string]interface{}
		json.Unmarshal(payloadJSON, &payload)
		if payload["nonce"] != "nonce-abc" {
			t.Errorf("retry proof nonce = %v, want nonce-abc", payload["nonce"])
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.getSession", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc123", "handle": "alice.example.com"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newFakeStore()
	c := newTestClient(t, srv.URL, store)

	_, state, verifier, _ := c.AuthorizeURL()
	if _, err := c.HandleCallback(context.Background(), CallbackRequest{Code: "c", State: state, PresentedVerifier: verifier}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if requests.Load() != 2 {
		t.Errorf("token requests = %d, want 2 (original + nonce retry)", requests.Load())
	}
}

func TestTokenExchangeNonceRetryExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("DPoP-Nonce", "nonce-again")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "use_dpop_nonce"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL, newFakeStore())

	_, state, verifier, _ := c.AuthorizeURL()
	_, err := c.HandleCallback(context.Background(), CallbackRequest{Code: "c", State: state, PresentedVerifier: verifier})
	if !errors.Is(err, ErrNonceRetryExhausted) {
		t.Errorf("error = %v, want ErrNonceRetryExhausted", err)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	var outbound atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		outbound.Add(1)
		time.Sleep(50 * time.Millisecond)
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.FormValue("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-new",
			"refresh_token": "refresh-new",
			"expires_in":    3600,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newFakeStore()
	seededMaterial(t, store)
	c := newTestClient(t, srv.URL, store)

	var wg sync.WaitGroup
	results := make([]*sessions.Material, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.Refresh(context.Background(), "sess-1")
			if err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
			results[i] = m
		}(i)
	}
	wg.Wait()

	if outbound.Load() != 1 {
		t.Errorf("outbound refreshes = %d, want 1", outbound.Load())
	}
	for i, m := range results {
		if m == nil || m.AccessToken != "access-new" {
			t.Errorf("caller %d got stale material: %+v", i, m)
		}
	}
	if len(store.rotates) != 1 {
		t.Errorf("rotations = %d, want 1", len(store.rotates))
	}
}

func TestRefreshInvalidGrantRevokesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newFakeStore()
	seededMaterial(t, store)
	c := newTestClient(t, srv.URL, store)

	_, err := c.Refresh(context.Background(), "sess-1")
	if !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("error = %v, want ErrRefreshRejected", err)
	}
	if got := store.revoked["sess-1"]; got != sessions.RevokeReasonRefreshRejected {
		t.Errorf("revoke reason = %q, want %q", got, sessions.RevokeReasonRefreshRejected)
	}
}

func TestRefreshRetriesTransientFailure(t *testing.T) {
	var requests atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-new",
			"refresh_token": "refresh-new",
			"expires_in":    3600,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newFakeStore()
	seededMaterial(t, store)
	c := newTestClient(t, srv.URL, store)

	m, err := c.Refresh(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m.AccessToken != "access-new" {
		t.Errorf("AccessToken = %q", m.AccessToken)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2", requests.Load())
	}
}

func TestRefreshSkipsWhenFresh(t *testing.T) {
	store := newFakeStore()
	seededMaterial(t, store)
	store.material.AccessExpiresAt = time.Now().UTC().Add(time.Hour)

	// No server: a network call would fail loudly.
	c := newTestClient(t, "http://127.0.0.1:0", store)

	m, err := c.Refresh(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m.AccessToken != "stale-access" {
		t.Errorf("AccessToken = %q, want existing token untouched", m.AccessToken)
	}
	if len(store.rotates) != 0 {
		t.Errorf("rotations = %d, want 0", len(store.rotates))
	}
}
