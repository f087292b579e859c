package xrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Postwing/internal/atproto/oauth"
	"Postwing/internal/core/sessions"
	"Postwing/internal/core/users"
)

type fakeStore struct {
	mu       sync.Mutex
	material *sessions.Material
	revoked  map[string]string
	rotates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{revoked: make(map[string]string)}
}

func (s *fakeStore) Put(_ context.Context, _ sessions.PutRequest) (string, error) {
	return "sess-1", nil
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

func (s *fakeStore) GetMostRecentActive(_ context.Context, userID string) (*sessions.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.material == nil || s.material.UserID != userID {
		return nil, sessions.ErrSessionNotFound
	}
	m := *s.material
	return &m, nil
}

func (s *fakeStore) Rotate(_ context.Context, req sessions.RotateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotates++
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
func (fakeUserSvc) GetUser(_ context.Context, id string) (*users.User, error) {
	if id != "u1" {
		return nil, users.ErrUserNotFound
	}
	return &users.User{ID: "u1", DID: "did:plc:alice", Handle: "alice.test", IsActive: true}, nil
}
func (fakeUserSvc) GetUserByDID(_ context.Context, _ string) (*users.User, error) {
	return nil, users.ErrUserNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a fake store with a live session to an httptest PDS
// whose token endpoint also lives on the test server.
func newHarness(t *testing.T, mux *http.ServeMux) (*Client, *fakeStore, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := newFakeStore()
	key, err := oauth.GenerateDPoPKey()
	if err != nil {
		t.Fatalf("GenerateDPoPKey: %v", err)
	}
	privJSON, err := oauth.JWKToJSON(key)
	if err != nil {
		t.Fatalf("JWKToJSON: %v", err)
	}
	store.material = &sessions.Material{
		SessionID:        "sess-1",
		UserID:           "u1",
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		AccessExpiresAt:  time.Now().UTC().Add(time.Hour),
		RefreshExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		DPoPPrivateJWK:   string(privJSON),
	}

	nonces := oauth.NewNonceCache()
	auth, err := oauth.NewClient(oauth.Config{
		ClientID:      "https://app.example.com/client-metadata.json",
		RedirectURI:   "https://app.example.com/auth/callback",
		Scope:         "atproto transition:generic",
		AuthEndpoint:  srv.URL + "/oauth/authorize",
		TokenEndpoint: srv.URL + "/oauth/token",
		PDSURL:        srv.URL,
	}, store, fakeUserSvc{}, nil, nonces, testLogger())
	if err != nil {
		t.Fatalf("oauth.NewClient: %v", err)
	}

	client := NewClient(srv.URL, store, auth, nonces, nil, fakeUserSvc{}, true, testLogger())
	return client, store, srv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestDoSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "DPoP access-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("DPoP") == "" {
			t.Error("missing DPoP proof")
		}
		writeJSON(w, http.StatusOK, map[string]string{"handle": "alice.test"})
	})

	client, _, _ := newHarness(t, mux)

	body, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["handle"] != "alice.test" {
		t.Errorf("handle = %q", out["handle"])
	}
}

func TestDoNonceRetryOnce(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("DPoP-Nonce", "n1")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "use_dpop_nonce"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
	})

	client, _, _ := newHarness(t, mux)

	if _, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDoNonceFailureTwiceIsHardError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("DPoP-Nonce", "n-next")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "use_dpop_nonce"})
	})

	client, _, _ := newHarness(t, mux)

	_, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil)
	if KindOf(err) != KindAuthNonce {
		t.Errorf("kind = %q, want %q (err=%v)", KindOf(err), KindAuthNonce, err)
	}
}

func TestDoReactiveRefreshThenRetry(t *testing.T) {
	var apiCalls, refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") == "DPoP access-2" {
			writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	})

	client, store, _ := newHarness(t, mux)

	if _, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes.Load())
	}
	if apiCalls.Load() != 2 {
		t.Errorf("api calls = %d, want 2", apiCalls.Load())
	}
	if store.rotates != 1 {
		t.Errorf("rotations = %d, want 1", store.rotates)
	}
}

func TestDoSecond401RevokesAndExpires(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	})

	client, store, _ := newHarness(t, mux)

	_, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil)
	if KindOf(err) != KindAuthExpired {
		t.Fatalf("kind = %q, want %q (err=%v)", KindOf(err), KindAuthExpired, err)
	}
	if store.revoked["sess-1"] == "" {
		t.Error("session not revoked after repeated 401")
	}
}

func TestDoProactiveRefresh(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		refreshes.Add(1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "DPoP access-2" {
			t.Errorf("Authorization = %q, want refreshed token", got)
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
	})

	client, store, _ := newHarness(t, mux)
	store.material.AccessExpiresAt = time.Now().UTC().Add(10 * time.Second)

	if _, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes.Load())
	}
}

func TestDoClassification(t *testing.T) {
	tests := []struct {
		name      string
		headers   map[string]string
		wantKind  Kind
		status    int
		wantRetry time.Duration
	}{
		{name: "rate limited with header", status: http.StatusTooManyRequests, headers: map[string]string{"Retry-After": "120"}, wantKind: KindRateLimited, wantRetry: 120 * time.Second},
		{name: "rate limited default", status: http.StatusTooManyRequests, wantKind: KindRateLimited, wantRetry: 60 * time.Second},
		{name: "server error", status: http.StatusBadGateway, wantKind: KindTransient},
		{name: "bad request", status: http.StatusBadRequest, wantKind: KindPermanent},
		{name: "not found", status: http.StatusNotFound, wantKind: KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				writeJSON(w, tt.status, map[string]string{"error": "Oops"})
			})

			client, _, _ := newHarness(t, mux)

			_, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("kind = %q, want %q (err=%v)", KindOf(err), tt.wantKind, err)
			}
			if tt.wantRetry > 0 {
				var xe *Error
				if !errors.As(err, &xe) {
					t.Fatalf("not an *Error: %v", err)
				}
				if xe.RetryAfter != tt.wantRetry {
					t.Errorf("RetryAfter = %v, want %v", xe.RetryAfter, tt.wantRetry)
				}
			}
		})
	}
}

func TestDoNoActiveSession(t *testing.T) {
	client, store, _ := newHarness(t, http.NewServeMux())
	store.material = nil

	_, err := client.Do(context.Background(), "u1", http.MethodGet, "app.bsky.actor.getProfile", nil)
	if KindOf(err) != KindAuthExpired {
		t.Errorf("kind = %q, want %q", KindOf(err), KindAuthExpired)
	}
}

func TestCreatePostWithReply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Repo       string `json:"repo"`
			Collection string `json:"collection"`
			Record     struct {
				Type      string   `json:"$type"`
				Text      string   `json:"text"`
				CreatedAt string   `json:"createdAt"`
				Langs     []string `json:"langs"`
				Reply     *struct {
					Root   struct{ URI, CID string } `json:"root"`
					Parent struct{ URI, CID string } `json:"parent"`
				} `json:"reply"`
			} `json:"record"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode createRecord body: %v", err)
		}
		if body.Repo != "did:plc:alice" {
			t.Errorf("repo = %q", body.Repo)
		}
		if body.Collection != "app.bsky.feed.post" {
			t.Errorf("collection = %q", body.Collection)
		}
		if body.Record.Type != "app.bsky.feed.post" {
			t.Errorf("$type = %q", body.Record.Type)
		}
		if len(body.Record.Langs) != 1 || body.Record.Langs[0] != "en" {
			t.Errorf("langs = %v, want [en]", body.Record.Langs)
		}
		if body.Record.Reply == nil || body.Record.Reply.Parent.URI != "at://parent" {
			t.Errorf("reply refs not carried: %+v", body.Record.Reply)
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"uri": "at://did:plc:alice/app.bsky.feed.post/3kabc",
			"cid": "bafyreia",
		})
	})

	client, _, _ := newHarness(t, mux)

	uri, cid, err := client.CreatePost(context.Background(), "u1", "hello world", time.Now(), &ReplyRef{
		RootURI: "at://root", RootCID: "cid-root",
		ParentURI: "at://parent", ParentCID: "cid-parent",
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if uri != "at://did:plc:alice/app.bsky.feed.post/3kabc" {
		t.Errorf("uri = %q", uri)
	}
	if cid != "bafyreia" {
		t.Errorf("cid = %q", cid)
	}
}
