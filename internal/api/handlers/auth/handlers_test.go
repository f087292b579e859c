package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Postwing/internal/api/middleware"
	"Postwing/internal/atproto/oauth"
	"Postwing/internal/config"
	"Postwing/internal/core/sessions"
)

type fakeStore struct {
	revoked map[string]string
}

func (f *fakeStore) Put(ctx context.Context, req sessions.PutRequest) (string, error) {
	return "", nil
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (*sessions.Material, error) {
	return nil, sessions.ErrSessionNotFound
}

func (f *fakeStore) GetMostRecentActive(ctx context.Context, userID string) (*sessions.Material, error) {
	return nil, sessions.ErrSessionNotFound
}

func (f *fakeStore) Rotate(ctx context.Context, req sessions.RotateRequest) error { return nil }

func (f *fakeStore) Revoke(ctx context.Context, sessionID, reason string) error {
	if f.revoked == nil {
		f.revoked = map[string]string{}
	}
	f.revoked[sessionID] = reason
	return nil
}

func (f *fakeStore) PurgeExpired(ctx context.Context) (int64, error) { return 0, nil }

func newTestAuthClient(t *testing.T) *oauth.Client {
	t.Helper()
	client, err := oauth.NewClient(oauth.Config{
		ClientID:      "https://app.example.com/oauth/client-metadata.json",
		RedirectURI:   "https://app.example.com/auth/callback",
		Scope:         "atproto transition:generic",
		AuthEndpoint:  "https://pds.example.com/oauth/authorize",
		TokenEndpoint: "http://127.0.0.1:0/oauth/token",
		PDSURL:        "http://127.0.0.1:0",
	}, &fakeStore{}, nil, nil, oauth.NewNonceCache(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandleLoginSetsFlowCookies(t *testing.T) {
	handler := NewLoginHandler(newTestAuthClient(t))

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.HandleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !strings.HasPrefix(body["redirectUrl"], "https://pds.example.com/oauth/authorize?") {
		t.Errorf("redirectUrl = %q", body["redirectUrl"])
	}

	cookies := rec.Result().Cookies()
	state := cookieByName(cookies, stateCookieName)
	verifier := cookieByName(cookies, verifierCookieName)
	if state == nil || verifier == nil {
		t.Fatalf("flow cookies missing: %v", cookies)
	}
	for _, c := range []*http.Cookie{state, verifier} {
		if !c.HttpOnly || !c.Secure {
			t.Errorf("cookie %s must be Secure and HttpOnly", c.Name)
		}
		if c.MaxAge != 600 {
			t.Errorf("cookie %s MaxAge = %d, want 600", c.Name, c.MaxAge)
		}
	}

	// The state cookie must match the state embedded in the redirect URL.
	if !strings.Contains(body["redirectUrl"], "state="+state.Value) {
		t.Errorf("redirect URL does not carry the state cookie value")
	}
}

func TestHandleCallbackUnknownState(t *testing.T) {
	handler := NewCallbackHandler(newTestAuthClient(t))

	payload := `{"code":"abc","state":"never-issued","codeVerifier":"v"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if envelope["error"] != "OAUTH_ERROR" {
		t.Errorf("error kind = %v, want OAUTH_ERROR", envelope["error"])
	}
}

func TestHandleCallbackMissingFields(t *testing.T) {
	handler := NewCallbackHandler(newTestAuthClient(t))

	req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(`{"code":"abc"}`))
	rec := httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleClientMetadata(t *testing.T) {
	handler := NewMetadataHandler(&config.Config{
		ClientID:    "https://app.example.com/oauth/client-metadata.json",
		PublicURL:   "https://app.example.com",
		RedirectURI: "https://app.example.com/auth/callback",
		Scope:       "atproto transition:generic",
	})

	req := httptest.NewRequest(http.MethodGet, "/oauth/client-metadata.json", nil)
	rec := httptest.NewRecorder()
	handler.HandleClientMetadata(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if doc["client_id"] != "https://app.example.com/oauth/client-metadata.json" {
		t.Errorf("client_id = %v", doc["client_id"])
	}
	if doc["token_endpoint_auth_method"] != "none" {
		t.Errorf("token_endpoint_auth_method = %v", doc["token_endpoint_auth_method"])
	}
	if doc["dpop_bound_access_tokens"] != true {
		t.Errorf("dpop_bound_access_tokens = %v", doc["dpop_bound_access_tokens"])
	}
	if doc["require_pkce"] != true {
		t.Errorf("require_pkce = %v", doc["require_pkce"])
	}
}

func TestHandleLogoutRevokesAndClearsCookie(t *testing.T) {
	if err := middleware.InitCookieStore(strings.Repeat("s", 32)); err != nil {
		t.Fatalf("InitCookieStore: %v", err)
	}

	store := &fakeStore{}
	handler := NewLogoutHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	ctx := context.WithValue(req.Context(), middleware.SessionIDKey, "sess-7")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.HandleLogout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}
	if store.revoked["sess-7"] != RevokeReasonLogout {
		t.Errorf("revoke reason = %q, want %q", store.revoked["sess-7"], RevokeReasonLogout)
	}

	cleared := cookieByName(rec.Result().Cookies(), middleware.SessionCookieName)
	if cleared == nil {
		t.Fatal("session cookie was not rewritten")
	}
	if cleared.MaxAge > 0 {
		t.Errorf("session cookie MaxAge = %d, want expiry", cleared.MaxAge)
	}
}
