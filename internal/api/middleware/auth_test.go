package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appsessions "Postwing/internal/core/sessions"
)

type fakeStore struct {
	materials map[string]*appsessions.Material
	err       error
}

func (f *fakeStore) Put(ctx context.Context, req appsessions.PutRequest) (string, error) {
	return "", nil
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (*appsessions.Material, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.materials[sessionID]
	if !ok {
		return nil, appsessions.ErrSessionNotFound
	}
	return m, nil
}

func (f *fakeStore) GetMostRecentActive(ctx context.Context, userID string) (*appsessions.Material, error) {
	return nil, appsessions.ErrSessionNotFound
}

func (f *fakeStore) Rotate(ctx context.Context, req appsessions.RotateRequest) error { return nil }

func (f *fakeStore) Revoke(ctx context.Context, sessionID, reason string) error { return nil }

func (f *fakeStore) PurgeExpired(ctx context.Context) (int64, error) { return 0, nil }

func okHandler(t *testing.T, wantUser, wantSession string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetUserID(r); got != wantUser {
			t.Errorf("GetUserID = %q, want %q", got, wantUser)
		}
		if got := GetSessionID(r); got != wantSession {
			t.Errorf("GetSessionID = %q, want %q", got, wantSession)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthHeaderSession(t *testing.T) {
	if err := InitCookieStore(strings.Repeat("s", 32)); err != nil {
		t.Fatalf("InitCookieStore: %v", err)
	}

	store := &fakeStore{materials: map[string]*appsessions.Material{
		"sess-1": {
			SessionID:        "sess-1",
			UserID:           "user-1",
			AccessExpiresAt:  time.Now().Add(time.Hour),
			RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		},
	}}

	mw := NewSessionAuth(store)
	handler := mw.RequireAuth(okHandler(t, "user-1", "sess-1"))

	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.Header.Set(HeaderSessionID, "sess-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAuthMissingSession(t *testing.T) {
	if err := InitCookieStore(strings.Repeat("s", 32)); err != nil {
		t.Fatalf("InitCookieStore: %v", err)
	}

	mw := NewSessionAuth(&fakeStore{materials: map[string]*appsessions.Material{}})
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without authentication")
	}))

	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if envelope["error"] != "UNAUTHORIZED" {
		t.Errorf("error kind = %v, want UNAUTHORIZED", envelope["error"])
	}
	if envelope["code"] != float64(http.StatusUnauthorized) {
		t.Errorf("code = %v, want 401", envelope["code"])
	}
}

func TestRequireAuthRevokedSession(t *testing.T) {
	if err := InitCookieStore(strings.Repeat("s", 32)); err != nil {
		t.Fatalf("InitCookieStore: %v", err)
	}

	mw := NewSessionAuth(&fakeStore{err: appsessions.ErrSessionRevoked})
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with revoked session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.Header.Set(HeaderSessionID, "sess-revoked")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
