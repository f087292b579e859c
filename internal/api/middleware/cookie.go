package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/sessions"
)

const (
	// SessionCookieName is the signed cookie carrying the auth session id.
	SessionCookieName = "session_id"

	// sessionValueSID is the key inside the cookie holding the session id.
	sessionValueSID = "sid"

	// SessionCookieMaxAge bounds the browser session at 30 days, matching
	// the assumed refresh token lifetime.
	SessionCookieMaxAge = 30 * 24 * 60 * 60

	// MinCookieSecretLength is the minimum byte length for the cookie
	// signing secret.
	MinCookieSecretLength = 32
)

var (
	cookieStore     *sessions.CookieStore
	cookieStoreOnce sync.Once
)

// InitCookieStore initializes the global cookie store with the signing
// secret. Must be called once at startup before any request is served.
func InitCookieStore(secret string) error {
	if len(secret) < MinCookieSecretLength {
		return fmt.Errorf("cookie secret must be at least %d bytes, got %d",
			MinCookieSecretLength, len(secret))
	}

	cookieStoreOnce.Do(func() {
		cookieStore = sessions.NewCookieStore([]byte(secret))
		cookieStore.Options = &sessions.Options{
			Path:     "/",
			MaxAge:   SessionCookieMaxAge,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		}
	})
	return nil
}

// GetCookieStore returns the global cookie store. Panics if
// InitCookieStore was never called; that is a startup wiring bug.
func GetCookieStore() *sessions.CookieStore {
	if cookieStore == nil {
		panic("cookie store not initialized: call middleware.InitCookieStore at startup")
	}
	return cookieStore
}

// SetSessionCookie writes the signed session_id cookie on the response.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) error {
	sess, err := GetCookieStore().Get(r, SessionCookieName)
	if err != nil {
		// A stale or tampered cookie decodes to a fresh session; overwrite it.
		sess, _ = GetCookieStore().New(r, SessionCookieName)
	}
	sess.Values[sessionValueSID] = sessionID
	return sess.Save(r, w)
}

// ClearSessionCookie expires the session_id cookie.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	sess, err := GetCookieStore().Get(r, SessionCookieName)
	if err != nil {
		sess, _ = GetCookieStore().New(r, SessionCookieName)
	}
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		// Best effort: the client still holds a cookie pointing at a
		// revoked session row, which fails authentication anyway.
		return
	}
}

// SessionIDFromCookie reads the session id out of the signed cookie.
// Returns "" when the cookie is absent or fails signature verification.
func SessionIDFromCookie(r *http.Request) string {
	sess, err := GetCookieStore().Get(r, SessionCookieName)
	if err != nil || sess.IsNew {
		return ""
	}
	sid, _ := sess.Values[sessionValueSID].(string)
	return sid
}
