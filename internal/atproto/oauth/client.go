package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"Postwing/internal/core/sessions"
	"Postwing/internal/core/users"
	"Postwing/internal/ratelimit"
)

const (
	// accessExpirySkew is the proactive refresh margin: tokens within
	// this window of expiry are treated as already expired.
	accessExpirySkew = 30 * time.Second

	// refreshTokenTTL is the assumed lifetime of a refresh token when
	// the server does not state one.
	refreshTokenTTL = 90 * 24 * time.Hour

	// refreshAttempts bounds retries of a transiently failing refresh.
	refreshAttempts = 3

	// oauthSubject keys the rate gate for token endpoint traffic, which
	// is limited per client rather than per user.
	oauthSubject = "oauth-client"

	tokenRequestTimeout = 20 * time.Second
)

// Config holds the OAuth client registration and endpoint set.
type Config struct {
	ClientID      string
	ClientSecret  string // empty for public clients
	RedirectURI   string
	Scope         string
	AuthEndpoint  string
	TokenEndpoint string
	PDSURL        string
}

// Client drives the authorization-code flow with PKCE and DPoP, and
// coordinates token refresh for established sessions.
type Client struct {
	cfg    Config
	http   *http.Client
	states *stateStore
	Nonces *NonceCache
	store  sessions.Store
	users  users.UserService
	gate   *ratelimit.Gate
	group  singleflight.Group
	logger *slog.Logger
}

// NewClient creates an OAuth client. The nonce cache is shared with the
// network client so nonces learned on either path are reused.
func NewClient(cfg Config, store sessions.Store, userSvc users.UserService, gate *ratelimit.Gate, nonces *NonceCache, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.TokenEndpoint == "" || cfg.AuthEndpoint == "" {
		return nil, fmt.Errorf("oauth endpoints are required")
	}
	if !strings.Contains(" "+cfg.Scope+" ", " atproto ") {
		return nil, fmt.Errorf("scope must include 'atproto'")
	}
	if nonces == nil {
		nonces = NewNonceCache()
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: tokenRequestTimeout},
		states: newStateStore(),
		Nonces: nonces,
		store:  store,
		users:  userSvc,
		gate:   gate,
		logger: logger,
	}, nil
}

// AuthorizeURL starts an authorization: it generates PKCE material and a
// state, records them, and returns the URL to redirect the user to.
// The verifier is also returned so handlers can double-store it in a
// cookie for callback cross-checking.
func (c *Client) AuthorizeURL() (authURL, state, verifier string, err error) {
	pkce, err := GeneratePKCEChallenge()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate PKCE challenge: %w", err)
	}

	state, err = GenerateState()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	if !c.states.Put(state, pkce.Verifier, c.cfg.RedirectURI) {
		return "", "", "", ErrTooManyPending
	}

	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", c.cfg.Scope)
	q.Set("state", state)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", pkce.Method)

	return c.cfg.AuthEndpoint + "?" + q.Encode(), state, pkce.Verifier, nil
}

// CallbackRequest carries what the callback handler got from the
// browser. PresentedVerifier comes from the verifier cookie and may be
// empty when the client chose not to round-trip it.
type CallbackRequest struct {
	Code              string
	State             string
	PresentedVerifier string
	UserAgent         string
	SourceAddr        string
}

// CallbackResult is the established identity and session.
type CallbackResult struct {
	SessionID string
	User      *users.User
}

// HandleCallback finishes the authorization: consumes the state,
// exchanges the code, fetches the session identity, upserts the user
// and persists the new AuthSession.
func (c *Client) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	pending, ok := c.states.Consume(req.State)
	if !ok {
		return nil, ErrStateNotFound
	}
	if req.PresentedVerifier != "" && !VerifierMatches(pending.Verifier, req.PresentedVerifier) {
		return nil, ErrVerifierMismatch
	}

	dpopKey, err := GenerateDPoPKey()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", pending.RedirectURI)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code_verifier", pending.Verifier)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	tok, err := c.tokenRequest(ctx, "", form, dpopKey)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	ident, err := c.fetchIdentity(ctx, tok.AccessToken, dpopKey)
	if err != nil {
		return nil, fmt.Errorf("identity fetch failed: %w", err)
	}

	user, err := c.users.UpsertUser(ctx, users.UpsertUserRequest{
		DID:    ident.DID,
		Handle: ident.Handle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	privJSON, err := JWKToJSON(dpopKey)
	if err != nil {
		return nil, err
	}
	pubKey, err := dpopKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	pubJSON, err := JWKToJSON(pubKey)
	if err != nil {
		return nil, err
	}
	keyID, err := KeyThumbprint(dpopKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sessionID, err := c.store.Put(ctx, sessions.PutRequest{
		UserID:           user.ID,
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(refreshTokenTTL),
		DPoPPrivateJWK:   string(privJSON),
		DPoPPublicJWK:    string(pubJSON),
		DPoPKeyID:        keyID,
		UserAgent:        req.UserAgent,
		SourceAddr:       req.SourceAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	c.logger.Info("oauth session established",
		"did", ident.DID, "handle", ident.Handle, "session_id", sessionID)

	return &CallbackResult{SessionID: sessionID, User: user}, nil
}

// SweepStates evicts expired pending authorizations. The dispatcher's
// maintenance task owns the cadence.
func (c *Client) SweepStates() int {
	return c.states.SweepExpired()
}

// NeedsRefresh reports whether the material's access token is within
// the proactive skew of expiry.
func NeedsRefresh(m *sessions.Material, now time.Time) bool {
	return !m.AccessExpiresAt.After(now.Add(accessExpirySkew))
}

// Refresh exchanges the session's refresh token for new tokens and
// rotates the stored material. Concurrent callers for the same session
// share one in-flight refresh. invalid_grant revokes the session.
// Material that is still fresh is returned without a network call.
func (c *Client) Refresh(ctx context.Context, sessionID string) (*sessions.Material, error) {
	return c.refresh(ctx, sessionID, false)
}

// ForceRefresh refreshes even when the stored expiry looks fresh, for
// callers that just saw the server reject the access token.
func (c *Client) ForceRefresh(ctx context.Context, sessionID string) (*sessions.Material, error) {
	return c.refresh(ctx, sessionID, true)
}

func (c *Client) refresh(ctx context.Context, sessionID string, force bool) (*sessions.Material, error) {
	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		return c.refreshOnce(ctx, sessionID, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessions.Material), nil
}

func (c *Client) refreshOnce(ctx context.Context, sessionID string, force bool) (*sessions.Material, error) {
	m, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A waiter that queued behind a completed refresh sees fresh
	// material and skips the network round trip.
	if !force && !NeedsRefresh(m, time.Now().UTC()) {
		return m, nil
	}

	dpopKey, err := ParseJWKFromJSON([]byte(m.DPoPPrivateJWK))
	if err != nil {
		return nil, fmt.Errorf("failed to load session DPoP key: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.RefreshToken)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("scope", c.cfg.Scope)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	var tok *tokenResponse
	backoff := retry.WithMaxRetries(refreshAttempts, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reqErr error
		tok, reqErr = c.tokenRequest(ctx, m.UserID, form, dpopKey)
		if reqErr == nil {
			return nil
		}
		var oe *serverError
		if errors.As(reqErr, &oe) && oe.Transient() {
			return retry.RetryableError(reqErr)
		}
		return reqErr
	})
	if err != nil {
		var oe *serverError
		if errors.As(err, &oe) && oe.Code == "invalid_grant" {
			if revokeErr := c.store.Revoke(ctx, sessionID, sessions.RevokeReasonRefreshRejected); revokeErr != nil {
				c.logger.Error("failed to revoke rejected session", "session_id", sessionID, "error", revokeErr)
			}
			c.logger.Warn("refresh token rejected, session revoked", "session_id", sessionID)
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, oe.Description)
		}
		return nil, fmt.Errorf("refresh failed: %w", err)
	}

	now := time.Now().UTC()
	rotate := sessions.RotateRequest{
		SessionID:        sessionID,
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(refreshTokenTTL),
	}
	if err := c.store.Rotate(ctx, rotate); err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	m.AccessToken = tok.AccessToken
	m.RefreshToken = tok.RefreshToken
	m.AccessExpiresAt = rotate.AccessExpiresAt
	m.RefreshExpiresAt = rotate.RefreshExpiresAt
	return m, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	Sub          string `json:"sub"`
	ExpiresIn    int64  `json:"expires_in"`
}

// serverError is an OAuth error response from the token endpoint.
type serverError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	StatusCode  int    `json:"-"`
}

func (e *serverError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth server error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth server error %s (status %d)", e.Code, e.StatusCode)
}

// Transient reports whether the failure is worth retrying.
func (e *serverError) Transient() bool {
	return e.StatusCode >= 500
}


// tokenRequest POSTs a form to the token endpoint with a DPoP proof.
// A use_dpop_nonce challenge is retried exactly once with the nonce the
// server just issued; responses always feed the nonce cache.
func (c *Client) tokenRequest(ctx context.Context, subject string, form url.Values, dpopKey jwk.Key) (*tokenResponse, error) {
	host := HostOf(c.cfg.TokenEndpoint)

	send := func(nonce string) (*tokenResponse, *serverError, error) {
		if c.gate != nil {
			if err := c.gate.WaitForAvailability(ctx, oauthSubject, ratelimit.ClassOAuth); err != nil {
				return nil, nil, err
			}
		}

		proof, err := CreateDPoPProof(dpopKey, http.MethodPost, c.cfg.TokenEndpoint, nonce, "")
		if err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", proof)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &serverError{Code: "network_error", Description: err.Error(), StatusCode: http.StatusServiceUnavailable}, nil
		}
		defer resp.Body.Close()

		c.Nonces.Set(subject, host, resp.Header.Get("DPoP-Nonce"))

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read token response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var tok tokenResponse
			if err := json.Unmarshal(body, &tok); err != nil {
				return nil, nil, fmt.Errorf("failed to decode token response: %w", err)
			}
			return &tok, nil, nil
		}

		se := &serverError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, se); err != nil || se.Code == "" {
			se.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return nil, se, nil
	}

	tok, se, err := send(c.Nonces.Get(subject, host))
	if err != nil {
		return nil, err
	}
	if se != nil && se.Code == "use_dpop_nonce" {
		tok, se, err = send(c.Nonces.Get(subject, host))
		if err != nil {
			return nil, err
		}
		if se != nil && se.Code == "use_dpop_nonce" {
			return nil, ErrNonceRetryExhausted
		}
	}
	if se != nil {
		return nil, se
	}
	return tok, nil
}

// identity is the network's view of who the token belongs to.
type identity struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// fetchIdentity calls com.atproto.server.getSession with the freshly
// issued access token to learn the DID and handle.
func (c *Client) fetchIdentity(ctx context.Context, accessToken string, dpopKey jwk.Key) (*identity, error) {
	endpoint := strings.TrimSuffix(c.cfg.PDSURL, "/") + "/xrpc/com.atproto.server.getSession"
	host := HostOf(endpoint)

	send := func(nonce string) (*identity, *serverError, error) {
		proof, err := CreateDPoPProof(dpopKey, http.MethodGet, endpoint, nonce, accessToken)
		if err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build identity request: %w", err)
		}
		req.Header.Set("Authorization", "DPoP "+accessToken)
		req.Header.Set("DPoP", proof)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("identity request failed: %w", err)
		}
		defer resp.Body.Close()

		c.Nonces.Set("", host, resp.Header.Get("DPoP-Nonce"))

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read identity response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var ident identity
			if err := json.Unmarshal(body, &ident); err != nil {
				return nil, nil, fmt.Errorf("failed to decode identity response: %w", err)
			}
			return &ident, nil, nil
		}

		se := &serverError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, se); err != nil || se.Code == "" {
			se.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return nil, se, nil
	}

	ident, se, err := send(c.Nonces.Get("", host))
	if err != nil {
		return nil, err
	}
	if se != nil && se.Code == "use_dpop_nonce" {
		ident, se, err = send(c.Nonces.Get("", host))
		if err != nil {
			return nil, err
		}
		if se != nil && se.Code == "use_dpop_nonce" {
			return nil, ErrNonceRetryExhausted
		}
	}
	if se != nil {
		return nil, se
	}
	if ident.DID == "" {
		return nil, fmt.Errorf("identity response missing did")
	}
	return ident, nil
}
