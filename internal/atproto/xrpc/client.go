package xrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Postwing/internal/atproto/oauth"
	"Postwing/internal/core/sessions"
	"Postwing/internal/core/users"
	"Postwing/internal/ratelimit"
)

const defaultRetryAfter = 60 * time.Second

// Client executes authenticated XRPC calls against a PDS: DPoP headers,
// server-nonce handling, transparent refresh, and rate gating. Every
// outbound application request goes through Do.
type Client struct {
	pdsURL string
	http   *http.Client
	store  sessions.Store
	auth   *oauth.Client
	nonces *oauth.NonceCache
	gate   *ratelimit.Gate
	users  users.UserService
	logger *slog.Logger
}

// NewClient creates a network client. The nonce cache must be the same
// instance handed to the OAuth client so both paths share server nonces.
func NewClient(pdsURL string, store sessions.Store, auth *oauth.Client, nonces *oauth.NonceCache, gate *ratelimit.Gate, userSvc users.UserService, allowPrivate bool, logger *slog.Logger) *Client {
	return &Client{
		pdsURL: strings.TrimSuffix(pdsURL, "/"),
		http:   newHTTPClient(allowPrivate),
		store:  store,
		auth:   auth,
		nonces: nonces,
		gate:   gate,
		users:  userSvc,
		logger: logger,
	}
}

// Do executes one authenticated request for the user's most recent
// active session. endpoint is the XRPC method NSID, e.g.
// "com.atproto.repo.createRecord". At most one nonce retry and one
// reactive refresh happen per call.
func (c *Client) Do(ctx context.Context, userID, method, endpoint string, body interface{}) ([]byte, error) {
	m, err := c.store.GetMostRecentActive(ctx, userID)
	if err != nil {
		return nil, classifySessionErr(err)
	}

	if oauth.NeedsRefresh(m, time.Now().UTC()) {
		m, err = c.auth.Refresh(ctx, m.SessionID)
		if err != nil {
			return nil, classifyRefreshErr(err)
		}
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	reqURL := c.pdsURL + "/xrpc/" + endpoint
	host := oauth.HostOf(reqURL)

	var (
		nonceRetried bool
		refreshed    bool
	)
	for {
		if c.gate != nil {
			if err := c.gate.WaitForAvailability(ctx, userID, ratelimit.ClassAPI); err != nil {
				return nil, err
			}
		}

		res, err := c.send(ctx, m, method, reqURL, host, bodyBytes)
		if err != nil {
			return nil, &Error{Kind: KindTransient, Message: err.Error()}
		}

		switch {
		case res.status >= 200 && res.status < 300:
			return res.body, nil

		case isNonceChallenge(res.status, res.errCode):
			if nonceRetried {
				return nil, &Error{Kind: KindAuthNonce, StatusCode: res.status, Message: "server demanded a fresh nonce twice"}
			}
			nonceRetried = true

		case res.status == http.StatusUnauthorized:
			if refreshed {
				if revokeErr := c.store.Revoke(ctx, m.SessionID, sessions.RevokeReasonRefreshRejected); revokeErr != nil {
					c.logger.Error("failed to revoke session after repeated 401", "session_id", m.SessionID, "error", revokeErr)
				}
				return nil, &Error{Kind: KindAuthExpired, StatusCode: res.status, Message: "access rejected after refresh"}
			}
			refreshed = true
			m, err = c.auth.ForceRefresh(ctx, m.SessionID)
			if err != nil {
				return nil, classifyRefreshErr(err)
			}

		case res.status == http.StatusTooManyRequests:
			return nil, &Error{
				Kind:       KindRateLimited,
				StatusCode: res.status,
				Message:    string(res.body),
				RetryAfter: res.retryAfter,
			}

		case res.status >= 500:
			return nil, &Error{Kind: KindTransient, StatusCode: res.status, Message: string(res.body)}

		default:
			return nil, &Error{Kind: KindPermanent, StatusCode: res.status, Message: string(res.body)}
		}
	}
}

// response is the classified result of one physical request.
type response struct {
	body       []byte
	errCode    string
	status     int
	retryAfter time.Duration
}

// send performs one physical request and feeds any DPoP-Nonce header
// back into the shared cache.
func (c *Client) send(ctx context.Context, m *sessions.Material, method, reqURL, host string, body []byte) (*response, error) {
	dpopKey, err := oauth.ParseJWKFromJSON([]byte(m.DPoPPrivateJWK))
	if err != nil {
		return nil, fmt.Errorf("failed to load session DPoP key: %w", err)
	}

	nonce := c.nonces.Get(m.UserID, host)
	proof, err := oauth.CreateDPoPProof(dpopKey, method, reqURL, nonce, m.AccessToken)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "DPoP "+m.AccessToken)
	req.Header.Set("DPoP", proof)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.nonces.Set(m.UserID, host, resp.Header.Get("DPoP-Nonce"))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &response{
		status:     resp.StatusCode,
		body:       respBody,
		errCode:    errorCodeOf(resp, respBody),
		retryAfter: retryAfterOf(resp),
	}, nil
}

// errorCodeOf extracts the machine-readable error code from an XRPC
// error body or the WWW-Authenticate challenge.
func errorCodeOf(resp *http.Response, body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if auth := resp.Header.Get("WWW-Authenticate"); strings.Contains(auth, `error="use_dpop_nonce"`) {
		return "use_dpop_nonce"
	}
	return ""
}

func isNonceChallenge(status int, errCode string) bool {
	return (status == http.StatusUnauthorized || status == http.StatusBadRequest) && errCode == "use_dpop_nonce"
}

// retryAfterOf reads the Retry-After header, falling back to a 60s
// default when absent or unparseable.
func retryAfterOf(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

func classifySessionErr(err error) error {
	switch {
	case errors.Is(err, sessions.ErrSessionRevoked):
		return &Error{Kind: KindAuthRejected, Message: "session revoked"}
	case errors.Is(err, sessions.ErrSessionNotFound), errors.Is(err, sessions.ErrSessionExpired):
		return &Error{Kind: KindAuthExpired, Message: "no active session"}
	default:
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
}

func classifyRefreshErr(err error) error {
	if errors.Is(err, oauth.ErrRefreshRejected) {
		return &Error{Kind: KindAuthRejected, Message: err.Error()}
	}
	return &Error{Kind: KindTransient, Message: "refresh failed: " + err.Error()}
}

// defaultLangs tags every published record; Bluesky clients use it for
// feed language filtering.
var defaultLangs = []string{"en"}

// ReplyRef carries the strong references that thread a post under its
// parent and the thread root.
type ReplyRef struct {
	RootURI   string
	RootCID   string
	ParentURI string
	ParentCID string
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// CreatePost publishes one post record to the user's repository and
// returns the record's AT-URI and CID.
func (c *Client) CreatePost(ctx context.Context, userID, text string, createdAt time.Time, reply *ReplyRef) (string, string, error) {
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve user: %w", err)
	}

	record := map[string]interface{}{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": createdAt.UTC().Format(time.RFC3339),
		"langs":     defaultLangs,
	}
	if reply != nil {
		record["reply"] = map[string]strongRef{
			"root":   {URI: reply.RootURI, CID: reply.RootCID},
			"parent": {URI: reply.ParentURI, CID: reply.ParentCID},
		}
	}

	body := map[string]interface{}{
		"repo":       user.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}

	respBody, err := c.Do(ctx, userID, http.MethodPost, "com.atproto.repo.createRecord", body)
	if err != nil {
		return "", "", err
	}

	var out createRecordResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", "", fmt.Errorf("failed to decode createRecord response: %w", err)
	}
	if out.URI == "" {
		return "", "", &Error{Kind: KindPermanent, Message: "createRecord response missing uri"}
	}
	return out.URI, out.CID, nil
}

// GetSession fetches the network's view of the session identity, used
// by the health check and the profile endpoint.
func (c *Client) GetSession(ctx context.Context, userID string) (map[string]interface{}, error) {
	respBody, err := c.Do(ctx, userID, http.MethodGet, "com.atproto.server.getSession", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode getSession response: %w", err)
	}
	return out, nil
}
