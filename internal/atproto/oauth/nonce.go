package oauth

import (
	"net/url"
	"sync"
)

// NonceCache holds the last DPoP-Nonce issued by each host, keyed by
// (subject, host). The subject is a DID for established sessions and
// empty during the initial authorization exchange.
type NonceCache struct {
	nonces map[string]string
	mu     sync.RWMutex
}

// NewNonceCache creates an empty nonce cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{nonces: make(map[string]string)}
}

func nonceKey(subject, host string) string {
	return subject + "|" + host
}

// Get returns the last nonce seen for (subject, host), or "".
func (c *NonceCache) Get(subject, host string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonces[nonceKey(subject, host)]
}

// Set stores the nonce for (subject, host). Empty nonces are ignored
// so a response without the header never clears a stored value.
func (c *NonceCache) Set(subject, host, nonce string) {
	if nonce == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[nonceKey(subject, host)] = nonce
}

// Clear drops all nonces for subject across every host.
func (c *NonceCache) Clear(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := subject + "|"
	for k := range c.nonces {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.nonces, k)
		}
	}
}

// HostOf extracts the host component of a URL for nonce keying.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
