// token.go implements the single-slot access token cache. The cache is an explicit
// component injected into the Client rather than package-level state, so tests and
// multiple client instances each own their slot.
package sharedo

import (
	"sync"
	"time"
)

// refreshMargin is subtracted from the expiry when deciding whether a cached
// token is still usable, so a token is never presented within 30 seconds of
// expiring mid-request.
const refreshMargin = 30 * time.Second

// AccessToken is a bearer credential issued by the identity server
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresIn int
	ExpiresAt time.Time
}

// TokenCache holds at most one access token. Concurrent refreshes may race;
// that is acceptable because tokens are stateless bearer credentials and the
// last writer wins with an equally valid token. The mutex only protects the
// slot's integrity, it is never held across a network call.
type TokenCache struct {
	mu    sync.Mutex
	token *AccessToken

	// now is replaceable for tests
	now func() time.Time
}

// NewTokenCache creates an empty token cache
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns the cached token if it is still usable with the refresh margin
// applied, or nil when the slot is empty or stale.
func (c *TokenCache) Get() *AccessToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return nil
	}
	if !c.now().Before(c.token.ExpiresAt.Add(-refreshMargin)) {
		return nil
	}
	return c.token
}

// Put replaces the cached token
func (c *TokenCache) Put(token *AccessToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}
