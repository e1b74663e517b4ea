package router

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Aman-CERP/amanrag/internal/llm"
)

// Cache defaults.
const (
	DefaultSessionCacheSize = 256
	DefaultMaxSessions      = 1024
	DefaultSessionTTL       = 30 * time.Minute
)

// SessionCache holds classifier labels per session, keyed by the exact
// query string. Idle sessions expire. Safe for concurrent use; concurrent
// writes for the same key keep the last one.
type SessionCache struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *lru.Cache[string, llm.Tier]]
	perSize  int
}

// NewSessionCache creates a cache for up to maxSessions sessions of
// perSession entries each.
func NewSessionCache(maxSessions, perSession int, ttl time.Duration) *SessionCache {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if perSession <= 0 {
		perSession = DefaultSessionCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{
		sessions: expirable.NewLRU[string, *lru.Cache[string, llm.Tier]](maxSessions, nil, ttl),
		perSize:  perSession,
	}
}

// Get returns the cached tier for query in session.
func (c *SessionCache) Get(sessionID, query string) (llm.Tier, bool) {
	entries, ok := c.sessions.Get(sessionID)
	if !ok {
		return "", false
	}
	return entries.Get(query)
}

// Add stores tier for query in session, creating the session if needed.
func (c *SessionCache) Add(sessionID, query string, tier llm.Tier) {
	c.session(sessionID).Add(query, tier)
}

// Len returns the number of live sessions.
func (c *SessionCache) Len() int {
	return c.sessions.Len()
}

// Forget drops a session.
func (c *SessionCache) Forget(sessionID string) {
	c.sessions.Remove(sessionID)
}

func (c *SessionCache) session(sessionID string) *lru.Cache[string, llm.Tier] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entries, ok := c.sessions.Get(sessionID); ok {
		return entries
	}
	entries, _ := lru.New[string, llm.Tier](c.perSize)
	c.sessions.Add(sessionID, entries)
	return entries
}
