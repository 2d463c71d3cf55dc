package authz

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds the staleness window after a permission change.
// Mutation paths must additionally call Invalidate; the TTL is the
// backstop, not the mechanism.
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize caps the number of resolved principals held in memory.
const DefaultCacheSize = 4096

// PrincipalCache holds resolved principal snapshots with an absolute
// per-entry TTL. It is safe for concurrent use; the LRU owns its locking.
type PrincipalCache struct {
	entries *lru.LRU[int64, Principal]
	ttl     time.Duration
}

// NewPrincipalCache constructs a cache. Non-positive size or ttl fall
// back to the defaults.
func NewPrincipalCache(size int, ttl time.Duration) *PrincipalCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PrincipalCache{
		entries: lru.NewLRU[int64, Principal](size, nil, ttl),
		ttl:     ttl,
	}
}

// Get returns the cached snapshot for the principal, if present and
// within TTL. The snapshot must be treated as read-only.
func (c *PrincipalCache) Get(id int64) (Principal, bool) {
	return c.entries.Get(id)
}

// Put stores a snapshot. Concurrent puts for the same principal are
// last-write-wins; within a TTL window they represent the same logical
// snapshot.
func (c *PrincipalCache) Put(id int64, p Principal) {
	c.entries.Add(id, p)
}

// Invalidate drops the principal's entry. Every mutation of a principal's
// roles, active flag, or resource grants must call this.
func (c *PrincipalCache) Invalidate(id int64) {
	c.entries.Remove(id)
}

// TTL exposes the configured entry lifetime.
func (c *PrincipalCache) TTL() time.Duration {
	return c.ttl
}
