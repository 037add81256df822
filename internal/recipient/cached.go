package recipient

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached memoizes successful lookups of another resolver for a TTL. Errors
// are not cached.
type Cached struct {
	next  Resolver
	cache *cache.Cache
}

// NewCached wraps next with a cache whose entries expire after ttl.
func NewCached(next Resolver, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Resolve(ctx context.Context, orderID string) (string, error) {
	if v, found := c.cache.Get(orderID); found {
		return v.(string), nil
	}
	addr, err := c.next.Resolve(ctx, orderID)
	if err != nil {
		return "", err
	}
	c.cache.Set(orderID, addr, cache.DefaultExpiration)
	return addr, nil
}

// Len returns the number of cached entries, expired ones included until the
// next cleanup.
func (c *Cached) Len() int { return c.cache.ItemCount() }
