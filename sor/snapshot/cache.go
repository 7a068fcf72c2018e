package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheTTL is how long a filtered pool set is reused.
	DefaultCacheTTL = 10 * time.Second
	// DefaultCacheSize bounds the number of (chain, version, hooks) entries.
	DefaultCacheSize = 64
)

// CachedProvider memoizes another provider per chain, protocol version and
// hook flag. Allowlisted queries always go to the inner provider.
type CachedProvider struct {
	inner Provider
	cache *expirable.LRU[string, []PoolRecord]
}

func NewCachedProvider(inner Provider, size int, ttl time.Duration) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{
		inner: inner,
		cache: expirable.NewLRU[string, []PoolRecord](size, nil, ttl),
	}
}

func cacheKey(q Query) string {
	return fmt.Sprintf("sor:pools:%s:%d:%t", q.Chain, q.ProtocolVersion, q.ConsiderPoolsWithHooks)
}

func (c *CachedProvider) GetPools(ctx context.Context, q Query) ([]PoolRecord, error) {
	if len(q.PoolIDs) > 0 {
		return c.inner.GetPools(ctx, q)
	}
	key := cacheKey(q)
	if records, ok := c.cache.Get(key); ok {
		log.Debug().Str("key", key).Int("pools", len(records)).Msg("Snapshot cache hit")
		return records, nil
	}
	records, err := c.inner.GetPools(ctx, q)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, records)
	return records, nil
}

// Purge drops every cached entry.
func (c *CachedProvider) Purge() {
	c.cache.Purge()
}
