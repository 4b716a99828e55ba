package store

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/plant-for-the-planet/firealert/internal/cache"
	"github.com/plant-for-the-planet/firealert/internal/model"
)

// CachedSites memoizes GetSite lookups. Misses are not cached.
type CachedSites struct {
	next  SiteStore
	cache *cache.LRU[string, *model.Site]
}

// NewCachedSites wraps next with an LRU of maxEntries sites kept for ttl.
func NewCachedSites(next SiteStore, maxEntries int, ttl time.Duration, clock clockwork.Clock) *CachedSites {
	return &CachedSites{
		next:  next,
		cache: cache.New[string, *model.Site](maxEntries, ttl, clock),
	}
}

func (c *CachedSites) GetSite(ctx context.Context, id string) (*model.Site, error) {
	if s, ok := c.cache.Get(id); ok {
		return s, nil
	}
	s, err := c.next.GetSite(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Put(id, s)
	return s, nil
}

// Stats reports cache hit statistics.
func (c *CachedSites) Stats() cache.Stats {
	return c.cache.Stats()
}
