package provider

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"

	"github.com/plant-for-the-planet/firealert/internal/cache"
	"github.com/plant-for-the-planet/firealert/internal/model"
)

// Resolver turns stored providers into initialized Sources, optionally
// caching validated configurations.
type Resolver struct {
	registry *Registry
	cache    *cache.LRU[string, Source]
}

// ResolverOptions configures the validated-config cache.
type ResolverOptions struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	Clock        clockwork.Clock
}

// NewResolver creates a Resolver over registry.
func NewResolver(registry *Registry, opts ResolverOptions) *Resolver {
	r := &Resolver{registry: registry}
	if opts.CacheEnabled {
		r.cache = cache.New[string, Source](0, opts.CacheTTL, opts.Clock)
	}
	return r
}

// Registry returns the underlying adapter registry.
func (r *Resolver) Registry() *Registry { return r.registry }

// Resolve returns the Source for p. Cached entries are keyed by provider id
// and a hash of the adapter key and raw config, so an edited config is
// revalidated on the next run.
func (r *Resolver) Resolve(p model.Provider) (Source, error) {
	key := cacheKey(p)
	if r.cache != nil {
		if src, ok := r.cache.Get(key); ok {
			return src, nil
		}
	}

	adapter, err := r.registry.Get(p.Type)
	if err != nil {
		return nil, err
	}
	src, err := adapter.Initialize(p.Config)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Put(key, src)
	}
	return src, nil
}

func cacheKey(p model.Provider) string {
	d := xxhash.New()
	_, _ = d.WriteString(p.Type)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(p.Config)
	return p.ID + ":" + strconv.FormatUint(d.Sum64(), 16)
}
