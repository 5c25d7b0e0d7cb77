package stencil

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// CacheConfig contains configuration options for the template cache
type CacheConfig struct {
	// MaxSize is the maximum number of templates to cache. 0 disables caching.
	MaxSize int
	// TTL is the time-to-live for cached templates. 0 means no expiration.
	TTL time.Duration
}

// TemplateCache keeps built node trees. Trees are never mutated while
// rendering, so one cached tree serves concurrent renders.
type TemplateCache struct {
	lru     *expirable.LRU[string, *tree.Tree]
	group   singleflight.Group
	config  CacheConfig
	metrics *Metrics
}

// NewTemplateCache creates a new template cache with default configuration
func NewTemplateCache() *TemplateCache {
	config := GetGlobalConfig()
	return NewTemplateCacheWithConfig(CacheConfig{
		MaxSize: config.CacheMaxSize,
		TTL:     config.CacheTTL,
	})
}

// NewTemplateCacheWithConfig creates a new template cache with the given configuration
func NewTemplateCacheWithConfig(config CacheConfig) *TemplateCache {
	tc := &TemplateCache{config: config}
	if config.MaxSize > 0 {
		tc.lru = expirable.NewLRU[string, *tree.Tree](config.MaxSize, nil, config.TTL)
	}
	return tc
}

// Prepare returns the cached tree for key or builds it with build. Only
// one build per key runs at a time.
func (tc *TemplateCache) Prepare(key string, build func() (*tree.Tree, error)) (*tree.Tree, error) {
	if tc.lru == nil {
		return build()
	}
	if t, ok := tc.lru.Get(key); ok {
		tc.metrics.cacheHit()
		return t, nil
	}
	tc.metrics.cacheMiss()
	v, err, _ := tc.group.Do(key, func() (interface{}, error) {
		t, err := build()
		if err != nil {
			return nil, err
		}
		tc.lru.Add(key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tree.Tree), nil
}

// Get retrieves a template from cache without preparing a new one
func (tc *TemplateCache) Get(key string) (*tree.Tree, bool) {
	if tc.lru == nil {
		return nil, false
	}
	return tc.lru.Get(key)
}

// Set adds a template to the cache
func (tc *TemplateCache) Set(key string, t *tree.Tree) {
	if tc.lru == nil {
		return
	}
	tc.lru.Add(key, t)
}

// Remove drops one template from the cache
func (tc *TemplateCache) Remove(key string) {
	if tc.lru == nil {
		return
	}
	tc.lru.Remove(key)
}

// Clear removes all templates from the cache
func (tc *TemplateCache) Clear() {
	if tc.lru == nil {
		return
	}
	tc.lru.Purge()
}

// Size returns the current number of cached templates
func (tc *TemplateCache) Size() int {
	if tc.lru == nil {
		return 0
	}
	return tc.lru.Len()
}
