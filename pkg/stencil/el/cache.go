package el

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache memoises parsed trees by source text. Trees are immutable once
// parsed, so one tree may be evaluated concurrently with separate bindings.
type Cache struct {
	lru    *expirable.LRU[string, *Tree]
	group  singleflight.Group
	opts   ParseOptions
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache holding up to size trees (0 = unbounded) for at
// most ttl (0 = forever).
func NewCache(size int, ttl time.Duration, opts ParseOptions) *Cache {
	return &Cache{
		lru:  expirable.NewLRU[string, *Tree](size, nil, ttl),
		opts: opts,
	}
}

// Parse returns the cached tree for src, parsing it at most once even under
// concurrent callers.
func (c *Cache) Parse(src string) (*Tree, error) {
	if t, ok := c.lru.Get(src); ok {
		c.hits.Add(1)
		return t, nil
	}
	c.misses.Add(1)
	v, err, _ := c.group.Do(src, func() (interface{}, error) {
		t, err := ParseWith(src, c.opts)
		if err != nil {
			return nil, err
		}
		c.lru.Add(src, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tree), nil
}

// Len returns the number of cached trees.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached tree.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Stats reports cache hits and misses.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) String() string {
	h, m := c.Stats()
	return fmt.Sprintf("el.Cache{len=%d hits=%d misses=%d}", c.Len(), h, m)
}
