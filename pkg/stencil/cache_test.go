package stencil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

func buildCounter(n *int32, src string) func() (*tree.Tree, error) {
	return func() (*tree.Tree, error) {
		atomic.AddInt32(n, 1)
		return &tree.Tree{Source: src}, nil
	}
}

func TestTemplateCachePrepare(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10})
	var builds int32

	first, err := tc.Prepare("k", buildCounter(&builds, "a"))
	require.NoError(t, err)
	second, err := tc.Prepare("k", buildCounter(&builds, "b"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), builds)
	assert.Equal(t, 1, tc.Size())
}

func TestTemplateCacheBuildErrorIsNotCached(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10})
	boom := errors.New("boom")

	_, err := tc.Prepare("k", func() (*tree.Tree, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, tc.Size())

	var builds int32
	got, err := tc.Prepare("k", buildCounter(&builds, "ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Source)
}

func TestTemplateCacheEviction(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 2})
	for _, k := range []string{"a", "b", "c"} {
		tc.Set(k, &tree.Tree{Source: k})
	}
	assert.Equal(t, 2, tc.Size())
	_, ok := tc.Get("a")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = tc.Get("c")
	assert.True(t, ok)
}

func TestTemplateCacheTTL(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10, TTL: 20 * time.Millisecond})
	tc.Set("k", &tree.Tree{})
	_, ok := tc.Get("k")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := tc.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTemplateCacheRemoveAndClear(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10})
	tc.Set("a", &tree.Tree{})
	tc.Set("b", &tree.Tree{})

	tc.Remove("a")
	_, ok := tc.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, tc.Size())

	tc.Clear()
	assert.Zero(t, tc.Size())
}

func TestTemplateCacheDisabled(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 0})
	var builds int32
	for k := 0; k < 3; k++ {
		_, err := tc.Prepare("k", buildCounter(&builds, "x"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), builds)

	tc.Set("k", &tree.Tree{})
	_, ok := tc.Get("k")
	assert.False(t, ok)
	assert.Zero(t, tc.Size())
	assert.NotPanics(t, func() {
		tc.Remove("k")
		tc.Clear()
	})
}

func TestTemplateCacheConcurrentPrepare(t *testing.T) {
	tc := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 100})
	var builds int32
	var wg sync.WaitGroup
	for k := 0; k < 50; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", k%5)
			got, err := tc.Prepare(key, buildCounter(&builds, key))
			assert.NoError(t, err)
			assert.Equal(t, key, got.Source)
		}(k)
	}
	wg.Wait()
	assert.Equal(t, 5, tc.Size())
	assert.LessOrEqual(t, atomic.LoadInt32(&builds), int32(50))
}

func TestEngineClearCache(t *testing.T) {
	e := newTestEngine(t, nil)
	first := e.Parse("{{ x }}")
	assert.Same(t, first, e.Parse("{{ x }}"))

	e.ClearCache()
	assert.NotSame(t, first, e.Parse("{{ x }}"))
}
