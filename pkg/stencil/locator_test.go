package stencil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRelative(t *testing.T) {
	tests := []struct {
		from, name, want string
	}{
		{"", "a.txt", "a.txt"},
		{"dir/page.txt", "a.txt", "a.txt"},
		{"dir/page.txt", "./a.txt", "dir/a.txt"},
		{"dir/sub/page.txt", "../a.txt", "dir/a.txt"},
		{"dir/page.txt", "/a.txt", "a.txt"},
		{"dir/page.txt", "x//y/../a.txt", "x/a.txt"},
		{"", "./a.txt", "a.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.from+"+"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRelative(tt.from, tt.name))
		})
	}
}

func TestMapLocator(t *testing.T) {
	l := NewMapLocator(map[string]string{"./a.txt": "A"})
	ctx := context.Background()

	src, err := l.Locate(ctx, l.Resolve("", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A", src)

	_, err = l.Locate(ctx, "b.txt")
	var nf *ResourceNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "b.txt", nf.Path)

	l.Set("b.txt", "B")
	src, err = l.Locate(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "B", src)
}

func writeTemplate(t *testing.T, dir, name, src string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(src), 0o644))
}

func TestFileLocator(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "page.txt", "{% include './parts/head.txt' %}body")
	writeTemplate(t, dir, "parts/head.txt", "head|")

	l, err := NewFileLocator(dir)
	require.NoError(t, err)
	ctx := context.Background()

	src, err := l.Locate(ctx, "parts/head.txt")
	require.NoError(t, err)
	assert.Equal(t, "head|", src)

	_, err = l.Locate(ctx, "nope.txt")
	var nf *ResourceNotFoundError
	assert.True(t, errors.As(err, &nf))

	_, err = l.Locate(ctx, "../outside.txt")
	assert.True(t, errors.As(err, &nf))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.Locate(cancelled, "page.txt")
	assert.ErrorIs(t, err, context.Canceled)

	e := NewWithOptions(DefaultConfig(), WithLocator(l))
	res := e.RenderPath(ctx, "page.txt", nil)
	require.NoError(t, res.Err())
	assert.Equal(t, "head|body", res.Output)
}

func TestNewFileLocatorRejectsFiles(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "f.txt", "x")

	_, err := NewFileLocator(filepath.Join(dir, "f.txt"))
	assert.Error(t, err)
	_, err = NewFileLocator(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFileLocatorWatch(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.txt", "one")

	l, err := NewFileLocator(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	changed := map[string]bool{}
	require.NoError(t, l.Watch(ctx, func(p string) {
		mu.Lock()
		defer mu.Unlock()
		changed[p] = true
	}))

	writeTemplate(t, dir, "a.txt", "two")
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changed["a.txt"]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineWatchInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.txt", "one")

	l, err := NewFileLocator(dir)
	require.NoError(t, err)
	e := NewWithOptions(DefaultConfig(), WithLocator(l))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Watch(ctx))

	res := e.RenderPath(ctx, "a.txt", nil)
	require.NoError(t, res.Err())
	assert.Equal(t, "one", res.Output)

	writeTemplate(t, dir, "a.txt", "two")
	assert.Eventually(t, func() bool {
		return e.RenderPath(ctx, "a.txt", nil).Output == "two"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchWithoutFileLocator(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.NoError(t, e.Watch(context.Background()))
}
