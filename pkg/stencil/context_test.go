package stencil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

func TestCallStack(t *testing.T) {
	s := NewCallStack("path", 3)
	require.NoError(t, s.Push("a"))
	require.NoError(t, s.Push("b"))

	err := s.Push("a")
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, "a", cycle.Path)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Stack)

	require.NoError(t, s.PushWithoutCycleCheck("a"))
	assert.Equal(t, 2, s.Count("a"))
	assert.Equal(t, 3, s.Depth())

	err = s.PushWithoutCycleCheck("c")
	var depth *DepthError
	require.True(t, errors.As(err, &depth))
	assert.Equal(t, 4, depth.Depth)
	assert.Equal(t, 3, depth.Max)

	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, "a", top)

	s.Pop()
	s.Pop()
	assert.Equal(t, []string{"a"}, s.Items())
	assert.False(t, s.Contains("b"))
	s.Pop()
	s.Pop()
	_, ok = s.Top()
	assert.False(t, ok)
}

func TestContextScopes(t *testing.T) {
	global := NewGlobalContext()
	global.Put("site", "example")

	root := NewContext(global)
	root.Put("x", 1)
	child := NewContext(root)

	v, ok := child.Get("site")
	require.True(t, ok)
	assert.Equal(t, "example", v)

	t.Run("write through to enclosing binding", func(t *testing.T) {
		child.Put("x", 2)
		v, _ := root.Get("x")
		assert.Equal(t, 2, v)
		assert.NotContains(t, child.Locals(), "x")
	})

	t.Run("new names stay local", func(t *testing.T) {
		child.Put("y", 3)
		_, ok := root.Get("y")
		assert.False(t, ok)
	})

	t.Run("global scope is never written from a render", func(t *testing.T) {
		child.Put("site", "mine")
		v, _ := global.Get("site")
		assert.Equal(t, "example", v)
		v, _ = child.Get("site")
		assert.Equal(t, "mine", v)
	})

	t.Run("declare shadows", func(t *testing.T) {
		child.Declare("x", 9)
		v, _ := root.Get("x")
		assert.Equal(t, 2, v)
		v, _ = child.Get("x")
		assert.Equal(t, 9, v)
	})

	t.Run("remove", func(t *testing.T) {
		child.Remove("x")
		v, _ := child.Get("x")
		assert.Equal(t, 2, v)
	})

	assert.Equal(t, []string{"site", "x", "y"}, child.Keys())
}

func TestContextShadowOnWrite(t *testing.T) {
	root := NewContext(NewGlobalContext())
	root.SetShadowOnWrite(true)
	root.Put("x", 1)
	child := NewContext(root)
	child.Put("x", 2)

	v, _ := root.Get("x")
	assert.Equal(t, 1, v)
	v, _ = child.Get("x")
	assert.Equal(t, 2, v)
}

func TestContextRenderState(t *testing.T) {
	global := NewGlobalContext()
	a := NewContext(global)
	b := NewContext(global)
	inner := NewContext(a)

	assert.Same(t, a.Paths(), inner.Paths())
	assert.NotSame(t, a.Paths(), b.Paths())
	assert.Same(t, a.MacroStack(), inner.MacroStack())
}

func TestContextMacrosAndSettings(t *testing.T) {
	root := NewContext(NewGlobalContext())
	m := &MacroFunction{Name: "field"}
	root.AddMacro(m)
	child := NewContext(root)

	got, ok := child.Macro("field")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Empty(t, child.LocalMacros())

	assert.False(t, child.Autoescape(false))
	root.SetAutoescape(true)
	assert.True(t, child.Autoescape(false))
	child.SetAutoescape(false)
	assert.False(t, child.Autoescape(true))

	root.Disable("include")
	assert.True(t, child.IsDisabled("include"))
	assert.False(t, child.IsDisabled("import"))
}

func TestContextMarkDeferred(t *testing.T) {
	root := NewContext(NewGlobalContext())
	root.Put("known", 5)
	child := NewContext(root)
	child.MarkDeferred("known", "unknown")

	v, _ := root.Get("known")
	require.True(t, el.IsDeferred(v))
	orig, ok := v.(*el.DeferredValue).Original()
	require.True(t, ok)
	assert.Equal(t, 5, orig)

	v, ok = child.Get("unknown")
	require.True(t, ok)
	assert.True(t, el.IsDeferred(v))
}

func TestContextReset(t *testing.T) {
	global := NewGlobalContext()
	global.Put("g", 1)
	root := NewContext(global)
	root.Put("x", 1)
	root.AddMacro(&MacroFunction{Name: "m"})
	require.NoError(t, root.Paths().Push("a.txt"))

	NewContext(root).Reset()

	_, ok := root.Get("x")
	assert.False(t, ok)
	_, ok = root.Macro("m")
	assert.False(t, ok)
	assert.Zero(t, root.Paths().Depth())
	v, _ := root.Get("g")
	assert.Equal(t, 1, v)
}
