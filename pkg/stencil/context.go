package stencil

import (
	"sort"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

// CallStack is a stack of names, template paths or macro names, used to
// detect cycles and bound nesting.
type CallStack struct {
	what     string
	items    []string
	maxDepth int
}

// NewCallStack returns an empty stack. maxDepth <= 0 means unbounded.
func NewCallStack(what string, maxDepth int) *CallStack {
	return &CallStack{what: what, maxDepth: maxDepth}
}

// Push adds name, failing with a CycleError when it is already on the
// stack.
func (s *CallStack) Push(name string) error {
	if s.Contains(name) {
		return NewCycleError(name, append(s.Items(), name))
	}
	return s.PushWithoutCycleCheck(name)
}

// PushWithoutCycleCheck adds name even when it is already present. The
// depth bound still applies.
func (s *CallStack) PushWithoutCycleCheck(name string) error {
	if s.maxDepth > 0 && len(s.items) >= s.maxDepth {
		return NewDepthError(s.what, len(s.items)+1, s.maxDepth)
	}
	s.items = append(s.items, name)
	return nil
}

// Pop removes the top entry.
func (s *CallStack) Pop() {
	if len(s.items) > 0 {
		s.items = s.items[:len(s.items)-1]
	}
}

// Top returns the most recently pushed entry.
func (s *CallStack) Top() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	return s.items[len(s.items)-1], true
}

func (s *CallStack) Contains(name string) bool {
	for _, item := range s.items {
		if item == name {
			return true
		}
	}
	return false
}

// Count returns how many times name is on the stack.
func (s *CallStack) Count(name string) int {
	n := 0
	for _, item := range s.items {
		if item == name {
			n++
		}
	}
	return n
}

func (s *CallStack) Depth() int {
	return len(s.items)
}

// Items returns a copy of the stack, bottom first.
func (s *CallStack) Items() []string {
	return append([]string(nil), s.items...)
}

// renderState is shared by every scope of one render.
type renderState struct {
	paths  *CallStack
	macros *CallStack

	// words referenced by emitted reconstructions; a later assignment to
	// one of them is emitted too so the second pass sees the same value
	words map[string]bool
	// number of deferred fragments emitted so far
	deferredCount int
	// macro definitions already emitted as source
	emittedMacros map[*MacroFunction]bool
}

func newRenderState() *renderState {
	return &renderState{
		paths:         NewCallStack("path", 0),
		macros:        NewCallStack("macro", 0),
		words:         map[string]bool{},
		emittedMacros: map[*MacroFunction]bool{},
	}
}

// Context is one scope in a chain of scopes. The outermost scope belongs to
// the engine and holds globals shared by all renders; it is only written
// while the engine is being configured. Each render layers its own scopes
// on top of it.
type Context struct {
	parent *Context
	vars   map[string]interface{}
	macros map[string]*MacroFunction

	global        bool
	shadowOnWrite bool
	disabled      map[string]bool
	autoescape    *bool

	state *renderState
}

// NewGlobalContext returns an engine-wide root scope.
func NewGlobalContext() *Context {
	return &Context{
		vars:     map[string]interface{}{},
		macros:   map[string]*MacroFunction{},
		global:   true,
		disabled: map[string]bool{},
	}
}

// NewContext returns a child scope of parent. A child of a global scope
// starts a new render and gets fresh path and macro stacks.
func NewContext(parent *Context) *Context {
	c := &Context{
		parent: parent,
		vars:   map[string]interface{}{},
		macros: map[string]*MacroFunction{},
	}
	if parent == nil || parent.global || parent.state == nil {
		c.state = newRenderState()
	} else {
		c.state = parent.state
	}
	if parent != nil {
		c.shadowOnWrite = parent.shadowOnWrite
	}
	return c
}

func (c *Context) Parent() *Context {
	return c.parent
}

// IsGlobal reports whether c is an engine-wide root scope.
func (c *Context) IsGlobal() bool {
	return c.global
}

// SetShadowOnWrite makes Put always write to the innermost scope.
func (c *Context) SetShadowOnWrite(v bool) {
	c.shadowOnWrite = v
}

// Get walks from c outwards and returns the first binding of key.
func (c *Context) Get(key string) (interface{}, bool) {
	for s := c; s != nil; s = s.parent {
		if v, ok := s.vars[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Put assigns key. Without shadow-on-write an existing binding in an
// enclosing render scope is updated in place; otherwise, and for new
// names, the innermost scope receives the value. The global scope is never
// written through from a render.
func (c *Context) Put(key string, value interface{}) {
	if !c.shadowOnWrite && !c.global {
		for s := c; s != nil && !s.global; s = s.parent {
			if _, ok := s.vars[key]; ok {
				s.vars[key] = value
				return
			}
		}
	}
	c.vars[key] = value
}

// Declare binds key in the innermost scope only.
func (c *Context) Declare(key string, value interface{}) {
	c.vars[key] = value
}

// PutAll declares every entry of m in the innermost scope.
func (c *Context) PutAll(m map[string]interface{}) {
	for k, v := range m {
		c.vars[k] = v
	}
}

// Remove deletes key from the innermost scope that binds it.
func (c *Context) Remove(key string) {
	for s := c; s != nil && !s.global; s = s.parent {
		if _, ok := s.vars[key]; ok {
			delete(s.vars, key)
			return
		}
	}
}

// Locals returns the bindings of this scope alone.
func (c *Context) Locals() map[string]interface{} {
	out := make(map[string]interface{}, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Keys returns every visible name, sorted.
func (c *Context) Keys() []string {
	seen := map[string]bool{}
	for s := c; s != nil; s = s.parent {
		for k := range s.vars {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddMacro registers m in this scope.
func (c *Context) AddMacro(m *MacroFunction) {
	c.macros[m.Name] = m
}

// Macro finds a macro by name, innermost scope first.
func (c *Context) Macro(name string) (*MacroFunction, bool) {
	for s := c; s != nil; s = s.parent {
		if m, ok := s.macros[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// LocalMacros returns the macros defined in this scope.
func (c *Context) LocalMacros() map[string]*MacroFunction {
	out := make(map[string]*MacroFunction, len(c.macros))
	for k, v := range c.macros {
		out[k] = v
	}
	return out
}

// Disable turns off a tag, filter, function or test by name for this scope
// and its children.
func (c *Context) Disable(name string) {
	if c.disabled == nil {
		c.disabled = map[string]bool{}
	}
	c.disabled[name] = true
}

func (c *Context) IsDisabled(name string) bool {
	for s := c; s != nil; s = s.parent {
		if s.disabled[name] {
			return true
		}
	}
	return false
}

func (c *Context) hasDisabled() bool {
	for s := c; s != nil; s = s.parent {
		if len(s.disabled) > 0 {
			return true
		}
	}
	return false
}

// SetAutoescape overrides autoescaping for this scope and its children.
func (c *Context) SetAutoescape(on bool) {
	c.autoescape = &on
}

// Autoescape reports the innermost autoescape setting, or def when none
// is set.
func (c *Context) Autoescape(def bool) bool {
	for s := c; s != nil; s = s.parent {
		if s.autoescape != nil {
			return *s.autoescape
		}
	}
	return def
}

// Paths is the stack of template paths being rendered.
func (c *Context) Paths() *CallStack {
	return c.state.paths
}

// MacroStack is the stack of macros being expanded.
func (c *Context) MacroStack() *CallStack {
	return c.state.macros
}

// renderRoot returns the outermost scope of the current render.
func (c *Context) renderRoot() *Context {
	s := c
	for s.parent != nil && !s.parent.global {
		s = s.parent
	}
	return s
}

// DeferredCount is the number of deferred fragments emitted in this render.
func (c *Context) DeferredCount() int {
	return c.state.deferredCount
}

func (c *Context) noteDeferred(words []string) {
	c.state.deferredCount++
	for _, w := range words {
		c.state.words[w] = true
	}
}

// IsReferenced reports whether an emitted reconstruction refers to name.
func (c *Context) IsReferenced(name string) bool {
	return c.state.words[name]
}

// MarkDeferred binds each name to a deferred value in the innermost scope
// that holds it.
func (c *Context) MarkDeferred(names ...string) {
	for _, n := range names {
		v, _ := c.Get(n)
		if el.IsDeferred(v) {
			continue
		}
		if v == nil {
			c.Put(n, el.Deferred())
		} else {
			c.Put(n, el.DeferredOf(v))
		}
	}
}

// Reset clears the render scope so the context can be reused. The global
// scope it sits on is left alone.
func (c *Context) Reset() {
	root := c.renderRoot()
	if root.global {
		return
	}
	root.vars = map[string]interface{}{}
	root.macros = map[string]*MacroFunction{}
	root.disabled = nil
	root.autoescape = nil
	root.state = newRenderState()
}
