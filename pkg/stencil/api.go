package stencil

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// expressionCacheSize bounds the parsed-expression cache. Expressions are
// far more numerous than templates, so it is sized independently.
const expressionCacheSize = 4096

// Engine provides the main API for working with templates.
// Use New() to create a new engine instance.
//
// An Engine is safe for concurrent use once configured: every render gets
// its own Interpreter layered over the shared global scope. Register
// functions, filters, tests and tags before rendering starts.
type Engine struct {
	config *Config
	global *Context

	tags      *TagRegistry
	functions *DefaultFunctionRegistry
	filters   *FilterRegistry
	tests     *TestRegistry
	accessors *el.Accessors

	exprs     *el.Cache
	templates *TemplateCache
	bindings  *expirable.LRU[*el.Tree, *el.Bindings]

	locator ResourceLocator
	metrics *Metrics
	logger  *Logger
}

// New creates a new template engine with the global configuration.
func New() *Engine {
	return NewWithConfig(GetGlobalConfig())
}

// NewWithConfig creates a new template engine with custom configuration.
func NewWithConfig(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Engine{
		config:    config,
		global:    NewGlobalContext(),
		tags:      NewTagRegistry(),
		functions: NewFunctionRegistry(),
		filters:   NewFilterRegistry(),
		tests:     NewTestRegistry(),
		accessors: el.NewAccessors(),
		exprs: el.NewCache(expressionCacheSize, config.CacheTTL, el.ParseOptions{
			EvaluateMapKeys:   config.Legacy.EvaluateMapKeys,
			NaturalPrecedence: config.Legacy.UseNaturalOperatorPrecedence,
		}),
		templates: NewTemplateCacheWithConfig(CacheConfig{
			MaxSize: config.CacheMaxSize,
			TTL:     config.CacheTTL,
		}),
		bindings: expirable.NewLRU[*el.Tree, *el.Bindings](expressionCacheSize, nil, config.CacheTTL),
		locator:  NewMapLocator(nil),
		logger:   GetLogger(),
	}
	registerBuiltinTags(e.tags)
	registerBasicFunctions(e.functions)
	registerDateFunctions(e.functions)
	registerFormatFunctions(e.functions)
	registerBuiltinFilters(e.filters)
	registerBuiltinTests(e.tests)
	return e
}

// Option represents a configuration option for the engine.
type Option func(*Engine)

// WithLocator returns an option that sets where include, import and
// extends load templates from.
func WithLocator(l ResourceLocator) Option {
	return func(e *Engine) {
		e.SetLocator(l)
	}
}

// WithMetrics returns an option that reports renders and cache use to m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
		e.templates.metrics = m
	}
}

// WithLogger returns an option that replaces the engine logger.
func WithLogger(l *Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithFunction returns an option that registers a custom function.
func WithFunction(fn Function) Option {
	return func(e *Engine) {
		e.RegisterFunction(fn)
	}
}

// WithFilter returns an option that registers a custom filter.
func WithFilter(name string, f el.FilterFunc) Option {
	return func(e *Engine) {
		e.RegisterFilter(name, f)
	}
}

// WithGlobals returns an option that binds values visible to every render.
func WithGlobals(vars map[string]interface{}) Option {
	return func(e *Engine) {
		e.global.PutAll(vars)
	}
}

// NewWithOptions creates a new engine from config with the specified
// options applied.
func NewWithOptions(config *Config, opts ...Option) *Engine {
	engine := NewWithConfig(config)
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Config returns the engine's configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// GlobalContext returns the scope shared by every render. Write to it only
// while configuring the engine.
func (e *Engine) GlobalContext() *Context {
	return e.global
}

// Metrics returns the engine's collectors, or nil when none are set.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Locator returns the current resource locator.
func (e *Engine) Locator() ResourceLocator {
	return e.locator
}

// SetLocator replaces the resource locator and drops templates loaded
// through the previous one.
func (e *Engine) SetLocator(l ResourceLocator) {
	e.locator = l
	e.templates.Clear()
}

// RegisterFunction adds a custom function that can be used in templates.
func (e *Engine) RegisterFunction(fn Function) error {
	if err := e.functions.RegisterFunction(fn); err != nil {
		return err
	}
	e.bindings.Purge()
	return nil
}

// RegisterFilter adds a custom filter.
func (e *Engine) RegisterFilter(name string, f el.FilterFunc) error {
	return e.filters.Register(name, f)
}

// RegisterTest adds a custom expression test.
func (e *Engine) RegisterTest(name string, t el.TestFunc) error {
	return e.tests.Register(name, t)
}

// RegisterTag adds a custom tag. Templates already parsed keep the tag set
// they were built with, so the template cache is cleared.
func (e *Engine) RegisterTag(t Tag) error {
	if err := e.tags.Register(t); err != nil {
		return err
	}
	e.templates.Clear()
	return nil
}

// RegisterType precomputes field and method access for values of v's type.
func (e *Engine) RegisterType(v interface{}) {
	e.accessors.Register(v)
}

// ClearCache removes all parsed templates and expressions from the caches.
func (e *Engine) ClearCache() {
	e.templates.Clear()
	e.exprs.Purge()
	e.bindings.Purge()
}

// Parse builds the node tree for src, reusing a cached tree when the same
// source was parsed before.
func (e *Engine) Parse(src string) *tree.Tree {
	t, _ := e.templates.Prepare("src:"+src, func() (*tree.Tree, error) {
		return e.build(src), nil
	})
	return t
}

func (e *Engine) build(src string) *tree.Tree {
	return tree.Build(src, e.tags, tree.Options{
		Symbols:          e.config.Symbols,
		TrimBlocks:       e.config.TrimBlocks,
		LStripBlocks:     e.config.LStripBlocks,
		StrictWhitespace: e.config.Legacy.ParseWhitespaceControlStrictly,
	})
}

// loadTemplate fetches and builds the template at a resolved path.
func (e *Engine) loadTemplate(ctx context.Context, path string) (*tree.Tree, error) {
	if e.locator == nil {
		return nil, &ResourceNotFoundError{Path: path, Cause: fmt.Errorf("no resource locator configured")}
	}
	return e.templates.Prepare("file:"+path, func() (*tree.Tree, error) {
		src, err := e.locator.Locate(ctx, path)
		if err != nil {
			return nil, err
		}
		return e.build(src), nil
	})
}

// bindingsFor returns the function bindings of t, resolving them once.
func (e *Engine) bindingsFor(t *el.Tree) *el.Bindings {
	if b, ok := e.bindings.Get(t); ok {
		return b
	}
	b := t.Bind(e.resolveFunction, nil)
	e.bindings.Add(t, b)
	return b
}

func (e *Engine) resolveFunction(namespace, name string, arity int) (el.Callable, bool) {
	fn, ok := e.functions.GetFunction(namespace, name, arity)
	if !ok {
		return nil, false
	}
	return fn, true
}

// Watch invalidates cached templates when files under a FileLocator
// change. It is a no-op for other locators.
func (e *Engine) Watch(ctx context.Context) error {
	fl, ok := e.locator.(*FileLocator)
	if !ok {
		return nil
	}
	return fl.Watch(ctx, func(path string) {
		e.logger.Debug("template %s changed", path)
		e.templates.Remove("file:" + path)
	})
}

// RenderResult is the outcome of a render that did not throw.
type RenderResult struct {
	Output string
	Errors ErrorList
	// Context is the render's outermost scope after rendering, including
	// assignments made by the template.
	Context *Context
}

// Err returns a *RenderError when fatal items were recorded.
func (r *RenderResult) Err() error {
	if !r.Errors.HasFatal() {
		return nil
	}
	return &RenderError{Errors: r.Errors, Output: r.Output}
}

// Render renders template text with bindings. It fails only when a fatal
// item was recorded; warnings are dropped.
func (e *Engine) Render(template string, bindings map[string]interface{}) (string, error) {
	return e.RenderWithContext(context.Background(), template, bindings)
}

// RenderWithContext is Render with cancellation. A cancelled context stops
// the render between nodes.
func (e *Engine) RenderWithContext(ctx context.Context, template string, bindings map[string]interface{}) (string, error) {
	r := e.RenderForResult(ctx, template, bindings)
	return r.Output, r.Err()
}

// RenderForResult renders template text and reports every recorded item.
// It never fails for recoverable problems.
func (e *Engine) RenderForResult(ctx context.Context, template string, bindings map[string]interface{}) *RenderResult {
	return e.render(ctx, e.Parse(template), "", bindings)
}

// RenderPath renders the template the locator holds at path.
func (e *Engine) RenderPath(ctx context.Context, path string, bindings map[string]interface{}) *RenderResult {
	path = e.locator.Resolve("", path)
	t, err := e.loadTemplate(ctx, path)
	if err != nil {
		i := e.NewInterpreter(ctx, bindings)
		i.AddError(err)
		return &RenderResult{Errors: i.errors, Context: i.ctx}
	}
	return e.render(ctx, t, path, bindings)
}

func (e *Engine) render(ctx context.Context, t *tree.Tree, path string, bindings map[string]interface{}) *RenderResult {
	start := time.Now()
	i := e.NewInterpreter(ctx, bindings)
	if path != "" {
		i.ctx.Paths().PushWithoutCycleCheck(path)
	}
	i.logger.Debug("render started (mode %s)", e.config.ExecutionMode)

	out := i.Render(t)

	e.metrics.observeRender(start, i.errors)
	i.logger.WithFields(Fields{
		"errors":   len(i.errors),
		"deferred": i.ctx.DeferredCount(),
		"duration": time.Since(start),
	}).Debug("render finished")
	return &RenderResult{Output: out, Errors: i.errors, Context: i.ctx}
}
