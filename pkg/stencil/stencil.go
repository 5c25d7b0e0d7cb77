package stencil

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// PreparedTemplate is a parsed template bound to the engine that parsed
// it. It is immutable and safe for concurrent renders.
// Use Engine.Prepare or Engine.PrepareFile to create an instance.
type PreparedTemplate struct {
	engine *Engine
	tree   *tree.Tree
	path   string
}

// TemplateData represents the variables a template is rendered with.
// Values can be strings, numbers, booleans, slices, maps, structs or
// anything else reachable from template expressions.
//
// Example:
//
//	data := TemplateData{
//	    "name": "John Doe",
//	    "items": []map[string]interface{}{
//	        {"name": "Item 1", "price": 19.99},
//	        {"name": "Item 2", "price": 29.99},
//	    },
//	}
type TemplateData map[string]interface{}

// Prepare parses template text.
func (e *Engine) Prepare(src string) *PreparedTemplate {
	return &PreparedTemplate{engine: e, tree: e.Parse(src)}
}

// PrepareFile loads and parses the template the engine's locator holds at
// path.
func (e *Engine) PrepareFile(ctx context.Context, path string) (*PreparedTemplate, error) {
	path = e.locator.Resolve("", path)
	t, err := e.loadTemplate(ctx, path)
	if err != nil {
		return nil, err
	}
	return &PreparedTemplate{engine: e, tree: t, path: path}, nil
}

// Source returns the template text as parsed.
func (pt *PreparedTemplate) Source() string {
	return pt.tree.Source
}

// Path returns the resolved path of a template prepared from a file.
func (pt *PreparedTemplate) Path() string {
	return pt.path
}

// Errors returns the problems found while parsing. They are reported
// again by every render.
func (pt *PreparedTemplate) Errors() ErrorList {
	return pt.tree.Errors
}

// Render renders the template with data. It fails only when a fatal error
// was recorded, in which case the error is a *RenderError carrying the
// partial output.
func (pt *PreparedTemplate) Render(data TemplateData) (string, error) {
	r := pt.RenderForResult(context.Background(), data)
	return r.Output, r.Err()
}

// RenderForResult renders the template and reports every recorded item.
func (pt *PreparedTemplate) RenderForResult(ctx context.Context, data TemplateData) *RenderResult {
	return pt.engine.render(ctx, pt.tree, pt.path, data)
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// DefaultEngine returns the engine used by the package-level functions. It
// is created from the global configuration on first use.
func DefaultEngine() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = New()
	})
	return defaultEngine
}

// Prepare parses template text with the default engine.
func Prepare(src string) *PreparedTemplate {
	return DefaultEngine().Prepare(src)
}

// PrepareFile reads and parses a template file from disk with the default
// engine. Includes inside it resolve against the default engine's locator.
func PrepareFile(filename string) (*PreparedTemplate, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return Prepare(string(b)), nil
}

// Render renders template text with data using the default engine.
func Render(src string, data TemplateData) (string, error) {
	return DefaultEngine().Render(src, data)
}

// RenderForResult renders template text with the default engine and
// reports every recorded item.
func RenderForResult(ctx context.Context, src string, data TemplateData) *RenderResult {
	return DefaultEngine().RenderForResult(ctx, src, data)
}
