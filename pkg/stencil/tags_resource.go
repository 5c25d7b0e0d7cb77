package stencil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// templatePath evaluates a path expression and resolves it against the
// current template.
func templatePath(i *Interpreter, expr string) (string, error) {
	v, err := i.Evaluate(expr)
	if err != nil {
		return "", err
	}
	name := el.ToString(v)
	if name == "" {
		return "", fmt.Errorf("empty template path")
	}
	return i.ResolvePath(name), nil
}

// renderTemplate renders the template at path in a child scope of the
// current one and returns the output and that scope.
func renderTemplate(i *Interpreter, path string) (string, *Context, error) {
	release, err := i.enterRender(path, true)
	if err != nil {
		return "", nil, err
	}
	defer release()
	t, err := i.loadTemplate(path)
	if err != nil {
		return "", nil, err
	}
	i.recordBuildErrors(t)

	scope := NewContext(i.ctx)
	scope.Declare("current_path", path)
	out, err := i.withScope(scope, func() (string, error) {
		return i.RenderChildren(t.Root)
	})
	return out, scope, err
}

// includeTag renders another template in place:
// {% include 'footer.html' ignore missing %}.
type includeTag struct{}

func (includeTag) Name() string       { return "include" }
func (includeTag) EndTagName() string { return "" }

func parseInclude(helpers string) (string, bool) {
	expr := strings.TrimSpace(helpers)
	for _, suffix := range []string{"with context", "without context"} {
		expr = strings.TrimSpace(strings.TrimSuffix(expr, suffix))
	}
	if strings.HasSuffix(expr, "ignore missing") {
		return strings.TrimSpace(strings.TrimSuffix(expr, "ignore missing")), true
	}
	return expr, false
}

func (t includeTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	out, _, err := t.include(n, i)
	return out, err
}

func (includeTag) include(n tree.Node, i *Interpreter) (string, string, error) {
	expr, ignoreMissing := parseInclude(n.Helpers())
	path, err := templatePath(i, expr)
	if err != nil {
		return "", "", err
	}
	out, _, err := renderTemplate(i, path)
	var nf *ResourceNotFoundError
	if ignoreMissing && errors.As(err, &nf) {
		return "", path, nil
	}
	return out, path, err
}

// InterpretEager wraps deferred output in current_path assignments so that
// relative paths inside it still resolve against the included template in
// the next pass.
func (t includeTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	parent := i.CurrentPath()
	before := i.ctx.DeferredCount()
	out, path, err := t.include(n, i)
	if err != nil || !i.deferredSince(before) {
		return out, err
	}
	return i.TagSyntax("set current_path = "+el.Quote(path)) + out +
		i.TagSyntax("set current_path = "+el.Quote(parent)), nil
}

// importTag binds the macros and variables of another template to a name:
// {% import 'forms.html' as forms %}.
type importTag struct{}

func (importTag) Name() string       { return "import" }
func (importTag) EndTagName() string { return "" }

// exports collects what a rendered template makes available to importers.
func exports(scope *Context) map[string]interface{} {
	out := scope.Locals()
	delete(out, "current_path")
	for name, m := range scope.LocalMacros() {
		out[name] = m
	}
	return out
}

func (importTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	expr, alias, ok := splitTopLevel(n.Helpers(), " as ")
	if !ok || !isIdentifier(alias) {
		return "", fmt.Errorf("import expects 'path as name', got %q", n.Helpers())
	}
	path, err := templatePath(i, expr)
	if _, deferred := el.AsDeferred(err); deferred {
		i.ctx.MarkDeferred(alias)
		return "", err
	}
	if err != nil {
		return "", err
	}

	before := i.ctx.DeferredCount()
	_, scope, err := renderTemplate(i, path)
	if err != nil {
		return "", err
	}
	if i.IsEager() && i.deferredSince(before) {
		// the imported template needs the next pass too
		i.ctx.MarkDeferred(alias)
		return "", &el.DeferredSignal{Text: n.Helpers()}
	}
	vars := exports(scope)
	// an import aliased onto a name the template itself binds would
	// otherwise contain itself
	delete(vars, alias)
	i.ctx.Put(alias, vars)
	return "", nil
}

// fromTag imports selected names:
// {% from 'forms.html' import input, label as lbl %}.
type fromTag struct{}

func (fromTag) Name() string       { return "from" }
func (fromTag) EndTagName() string { return "" }

type importName struct {
	name, alias string
}

func parseFrom(helpers string) (string, []importName, error) {
	expr, list, ok := splitTopLevel(helpers, " import ")
	if !ok || list == "" {
		return "", nil, fmt.Errorf("from expects 'path import names', got %q", helpers)
	}
	var names []importName
	for _, item := range splitList(list) {
		name, alias, hasAlias := splitTopLevel(item, " as ")
		if !hasAlias {
			alias = name
		}
		if !isIdentifier(name) || !isIdentifier(alias) {
			return "", nil, fmt.Errorf("invalid import name %q", item)
		}
		names = append(names, importName{name: name, alias: alias})
	}
	return expr, names, nil
}

func (fromTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	expr, names, err := parseFrom(n.Helpers())
	if err != nil {
		return "", err
	}
	aliases := make([]string, len(names))
	for k, in := range names {
		aliases[k] = in.alias
	}

	path, err := templatePath(i, expr)
	if _, deferred := el.AsDeferred(err); deferred {
		i.ctx.MarkDeferred(aliases...)
		return "", err
	}
	if err != nil {
		return "", err
	}
	before := i.ctx.DeferredCount()
	_, scope, err := renderTemplate(i, path)
	if err != nil {
		return "", err
	}
	if i.IsEager() && i.deferredSince(before) {
		i.ctx.MarkDeferred(aliases...)
		return "", &el.DeferredSignal{Text: n.Helpers()}
	}
	vars := exports(scope)
	for _, in := range names {
		v, ok := vars[in.name]
		if !ok {
			i.AddErrorAt(tmplerr.Warn(tmplerr.ReasonMissingResource, n.Line(), "%s does not export %s", path, in.name), n.Line(), n.StartPos())
			continue
		}
		i.ctx.Put(in.alias, v)
	}
	return "", nil
}

// extendsTag makes the current template render through a parent:
// {% extends 'base.html' %}.
type extendsTag struct{}

func (extendsTag) Name() string       { return "extends" }
func (extendsTag) EndTagName() string { return "" }

func (extendsTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	path, err := templatePath(i, n.Helpers())
	if err != nil {
		return "", err
	}
	if i.extendsPath != "" {
		return "", fmt.Errorf("template already extends %s", i.extendsPath)
	}
	i.extendsPath = path
	return "", nil
}

// blockTag defines an overridable block. While a child template is being
// rendered for its parent, blocks only register themselves.
type blockTag struct{}

func (blockTag) Name() string       { return "block" }
func (blockTag) EndTagName() string { return "endblock" }

func blockName(n tree.Node) string {
	fields := strings.Fields(n.Helpers())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (t blockTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	name := blockName(n)
	if name == "" {
		return "", fmt.Errorf("block requires a name")
	}
	if i.extendsPath != "" {
		t.register(n, i)
		return "", nil
	}
	chain := append(append([]tree.Node(nil), i.blocks[name]...), n)
	return i.renderBlock(name, chain, 0)
}

// register records n and the blocks nested in it, most derived template
// first.
func (t blockTag) register(n tree.Node, i *Interpreter) {
	i.blocks[blockName(n)] = append(i.blocks[blockName(n)], n)
	var walk func(tree.Node)
	walk = func(p tree.Node) {
		for _, c := range p.Children() {
			if c.Kind() != tree.Tag {
				continue
			}
			if c.TagName() == "block" && blockName(c) != "" {
				i.blocks[blockName(c)] = append(i.blocks[blockName(c)], c)
			}
			walk(c)
		}
	}
	walk(n)
}

func (i *Interpreter) renderBlock(name string, chain []tree.Node, idx int) (string, error) {
	i.supers = append(i.supers, superFrame{name: name, chain: chain, idx: idx})
	defer func() { i.supers = i.supers[:len(i.supers)-1] }()
	defer i.EnterScope()()
	return i.RenderChildren(chain[idx])
}

// renderSuper renders the next less derived version of the current block.
func (i *Interpreter) renderSuper() (interface{}, error) {
	if len(i.supers) == 0 {
		return nil, fmt.Errorf("super() used outside of a block")
	}
	f := i.supers[len(i.supers)-1]
	if f.idx+1 >= len(f.chain) {
		return nil, fmt.Errorf("block %s has no parent block", f.name)
	}
	out, err := i.renderBlock(f.name, f.chain, f.idx+1)
	if err != nil {
		return nil, err
	}
	return el.SafeString(out), nil
}
