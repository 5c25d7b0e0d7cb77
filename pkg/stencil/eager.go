package stencil

import (
	"sort"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// emit prepares reconstructed template text for output. Pending macro
// definitions come first, then set tags fixing the values of words the
// reconstruction still names.
func (i *Interpreter) emit(words []string, s string) string {
	i.ctx.noteDeferred(words)
	hoisted := i.hoistWords(words)
	return i.takePrefix() + hoisted + s
}

// hoistWords returns set tags binding words to their current values where
// those values have a literal form. Macros named by words are queued for
// emission instead.
func (i *Interpreter) hoistWords(words []string) string {
	var b strings.Builder
	for _, w := range words {
		v, ok := i.ctx.Get(w)
		if !ok {
			if m, isMacro := i.ctx.Macro(w); isMacro {
				i.emitMacro(m)
			}
			continue
		}
		if v == nil || el.IsDeferred(v) {
			continue
		}
		if m, isMacro := v.(*MacroFunction); isMacro {
			i.emitMacro(m)
			if w != m.Name {
				b.WriteString(i.TagSyntax("set " + w + " = " + m.Name))
			}
			continue
		}
		if ns, isMap := v.(map[string]interface{}); isMap && holdsMacro(ns) {
			b.WriteString(i.TagSyntax("set " + w + " = " + i.namespaceLiteral(ns)))
			continue
		}
		if lit, ok := el.Repr(v); ok {
			b.WriteString(i.TagSyntax("set " + w + " = " + lit))
		}
	}
	return b.String()
}

func holdsMacro(ns map[string]interface{}) bool {
	for _, v := range ns {
		if _, ok := v.(*MacroFunction); ok {
			return true
		}
	}
	return false
}

// namespaceLiteral rebuilds an imported namespace as a dict literal. Its
// macros are queued for emission and referenced by name; values without a
// literal form are left out.
func (i *Interpreter) namespaceLiteral(ns map[string]interface{}) string {
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := ns[k].(type) {
		case *MacroFunction:
			i.emitMacro(v)
			entries = append(entries, el.Quote(k)+": "+v.Name)
		default:
			if lit, ok := el.Repr(v); ok {
				entries = append(entries, el.Quote(k)+": "+lit)
			}
		}
	}
	return "{" + strings.Join(entries, ", ") + "}"
}

// reconstruct evaluates src eagerly and returns expression text for it: a
// literal when it resolves to a value that has one, otherwise the partially
// evaluated expression. resolved reports whether the value is known.
func (i *Interpreter) reconstruct(src string) (text string, words []string, value interface{}, resolved bool, err error) {
	res, err := i.EvaluateEager(src)
	if err != nil {
		return "", nil, nil, false, err
	}
	if !res.Resolved {
		return res.Text, res.Words, nil, false, nil
	}
	if lit, ok := el.Repr(res.Value); ok {
		return lit, nil, res.Value, true, nil
	}
	t, err := i.ParseExpression(src)
	if err != nil {
		return "", nil, nil, false, err
	}
	return t.String(), el.Names(t.Root), res.Value, true, nil
}

// renderDeferredBranch renders nodes whose execution depends on a deferred
// condition. Assignments inside are emitted as tags.
func (i *Interpreter) renderDeferredBranch(nodes []tree.Node) (string, error) {
	defer i.enterDeferredExecution()()
	return i.RenderNodes(nodes)
}

// assignedNames lists the names set by set tags under nodes, outside of
// macro bodies.
func assignedNames(nodes []tree.Node) []string {
	seen := map[string]bool{}
	var out []string
	var walk func([]tree.Node)
	walk = func(nodes []tree.Node) {
		for _, n := range nodes {
			if n.Kind() != tree.Tag || n.TagName() == "macro" {
				continue
			}
			if n.TagName() == "set" {
				for _, name := range setTargets(n) {
					if !seen[name] {
						seen[name] = true
						out = append(out, name)
					}
				}
			}
			walk(n.Children())
		}
	}
	walk(nodes)
	return out
}

// deferredSince reports whether deferred output was produced after a
// count taken earlier in the render.
func (i *Interpreter) deferredSince(count int) bool {
	return i.ctx.DeferredCount() > count
}
