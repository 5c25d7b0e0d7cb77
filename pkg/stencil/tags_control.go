package stencil

import (
	"fmt"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// ifTag implements if/elif/else, and unless/else when negate is set.
type ifTag struct {
	name   string
	negate bool
}

func (t ifTag) Name() string       { return t.name }
func (t ifTag) EndTagName() string { return "end" + t.name }

func (t ifTag) branches(n tree.Node) []branch {
	if t.negate {
		return splitBranches(n, "else")
	}
	return splitBranches(n, "elif", "else")
}

func (t ifTag) condition(n tree.Node, b branch) string {
	if b.head.Valid() {
		return b.head.Helpers()
	}
	return n.Helpers()
}

func (t ifTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	for _, b := range t.branches(n) {
		if b.is("else") {
			return i.RenderNodes(b.nodes)
		}
		cond := t.condition(n, b)
		if strings.TrimSpace(cond) == "" {
			return "", fmt.Errorf("%s requires a condition", t.name)
		}
		v, err := i.Evaluate(cond)
		if _, ok := el.AsDeferred(err); ok {
			return "", err
		}
		if err != nil {
			i.AddErrorAt(err, n.Line(), n.StartPos())
			continue
		}
		if el.Truthy(v) != t.negate {
			return i.RenderNodes(b.nodes)
		}
	}
	return "", nil
}

// InterpretEager drops branches whose conditions resolve and reconstructs
// the chain from the first deferred condition on.
func (t ifTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	var (
		out      strings.Builder
		open     bool
		assigned []string
	)
	finish := func() (string, error) {
		if open {
			out.WriteString(i.TagSyntax("end" + t.name))
			i.ctx.MarkDeferred(assigned...)
		}
		return out.String(), nil
	}
	// each branch starts from the values known before the tag, which the
	// hoisted set tags restore in the next pass
	branchBody := func(nodes []tree.Node) (string, error) {
		i.ctx.MarkDeferred(assigned...)
		return i.renderDeferredBranch(nodes)
	}
	branches := t.branches(n)
	for k, b := range branches {
		if b.is("else") {
			if !open {
				return i.RenderNodes(b.nodes)
			}
			body, err := branchBody(b.nodes)
			if err != nil {
				return "", err
			}
			out.WriteString(i.TagSyntax("else") + body)
			return finish()
		}

		text, words, v, resolved, err := i.reconstruct(t.condition(n, b))
		if err != nil {
			i.AddErrorAt(err, n.Line(), n.StartPos())
			continue
		}
		if resolved {
			if el.Truthy(v) == t.negate {
				continue
			}
			if !open {
				return i.RenderNodes(b.nodes)
			}
			// an always-true branch after a deferred one ends the chain
			body, err := branchBody(b.nodes)
			if err != nil {
				return "", err
			}
			out.WriteString(i.TagSyntax("else") + body)
			return finish()
		}

		head := t.name
		if open {
			head = "elif"
			i.ctx.noteDeferred(words)
			out.WriteString(i.hoistWords(words))
		} else {
			var rest []tree.Node
			for _, r := range branches[k:] {
				rest = append(rest, r.nodes...)
			}
			assigned = assignedNames(rest)
			out.WriteString(i.emit(words, i.hoistWords(assigned)))
		}
		open = true
		out.WriteString(i.TagSyntax(head + " " + text))
		body, err := branchBody(b.nodes)
		if err != nil {
			return "", err
		}
		out.WriteString(body)
	}
	return finish()
}

// forTag implements for/else with a loop variable.
type forTag struct{}

func (forTag) Name() string       { return "for" }
func (forTag) EndTagName() string { return "endfor" }

func parseFor(helpers string) ([]string, string, error) {
	targets, expr, ok := splitTopLevel(helpers, " in ")
	if !ok || expr == "" {
		return nil, "", fmt.Errorf("for expects 'var in expression', got %q", helpers)
	}
	names, err := parseTargets(targets)
	if err != nil {
		return nil, "", err
	}
	return names, expr, nil
}

// loopItems turns an iterable into the values bound per iteration. Maps
// iterated with two targets yield key/value pairs.
func loopItems(v interface{}, targets int) []interface{} {
	if v == nil {
		return nil
	}
	if m, ok := el.ToMap(v); ok && targets == 2 {
		keys := el.SortedKeys(m)
		out := make([]interface{}, len(keys))
		for k, key := range keys {
			out[k] = []interface{}{key, m[key]}
		}
		return out
	}
	if l, ok := el.ToList(v); ok {
		return l
	}
	return []interface{}{v}
}

func newLoop(index, length int) map[string]interface{} {
	return map[string]interface{}{
		"index":     index + 1,
		"index0":    index,
		"revindex":  length - index,
		"revindex0": length - index - 1,
		"first":     index == 0,
		"last":      index == length-1,
		"length":    length,
		"cycle": el.Func(func(_ el.Env, args []interface{}, _ map[string]interface{}) (interface{}, error) {
			if len(args) == 0 {
				return nil, nil
			}
			return args[index%len(args)], nil
		}),
	}
}

func bindTargets(c *Context, targets []string, item interface{}) error {
	if len(targets) == 1 {
		c.Declare(targets[0], item)
		return nil
	}
	parts, ok := el.ToList(item)
	if !ok || len(parts) != len(targets) {
		return fmt.Errorf("cannot unpack %s into %d names", el.ToString(item), len(targets))
	}
	for k, name := range targets {
		c.Declare(name, parts[k])
	}
	return nil
}

func (t forTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	targets, expr, err := parseFor(n.Helpers())
	if err != nil {
		return "", err
	}
	v, err := i.Evaluate(expr)
	if err != nil {
		return "", err
	}
	return t.loop(n, i, targets, v)
}

func (forTag) loop(n tree.Node, i *Interpreter, targets []string, v interface{}) (string, error) {
	branches := splitBranches(n, "else")
	items := loopItems(v, len(targets))
	if len(items) == 0 {
		if len(branches) > 1 {
			return i.RenderNodes(branches[1].nodes)
		}
		return "", nil
	}

	defer i.EnterScope()()
	out := NewOutputList(i.config.MaxOutputSize)
	for k, item := range items {
		if err := bindTargets(i.ctx, targets, item); err != nil {
			return "", err
		}
		i.ctx.Declare("loop", newLoop(k, len(items)))
		s, err := i.RenderNodes(branches[0].nodes)
		if err != nil {
			return "", err
		}
		if err := out.Add(s); err != nil {
			return "", err
		}
	}
	return out.String(), nil
}

// InterpretEager runs the loop when the iterable resolves and otherwise
// reconstructs it with the loop variables deferred.
func (t forTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	targets, expr, err := parseFor(n.Helpers())
	if err != nil {
		return "", err
	}
	res, err := i.EvaluateEager(expr)
	if err != nil {
		return "", err
	}
	if res.Resolved {
		return t.loop(n, i, targets, res.Value)
	}

	branches := splitBranches(n, "else")
	var all []tree.Node
	for _, b := range branches {
		all = append(all, b.nodes...)
	}
	assigned := assignedNames(all)

	var out strings.Builder
	out.WriteString(i.emit(res.Words, i.hoistWords(assigned)))
	out.WriteString(i.TagSyntax("for " + strings.Join(targets, ", ") + " in " + res.Text))
	// the body runs an unknown number of times
	i.ctx.MarkDeferred(assigned...)
	body, err := func() (string, error) {
		defer i.EnterScope()()
		for _, name := range targets {
			i.ctx.Declare(name, el.Deferred())
		}
		i.ctx.Declare("loop", el.Deferred())
		return i.renderDeferredBranch(branches[0].nodes)
	}()
	if err != nil {
		return "", err
	}
	out.WriteString(body)
	if len(branches) > 1 {
		i.ctx.MarkDeferred(assigned...)
		elseOut, err := i.renderDeferredBranch(branches[1].nodes)
		if err != nil {
			return "", err
		}
		out.WriteString(i.TagSyntax("else") + elseOut)
	}
	out.WriteString(i.TagSyntax("endfor"))
	i.ctx.MarkDeferred(assigned...)
	return out.String(), nil
}
