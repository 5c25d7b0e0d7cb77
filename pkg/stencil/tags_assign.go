package stencil

import (
	"fmt"
	"html"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tokenizer"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// setTag assigns variables: {% set a = expr %}, {% set a, b = 1, 2 %} or
// the block form {% set a %}...{% endset %}.
type setTag struct{}

func (setTag) Name() string       { return "set" }
func (setTag) EndTagName() string { return "endset" }

// HasBody makes set a block only when it has no assignment.
func (setTag) HasBody(tok tokenizer.Token) bool {
	return assignIndex(tok.Helpers) < 0
}

// setTargets returns the names a set tag assigns, or nil if malformed.
func setTargets(n tree.Node) []string {
	lhs := n.Helpers()
	if k := assignIndex(lhs); k >= 0 {
		lhs = lhs[:k]
	}
	names, err := parseTargets(lhs)
	if err != nil {
		return nil
	}
	return names
}

func parseSet(helpers string) (targets []string, expr string, block bool, err error) {
	lhs, rhs := helpers, ""
	if k := assignIndex(helpers); k >= 0 {
		lhs, rhs = helpers[:k], strings.TrimSpace(helpers[k+1:])
		if rhs == "" {
			return nil, "", false, fmt.Errorf("set requires a value after '='")
		}
	} else {
		block = true
	}
	targets, err = parseTargets(lhs)
	if err == nil && block && len(targets) != 1 {
		err = fmt.Errorf("block set takes exactly one name")
	}
	return targets, rhs, block, err
}

func assign(c *Context, targets []string, v interface{}) error {
	if len(targets) == 1 {
		c.Put(targets[0], v)
		return nil
	}
	parts, ok := el.ToList(v)
	if !ok || len(parts) != len(targets) {
		return fmt.Errorf("cannot unpack %s into %d names", el.ToString(v), len(targets))
	}
	for k, name := range targets {
		c.Put(name, parts[k])
	}
	return nil
}

func (setTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	targets, expr, block, err := parseSet(n.Helpers())
	if err != nil {
		return "", err
	}
	if block {
		out, err := i.RenderChildren(n)
		if err != nil {
			return "", err
		}
		return "", assign(i.ctx, targets, out)
	}
	v, err := i.Evaluate(expr)
	if _, ok := el.AsDeferred(err); ok {
		i.ctx.MarkDeferred(targets...)
		return "", err
	}
	if err != nil {
		return "", err
	}
	return "", assign(i.ctx, targets, v)
}

// InterpretEager keeps the assignment in the output when its value is
// deferred, when it runs inside a deferred branch, or when an earlier
// reconstruction refers to one of its names.
func (setTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	targets, expr, block, err := parseSet(n.Helpers())
	if err != nil {
		return "", err
	}
	lhs := strings.Join(targets, ", ")

	if block {
		before := i.ctx.DeferredCount()
		out, err := i.RenderChildren(n)
		if err != nil {
			return "", err
		}
		if i.deferredSince(before) || i.InDeferredExecution() {
			if i.deferredSince(before) {
				i.ctx.MarkDeferred(targets...)
			} else if err := assign(i.ctx, targets, out); err != nil {
				return "", err
			}
			return i.emit(nil, i.TagSyntax("set "+lhs)+out+i.TagSyntax("endset")), nil
		}
		return "", assign(i.ctx, targets, out)
	}

	text, words, v, resolved, err := i.reconstruct(expr)
	if err != nil {
		return "", err
	}
	tag := i.TagSyntax("set " + lhs + " = " + text)
	if !resolved {
		i.ctx.MarkDeferred(targets...)
		return i.emit(words, tag), nil
	}
	if err := assign(i.ctx, targets, v); err != nil {
		return "", err
	}
	referenced := false
	for _, name := range targets {
		referenced = referenced || i.ctx.IsReferenced(name)
	}
	if i.InDeferredExecution() || referenced {
		return i.emit(words, tag), nil
	}
	return "", nil
}

// doTag evaluates an expression for its side effects.
type doTag struct{}

func (doTag) Name() string       { return "do" }
func (doTag) EndTagName() string { return "" }

func (doTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	_, err := i.Evaluate(n.Helpers())
	return "", err
}

func (doTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	res, err := i.EvaluateEager(n.Helpers())
	if err != nil {
		return "", err
	}
	if !res.Resolved || i.InDeferredExecution() {
		text := res.Text
		if res.Resolved {
			text = n.Helpers()
		}
		return i.emit(res.Words, i.TagSyntax("do "+text)), nil
	}
	return "", nil
}

// printTag outputs an expression like {{ }} does.
type printTag struct{}

func (printTag) Name() string       { return "print" }
func (printTag) EndTagName() string { return "" }

func (printTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	v, err := i.Evaluate(n.Helpers())
	if err != nil {
		return "", err
	}
	return printValue(i, v), nil
}

func printValue(i *Interpreter, v interface{}) string {
	s := el.ToString(v)
	if _, safe := v.(el.SafeString); !safe && i.ctx.Autoescape(i.config.Autoescape) {
		s = html.EscapeString(s)
	}
	return s
}

func (printTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	res, err := i.EvaluateEager(n.Helpers())
	if err != nil {
		return "", err
	}
	if res.Resolved {
		return printValue(i, res.Value), nil
	}
	return i.emit(res.Words, i.TagSyntax("print "+res.Text)), nil
}
