package stencil

import (
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// rawTag outputs its body without interpreting it.
type rawTag struct{}

func (rawTag) Name() string       { return "raw" }
func (rawTag) EndTagName() string { return "endraw" }

func (rawTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	return n.ChildrenSource(), nil
}

// InterpretEager keeps the raw markers, since the output is itself a
// template.
func (rawTag) InterpretEager(n tree.Node, i *Interpreter) (string, error) {
	body := n.ChildrenSource()
	sym := i.config.Symbols
	if !strings.Contains(body, sym.ExprStart) && !strings.Contains(body, sym.TagStart) && !strings.Contains(body, sym.NoteStart) {
		return body, nil
	}
	return i.TagSyntax("raw") + body + i.TagSyntax("endraw"), nil
}

// autoescapeTag switches HTML escaping for its body:
// {% autoescape %}...{% endautoescape %} or {% autoescape false %}.
type autoescapeTag struct{}

func (autoescapeTag) Name() string       { return "autoescape" }
func (autoescapeTag) EndTagName() string { return "endautoescape" }

func (autoescapeTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	on := true
	if expr := strings.TrimSpace(n.Helpers()); expr != "" {
		v, err := i.Evaluate(expr)
		if err != nil {
			return "", err
		}
		on = el.Truthy(v)
	}
	defer i.EnterScope()()
	i.ctx.SetAutoescape(on)
	return i.RenderChildren(n)
}
