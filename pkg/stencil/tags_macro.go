package stencil

import (
	"fmt"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// parseSignature reads "name(a, b=1)" into a name and parameters.
func parseSignature(sig string) (string, []MacroParam, error) {
	t, err := el.Parse(sig)
	if err != nil {
		return "", nil, err
	}
	call, ok := t.Root.(*el.Call)
	if !ok {
		if id, isIdent := t.Root.(*el.Ident); isIdent {
			return id.Name, nil, nil
		}
		return "", nil, fmt.Errorf("invalid macro signature %q", sig)
	}
	id, ok := call.Callee.(*el.Ident)
	if !ok {
		return "", nil, fmt.Errorf("invalid macro name in %q", sig)
	}
	params, err := parseParams(call.Args, call.Kwargs)
	if err != nil {
		return "", nil, err
	}
	return id.Name, params, nil
}

func parseParams(args []el.Node, kwargs []el.Kwarg) ([]MacroParam, error) {
	params := make([]MacroParam, 0, len(args)+len(kwargs))
	for _, a := range args {
		id, ok := a.(*el.Ident)
		if !ok {
			return nil, fmt.Errorf("macro parameter %s is not a name", a.String())
		}
		params = append(params, MacroParam{Name: id.Name})
	}
	for _, kw := range kwargs {
		params = append(params, MacroParam{Name: kw.Name, Default: kw.Value.String(), HasDefault: true})
	}
	return params, nil
}

// macroTag defines a macro in the current scope.
type macroTag struct{}

func (macroTag) Name() string       { return "macro" }
func (macroTag) EndTagName() string { return "endmacro" }

func (macroTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	name, params, err := parseSignature(n.Helpers())
	if err != nil {
		return "", err
	}
	i.ctx.AddMacro(&MacroFunction{
		Name:   name,
		Params: params,
		Body:   n,
		Scope:  i.ctx,
		Path:   i.CurrentPath(),
		Source: n.Source(),
	})
	return "", nil
}

// callTag calls a macro with its own body available as caller():
// {% call(user) list_users(users) %}{{ user.name }}{% endcall %}.
type callTag struct{}

func (callTag) Name() string       { return "call" }
func (callTag) EndTagName() string { return "endcall" }

func parseCall(helpers string) ([]MacroParam, string, error) {
	helpers = strings.TrimSpace(helpers)
	if !strings.HasPrefix(helpers, "(") {
		return nil, helpers, nil
	}
	depth := 0
	for k := 0; k < len(helpers); k++ {
		switch helpers[k] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				_, params, err := parseSignature("caller" + helpers[:k+1])
				return params, strings.TrimSpace(helpers[k+1:]), err
			}
		}
	}
	return nil, "", fmt.Errorf("unbalanced parentheses in call tag")
}

func (callTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	params, expr, err := parseCall(n.Helpers())
	if err != nil {
		return "", err
	}
	if expr == "" {
		return "", fmt.Errorf("call requires a macro invocation")
	}
	caller := &MacroFunction{
		Name:     "caller",
		Params:   params,
		Body:     n,
		Scope:    i.ctx,
		Path:     i.CurrentPath(),
		Source:   n.Source(),
		isCaller: true,
	}

	defer i.EnterScope()()
	i.ctx.Declare("__caller__", caller)
	v, err := i.Evaluate(expr)
	if err != nil {
		return "", err
	}
	return el.ToString(v), nil
}
