package stencil

import (
	"fmt"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// MacroParam is one declared macro parameter. Default holds expression
// source evaluated at call time.
type MacroParam struct {
	Name       string
	Default    string
	HasDefault bool
}

// MacroFunction is a macro defined by a macro tag, or the body of a call
// tag exposed to the called macro as caller().
type MacroFunction struct {
	Name   string
	Params []MacroParam
	Body   tree.Node
	// Scope is where the macro was defined; its body sees that scope, not
	// the caller's.
	Scope *Context
	// Path is the template the macro was defined in.
	Path string
	// Source is the defining tag as written, emitted ahead of calls that
	// have to be left for the next pass.
	Source string
	// Deferred is set once an expansion produced deferred output; later
	// calls are reconstructed instead of expanded.
	Deferred bool

	isCaller bool
}

func (m *MacroFunction) String() string {
	return "<macro " + m.Name + ">"
}

// Call expands the macro. Positional arguments fill parameters in order,
// keyword arguments by name; leftovers are available as varargs and
// kwargs.
func (m *MacroFunction) Call(env el.Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	i, ok := interpreterOf(env)
	if !ok {
		return nil, fmt.Errorf("macro %s called outside of a template render", m.Name)
	}
	if m.Deferred && i.IsEager() {
		i.emitMacro(m)
		return nil, &el.DeferredSignal{Text: m.Name}
	}

	release, err := i.enterMacro(m)
	if err != nil {
		return nil, err
	}
	defer release()

	caller, _ := i.ctx.Get("__caller__")
	scope := NewContext(m.Scope)
	scope.Declare("__caller__", nil)
	if c, ok := caller.(*MacroFunction); ok && !m.isCaller {
		scope.Declare("caller", c)
	}

	before := i.ctx.DeferredCount()
	out, err := i.withScope(scope, func() (string, error) {
		if err := m.bind(i, args, kwargs); err != nil {
			return "", err
		}
		return i.RenderChildren(m.Body)
	})
	if err != nil {
		return nil, err
	}
	if i.IsEager() && !m.isCaller && i.deferredSince(before) {
		m.Deferred = true
		i.emitMacro(m)
		return nil, &el.DeferredSignal{Text: m.Name}
	}
	return el.SafeString(out), nil
}

// bind declares the parameters in the current scope, which must be the
// macro's own.
func (m *MacroFunction) bind(i *Interpreter, args []interface{}, kwargs map[string]interface{}) error {
	used := map[string]bool{}
	for k, p := range m.Params {
		switch v, named := kwargs[p.Name]; {
		case k < len(args):
			if named {
				return fmt.Errorf("macro %s got multiple values for %s", m.Name, p.Name)
			}
			i.ctx.Declare(p.Name, args[k])
		case named:
			i.ctx.Declare(p.Name, v)
		case p.HasDefault:
			d, err := i.Evaluate(p.Default)
			if err != nil {
				return err
			}
			i.ctx.Declare(p.Name, d)
		default:
			i.ctx.Declare(p.Name, nil)
		}
		used[p.Name] = true
	}

	var varargs []interface{}
	if len(args) > len(m.Params) {
		varargs = append(varargs, args[len(m.Params):]...)
	}
	extra := map[string]interface{}{}
	for k, v := range kwargs {
		if !used[k] {
			extra[k] = v
		}
	}
	i.ctx.Declare("varargs", varargs)
	i.ctx.Declare("kwargs", extra)
	return nil
}

// enterMacro pushes m on the macro stack. Direct recursion is a cycle
// unless MaxMacroRecursionDepth allows it.
func (i *Interpreter) enterMacro(m *MacroFunction) (func(), error) {
	stack := i.ctx.MacroStack()
	name := m.Name
	if m.isCaller {
		name = "caller"
	}
	if max := i.config.MaxMacroRecursionDepth; max > 0 || m.isCaller {
		if max > 0 && stack.Count(name) >= max {
			return nil, NewDepthError("macro "+name, stack.Count(name)+1, max)
		}
		if err := stack.PushWithoutCycleCheck(name); err != nil {
			return nil, err
		}
	} else if err := stack.Push(name); err != nil {
		return nil, err
	}

	pushedPath := false
	if m.Path != "" {
		i.ctx.Paths().PushWithoutCycleCheck(m.Path)
		pushedPath = true
	}
	return func() {
		if pushedPath {
			i.ctx.Paths().Pop()
		}
		stack.Pop()
	}, nil
}

// emitMacro queues the definition of m ahead of the next reconstruction,
// once per render.
func (i *Interpreter) emitMacro(m *MacroFunction) {
	if i.ctx.state.emittedMacros[m] {
		return
	}
	i.ctx.state.emittedMacros[m] = true
	i.addPrefix(m.Source)
}
