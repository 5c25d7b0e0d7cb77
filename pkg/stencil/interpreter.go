package stencil

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// Interpreter renders node trees for one logical render. It is not safe for
// concurrent use; concurrent renders each get their own Interpreter over
// the engine's shared global scope.
type Interpreter struct {
	engine *Engine
	config *Config
	ctx    *Context
	goCtx  context.Context
	id     string
	logger *Logger

	depth  int
	errors ErrorList
	line   int
	pos    int

	// template inheritance
	extendsPath string
	blocks      map[string][]tree.Node
	supers      []superFrame

	// positive while rendering a branch whose condition is deferred
	deferredExecution int
	// template text to emit before the next reconstruction
	prefix strings.Builder
}

type superFrame struct {
	name  string
	chain []tree.Node
	idx   int
}

// NewInterpreter returns an interpreter whose render scope sits on the
// engine's global scope and holds bindings.
func (e *Engine) NewInterpreter(ctx context.Context, bindings map[string]interface{}) *Interpreter {
	if ctx == nil {
		ctx = context.Background()
	}
	scope := NewContext(e.global)
	scope.SetShadowOnWrite(e.config.ShadowOnWrite)
	scope.PutAll(bindings)

	i := &Interpreter{
		engine: e,
		config: e.config,
		ctx:    scope,
		id:     uuid.NewString(),
		blocks: map[string][]tree.Node{},
	}
	i.logger = e.logger.WithField("render", i.id)
	i.goCtx = WithInterpreter(ctx, i)
	return i
}

func (i *Interpreter) Engine() *Engine            { return i.engine }
func (i *Interpreter) Config() *Config            { return i.config }
func (i *Interpreter) Context() *Context          { return i.ctx }
func (i *Interpreter) ID() string                 { return i.id }
func (i *Interpreter) Errors() ErrorList          { return i.errors }
func (i *Interpreter) Logger() *Logger            { return i.logger }
func (i *Interpreter) GoContext() context.Context { return i.goCtx }

// IsEager reports whether deferred values are reconstructed.
func (i *Interpreter) IsEager() bool {
	return i.config.ExecutionMode == ModeEager
}

// InDeferredExecution reports whether output is being produced for a
// branch that may or may not run in the next pass.
func (i *Interpreter) InDeferredExecution() bool {
	return i.deferredExecution > 0
}

// EnterScope pushes a child scope and returns the func that pops it.
//
//	defer i.EnterScope()()
func (i *Interpreter) EnterScope() func() {
	prev := i.ctx
	i.ctx = NewContext(prev)
	return func() { i.ctx = prev }
}

// withScope runs fn with c as the current scope.
func (i *Interpreter) withScope(c *Context, fn func() (string, error)) (string, error) {
	prev := i.ctx
	i.ctx = c
	defer func() { i.ctx = prev }()
	return fn()
}

// enterDeferredExecution marks the start of a deferred branch.
func (i *Interpreter) enterDeferredExecution() func() {
	i.deferredExecution++
	return func() { i.deferredExecution-- }
}

// Position returns the line and column of the node being rendered.
func (i *Interpreter) Position() (int, int) {
	return i.line, i.pos
}

// AddError records err at the current position.
func (i *Interpreter) AddError(err error) {
	i.AddErrorAt(err, i.line, i.pos)
}

// AddErrorAt records err attributed to line and pos.
func (i *Interpreter) AddErrorAt(err error, line, pos int) {
	if err == nil {
		return
	}
	item := i.classify(err).WithLine(line, pos)
	if item.Scope == "" {
		item.Scope = i.CurrentPath()
	}
	if item.IsFatal() {
		i.logger.Warn("%s", item.Error())
	} else {
		i.logger.Debug("%s", item.Error())
	}
	i.errors = append(i.errors, item)
}

func (i *Interpreter) classify(err error) *TemplateError {
	var (
		te  *tmplerr.TemplateError
		se  *el.SyntaxError
		ce  *CycleError
		de  *DepthError
		oe  *OutputTooBigError
		le  *el.LimitError
		ee  *el.EvalError
		nfe *ResourceNotFoundError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &te):
		return te
	case errors.As(err, &se):
		return tmplerr.Syntax(tmplerr.ReasonSyntaxError, 0, 0, "%s", msg)
	case errors.As(err, &ce):
		return tmplerr.Limit(tmplerr.ReasonCycle, "%s", msg)
	case errors.As(err, &de):
		return tmplerr.Limit(tmplerr.ReasonDepth, "%s", msg)
	case errors.As(err, &oe):
		return tmplerr.Limit(tmplerr.ReasonOutputTooBig, "%s", msg)
	case errors.As(err, &le):
		return tmplerr.Limit(tmplerr.ReasonCollectionTooBig, "%s", msg)
	case errors.As(err, &ee):
		return tmplerr.Eval(ee.Reason, err, "%s", msg)
	case errors.As(err, &nfe):
		return tmplerr.Eval(tmplerr.ReasonMissingResource, err, "%s", msg)
	}
	return tmplerr.Eval(tmplerr.ReasonEvalException, err, "%s", msg)
}

func isLimitError(err error) bool {
	var le *el.LimitError
	return errors.As(err, &le)
}

// stops reports errors that end the whole render rather than one node.
func stops(err error) bool {
	return IsOutputTooBigError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// CurrentPath is the path of the template being rendered. A current_path
// variable, as written by eager include reconstruction, takes precedence.
func (i *Interpreter) CurrentPath() string {
	if v, ok := i.ctx.Get("current_path"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if top, ok := i.ctx.Paths().Top(); ok {
		return top
	}
	return ""
}

// enterRender guards a nested render. path, when set, is pushed on the
// path stack; cycleCheck rejects a path already being rendered.
func (i *Interpreter) enterRender(path string, cycleCheck bool) (func(), error) {
	if i.depth+1 > i.config.MaxRenderDepth {
		return nil, NewDepthError("render", i.depth+1, i.config.MaxRenderDepth)
	}
	if path != "" {
		var err error
		if cycleCheck {
			err = i.ctx.Paths().Push(path)
		} else {
			err = i.ctx.Paths().PushWithoutCycleCheck(path)
		}
		if err != nil {
			return nil, err
		}
	}
	i.depth++
	return func() {
		i.depth--
		if path != "" {
			i.ctx.Paths().Pop()
		}
	}, nil
}

func (i *Interpreter) recordBuildErrors(t *tree.Tree) {
	for _, e := range t.Errors {
		c := *e
		if c.Scope == "" {
			c.Scope = i.CurrentPath()
		}
		i.errors = append(i.errors, &c)
	}
}

// Render renders a whole template, following extends chains. Recoverable
// errors are recorded; the returned text is whatever could be produced.
func (i *Interpreter) Render(t *tree.Tree) (out string) {
	defer func() {
		if r := recover(); r != nil {
			i.AddError(RecoverError(r))
		}
	}()

	i.recordBuildErrors(t)
	out, err := i.renderRoot(t.Root)

	var releases []func()
	defer func() {
		for k := len(releases) - 1; k >= 0; k-- {
			releases[k]()
		}
	}()
	for err == nil && i.extendsPath != "" {
		path := i.extendsPath
		i.extendsPath = ""
		release, rerr := i.enterRender(path, true)
		if rerr != nil {
			i.AddError(rerr)
			break
		}
		releases = append(releases, release)
		parent, lerr := i.loadTemplate(path)
		if lerr != nil {
			i.AddError(lerr)
			break
		}
		i.recordBuildErrors(parent)
		out, err = i.renderRoot(parent.Root)
	}
	if err != nil {
		i.AddError(err)
	}
	return out
}

func (i *Interpreter) renderRoot(root tree.Node) (string, error) {
	out := NewOutputList(i.config.MaxOutputSize)
	err := i.renderInto(out, root.Children())
	return out.String(), err
}

// RenderChildren renders the children of n.
func (i *Interpreter) RenderChildren(n tree.Node) (string, error) {
	return i.RenderNodes(n.Children())
}

// RenderNodes renders nodes in order. Only errors that stop the render are
// returned; everything else is recorded.
func (i *Interpreter) RenderNodes(nodes []tree.Node) (string, error) {
	out := NewOutputList(i.config.MaxOutputSize)
	err := i.renderInto(out, nodes)
	return out.String(), err
}

func (i *Interpreter) renderInto(out *OutputList, nodes []tree.Node) error {
	for _, n := range nodes {
		if err := i.goCtx.Err(); err != nil {
			return err
		}
		s, err := i.renderNode(n)
		if err != nil {
			return err
		}
		if err := out.Add(s); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpreter) renderNode(n tree.Node) (string, error) {
	i.line, i.pos = n.Line(), n.StartPos()
	switch n.Kind() {
	case tree.Text:
		return n.Text(), nil
	case tree.Expression:
		return i.renderExpression(n)
	case tree.Tag:
		return i.renderTag(n)
	}
	return "", nil
}

func (i *Interpreter) renderExpression(n tree.Node) (string, error) {
	v, err := i.Evaluate(n.Content())
	if sig, ok := el.AsDeferred(err); ok {
		return i.deferredExpression(n, sig), nil
	}
	if err != nil {
		if stops(err) {
			return "", err
		}
		i.AddErrorAt(err, n.Line(), n.StartPos())
		return "", nil
	}

	s := el.ToString(v)
	_, safe := v.(el.SafeString)
	if i.config.NestedInterpretation && i.containsDelimiters(s) {
		nested, err := i.RenderString(s)
		switch {
		case err != nil && stops(err):
			return "", err
		case err != nil:
			i.AddErrorAt(err, n.Line(), n.StartPos())
		default:
			s = nested
		}
	}
	if !safe && i.ctx.Autoescape(i.config.Autoescape) {
		s = html.EscapeString(s)
	}
	i.logger.DebugExpression(n.Content(), s)
	return s, nil
}

// deferredExpression emits the output for an expression that reached a
// deferred value.
func (i *Interpreter) deferredExpression(n tree.Node, sig *el.DeferredSignal) string {
	if !i.IsEager() {
		i.ctx.noteDeferred(sig.Words)
		return n.Image()
	}
	return i.emit(sig.Words, i.ExpressionSyntax(sig.Text))
}

func (i *Interpreter) containsDelimiters(s string) bool {
	sym := i.config.Symbols
	return strings.Contains(s, sym.ExprStart) || strings.Contains(s, sym.TagStart)
}

func (i *Interpreter) renderTag(n tree.Node) (string, error) {
	name := n.TagName()
	tag, ok := i.engine.tags.Get(name)
	if !ok {
		i.AddErrorAt(tmplerr.Syntax(tmplerr.ReasonUnknownTag, n.Line(), n.StartPos(), "unknown tag %s", name), n.Line(), n.StartPos())
		return "", nil
	}
	if i.ctx.IsDisabled(name) {
		i.AddErrorAt(tmplerr.Eval(tmplerr.ReasonDisabled, nil, "tag %s is disabled", name), n.Line(), n.StartPos())
		return "", nil
	}

	var (
		out string
		err error
	)
	if et, ok := tag.(EagerTag); ok && i.IsEager() {
		out, err = et.InterpretEager(n, i)
	} else {
		out, err = tag.Interpret(n, i)
	}
	if sig, ok := el.AsDeferred(err); ok {
		// a tag without a finer strategy is kept verbatim
		return i.emit(sig.Words, n.Source()), nil
	}
	if err != nil {
		if stops(err) {
			return "", err
		}
		i.AddErrorAt(NewInterpretError(name, n.Line(), err), n.Line(), n.StartPos())
		return "", nil
	}
	return out, nil
}

// ResolvePath resolves a template name relative to the template being
// rendered.
func (i *Interpreter) ResolvePath(name string) string {
	if i.engine.locator == nil {
		return name
	}
	return i.engine.locator.Resolve(i.CurrentPath(), name)
}

func (i *Interpreter) loadTemplate(path string) (*tree.Tree, error) {
	return i.engine.loadTemplate(i.goCtx, path)
}

// RenderString renders template text as a nested render of the current
// one, sharing its scope.
func (i *Interpreter) RenderString(src string) (string, error) {
	release, err := i.enterRender("", false)
	if err != nil {
		return "", err
	}
	defer release()
	t := i.engine.Parse(src)
	i.recordBuildErrors(t)
	return i.RenderChildren(t.Root)
}

// ParseExpression parses expression source through the engine cache.
func (i *Interpreter) ParseExpression(src string) (*el.Tree, error) {
	return i.engine.exprs.Parse(src)
}

// Evaluate parses and evaluates src against the current scope. A deferred
// value yields an *el.DeferredSignal error.
func (i *Interpreter) Evaluate(src string) (interface{}, error) {
	t, err := i.ParseExpression(src)
	if err != nil {
		return nil, err
	}
	return t.Evaluate(i, i.bindings(t))
}

// EvaluateEager evaluates src reconstructing around deferred values
// whatever the execution mode.
func (i *Interpreter) EvaluateEager(src string) (*el.Result, error) {
	t, err := i.ParseExpression(src)
	if err != nil {
		return nil, err
	}
	return t.EvaluateEager(i, i.bindings(t))
}

// bindings returns the engine's cached bindings for t unless something is
// disabled in scope, in which case functions are resolved per call.
func (i *Interpreter) bindings(t *el.Tree) *el.Bindings {
	if i.ctx.hasDisabled() {
		return nil
	}
	return i.engine.bindingsFor(t)
}

// ExpressionSyntax wraps expression text in expression delimiters.
func (i *Interpreter) ExpressionSyntax(text string) string {
	return i.config.Symbols.ExprStart + " " + text + " " + i.config.Symbols.ExprEnd
}

// TagSyntax wraps tag content in tag delimiters.
func (i *Interpreter) TagSyntax(content string) string {
	return i.config.Symbols.TagStart + " " + content + " " + i.config.Symbols.TagEnd
}

func (i *Interpreter) addPrefix(s string) {
	i.prefix.WriteString(s)
}

func (i *Interpreter) takePrefix() string {
	s := i.prefix.String()
	i.prefix.Reset()
	return s
}

// Lookup implements el.Env.
func (i *Interpreter) Lookup(name string) (interface{}, bool) {
	if v, ok := i.ctx.Get(name); ok {
		return v, true
	}
	if m, ok := i.ctx.Macro(name); ok {
		return m, true
	}
	if _, ok := i.engine.functions.GetFunction("", name, -1); ok {
		return nil, false
	}
	if i.config.ExecutionMode == ModePreserveUnresolved {
		return el.Deferred(), true
	}
	if i.config.FailOnUnknownTokens {
		i.AddError(tmplerr.Eval(tmplerr.ReasonUnknownVariable, nil, "unknown variable %s", name))
	}
	return nil, false
}

// Function implements el.Env.
func (i *Interpreter) Function(namespace, name string, arity int) (el.Callable, bool) {
	qualified := name
	if namespace != "" {
		qualified = namespace + ":" + name
	}
	if i.ctx.IsDisabled(qualified) {
		return el.Func(func(el.Env, []interface{}, map[string]interface{}) (interface{}, error) {
			return nil, tmplerr.Eval(tmplerr.ReasonDisabled, nil, "function %s is disabled", qualified)
		}), true
	}
	fn, ok := i.engine.functions.GetFunction(namespace, name, arity)
	if !ok {
		return nil, false
	}
	return fn, true
}

// Filter implements el.Env.
func (i *Interpreter) Filter(name string) (el.FilterFunc, bool) {
	if i.ctx.IsDisabled(name) {
		return func(el.Env, interface{}, []interface{}, map[string]interface{}) (interface{}, error) {
			return nil, tmplerr.Eval(tmplerr.ReasonDisabled, nil, "filter %s is disabled", name)
		}, true
	}
	return i.engine.filters.Get(name)
}

// Test implements el.Env.
func (i *Interpreter) Test(name string) (el.TestFunc, bool) {
	return i.engine.tests.Get(name)
}

// Options implements el.Env.
func (i *Interpreter) Options() el.Options {
	return el.Options{
		Eager:               i.IsEager(),
		SnakeCaseProperties: i.config.Legacy.UseSnakeCasePropertyNaming,
		MaxListSize:         i.config.MaxListSize,
		Accessors:           i.engine.accessors,
	}
}

// interpreterOf recovers the interpreter from an evaluation environment.
func interpreterOf(env el.Env) (*Interpreter, bool) {
	i, ok := env.(*Interpreter)
	return i, ok
}
