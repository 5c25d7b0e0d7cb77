package el

import (
	"errors"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

// errDeferred aborts ordinary (non-eager) evaluation on a deferred value.
var errDeferred = errors.New("deferred value reached")

// Result is the outcome of an eager evaluation. When Resolved is false,
// Text is an expression that yields the final value once the deferred names
// are known.
type Result struct {
	Value    interface{}
	Resolved bool
	Text     string
	Words    []string
	Deferred []string
}

// Evaluate evaluates the tree. If a deferred value is reached it returns a
// *DeferredSignal; its text is the reconstruction when env is eager and the
// original source otherwise. A nil Bindings binds functions through env.
func (t *Tree) Evaluate(env Env, b *Bindings) (interface{}, error) {
	opts := env.Options()
	r, err := t.run(env, b, opts, opts.Eager)
	if err != nil {
		return nil, err
	}
	if !r.Resolved {
		return nil, &DeferredSignal{Text: r.Text, Words: r.Words, Deferred: r.Deferred}
	}
	return r.Value, nil
}

// EvaluateEager evaluates everything resolvable regardless of env options.
func (t *Tree) EvaluateEager(env Env, b *Bindings) (*Result, error) {
	return t.run(env, b, env.Options(), true)
}

func (t *Tree) run(env Env, b *Bindings, opts Options, eager bool) (*Result, error) {
	if b == nil {
		b = t.Bind(env.Function, nil)
	}
	e := &evaluator{env: env, b: b, opts: opts, eager: eager, seen: map[string]bool{}}
	p, err := e.eval(t.Root)
	if errors.Is(err, errDeferred) {
		return &Result{Text: t.Source, Deferred: e.deferred}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.unresolved {
		return &Result{Text: p.text, Words: e.words, Deferred: e.deferred}, nil
	}
	return &Result{Value: p.val, Resolved: true}, nil
}

type partial struct {
	val        interface{}
	text       string
	prec       int
	unresolved bool
}

func done(v interface{}) partial {
	return partial{val: v}
}

func pending(text string, prec int) partial {
	return partial{text: text, prec: prec, unresolved: true}
}

type evaluator struct {
	env   Env
	b     *Bindings
	opts  Options
	eager bool
	// pure is positive while evaluating branches of a conditional whose
	// condition is deferred; calls are reconstructed, not executed.
	pure int

	words    []string
	deferred []string
	seen     map[string]bool
}

func (e *evaluator) addWord(name string) {
	if !e.seen["w:"+name] {
		e.seen["w:"+name] = true
		e.words = append(e.words, name)
	}
}

func (e *evaluator) addDeferred(name string) {
	if !e.seen["d:"+name] {
		e.seen["d:"+name] = true
		e.deferred = append(e.deferred, name)
	}
}

// deferredAt handles a deferred value found while evaluating n.
func (e *evaluator) deferredAt(n Node) (partial, error) {
	if id, ok := n.(*Ident); ok {
		e.addDeferred(id.Name)
	} else {
		for _, name := range Names(n) {
			e.addDeferred(name)
		}
	}
	if !e.eager {
		return partial{}, errDeferred
	}
	return pending(n.String(), n.prec()), nil
}

// text renders a partial as expression source. Resolved values become
// literals; values without a literal form keep the source of n, and the
// names it uses are reported as words.
func (e *evaluator) text(p partial, n Node) (string, int) {
	if p.unresolved {
		return p.text, p.prec
	}
	if s, ok := Repr(p.val); ok {
		if strings.HasPrefix(s, "-") {
			return s, precUnary
		}
		return s, precAtom
	}
	return e.source(n)
}

func (e *evaluator) source(n Node) (string, int) {
	for _, name := range Names(n) {
		e.addWord(name)
	}
	return n.String(), n.prec()
}

func wrap(s string, prec, min int) string {
	if prec < min {
		return "(" + s + ")"
	}
	return s
}

func (e *evaluator) lookup(id *Ident) (interface{}, bool) {
	if v, ok := e.b.Variable(id.Index); ok {
		return v, true
	}
	return e.env.Lookup(id.Name)
}

func (e *evaluator) eval(n Node) (partial, error) {
	switch x := n.(type) {
	case *Literal:
		return done(x.Value), nil
	case *Ident:
		v, _ := e.lookup(x)
		if IsDeferred(v) {
			return e.deferredAt(x)
		}
		return done(v), nil
	case *Attr:
		return e.evalAttr(x)
	case *Index:
		return e.evalIndex(x)
	case *Slice:
		return e.evalSlice(x)
	case *Call:
		return e.evalCall(x)
	case *NSCall:
		return e.evalNSCall(x)
	case *Unary:
		return e.evalUnary(x)
	case *Binary:
		return e.evalBinary(x)
	case *Logical:
		return e.evalLogical(x)
	case *Ternary:
		return e.evalTernary(x)
	case *ListLit:
		return e.evalSequence(x.Items, "[", "]", false)
	case *TupleLit:
		return e.evalSequence(x.Items, "(", ")", len(x.Items) == 1)
	case *DictLit:
		return e.evalDict(x)
	case *FilterCall:
		return e.evalFilter(x)
	case *TestCall:
		return e.evalTest(x)
	}
	return partial{}, typeErrorf("cannot evaluate %T", n)
}

func (e *evaluator) evalAttr(x *Attr) (partial, error) {
	obj, err := e.eval(x.Object)
	if err != nil {
		return partial{}, err
	}
	if obj.unresolved {
		return pending(wrap(obj.text, obj.prec, precPostfix)+"."+x.Name, precPostfix), nil
	}
	v, err := GetAttr(e.opts, obj.val, x.Name)
	if err != nil {
		return partial{}, err
	}
	if IsDeferred(v) {
		return e.deferredAt(x)
	}
	return done(v), nil
}

func (e *evaluator) evalIndex(x *Index) (partial, error) {
	obj, err := e.eval(x.Object)
	if err != nil {
		return partial{}, err
	}
	key, err := e.eval(x.Key)
	if err != nil {
		return partial{}, err
	}
	if obj.unresolved || key.unresolved {
		ot, op := e.text(obj, x.Object)
		kt, _ := e.text(key, x.Key)
		return pending(wrap(ot, op, precPostfix)+"["+kt+"]", precPostfix), nil
	}
	v, err := GetIndex(e.opts, obj.val, key.val)
	if err != nil {
		return partial{}, err
	}
	if IsDeferred(v) {
		return e.deferredAt(x)
	}
	return done(v), nil
}

func (e *evaluator) evalSlice(x *Slice) (partial, error) {
	obj, err := e.eval(x.Object)
	if err != nil {
		return partial{}, err
	}
	bounds := []Node{x.Start, x.Stop, x.Step}
	parts := make([]partial, 3)
	unresolved := obj.unresolved
	for i, bn := range bounds {
		if bn == nil {
			continue
		}
		if parts[i], err = e.eval(bn); err != nil {
			return partial{}, err
		}
		unresolved = unresolved || parts[i].unresolved
	}
	if unresolved {
		ot, op := e.text(obj, x.Object)
		var b strings.Builder
		b.WriteString(wrap(ot, op, precPostfix))
		b.WriteByte('[')
		for i, bn := range bounds {
			if i == 2 && bn == nil {
				break
			}
			if i > 0 {
				b.WriteByte(':')
			}
			if bn != nil {
				t, _ := e.text(parts[i], bn)
				b.WriteString(t)
			}
		}
		b.WriteByte(']')
		return pending(b.String(), precPostfix), nil
	}
	v, err := GetSlice(obj.val, parts[0].val, parts[1].val, parts[2].val)
	if err != nil {
		return partial{}, err
	}
	return done(v), nil
}

type evaluatedArgs struct {
	args       []partial
	kwargs     []partial
	unresolved bool
}

func (e *evaluator) evalArgs(args []Node, kwargs []Kwarg) (*evaluatedArgs, error) {
	out := &evaluatedArgs{args: make([]partial, len(args)), kwargs: make([]partial, len(kwargs))}
	for i, a := range args {
		p, err := e.eval(a)
		if err != nil {
			return nil, err
		}
		out.args[i] = p
		out.unresolved = out.unresolved || p.unresolved
	}
	for i, kw := range kwargs {
		p, err := e.eval(kw.Value)
		if err != nil {
			return nil, err
		}
		out.kwargs[i] = p
		out.unresolved = out.unresolved || p.unresolved
	}
	return out, nil
}

func (a *evaluatedArgs) values(kwargs []Kwarg) ([]interface{}, map[string]interface{}) {
	args := make([]interface{}, len(a.args))
	for i, p := range a.args {
		args[i] = p.val
	}
	var kw map[string]interface{}
	if len(kwargs) > 0 {
		kw = make(map[string]interface{}, len(kwargs))
		for i, k := range kwargs {
			kw[k.Name] = a.kwargs[i].val
		}
	}
	return args, kw
}

func (e *evaluator) argsText(a *evaluatedArgs, args []Node, kwargs []Kwarg) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range a.args {
		if i > 0 {
			b.WriteString(", ")
		}
		t, _ := e.text(p, args[i])
		b.WriteString(t)
	}
	for i, p := range a.kwargs {
		if i > 0 || len(a.args) > 0 {
			b.WriteString(", ")
		}
		t, _ := e.text(p, kwargs[i].Value)
		b.WriteString(kwargs[i].Name)
		b.WriteByte('=')
		b.WriteString(t)
	}
	b.WriteByte(')')
	return b.String()
}

func (e *evaluator) evalCall(x *Call) (partial, error) {
	a, err := e.evalArgs(x.Args, x.Kwargs)
	if err != nil {
		return partial{}, err
	}

	var (
		callee     Callable
		base       partial
		calleeText func() string
		deferred   bool
	)
	switch c := x.Callee.(type) {
	case *Ident:
		calleeText = func() string {
			e.addWord(c.Name)
			return c.Name
		}
		v, ok := e.lookup(c)
		switch fn := v.(type) {
		case *DeferredValue:
			e.addDeferred(c.Name)
			deferred = true
		case Callable:
			callee = fn
		default:
			if callee = e.b.Function(x.FuncIndex); callee == nil {
				if ok && v != nil {
					return partial{}, typeErrorf("%s is not callable", c.Name)
				}
				return partial{}, unknownf(tmplerr.ReasonUnknownFunction, "unknown function %s", c.Name)
			}
		}
	case *Attr:
		if base, err = e.eval(c.Object); err != nil {
			return partial{}, err
		}
		// method call bases keep their name so the receiver is the same
		// object in the next pass
		calleeText = func() string {
			if base.unresolved {
				return wrap(base.text, base.prec, precPostfix) + "." + c.Name
			}
			bt, bp := e.source(c.Object)
			return wrap(bt, bp, precPostfix) + "." + c.Name
		}
		deferred = base.unresolved
	default:
		p, err := e.eval(c)
		if err != nil {
			return partial{}, err
		}
		calleeText = func() string {
			if p.unresolved {
				return wrap(p.text, p.prec, precPostfix)
			}
			t, pr := e.source(c)
			return wrap(t, pr, precPostfix)
		}
		if p.unresolved {
			deferred = true
			break
		}
		fn, ok := p.val.(Callable)
		if !ok {
			return partial{}, typeErrorf("%s is not callable", typeName(p.val))
		}
		callee = fn
	}

	reconstruct := func() (partial, error) {
		if !e.eager {
			return partial{}, errDeferred
		}
		return pending(calleeText()+e.argsText(a, x.Args, x.Kwargs), precPostfix), nil
	}
	if deferred || a.unresolved || e.pure > 0 {
		return reconstruct()
	}

	args, kwargs := a.values(x.Kwargs)
	var v interface{}
	if attr, ok := x.Callee.(*Attr); ok {
		v, err = CallMethod(e.env, e.opts, base.val, attr.Name, args, kwargs)
	} else {
		v, err = callee.Call(e.env, args, kwargs)
	}
	if _, ok := AsDeferred(err); ok {
		return reconstruct()
	}
	if err != nil {
		return partial{}, err
	}
	if IsDeferred(v) {
		return e.deferredAt(x)
	}
	return done(v), nil
}

func (e *evaluator) evalNSCall(x *NSCall) (partial, error) {
	a, err := e.evalArgs(x.Args, x.Kwargs)
	if err != nil {
		return partial{}, err
	}
	fn := e.b.Function(x.FuncIndex)
	if fn == nil {
		return partial{}, unknownf(tmplerr.ReasonUnknownFunction, "unknown function %s:%s", x.Namespace, x.Name)
	}
	reconstruct := func() (partial, error) {
		if !e.eager {
			return partial{}, errDeferred
		}
		return pending(x.Namespace+":"+x.Name+e.argsText(a, x.Args, x.Kwargs), precPostfix), nil
	}
	if a.unresolved || e.pure > 0 {
		return reconstruct()
	}
	args, kwargs := a.values(x.Kwargs)
	v, err := fn.Call(e.env, args, kwargs)
	if _, ok := AsDeferred(err); ok {
		return reconstruct()
	}
	if err != nil {
		return partial{}, err
	}
	if IsDeferred(v) {
		return e.deferredAt(x)
	}
	return done(v), nil
}

func (e *evaluator) evalUnary(x *Unary) (partial, error) {
	o, err := e.eval(x.Operand)
	if err != nil {
		return partial{}, err
	}
	if o.unresolved {
		sep := ""
		if isWordOp(x.Spelling) {
			sep = " "
		}
		return pending(x.Spelling+sep+wrap(o.text, o.prec, x.prec()), x.prec()), nil
	}
	v, err := UnaryOp(x.Op, o.val)
	if err != nil {
		return partial{}, err
	}
	return done(v), nil
}

func (e *evaluator) compose(l partial, ln Node, spelling string, r partial, rn Node, prec int, rightAssoc bool) partial {
	lt, lp := e.text(l, ln)
	rt, rp := e.text(r, rn)
	lmin, rmin := prec, prec+1
	if rightAssoc {
		lmin, rmin = prec+1, precUnary
	}
	return pending(wrap(lt, lp, lmin)+" "+spelling+" "+wrap(rt, rp, rmin), prec)
}

func (e *evaluator) evalBinary(x *Binary) (partial, error) {
	l, err := e.eval(x.Left)
	if err != nil {
		return partial{}, err
	}
	r, err := e.eval(x.Right)
	if err != nil {
		return partial{}, err
	}
	if l.unresolved || r.unresolved {
		return e.compose(l, x.Left, x.Spelling, r, x.Right, x.prec(), x.Op == "**"), nil
	}
	v, err := BinaryOp(x.Op, l.val, r.val)
	if err != nil {
		return partial{}, err
	}
	return done(v), nil
}

// evalLogical short-circuits on a resolved left operand. With an unresolved
// left operand the right one is still evaluated so that its resolvable
// parts are substituted; if that fails its source is kept instead.
func (e *evaluator) evalLogical(x *Logical) (partial, error) {
	l, err := e.eval(x.Left)
	if err != nil {
		return partial{}, err
	}
	if !l.unresolved {
		truth := Truthy(l.val)
		if x.Op == "and" && !truth {
			return done(false), nil
		}
		if x.Op == "or" && truth {
			return done(true), nil
		}
		r, err := e.eval(x.Right)
		if err != nil {
			return partial{}, err
		}
		if !r.unresolved {
			return done(Truthy(r.val)), nil
		}
		return e.compose(l, x.Left, x.Spelling, r, x.Right, x.prec(), false), nil
	}

	r, err := e.eval(x.Right)
	if err != nil {
		rt, rp := e.source(x.Right)
		r = pending(rt, rp)
	}
	return e.compose(l, x.Left, x.Spelling, r, x.Right, x.prec(), false), nil
}

// evalTernary picks a branch when the condition resolves. When it is
// deferred both branches are reconstructed in pure mode: variables and
// operators are substituted but no function, method or filter runs, so
// neither branch's side effects happen before the condition is known.
func (e *evaluator) evalTernary(x *Ternary) (partial, error) {
	c, err := e.eval(x.Cond)
	if err != nil {
		return partial{}, err
	}
	if !c.unresolved {
		if Truthy(c.val) {
			return e.eval(x.Then)
		}
		if x.Else == nil {
			return done(nil), nil
		}
		return e.eval(x.Else)
	}

	e.pure++
	defer func() { e.pure-- }()
	th, err := e.eval(x.Then)
	if err != nil {
		return partial{}, err
	}
	tt, tp := e.text(th, x.Then)
	var et string
	var ep int
	if x.Else != nil {
		el, err := e.eval(x.Else)
		if err != nil {
			return partial{}, err
		}
		et, ep = e.text(el, x.Else)
	}
	if x.Inline {
		s := wrap(tt, tp, precOr) + " if " + wrap(c.text, c.prec, precOr)
		if x.Else != nil {
			s += " else " + wrap(et, ep, precTernary)
		}
		return pending(s, precTernary), nil
	}
	return pending(wrap(c.text, c.prec, precOr)+" ? "+wrap(tt, tp, precTernary)+" : "+wrap(et, ep, precTernary), precTernary), nil
}

func (e *evaluator) checkSize(n int) error {
	if e.opts.MaxListSize > 0 && n > e.opts.MaxListSize {
		return &LimitError{Size: n, Limit: e.opts.MaxListSize}
	}
	return nil
}

func (e *evaluator) evalSequence(items []Node, open, close string, trailingComma bool) (partial, error) {
	if err := e.checkSize(len(items)); err != nil {
		return partial{}, err
	}
	parts := make([]partial, len(items))
	unresolved := false
	for i, it := range items {
		p, err := e.eval(it)
		if err != nil {
			return partial{}, err
		}
		parts[i] = p
		unresolved = unresolved || p.unresolved
	}
	if !unresolved {
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p.val
		}
		return done(out), nil
	}
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i], _ = e.text(p, items[i])
	}
	s := open + strings.Join(texts, ", ")
	if trailingComma {
		s += ","
	}
	return pending(s+close, precAtom), nil
}

func (e *evaluator) evalDict(x *DictLit) (partial, error) {
	keys := make([]partial, len(x.Keys))
	vals := make([]partial, len(x.Values))
	unresolved := false
	for i := range x.Keys {
		k, err := e.eval(x.Keys[i])
		if err != nil {
			return partial{}, err
		}
		v, err := e.eval(x.Values[i])
		if err != nil {
			return partial{}, err
		}
		keys[i], vals[i] = k, v
		unresolved = unresolved || k.unresolved || v.unresolved
	}
	if !unresolved {
		out := make(map[string]interface{}, len(keys))
		for i := range keys {
			out[ToString(keys[i].val)] = vals[i].val
		}
		return done(out), nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		kt, _ := e.text(keys[i], x.Keys[i])
		vt, _ := e.text(vals[i], x.Values[i])
		b.WriteString(kt)
		b.WriteString(": ")
		b.WriteString(vt)
	}
	b.WriteByte('}')
	return pending(b.String(), precAtom), nil
}

func (e *evaluator) evalFilter(x *FilterCall) (partial, error) {
	v, err := e.eval(x.Value)
	if err != nil {
		return partial{}, err
	}
	a, err := e.evalArgs(x.Args, x.Kwargs)
	if err != nil {
		return partial{}, err
	}
	reconstruct := func() (partial, error) {
		if !e.eager {
			return partial{}, errDeferred
		}
		vt, vp := e.text(v, x.Value)
		s := wrap(vt, vp, precFilter) + "|" + x.Name
		if len(x.Args) > 0 || len(x.Kwargs) > 0 {
			s += e.argsText(a, x.Args, x.Kwargs)
		}
		return pending(s, precFilter), nil
	}
	if v.unresolved || a.unresolved || e.pure > 0 {
		return reconstruct()
	}
	f, ok := e.env.Filter(x.Name)
	if !ok {
		return partial{}, unknownf(tmplerr.ReasonUnknownFilter, "unknown filter %s", x.Name)
	}
	args, kwargs := a.values(x.Kwargs)
	out, err := f(e.env, v.val, args, kwargs)
	if _, ok := AsDeferred(err); ok {
		return reconstruct()
	}
	if err != nil {
		return partial{}, err
	}
	if IsDeferred(out) {
		return e.deferredAt(x)
	}
	return done(out), nil
}

func (e *evaluator) evalTest(x *TestCall) (partial, error) {
	v, err := e.eval(x.Value)
	if err != nil {
		return partial{}, err
	}
	a, err := e.evalArgs(x.Args, nil)
	if err != nil {
		return partial{}, err
	}
	if v.unresolved || a.unresolved {
		vt, vp := e.text(v, x.Value)
		s := wrap(vt, vp, precCompare+1) + " is "
		if x.Negated {
			s += "not "
		}
		s += x.Name
		if len(x.Args) > 0 {
			s += e.argsText(a, x.Args, nil)
		}
		return pending(s, precCompare), nil
	}
	t, ok := e.env.Test(x.Name)
	if !ok {
		return partial{}, unknownf(tmplerr.ReasonUnknownTest, "unknown test %s", x.Name)
	}
	args, _ := a.values(nil)
	res, err := t(e.env, v.val, args)
	if err != nil {
		return partial{}, err
	}
	return done(res != x.Negated), nil
}
