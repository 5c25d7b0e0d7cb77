package el

// Callable is anything an expression can invoke: global functions, macros,
// methods exposed through values.
type Callable interface {
	Call(env Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// Func adapts a plain function to Callable.
type Func func(env Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Call implements Callable.
func (f Func) Call(env Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return f(env, args, kwargs)
}

// FilterFunc transforms a value: value|name(args).
type FilterFunc func(env Env, value interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// TestFunc checks a value: value is name(args).
type TestFunc func(env Env, value interface{}, args []interface{}) (bool, error)

// FunctionResolver finds a function by namespace, local name and arity.
type FunctionResolver func(namespace, name string, arity int) (Callable, bool)

// VariableResolver supplies fixed variable values at bind time. Names it
// does not resolve are looked up in the Env on every evaluation.
type VariableResolver func(name string) (interface{}, bool)

// Env is what an expression is evaluated against.
type Env interface {
	Lookup(name string) (interface{}, bool)
	Function(namespace, name string, arity int) (Callable, bool)
	Filter(name string) (FilterFunc, bool)
	Test(name string) (TestFunc, bool)
	Options() Options
}

// Options tune evaluation.
type Options struct {
	// Eager evaluates around deferred values and reconstructs the
	// unresolved remainder instead of failing.
	Eager bool
	// SnakeCaseProperties lets foo.first_name reach a FirstName field.
	SnakeCaseProperties bool
	// MaxListSize caps list literals and generated lists; 0 disables it.
	MaxListSize int
	// Accessors resolves struct fields and methods; DefaultAccessors when nil.
	Accessors *Accessors
}

// Bindings holds function and variable identities resolved once for a
// Tree, indexed by the positions assigned while parsing.
type Bindings struct {
	functions []Callable
	variables []interface{}
	fixed     []bool
}

// Bind resolves the tree's function references and fixed variables.
// Unresolved functions stay nil and fail when called.
func (t *Tree) Bind(fr FunctionResolver, vr VariableResolver) *Bindings {
	b := &Bindings{
		functions: make([]Callable, len(t.funcs)),
		variables: make([]interface{}, len(t.idents)),
		fixed:     make([]bool, len(t.idents)),
	}
	if fr != nil {
		for i, ref := range t.funcs {
			if fn, ok := fr(ref.Namespace, ref.Name, ref.Arity); ok {
				b.functions[i] = fn
			}
		}
	}
	if vr != nil {
		for i, name := range t.idents {
			b.variables[i], b.fixed[i] = vr(name)
		}
	}
	return b
}

// Function returns the function bound at position i.
func (b *Bindings) Function(i int) Callable {
	if b == nil || i < 0 || i >= len(b.functions) {
		return nil
	}
	return b.functions[i]
}

// Variable returns the fixed variable at position i.
func (b *Bindings) Variable(i int) (interface{}, bool) {
	if b == nil || i < 0 || i >= len(b.fixed) || !b.fixed[i] {
		return nil, false
	}
	return b.variables[i], true
}
