package stencil

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

// Function represents a callable function in templates. Names may carry a
// namespace: "fn:uuid".
type Function interface {
	el.Callable

	// Name returns the qualified function name
	Name() string

	// MinArgs returns the minimum number of arguments required
	MinArgs() int

	// MaxArgs returns the maximum number of arguments allowed (-1 for unlimited)
	MaxArgs() int
}

// FunctionRegistry manages available functions
type FunctionRegistry interface {
	// RegisterFunction adds a function to the registry
	RegisterFunction(fn Function) error

	// GetFunction resolves a function by namespace, local name and arity.
	// An arity of -1 matches any overload.
	GetFunction(namespace, name string, arity int) (Function, bool)

	// ListFunctions returns all registered function names
	ListFunctions() []string
}

// DefaultFunctionRegistry is the default implementation of FunctionRegistry.
// Several functions may share a name when their arities do not overlap.
type DefaultFunctionRegistry struct {
	functions map[string][]Function
	mutex     sync.RWMutex
}

// NewFunctionRegistry creates a new function registry
func NewFunctionRegistry() *DefaultFunctionRegistry {
	return &DefaultFunctionRegistry{
		functions: make(map[string][]Function),
	}
}

func (r *DefaultFunctionRegistry) RegisterFunction(fn Function) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := fn.Name()
	if name == "" {
		return fmt.Errorf("function name cannot be empty")
	}

	overloads := r.functions[name]
	for k, existing := range overloads {
		if existing.MinArgs() == fn.MinArgs() && existing.MaxArgs() == fn.MaxArgs() {
			overloads[k] = fn
			return nil
		}
	}
	r.functions[name] = append(overloads, fn)
	return nil
}

func (r *DefaultFunctionRegistry) GetFunction(namespace, name string, arity int) (Function, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	qualified := name
	if namespace != "" {
		qualified = namespace + ":" + name
	}
	overloads := r.functions[qualified]
	if len(overloads) == 0 {
		return nil, false
	}
	if arity >= 0 {
		for _, fn := range overloads {
			if arity >= fn.MinArgs() && (fn.MaxArgs() < 0 || arity <= fn.MaxArgs()) {
				return fn, true
			}
		}
	}
	// the arity check in Call reports the mismatch
	return overloads[0], true
}

func (r *DefaultFunctionRegistry) ListFunctions() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SimpleFunctionImpl provides a basic implementation of Function
type SimpleFunctionImpl struct {
	name    string
	minArgs int
	maxArgs int
	handler func(env el.Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// NewSimpleFunction wraps a handler that only needs positional arguments.
func NewSimpleFunction(name string, minArgs, maxArgs int, handler func(args ...interface{}) (interface{}, error)) Function {
	return &SimpleFunctionImpl{
		name:    name,
		minArgs: minArgs,
		maxArgs: maxArgs,
		handler: func(_ el.Env, args []interface{}, _ map[string]interface{}) (interface{}, error) {
			return handler(args...)
		},
	}
}

// NewInterpreterFunction wraps a handler that needs the running interpreter.
func NewInterpreterFunction(name string, minArgs, maxArgs int, handler func(i *Interpreter, args []interface{}, kwargs map[string]interface{}) (interface{}, error)) Function {
	return &SimpleFunctionImpl{
		name:    name,
		minArgs: minArgs,
		maxArgs: maxArgs,
		handler: func(env el.Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			i, ok := interpreterOf(env)
			if !ok {
				return nil, fmt.Errorf("function %s needs a template render", name)
			}
			return handler(i, args, kwargs)
		},
	}
}

func (f *SimpleFunctionImpl) Call(env el.Env, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	argCount := len(args)
	if argCount < f.minArgs {
		return nil, fmt.Errorf("function %s requires at least %d arguments, got %d", f.name, f.minArgs, argCount)
	}
	if f.maxArgs >= 0 && argCount > f.maxArgs {
		return nil, fmt.Errorf("function %s accepts at most %d arguments, got %d", f.name, f.maxArgs, argCount)
	}

	return f.handler(env, args, kwargs)
}

func (f *SimpleFunctionImpl) Name() string {
	return f.name
}

func (f *SimpleFunctionImpl) MinArgs() int {
	return f.minArgs
}

func (f *SimpleFunctionImpl) MaxArgs() int {
	return f.maxArgs
}

// registerBasicFunctions registers the basic built-in functions
func registerBasicFunctions(registry *DefaultFunctionRegistry) {
	registry.RegisterFunction(NewInterpreterFunction("range", 1, 3, func(i *Interpreter, args []interface{}, _ map[string]interface{}) (interface{}, error) {
		return createRange(i.config.MaxListSize, args...)
	}))

	registry.RegisterFunction(NewInterpreterFunction("super", 0, 0, func(i *Interpreter, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return i.renderSuper()
	}))

	// caller() outside a call block is an error; inside one the variable
	// bound by the call tag is found first
	registry.RegisterFunction(NewInterpreterFunction("caller", 0, -1, func(i *Interpreter, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		v, ok := i.ctx.Get("caller")
		c, callable := v.(el.Callable)
		if !ok || !callable {
			return nil, fmt.Errorf("caller() used outside of a call block")
		}
		return c.Call(i, args, kwargs)
	}))

	registry.RegisterFunction(NewSimpleFunction("fn:uuid", 0, 0, func(args ...interface{}) (interface{}, error) {
		return uuid.NewString(), nil
	}))

	registry.RegisterFunction(NewSimpleFunction("fn:empty", 1, 1, func(args ...interface{}) (interface{}, error) {
		return el.IsEmpty(args[0]), nil
	}))

	registry.RegisterFunction(NewSimpleFunction("fn:coalesce", 1, -1, func(args ...interface{}) (interface{}, error) {
		for _, arg := range args {
			if !el.IsEmpty(arg) {
				return arg, nil
			}
		}
		return nil, nil
	}))

	registry.RegisterFunction(NewSimpleFunction("fn:join", 1, 2, func(args ...interface{}) (interface{}, error) {
		collection := args[0]
		if collection == nil {
			return "", nil
		}

		items, ok := el.ToList(collection)
		if !ok {
			return nil, fmt.Errorf("first parameter must be a collection")
		}

		separator := ""
		if len(args) > 1 && args[1] != nil {
			separator = el.ToString(args[1])
		}

		var result []string
		for _, item := range items {
			if item != nil {
				result = append(result, el.ToString(item))
			}
		}

		return strings.Join(result, separator), nil
	}))
}

// rangeLimit caps range() when no MaxListSize is configured.
const rangeLimit = 1000

// createRange builds range(stop), range(start, stop) or
// range(start, stop, step). limit caps the length, rangeLimit applies when
// it is not positive.
func createRange(limit int, args ...interface{}) (interface{}, error) {
	ints := make([]int64, len(args))
	for k, a := range args {
		n, err := cast.ToInt64E(a)
		if err != nil {
			return nil, fmt.Errorf("range() arguments must be integers: %v", a)
		}
		ints[k] = n
	}

	start, end, step := int64(0), int64(0), int64(1)
	switch len(ints) {
	case 1:
		end = ints[0]
	case 2:
		start, end = ints[0], ints[1]
	case 3:
		start, end, step = ints[0], ints[1], ints[2]
	}
	if step == 0 {
		return nil, fmt.Errorf("range() step cannot be zero")
	}
	if limit <= 0 {
		limit = rangeLimit
	}

	// the span of two int64 bounds can exceed int64
	n := new(big.Int)
	if (step > 0 && end > start) || (step < 0 && end < start) {
		n.Sub(big.NewInt(end), big.NewInt(start))
		n.Add(n, big.NewInt(step))
		if step > 0 {
			n.Sub(n, big.NewInt(1))
		} else {
			n.Add(n, big.NewInt(1))
		}
		n.Quo(n, big.NewInt(step))
	}
	if n.Cmp(big.NewInt(int64(limit))) > 0 {
		size := math.MaxInt
		if n.IsInt64() && n.Int64() <= math.MaxInt {
			size = int(n.Int64())
		}
		return nil, &el.LimitError{Size: size, Limit: limit}
	}
	count := n.Int64()

	result := make([]interface{}, 0, count)
	for k, v := int64(0), start; k < count; k, v = k+1, v+step {
		result = append(result, v)
	}
	return result, nil
}
