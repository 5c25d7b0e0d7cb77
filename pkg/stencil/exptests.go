package stencil

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

// TestRegistry maps expression test names (the right side of "is") to
// implementations.
type TestRegistry struct {
	mu    sync.RWMutex
	tests map[string]el.TestFunc
}

// NewTestRegistry creates an empty registry.
func NewTestRegistry() *TestRegistry {
	return &TestRegistry{tests: map[string]el.TestFunc{}}
}

// Register adds or replaces a test.
func (r *TestRegistry) Register(name string, t el.TestFunc) error {
	if name == "" {
		return fmt.Errorf("test name cannot be empty")
	}
	if t == nil {
		return fmt.Errorf("test %s has no implementation", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests[name] = t
	return nil
}

// Get looks a test up by name.
func (r *TestRegistry) Get(name string) (el.TestFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tests[name]
	return t, ok
}

// Names returns the registered test names, sorted.
func (r *TestRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tests))
	for name := range r.tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func valueTest(fn func(v interface{}) bool) el.TestFunc {
	return func(_ el.Env, v interface{}, _ []interface{}) (bool, error) {
		return fn(v), nil
	}
}

func integerOf(v interface{}, test string) (int64, error) {
	if !el.IsNumber(v) {
		return 0, fmt.Errorf("%s expects a number, got %s", test, el.ToString(v))
	}
	n, ok := el.ToInt64(v)
	if !ok {
		return 0, fmt.Errorf("%s expects an integer, got %s", test, el.ToString(v))
	}
	return n, nil
}

func parity(want int64) el.TestFunc {
	return func(_ el.Env, v interface{}, _ []interface{}) (bool, error) {
		n, err := integerOf(v, "even/odd")
		if err != nil {
			return false, err
		}
		r := n % 2
		if r < 0 {
			r = -r
		}
		return r == want, nil
	}
}

func isString(v interface{}) bool {
	switch v.(type) {
	case string, el.SafeString:
		return true
	}
	return false
}

func isMapping(v interface{}) bool {
	if isString(v) {
		return false
	}
	_, ok := el.ToMap(v)
	return ok
}

func isSequence(v interface{}) bool {
	if isString(v) || isMapping(v) {
		return false
	}
	_, ok := el.ToList(v)
	return ok
}

func registerBuiltinTests(r *TestRegistry) {
	tests := map[string]el.TestFunc{
		"defined":   valueTest(func(v interface{}) bool { return v != nil }),
		"undefined": valueTest(func(v interface{}) bool { return v == nil }),
		"none":      valueTest(func(v interface{}) bool { return v == nil }),
		"number":    valueTest(el.IsNumber),
		"string":    valueTest(isString),
		"mapping":   valueTest(isMapping),
		"sequence":  valueTest(isSequence),
		"iterable":  valueTest(func(v interface{}) bool { return isString(v) || isMapping(v) || isSequence(v) }),
		"boolean": valueTest(func(v interface{}) bool {
			_, ok := v.(bool)
			return ok
		}),
		"true":   valueTest(func(v interface{}) bool { return v == true }),
		"false":  valueTest(func(v interface{}) bool { return v == false }),
		"truthy": valueTest(el.Truthy),
		"even":   parity(0),
		"odd":    parity(1),
		"divisibleby": func(_ el.Env, v interface{}, args []interface{}) (bool, error) {
			if len(args) != 1 {
				return false, fmt.Errorf("divisibleby expects one argument")
			}
			n, err := integerOf(v, "divisibleby")
			if err != nil {
				return false, err
			}
			d, err := integerOf(args[0], "divisibleby")
			if err != nil {
				return false, err
			}
			if d == 0 {
				return false, fmt.Errorf("divisibleby zero")
			}
			return n%d == 0, nil
		},
		"equalto": func(_ el.Env, v interface{}, args []interface{}) (bool, error) {
			if len(args) != 1 {
				return false, fmt.Errorf("equalto expects one argument")
			}
			return el.Equal(v, args[0]), nil
		},
		// sameas compares identity for containers and equality otherwise.
		"sameas": func(_ el.Env, v interface{}, args []interface{}) (bool, error) {
			if len(args) != 1 {
				return false, fmt.Errorf("sameas expects one argument")
			}
			return sameAs(v, args[0]), nil
		},
		"containing": func(_ el.Env, v interface{}, args []interface{}) (bool, error) {
			if len(args) != 1 {
				return false, fmt.Errorf("containing expects one argument")
			}
			return el.Contains(v, args[0])
		},
		"lower": valueTest(func(v interface{}) bool {
			s, ok := v.(string)
			return ok && s == strings.ToLower(s)
		}),
		"upper": valueTest(func(v interface{}) bool {
			s, ok := v.(string)
			return ok && s == strings.ToUpper(s)
		}),
	}
	tests["eq"] = tests["equalto"]
	for name, t := range tests {
		_ = r.Register(name, t)
	}
	for name, op := range map[string]string{"lt": "<", "le": "<=", "gt": ">", "ge": ">=", "ne": "!="} {
		_ = r.Register(name, comparisonTest(op))
	}
}

func comparisonTest(op string) el.TestFunc {
	return func(_ el.Env, v interface{}, args []interface{}) (bool, error) {
		if len(args) != 1 {
			return false, fmt.Errorf("comparison test expects one argument")
		}
		res, err := el.BinaryOp(op, v, args[0])
		if err != nil {
			return false, err
		}
		return el.Truthy(res), nil
	}
}

func sameAs(a, b interface{}) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.IsValid() && rb.IsValid() && ra.Kind() == rb.Kind() {
		switch ra.Kind() {
		case reflect.Map, reflect.Ptr:
			return ra.Pointer() == rb.Pointer()
		case reflect.Slice:
			return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
		}
	}
	return el.Equal(a, b)
}
