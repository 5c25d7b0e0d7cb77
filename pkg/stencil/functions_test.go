package stencil

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

func constant(name string, minArgs, maxArgs int, v interface{}) Function {
	return NewSimpleFunction(name, minArgs, maxArgs, func(args ...interface{}) (interface{}, error) {
		return v, nil
	})
}

func TestFunctionRegistry(t *testing.T) {
	r := NewFunctionRegistry()
	require.NoError(t, r.RegisterFunction(constant("pick", 0, 0, "none")))
	require.NoError(t, r.RegisterFunction(constant("pick", 1, 2, "some")))
	require.NoError(t, r.RegisterFunction(constant("ns:pick", 0, -1, "namespaced")))

	tests := []struct {
		name      string
		namespace string
		fn        string
		arity     int
		want      interface{}
		found     bool
	}{
		{"no arguments", "", "pick", 0, "none", true},
		{"one argument", "", "pick", 1, "some", true},
		{"two arguments", "", "pick", 2, "some", true},
		{"no overload falls back to the first", "", "pick", 5, "none", true},
		{"any arity", "", "pick", -1, "none", true},
		{"namespace", "ns", "pick", 3, "namespaced", true},
		{"unknown", "", "nope", 0, nil, false},
		{"unknown namespace", "other", "pick", 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := r.GetFunction(tt.namespace, tt.fn, tt.arity)
			require.Equal(t, tt.found, ok)
			if !ok {
				return
			}
			got, _ := fn.Call(nil, make([]interface{}, fn.MinArgs()), nil)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{"ns:pick", "pick"}, r.ListFunctions())
}

func TestRegisterFunctionReplacesSameArity(t *testing.T) {
	r := NewFunctionRegistry()
	require.NoError(t, r.RegisterFunction(constant("f", 1, 1, "old")))
	require.NoError(t, r.RegisterFunction(constant("f", 1, 1, "new")))

	fn, ok := r.GetFunction("", "f", 1)
	require.True(t, ok)
	got, err := fn.Call(nil, []interface{}{nil}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", got)

	assert.Error(t, r.RegisterFunction(constant("", 0, 0, nil)))
}

func TestSimpleFunctionArity(t *testing.T) {
	fn := constant("two", 1, 2, true)

	_, err := fn.Call(nil, nil, nil)
	assert.ErrorContains(t, err, "at least 1")
	_, err = fn.Call(nil, []interface{}{1, 2, 3}, nil)
	assert.ErrorContains(t, err, "at most 2")
	got, err := fn.Call(nil, []interface{}{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestInterpreterFunctionNeedsRender(t *testing.T) {
	fn := NewInterpreterFunction("here", 0, 0, func(i *Interpreter, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return i.ID(), nil
	})
	_, err := fn.Call(nil, nil, nil)
	assert.Error(t, err)
}

func TestCreateRange(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		args  []interface{}
		want  []interface{}
	}{
		{"stop", 0, []interface{}{3}, []interface{}{int64(0), int64(1), int64(2)}},
		{"start stop", 0, []interface{}{2, 5}, []interface{}{int64(2), int64(3), int64(4)}},
		{"step", 0, []interface{}{0, 10, 4}, []interface{}{int64(0), int64(4), int64(8)}},
		{"negative step", 0, []interface{}{3, 0, -1}, []interface{}{int64(3), int64(2), int64(1)}},
		{"empty", 0, []interface{}{5, 2}, []interface{}{}},
		{"numeric strings", 0, []interface{}{"2"}, []interface{}{int64(0), int64(1)}},
		{"within limit", 3, []interface{}{3}, []interface{}{int64(0), int64(1), int64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := createRange(tt.limit, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateRangeErrors(t *testing.T) {
	_, err := createRange(0, 0, 5, 0)
	assert.ErrorContains(t, err, "step cannot be zero")

	_, err = createRange(0, "x")
	assert.ErrorContains(t, err, "must be integers")

	_, err = createRange(10, 11)
	var limit *el.LimitError
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, 11, limit.Size)
	assert.Equal(t, 10, limit.Limit)
}

func TestCreateRangeBounds(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		args      []interface{}
		wantSize  int
		wantLimit int
	}{
		{"default cap", 0, []interface{}{1001}, 1001, rangeLimit},
		{"huge stop", 0, []interface{}{int64(10000000000)}, 10000000000, rangeLimit},
		{"span beyond int64", 0, []interface{}{int64(-math.MaxInt64), int64(math.MaxInt64)}, math.MaxInt, rangeLimit},
		{"negative span beyond int64", 0, []interface{}{int64(math.MaxInt64), int64(math.MinInt64), int64(-1)}, math.MaxInt, rangeLimit},
		{"configured limit", 5000, []interface{}{5001}, 5001, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := createRange(tt.limit, tt.args...)
			var limit *el.LimitError
			require.True(t, errors.As(err, &limit), "got %v", err)
			assert.Equal(t, tt.wantSize, limit.Size)
			assert.Equal(t, tt.wantLimit, limit.Limit)
		})
	}

	got, err := createRange(0, rangeLimit)
	require.NoError(t, err)
	assert.Len(t, got, rangeLimit)

	got, err = createRange(5000, 2000)
	require.NoError(t, err)
	assert.Len(t, got, 2000)

	got, err = createRange(0, int64(math.MaxInt64-2), int64(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(math.MaxInt64 - 2), int64(math.MaxInt64 - 1)}, got)
}

func TestRangeOverflowIsResourceLimit(t *testing.T) {
	e := newTestEngine(t, nil)
	for _, src := range []string{
		"{{ range(-9223372036854775807, 9223372036854775807)|length }}",
		"{{ range(10000000000)|length }}",
	} {
		var res *RenderResult
		require.NotPanics(t, func() {
			res = e.RenderForResult(context.Background(), src, nil)
		})
		require.True(t, res.Errors.HasFatal(), src)
		assert.Equal(t, tmplerr.KindResourceLimit, res.Errors.Fatal()[0].Kind, src)
	}
}

func TestPanickingFunctionIsRecorded(t *testing.T) {
	boom := NewSimpleFunction("boom", 0, 0, func(args ...interface{}) (interface{}, error) {
		panic("exploded")
	})
	e := NewWithOptions(DefaultConfig(), WithFunction(boom))

	var res *RenderResult
	require.NotPanics(t, func() {
		res = e.RenderForResult(context.Background(), "before {{ boom() }}", nil)
	})
	require.True(t, res.Errors.HasFatal())
	assert.Contains(t, res.Errors.Error(), "panic recovered: exploded")
}

func TestBuiltinFunctions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data map[string]interface{}
		want string
	}{
		{"range", "{% for n in range(3) %}{{ n }}{% endfor %}", nil, "012"},
		{"range with step", "{{ range(10, 0, -3) }}", nil, "[10, 7, 4, 1]"},
		{"empty string", "{{ fn:empty('') }}", nil, "true"},
		{"empty list", "{{ fn:empty(items) }}", map[string]interface{}{"items": []interface{}{1}}, "false"},
		{"empty zero is not empty", "{{ fn:empty(0) }}", nil, "false"},
		{"empty undefined", "{{ fn:empty(missing) }}", nil, "true"},
		{"coalesce", "{{ fn:coalesce(missing, '', 'first', 'second') }}", nil, "first"},
		{"coalesce nothing", "[{{ fn:coalesce(missing, []) }}]", nil, "[]"},
		{"join", "{{ fn:join(items, ', ') }}", map[string]interface{}{"items": []interface{}{"a", nil, "b"}}, "a, b"},
		{"join without separator", "{{ fn:join([1, 2, 3]) }}", nil, "123"},
		{"join undefined", "[{{ fn:join(missing) }}]", nil, "[]"},
	}
	e := newTestEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUUIDFunction(t *testing.T) {
	got, err := newTestEngine(t, nil).Render("{{ fn:uuid() }}", nil)
	require.NoError(t, err)
	_, err = uuid.Parse(got)
	assert.NoError(t, err)
}

func TestFunctionErrorsAreRecorded(t *testing.T) {
	e := newTestEngine(t, nil)
	tests := []struct {
		name string
		src  string
	}{
		{"arity", "{{ fn:empty() }}"},
		{"join of a number", "{{ fn:join(5) }}"},
		{"caller outside call", "{{ caller() }}"},
		{"zero step", "{{ range(1, 2, 0) }}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.RenderForResult(context.Background(), tt.src, nil)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

func TestRangeRespectsListLimit(t *testing.T) {
	e := newTestEngine(t, nil, func(c *Config) { c.MaxListSize = 5 })
	res := e.RenderForResult(context.Background(), "{{ range(6) }}", nil)
	require.NotEmpty(t, res.Errors)
	assert.Empty(t, res.Output)

	got, err := e.Render("{{ range(5)|length }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "5", got)
}
