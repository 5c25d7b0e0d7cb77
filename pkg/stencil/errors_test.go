package stencil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"interpret", NewInterpretError("for", 3, errors.New("bad loop")), "error in tag 'for' at line 3: bad loop"},
		{"cycle", NewCycleError("a.txt", []string{"a.txt", "b.txt", "a.txt"}), "cycle detected for 'a.txt' (stack: a.txt -> b.txt -> a.txt)"},
		{"depth", NewDepthError("macro", 11, 10), "macro depth 11 exceeds maximum of 10"},
		{"output", NewOutputTooBigError(10, 12), "output size 12 exceeds maximum of 10 bytes"},
		{"not found", &ResourceNotFoundError{Path: "x.txt"}, "template 'x.txt' not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	cycle := NewCycleError("a", nil)
	depth := NewDepthError("path", 2, 1)
	output := NewOutputTooBigError(1, 2)
	limit := &el.LimitError{Size: 2, Limit: 1}
	wrapped := fmt.Errorf("outer: %w", NewInterpretError("include", 1, cycle))

	assert.True(t, IsCycleError(wrapped))
	assert.True(t, IsInterpretError(wrapped))
	assert.True(t, IsDepthError(depth))
	assert.True(t, IsOutputTooBigError(output))
	for _, err := range []error{cycle, depth, output, limit, wrapped} {
		assert.True(t, IsResourceLimit(err), err.Error())
	}
	assert.False(t, IsResourceLimit(errors.New("plain")))
	assert.False(t, IsRenderError(cycle))
}

func TestRenderErrorUnwrapsFatalItems(t *testing.T) {
	fatal := tmplerr.Limit(tmplerr.ReasonCycle, "loop")
	warn := tmplerr.Warn(tmplerr.ReasonMissingResource, 1, "missing")
	err := error(&RenderError{Errors: ErrorList{warn, fatal}, Output: "partial"})

	assert.True(t, IsRenderError(err))
	assert.Contains(t, err.Error(), "loop")
	assert.NotContains(t, err.Error(), "missing")

	var item *TemplateError
	require.True(t, errors.As(err, &item))
	assert.Same(t, fatal, item)
}

func TestRenderErrorFromEngine(t *testing.T) {
	e := newTestEngine(t, map[string]string{"loop.txt": "{% include 'loop.txt' %}"})
	out, err := e.Render("before {% include 'loop.txt' %} after", nil)

	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, out, re.Output)
	assert.Contains(t, out, "before")
	assert.Contains(t, out, "after")

	var item *TemplateError
	require.True(t, errors.As(err, &item))
	assert.Equal(t, tmplerr.ReasonCycle, item.Reason)
}

func TestClassify(t *testing.T) {
	i := newTestEngine(t, nil).NewInterpreter(context.Background(), nil)
	tests := []struct {
		name   string
		err    error
		reason tmplerr.Reason
		kind   tmplerr.Kind
	}{
		{"cycle", NewCycleError("a", nil), tmplerr.ReasonCycle, tmplerr.KindResourceLimit},
		{"depth", NewDepthError("path", 2, 1), tmplerr.ReasonDepth, tmplerr.KindResourceLimit},
		{"output", NewOutputTooBigError(1, 2), tmplerr.ReasonOutputTooBig, tmplerr.KindResourceLimit},
		{"collection", &el.LimitError{Size: 2, Limit: 1}, tmplerr.ReasonCollectionTooBig, tmplerr.KindResourceLimit},
		{"missing", &ResourceNotFoundError{Path: "x"}, tmplerr.ReasonMissingResource, tmplerr.KindEval},
		{"other", errors.New("boom"), tmplerr.ReasonEvalException, tmplerr.KindEval},
		{"wrapped interpret", NewInterpretError("for", 1, NewCycleError("a", nil)), tmplerr.ReasonCycle, tmplerr.KindResourceLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := i.classify(tt.err)
			assert.Equal(t, tt.reason, item.Reason)
			assert.Equal(t, tt.kind, item.Kind)
			assert.True(t, item.IsFatal())
		})
	}

	warn := tmplerr.Warn(tmplerr.ReasonDeferred, 1, "later")
	assert.Same(t, warn, i.classify(warn))
}

func TestMultiError(t *testing.T) {
	m := NewMultiError()
	assert.NoError(t, m.Err())
	assert.Equal(t, "no errors", m.Error())

	first := errors.New("first")
	m.Add(first)
	m.Add(nil)
	assert.Equal(t, 1, m.Len())
	assert.Same(t, first, m.Err())

	m.Add(errors.New("second"))
	assert.ErrorIs(t, m.Err(), first)
	assert.Contains(t, m.Error(), "2 errors occurred")
}

func TestRecoverError(t *testing.T) {
	cause := errors.New("boom")
	assert.ErrorIs(t, RecoverError(cause), cause)
	assert.EqualError(t, RecoverError("text"), "panic recovered: text")
	assert.EqualError(t, RecoverError(42), "panic recovered: 42")
}
