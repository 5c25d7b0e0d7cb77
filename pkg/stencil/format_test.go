package stencil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFilter(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"strings and integers", `{{ "%s has %d items"|format(name, n) }}`, "Ann has 3 items"},
		{"float precision", `{{ "%05.2f"|format(3.14159) }}`, "03.14"},
		{"explicit index", `{{ "%2$s %1$s"|format("a", "b") }}`, "b a"},
		{"percent", `{{ "%d%%"|format(5) }}`, "5%"},
		{"integer from string", `{{ "%d"|format("42") }}`, "42"},
		{"hex", `{{ "%x"|format(255) }}`, "ff"},
		{"width", `{{ "%5s|"|format("ab") }}`, "   ab|"},
		{"values render like output", `{{ "%s"|format([1, 2]) }}`, "[1, 2]"},
		{"none pattern", `[{{ none|format(1) }}]`, "[]"},
		{"function form", `{{ fn:format("%s-%03d", "id", 7) }}`, "id-007"},
	}

	e := newTestEngine(t, nil)
	data := map[string]interface{}{"name": "Ann", "n": int64(3)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatErrors(t *testing.T) {
	_, err := sprintf("%s %s", []interface{}{"a"})
	assert.ErrorContains(t, err, "needs more than 1 values")

	_, err = sprintf("%d", []interface{}{"x"})
	assert.ErrorContains(t, err, "as an integer")

	_, err = sprintf("%f", []interface{}{"x"})
	assert.ErrorContains(t, err, "as a number")

	res := newTestEngine(t, nil).RenderForResult(context.Background(), `{{ "%d"|format("x") }}`, nil)
	assert.True(t, res.Errors.HasFatal())
}

func TestFilesizeformat(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"{{ 1|filesizeformat }}", "1 Byte"},
		{"{{ 999|filesizeformat }}", "999 Bytes"},
		{"{{ 1500|filesizeformat }}", "1.5 kB"},
		{"{{ 3000000|filesizeformat }}", "3.0 MB"},
		{"{{ 2048|filesizeformat(true) }}", "2.0 KiB"},
		{"{{ '2048'|filesizeformat(binary=true) }}", "2.0 KiB"},
	}

	e := newTestEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Render(tt.src, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	res := e.RenderForResult(context.Background(), "{{ 'big'|filesizeformat }}", nil)
	assert.NotEmpty(t, res.Errors)
}
