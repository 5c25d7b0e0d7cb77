package stencil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

func newTestEngine(t *testing.T, templates map[string]string, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	return NewWithOptions(cfg, WithLocator(NewMapLocator(templates)))
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data map[string]interface{}
		want string
	}{
		{"text", "plain text", nil, "plain text"},
		{"arithmetic", "{{ 1 + 2 }}", nil, "3"},
		{"variable", "Hello {{ name }}!", map[string]interface{}{"name": "Ann"}, "Hello Ann!"},
		{"undefined renders empty", "[{{ missing }}]", nil, "[]"},
		{"attribute", "{{ user.name }}", map[string]interface{}{"user": map[string]interface{}{"name": "Bo"}}, "Bo"},
		{"note", "a{# hidden #}b", nil, "ab"},
		{"filter chain", "{{ 'hello world'|title }}", nil, "Hello World"},
		{"test", "{{ 5 is odd }}", nil, "true"},
		{"if else", "{% if false %}a{% else %}b{% endif %}", nil, "b"},
		{"elif", "{% if x > 1 %}big{% elif x > 0 %}small{% else %}none{% endif %}", map[string]interface{}{"x": 1}, "small"},
		{"unless", "{% unless x %}no{% endunless %}", map[string]interface{}{"x": false}, "no"},
		{"for", "{% for i in items %}{{ i }}{% if not loop.last %},{% endif %}{% endfor %}",
			map[string]interface{}{"items": []interface{}{1, 2, 3}}, "1,2,3"},
		{"for index", "{% for c in ['a', 'b'] %}{{ loop.index }}{{ c }}{% endfor %}", nil, "1a2b"},
		{"for else", "{% for i in [] %}x{% else %}empty{% endfor %}", nil, "empty"},
		{"for over mapping", "{% for k, v in m %}{{ k }}={{ v }};{% endfor %}",
			map[string]interface{}{"m": map[string]interface{}{"b": 2, "a": 1}}, "a=1;b=2;"},
		{"range", "{% for i in range(3) %}{{ i }}{% endfor %}", nil, "012"},
		{"set", "{% set a = 4 %}{{ a * 2 }}", nil, "8"},
		{"set unpack", "{% set a, b = [1, 2] %}{{ a + b }}", nil, "3"},
		{"set block", "{% set greeting %}hi {{ name }}{% endset %}{{ greeting|upper }}",
			map[string]interface{}{"name": "bo"}, "HI BO"},
		{"set in loop updates outer", "{% set n = 0 %}{% for i in [1, 2, 3] %}{% set n = n + i %}{% endfor %}{{ n }}", nil, "6"},
		{"loop variable does not leak", "{% for i in [1] %}{% endfor %}[{{ i }}]", nil, "[]"},
		{"print", "{% print 'x' ~ 1 %}", nil, "x1"},
		{"do", "{% do 1 + 1 %}done", nil, "done"},
		{"raw", "{% raw %}{{ x }}{% if %}{% endraw %}", nil, "{{ x }}{% if %}"},
		{"whitespace control", "a  {%- if true -%}  b  {%- endif -%}  c", nil, "abc"},
		{"macro", "{% macro greet(name, punct='!') %}Hi {{ name }}{{ punct }}{% endmacro %}{{ greet('Ann') }} {{ greet('Bob', punct='?') }}",
			nil, "Hi Ann! Hi Bob?"},
		{"macro varargs", "{% macro m(a) %}{{ a }}{{ varargs|join('') }}{% endmacro %}{{ m(1, 2, 3) }}", nil, "123"},
		{"call", "{% macro wrap() %}[{{ caller() }}]{% endmacro %}{% call wrap() %}in{% endcall %}", nil, "[in]"},
		{"call with arguments", "{% macro each(xs) %}{% for x in xs %}{{ caller(x) }}{% endfor %}{% endmacro %}{% call(v) each([1, 2]) %}<{{ v }}>{% endcall %}",
			nil, "<1><2>"},
		{"ternary", "{{ 'yes' if ok else 'no' }}", map[string]interface{}{"ok": true}, "yes"},
		{"namespaced function", "{{ fn:coalesce(none, 'x') }}", nil, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			got, err := e.Render(tt.src, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderIsRepeatable(t *testing.T) {
	e := newTestEngine(t, nil)
	src := "{% set n = 0 %}{% for i in range(4) %}{% set n = n + i %}{% endfor %}{{ n }}"
	first, err := e.Render(src, nil)
	require.NoError(t, err)
	second, err := e.Render(src, nil)
	require.NoError(t, err)
	assert.Equal(t, "6", first)
	assert.Equal(t, first, second)
}

func TestAutoescape(t *testing.T) {
	data := map[string]interface{}{"s": "<b>"}

	e := newTestEngine(t, nil)
	got, err := e.Render("{% autoescape %}{{ s }}{% endautoescape %}|{{ s }}", data)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;|<b>", got)

	e = newTestEngine(t, nil, func(c *Config) { c.Autoescape = true })
	got, err = e.Render("{{ s }}|{{ s|safe }}|{% autoescape false %}{{ s }}{% endautoescape %}", data)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;|<b>|<b>", got)
}

func TestNestedInterpretation(t *testing.T) {
	data := map[string]interface{}{"tpl": "{{ 1 + 1 }}"}

	e := newTestEngine(t, nil)
	got, err := e.Render("{{ tpl }}", data)
	require.NoError(t, err)
	assert.Equal(t, "{{ 1 + 1 }}", got)

	e = newTestEngine(t, nil, func(c *Config) { c.NestedInterpretation = true })
	got, err = e.Render("{{ tpl }}", data)
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestInclude(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"header.txt":       "Hello {{ name }}",
		"parts/outer.txt":  "[{% include './inner.txt' %}]",
		"parts/inner.txt":  "inner",
		"self.txt":         "{% include 'self.txt' %}",
		"ping.txt":         "{% include 'pong.txt' %}",
		"pong.txt":         "{% include 'ping.txt' %}",
		"reads_parent.txt": "{{ outer }}",
	})

	t.Run("renders in place", func(t *testing.T) {
		got, err := e.Render("{% include 'header.txt' %}!", map[string]interface{}{"name": "Ann"})
		require.NoError(t, err)
		assert.Equal(t, "Hello Ann!", got)
	})

	t.Run("relative to the including template", func(t *testing.T) {
		r := e.RenderPath(context.Background(), "parts/outer.txt", nil)
		require.NoError(t, r.Err())
		assert.Equal(t, "[inner]", r.Output)
	})

	t.Run("sees the including scope", func(t *testing.T) {
		got, err := e.Render("{% set outer = 'o' %}{% include 'reads_parent.txt' %}", nil)
		require.NoError(t, err)
		assert.Equal(t, "o", got)
	})

	t.Run("ignore missing", func(t *testing.T) {
		got, err := e.Render("{% include 'nope.txt' ignore missing %}ok", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
	})

	t.Run("missing is fatal", func(t *testing.T) {
		r := e.RenderForResult(context.Background(), "a{% include 'nope.txt' %}b", nil)
		require.Error(t, r.Err())
		assert.Equal(t, "ab", r.Output)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, tmplerr.ReasonMissingResource, r.Errors[0].Reason)
	})

	for _, path := range []string{"self.txt", "ping.txt"} {
		t.Run("cycle "+path, func(t *testing.T) {
			r := e.RenderPath(context.Background(), path, nil)
			err := r.Err()
			require.Error(t, err)
			var re *RenderError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tmplerr.ReasonCycle, r.Errors[0].Reason)
		})
	}
}

func TestImport(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"forms.txt": "{% macro input(n) %}<{{ n }}>{% endmacro %}{% set version = 2 %}",
	})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"import as", "{% import 'forms.txt' as f %}{{ f.input('a') }}{{ f.version }}", "<a>2"},
		{"from import", "{% from 'forms.txt' import input %}{{ input('b') }}", "<b>"},
		{"from import alias", "{% from 'forms.txt' import input as field, version %}{{ field('c') }}{{ version }}", "<c>2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMissingExportIsOnlyAWarning(t *testing.T) {
	e := newTestEngine(t, map[string]string{"forms.txt": "{% set a = 1 %}"})
	r := e.RenderForResult(context.Background(), "{% from 'forms.txt' import a, b %}{{ a }}", nil)
	require.NoError(t, r.Err())
	assert.Equal(t, "1", r.Output)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, tmplerr.Warning, r.Errors[0].Severity)

	out, err := e.Render("{% from 'forms.txt' import a, b %}{{ a }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}

func TestExtends(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"base.txt":   "<{% block title %}Base{% endblock %}|{% block body %}base{% endblock %}>",
		"middle.txt": "{% extends 'base.txt' %}{% block body %}middle {{ super() }}{% endblock %}",
	})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"override", "{% extends 'base.txt' %}{% block title %}Child{% endblock %}", "<Child|base>"},
		{"super", "{% extends 'base.txt' %}{% block body %}child {{ super() }}{% endblock %}", "<Base|child base>"},
		{"two levels", "{% extends 'middle.txt' %}{% block body %}leaf {{ super() }}{% endblock %}", "<Base|leaf middle base>"},
		{"text outside blocks is dropped", "{% extends 'base.txt' %}ignored{% block title %}T{% endblock %}", "<T|base>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMacroRecursion(t *testing.T) {
	src := "{% macro count(n) %}{{ n }}{% if n > 0 %}{{ count(n - 1) }}{% endif %}{% endmacro %}{{ count(3) }}"

	e := newTestEngine(t, nil)
	r := e.RenderForResult(context.Background(), src, nil)
	require.Error(t, r.Err())
	assert.Equal(t, tmplerr.ReasonCycle, r.Errors[0].Reason)

	e = newTestEngine(t, nil, func(c *Config) { c.MaxMacroRecursionDepth = 10 })
	got, err := e.Render(src, nil)
	require.NoError(t, err)
	assert.Equal(t, "3210", got)

	e = newTestEngine(t, nil, func(c *Config) { c.MaxMacroRecursionDepth = 2 })
	r = e.RenderForResult(context.Background(), src, nil)
	require.Error(t, r.Err())
	assert.Equal(t, tmplerr.ReasonDepth, r.Errors[0].Reason)
}

func TestRecordedErrors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		reason tmplerr.Reason
		line   int
	}{
		{"missing end tag", "line one\n{% if true %}\nno end", tmplerr.ReasonMissingEndTag, 2},
		{"unknown tag", "{% frobnicate %}", tmplerr.ReasonUnknownTag, 1},
		{"bad expression", "a\n\n{{ 1 + }}", tmplerr.ReasonSyntaxError, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(t, nil).RenderForResult(context.Background(), tt.src, nil)
			require.Error(t, r.Err())
			require.NotEmpty(t, r.Errors)
			assert.Equal(t, tt.reason, r.Errors[0].Reason)
			assert.Equal(t, tt.line, r.Errors[0].Line)
		})
	}
}

func TestRenderContinuesAfterErrors(t *testing.T) {
	r := newTestEngine(t, nil).RenderForResult(context.Background(), "a{{ 1 + }}b{{ 2 }}", nil)
	assert.Equal(t, "ab2", r.Output)
	require.Len(t, r.Errors, 1)

	err := r.Err()
	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ab2", re.Output)
}

func TestOutputLimit(t *testing.T) {
	e := newTestEngine(t, nil, func(c *Config) { c.MaxOutputSize = 10 })
	r := e.RenderForResult(context.Background(), "start{% for i in range(100) %}x{% endfor %}", nil)
	require.Error(t, r.Err())
	assert.True(t, strings.HasPrefix(r.Output, "start"))
	assert.LessOrEqual(t, len(r.Output), 10)
	assert.Equal(t, tmplerr.ReasonOutputTooBig, r.Errors[len(r.Errors)-1].Reason)
}

func TestListLimit(t *testing.T) {
	e := newTestEngine(t, nil, func(c *Config) { c.MaxListSize = 5 })
	r := e.RenderForResult(context.Background(), "{% for i in range(6) %}{{ i }}{% endfor %}", nil)
	require.Error(t, r.Err())
	assert.Equal(t, tmplerr.ReasonCollectionTooBig, r.Errors[0].Reason)
}

func TestCancelledRender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestEngine(t, nil).RenderForResult(ctx, "{{ 1 }}", nil)
	assert.Empty(t, r.Output)
	require.NotEmpty(t, r.Errors)
}

func TestGlobalsAndDisabling(t *testing.T) {
	e := NewWithOptions(DefaultConfig(), WithGlobals(map[string]interface{}{"site": "stencil"}))
	got, err := e.Render("{{ site }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "stencil", got)

	// a binding shadows a global without changing it
	got, err = e.Render("{% set site = 'other' %}{{ site }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "other", got)
	v, _ := e.GlobalContext().Get("site")
	assert.Equal(t, "stencil", v)

	e.GlobalContext().Disable("upper")
	r := e.RenderForResult(context.Background(), "{{ 'a'|upper }}", nil)
	require.Error(t, r.Err())
	assert.Equal(t, tmplerr.ReasonDisabled, r.Errors[0].Reason)
}

func TestCustomRegistrations(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.RegisterFunction(NewSimpleFunction("double", 1, 1, func(args ...interface{}) (interface{}, error) {
		n, _ := args[0].(int64)
		return n * 2, nil
	})))
	require.NoError(t, e.RegisterFilter("shout", func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return strings.ToUpper(v.(string)) + "!", nil
	}))
	require.NoError(t, e.RegisterTest("short", func(_ el.Env, v interface{}, _ []interface{}) (bool, error) {
		return len(v.(string)) < 3, nil
	}))

	got, err := e.Render("{{ double(21) }} {{ 'hey'|shout }} {{ 'ab' is short }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "42 HEY! true", got)
}

func TestPreparedTemplate(t *testing.T) {
	e := newTestEngine(t, map[string]string{"greet.txt": "Hi {{ name }}"})

	tmpl := e.Prepare("{{ a }}-{{ b }}")
	assert.Empty(t, tmpl.Errors())
	got, err := tmpl.Render(TemplateData{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "1-2", got)

	file, err := e.PrepareFile(context.Background(), "greet.txt")
	require.NoError(t, err)
	assert.Equal(t, "greet.txt", file.Path())
	got, err = file.Render(TemplateData{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", got)

	_, err = e.PrepareFile(context.Background(), "missing.txt")
	var nf *ResourceNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestConcurrentRenders(t *testing.T) {
	e := newTestEngine(t, map[string]string{"item.txt": "<{{ n }}>"})
	tmpl := e.Prepare("{% for i in range(n) %}{% include 'item.txt' %}{% endfor %}")

	var wg sync.WaitGroup
	results := make([]string, 20)
	for k := range results {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			out, err := tmpl.Render(TemplateData{"n": k % 3})
			if err == nil {
				results[k] = out
			}
		}(k)
	}
	wg.Wait()
	for k, out := range results {
		assert.Equal(t, strings.Repeat("<"+string(rune('0'+k%3))+">", k%3), out)
	}
}
