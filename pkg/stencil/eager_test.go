package stencil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

func eagerMode(c *Config) { c.ExecutionMode = ModeEager }

// twoPass renders src eagerly with the names in late deferred, then renders
// the result again with late bound. It returns the intermediate template
// and the final output, and checks that the output matches a single
// render with every value known.
func twoPass(t *testing.T, templates map[string]string, src string, known, late map[string]interface{}) (string, string) {
	t.Helper()
	first := map[string]interface{}{}
	all := map[string]interface{}{}
	for k, v := range known {
		first[k] = v
		all[k] = v
	}
	for k, v := range late {
		first[k] = el.Deferred()
		all[k] = v
	}

	partial, err := newTestEngine(t, templates, eagerMode).Render(src, first)
	require.NoError(t, err)

	second := newTestEngine(t, templates)
	final, err := second.Render(partial, late)
	require.NoError(t, err, "second pass of %q", partial)

	onePass, err := second.Render(src, all)
	require.NoError(t, err)
	assert.Equal(t, onePass, final, "intermediate template %q", partial)
	return partial, final
}

func TestEagerReconstruction(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		known   map[string]interface{}
		late    map[string]interface{}
		partial string
		final   string
	}{
		{
			name:    "expression",
			src:     "{{ greeting }} {{ user.name|upper }}!",
			known:   map[string]interface{}{"greeting": "Hi"},
			late:    map[string]interface{}{"user": map[string]interface{}{"name": "ann"}},
			partial: "Hi {{ user.name|upper }}!",
			final:   "Hi ANN!",
		},
		{
			name:    "partially evaluated expression",
			src:     "{{ price * qty }}",
			known:   map[string]interface{}{"qty": int64(2)},
			late:    map[string]interface{}{"price": int64(5)},
			partial: "{{ price * 2 }}",
			final:   "10",
		},
		{
			name:    "if with deferred condition",
			src:     "{% if user.admin %}A{{ x }}{% else %}B{% endif %}",
			known:   map[string]interface{}{"x": int64(1)},
			late:    map[string]interface{}{"user": map[string]interface{}{"admin": true}},
			partial: "{% if user.admin %}A1{% else %}B{% endif %}",
			final:   "A1",
		},
		{
			name:    "resolved branches are dropped",
			src:     "{% if false %}no{% elif d %}maybe{% elif true %}yes{% else %}never{% endif %}",
			late:    map[string]interface{}{"d": false},
			partial: "{% if d %}maybe{% else %}yes{% endif %}",
			final:   "yes",
		},
		{
			name:    "resolved condition renders normally",
			src:     "{% if x > 0 %}{{ d }}{% endif %}",
			known:   map[string]interface{}{"x": int64(1)},
			late:    map[string]interface{}{"d": "late"},
			partial: "{{ d }}",
			final:   "late",
		},
		{
			name:    "for over deferred iterable",
			src:     "{% for item in items %}[{{ item }}{{ sep }}]{% endfor %}",
			known:   map[string]interface{}{"sep": "-"},
			late:    map[string]interface{}{"items": []interface{}{int64(1), int64(2)}},
			partial: "{% for item in items %}[{{ item }}-]{% endfor %}",
			final:   "[1-][2-]",
		},
		{
			name:    "set with deferred value",
			src:     "{% set total = price * qty %}{{ total }}",
			known:   map[string]interface{}{"qty": int64(2)},
			late:    map[string]interface{}{"price": int64(5)},
			partial: "{% set total = price * 2 %}{{ total }}",
			final:   "10",
		},
		{
			name:    "assignment inside deferred branch",
			src:     "{% set a = 1 %}{% if d %}{% set a = 2 %}{% endif %}{{ a }}",
			late:    map[string]interface{}{"d": true},
			partial: "{% set a = 1 %}{% if d %}{% set a = 2 %}{% endif %}{{ a }}",
			final:   "2",
		},
		{
			name:    "raw is kept raw",
			src:     "{% raw %}{{ x }}{% endraw %}{{ d }}",
			late:    map[string]interface{}{"d": "!"},
			partial: "{% raw %}{{ x }}{% endraw %}{{ d }}",
			final:   "{{ x }}!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partial, final := twoPass(t, nil, tt.src, tt.known, tt.late)
			assert.Equal(t, tt.partial, partial)
			assert.Equal(t, tt.final, final)
		})
	}
}

func TestEagerRoundTrips(t *testing.T) {
	templates := map[string]string{
		"part.txt":   "<{{ d }}>",
		"macros.txt": "{% macro tag(n) %}<{{ n }}>{% endmacro %}",
		"mac.txt":    "{% macro m() %}{{ d }}{% endmacro %}",
		"vars.txt":   "{% set sep = ':' %}{% macro m() %}{{ d }}{% endmacro %}",
	}
	tests := []struct {
		name  string
		src   string
		known map[string]interface{}
		late  map[string]interface{}
	}{
		{"else branch taken later", "{% if d %}a{% else %}b{% endif %}", nil, map[string]interface{}{"d": false}},
		{"unless", "{% unless d %}u{% endunless %}", nil, map[string]interface{}{"d": false}},
		{"if inside deferred for", "{% for x in xs %}{% if x > limit %}big{% else %}small{% endif %}{% endfor %}",
			map[string]interface{}{"limit": int64(1)}, map[string]interface{}{"xs": []interface{}{int64(1), int64(2)}}},
		{"for else", "{% for x in xs %}{{ x }}{% else %}none{% endfor %}", nil, map[string]interface{}{"xs": []interface{}{}}},
		{"macro expanding to deferred output", "{% macro hello(n) %}Hi {{ n }} {{ d }}{% endmacro %}{{ hello('Ann') }}|{{ hello('Bo') }}",
			nil, map[string]interface{}{"d": "!"}},
		{"macro fully resolved", "{% macro sq(n) %}{{ n * n }}{% endmacro %}{{ sq(3) }}{{ d }}", nil, map[string]interface{}{"d": "."}},
		{"include with deferred output", "{% include 'part.txt' %}", nil, map[string]interface{}{"d": int64(5)}},
		{"from import", "{% from 'macros.txt' import tag %}{{ tag(d) }}", nil, map[string]interface{}{"d": "x"}},
		{"import alias", "{% import 'mac.txt' as mm %}{{ mm.m() }}", nil, map[string]interface{}{"d": "!"}},
		{"import alias with variables", "{% import 'vars.txt' as mm %}{{ mm.m() }}{{ mm.sep }}{{ mm.m() }}",
			nil, map[string]interface{}{"d": "!"}},
		{"block set", "{% set body %}x{{ d }}{% endset %}{{ body }}", nil, map[string]interface{}{"d": "y"}},
		{"print", "{% print d ~ 1 %}", nil, map[string]interface{}{"d": "z"}},
		{"loop counter", "{% set n = 0 %}{% for x in xs %}{% set n = n + x %}{% endfor %}{{ n }}",
			nil, map[string]interface{}{"xs": []interface{}{int64(2), int64(3)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			twoPass(t, templates, tt.src, tt.known, tt.late)
		})
	}
}

func TestEagerMacroDefinitionIsEmittedOnce(t *testing.T) {
	partial, err := newTestEngine(t, nil, eagerMode).Render(
		"{% macro hello(n) %}{{ n }}{{ d }}{% endmacro %}{{ hello(1) }}{{ hello(2) }}",
		map[string]interface{}{"d": el.Deferred()},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(partial, "{% macro hello"))
	assert.Contains(t, partial, "{{ hello(1) }}")
	assert.Contains(t, partial, "{{ hello(2) }}")
}

func TestEagerImportAliasIsRebound(t *testing.T) {
	templates := map[string]string{"mac.txt": "{% set sep = ':' %}{% macro m() %}{{ d }}{% endmacro %}"}
	partial, final := twoPass(t, templates, "{% import 'mac.txt' as mm %}{{ mm.m() }}",
		nil, map[string]interface{}{"d": "!"})

	assert.Equal(t, "{% macro m() %}{{ d }}{% endmacro %}{% set mm = {'m': m, 'sep': ':'} %}{{ mm.m() }}", partial)
	assert.Equal(t, "!", final)
}

func TestDeferredOutsideEagerModeKeepsSource(t *testing.T) {
	e := newTestEngine(t, nil)
	got, err := e.Render("{{ d|upper }} {{ 1 + 1 }}", map[string]interface{}{"d": el.Deferred()})
	require.NoError(t, err)
	assert.Equal(t, "{{ d|upper }} 2", got)
}

func TestPreserveUnresolved(t *testing.T) {
	e := newTestEngine(t, nil, func(c *Config) { c.ExecutionMode = ModePreserveUnresolved })
	got, err := e.Render("{{ unknown }}-{{ 1 }}-{{ known }}", map[string]interface{}{"known": "k"})
	require.NoError(t, err)
	assert.Equal(t, "{{ unknown }}-1-k", got)
}
