// Package stencil provides a text template engine in the Jinja family.
//
// Stencil renders templates made of literal text, {{ expressions }},
// {% tags %} and {# notes #}. It is aimed at services that render many
// small templates from user-supplied data: mail bodies, configuration
// files, generated pages and anything else that is text.
//
// # Quick Start
//
// The simplest way to use stencil is through the package-level functions:
//
//	out, err := stencil.Render("Hello {{ name|title }}!", stencil.TemplateData{
//	    "name": "ada lovelace",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Templates that are rendered repeatedly should be prepared once:
//
//	tmpl := stencil.Prepare(src)
//	out, err := tmpl.Render(data)
//
// # Template Syntax
//
// Expressions:
//
//	{{ name }}                     - Variable
//	{{ customer.address.city }}    - Attribute access
//	{{ items[0] }}                 - Index access
//	{{ (price + tax) * qty }}      - Arithmetic
//	{{ 'yes' if ok else 'no' }}    - Conditional expression
//	{{ name|upper|truncate(10) }}  - Filters
//	{{ n is even }}                - Tests
//	{{ fn:uuid() }}                - Namespaced functions
//
// Tags:
//
//	{% if x %}...{% elif y %}...{% else %}...{% endif %}
//	{% for k, v in mapping %}...{% else %}...{% endfor %}
//	{% set total = a + b %}  {% set body %}...{% endset %}
//	{% macro field(name, type='text') %}...{% endmacro %}
//	{% call(row) table(rows) %}...{% endcall %}
//	{% include 'footer.txt' ignore missing %}
//	{% import 'forms.txt' as forms %}  {% from 'forms.txt' import field %}
//	{% extends 'base.txt' %}  {% block body %}{{ super() }}{% endblock %}
//	{% raw %}{{ kept }}{% endraw %}
//	{% autoescape %}...{% endautoescape %}
//
// A '-' next to a delimiter trims the whitespace on that side.
//
// # Execution Modes
//
// In the default mode every expression is evaluated and undefined names
// render as empty. Values can be marked as not yet known with
// el.Deferred(); in eager mode (ModeEager) the engine evaluates everything
// it can and writes template syntax for the rest, so that the output can be
// rendered again once the deferred values are known:
//
//	cfg := stencil.DefaultConfig()
//	cfg.ExecutionMode = stencil.ModeEager
//	e := stencil.NewWithConfig(cfg)
//	partial, _ := e.Render(src, map[string]interface{}{"user": el.Deferred()})
//	final, _ := e.Render(partial, map[string]interface{}{"user": u})
//
// # Errors
//
// Rendering never stops at the first problem. Each problem is recorded as
// a TemplateError with a severity, a reason and a position, and rendering
// continues with the next node. Render fails only when a FATAL item was
// recorded; the returned *RenderError carries the full list and the
// partial output. Use RenderForResult to inspect warnings as well.
//
// # Resources
//
// include, import and extends load templates through a ResourceLocator.
// MapLocator serves templates from memory; FileLocator serves a directory
// and can invalidate cached templates when files change (Engine.Watch).
//
// # Thread Safety
//
// An Engine is safe for concurrent renders once its functions, filters,
// tests and tags are registered. PreparedTemplate is immutable. Each render
// gets its own Interpreter and scope.
//
// # Sub-packages
//
//   - tokenizer: splits template text into text, expression, tag and note tokens
//   - tree: builds the node tree and reports structural errors
//   - el: the expression language (parser, evaluator, value model)
//   - tmplerr: the error item model shared by all stages
package stencil
