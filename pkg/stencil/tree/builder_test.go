package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tokenizer"
)

type spec string

func (s spec) EndTagName() string { return string(s) }

type setSpec struct{}

func (setSpec) EndTagName() string { return "endset" }

func (setSpec) HasBody(tok tokenizer.Token) bool {
	return !strings.Contains(tok.Helpers, "=")
}

type registry map[string]TagSpec

func (r registry) ResolveTag(name string) (TagSpec, bool) {
	s, ok := r[name]
	return s, ok
}

var tags = registry{
	"if":    spec("endif"),
	"else":  spec(""),
	"for":   spec("endfor"),
	"print": spec(""),
	"raw":   spec("endraw"),
	"set":   setSpec{},
}

// dump renders the tree shape in a compact form for assertions.
func dump(n Node) string {
	var b strings.Builder
	var walk func(Node)
	walk = func(n Node) {
		for c := n.FirstChild(); c.Valid(); c = c.Next() {
			switch c.Kind() {
			case Text:
				b.WriteString("T(" + c.Text() + ")")
			case Expression:
				b.WriteString("E(" + c.Content() + ")")
			case Tag:
				b.WriteString(c.TagName() + "[")
				walk(c)
				b.WriteString("]")
			}
		}
	}
	walk(n)
	return b.String()
}

func TestBuildShapes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"text only", "hello", "T(hello)"},
		{"expression", "a{{ x }}b", "T(a)E(x)T(b)"},
		{"block", "{% if x %}y{% else %}z{% endif %}", "if[T(y)else[]T(z)]"},
		{"nested same tag", "{% if a %}{% if b %}1{% endif %}2{% endif %}3", "if[if[T(1)]T(2)]T(3)"},
		{"notes dropped", "a{# hidden #}b", "T(a)T(b)"},
		{"raw content", "{% raw %}{{ x }}{% endraw %}", "raw[T({{ x }})]"},
		{"inline set", "{% set a = 1 %}{{ a }}", "set[]E(a)"},
		{"block set", "{% set a %}x{% endset %}", "set[T(x)]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Build(tt.src, tags, DefaultOptions())
			assert.Empty(t, tr.Errors)
			assert.Equal(t, tt.want, dump(tr.Root))
		})
	}
}

func TestBuildMissingEndTagReportsOpeningLine(t *testing.T) {
	tr := Build("line1\n{% if x %}\nbody\nmore", tags, DefaultOptions())
	require.Len(t, tr.Errors, 1)
	e := tr.Errors[0]
	assert.Equal(t, tmplerr.ReasonMissingEndTag, e.Reason)
	assert.Equal(t, 2, e.Line)
	assert.True(t, e.IsFatal())
	assert.Equal(t, "T(line1\n)if[T(\nbody\nmore)]", dump(tr.Root))
}

func TestBuildAncestorEndTagClosesInnerBlock(t *testing.T) {
	tr := Build("{% for x in y %}{% if x %}a{% endfor %}b", tags, DefaultOptions())
	require.Len(t, tr.Errors, 1)
	assert.Equal(t, tmplerr.ReasonMissingEndTag, tr.Errors[0].Reason)
	assert.Equal(t, "for[if[T(a)]]T(b)", dump(tr.Root))
}

func TestBuildUnknownAndStrayTags(t *testing.T) {
	tr := Build("{% bogus %}a{% endif %}", tags, DefaultOptions())
	require.Len(t, tr.Errors, 2)
	assert.Equal(t, tmplerr.ReasonUnknownTag, tr.Errors[0].Reason)
	assert.Equal(t, tmplerr.ReasonUnexpectedToken, tr.Errors[1].Reason)
	assert.Equal(t, "T(a)", dump(tr.Root))
}

func TestBuildUnterminatedBlockKeepsText(t *testing.T) {
	tr := Build("a{{ b", tags, DefaultOptions())
	require.Len(t, tr.Errors, 1)
	assert.Equal(t, tmplerr.ReasonUnterminatedBlock, tr.Errors[0].Reason)
	assert.Equal(t, "T(a)T({{ b)", dump(tr.Root))
}

func TestWhitespaceControl(t *testing.T) {
	tests := []struct {
		name string
		src  string
		opts Options
		want string
	}{
		{"trim markers", "a  {%- if x -%}  b  {%- endif -%}  c", DefaultOptions(), "T(a)if[T(b)]T(c)"},
		{"expression markers", "a {{- x -}} b", DefaultOptions(), "T(a)E(x)T(b)"},
		{"trim blocks", "{% if x %}\nb\n{% endif %}\nc", Options{TrimBlocks: true}, "if[T(b\n)]T(c)"},
		{"lstrip blocks", "a\n    {% if x %}b{% endif %}", Options{LStripBlocks: true}, "T(a\n)if[T(b)]"},
		{"lstrip needs line start", "{{ x }}  {% if x %}b{% endif %}", Options{LStripBlocks: true}, "E(x)T(  )if[T(b)]"},
		{"strict keeps negative", "{{-1}}", Options{StrictWhitespace: true, Symbols: tokenizer.DefaultSymbols()}, "E(-1)"},
		{"strict still trims", "a {{- 1 }}", Options{StrictWhitespace: true, Symbols: tokenizer.DefaultSymbols()}, "T(a)E(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Build(tt.src, tags, tt.opts)
			assert.Empty(t, tr.Errors)
			assert.Equal(t, tt.want, dump(tr.Root))
		})
	}
}

func TestNodeRemoveAndClone(t *testing.T) {
	tr := Build("a{{ b }}c", tags, DefaultOptions())
	kids := tr.Root.Children()
	require.Len(t, kids, 3)

	clone := tr.Root.Clone()
	kids[1].Remove()
	assert.Equal(t, "T(a)T(c)", dump(tr.Root))
	assert.Equal(t, "T(a)E(b)T(c)", dump(clone))
	assert.False(t, kids[1].Parent().Valid())

	kids[0].Remove()
	kids[2].Remove()
	assert.False(t, tr.Root.FirstChild().Valid())
	assert.False(t, tr.Root.LastChild().Valid())
}

func TestNodeSource(t *testing.T) {
	src := "x{% if a %}{{ b }}y{% endif %}z"
	tr := Build(src, tags, DefaultOptions())
	assert.Equal(t, src, tr.Root.ChildrenSource())
	ifNode := tr.Root.Children()[1]
	assert.Equal(t, "{{ b }}y", ifNode.ChildrenSource())
	assert.Equal(t, "{% endif %}", ifNode.EndToken().Image)
}
