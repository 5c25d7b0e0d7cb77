package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(src string) []Token {
	return NewScanner(src, DefaultSymbols()).All()
}

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestScanKinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Kind
	}{
		{"plain text", "Hello World", []Kind{Text}},
		{"expression", "Hello {{ name }}!", []Kind{Text, Expression, Text}},
		{"tag and note", "{% if x %}{# hi #}{% endif %}", []Kind{Tag, Note, Tag}},
		{"adjacent expressions", "{{a}}{{b}}", []Kind{Expression, Expression}},
		{"empty", "", []Kind{}},
		{"lone brace", "a { b } c", []Kind{Text}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kinds(scanAll(tt.input)))
		})
	}
}

func TestScanContentAndTagName(t *testing.T) {
	toks := scanAll("{%- for item in items -%}{{ item.name }}{% endfor %}")
	require.Len(t, toks, 3)

	assert.Equal(t, "for", toks[0].TagName)
	assert.Equal(t, "item in items", toks[0].Helpers)
	assert.True(t, toks[0].LeftTrim)
	assert.True(t, toks[0].RightTrim)

	assert.Equal(t, "item.name", toks[1].Content)
	assert.False(t, toks[1].LeftTrim)

	assert.Equal(t, "endfor", toks[2].TagName)
	assert.Equal(t, "", toks[2].Helpers)
}

func TestScanRawBlockIsVerbatim(t *testing.T) {
	src := "a{% raw %}{{ not.parsed }} {% if %}{# x #}{% endraw %}b"
	toks := scanAll(src)
	require.Len(t, toks, 5)

	assert.Equal(t, Text, toks[0].Kind)
	assert.True(t, toks[1].IsTag("raw"))
	assert.Equal(t, Text, toks[2].Kind)
	assert.Equal(t, "{{ not.parsed }} {% if %}{# x #}", toks[2].Image)
	assert.True(t, toks[3].IsTag("endraw"))
	assert.Equal(t, "b", toks[4].Image)
}

func TestScanNestedRawKeepsInnerPair(t *testing.T) {
	toks := scanAll("{% raw %}x{% raw %}y{% endraw %}z{% endraw %}")
	require.Len(t, toks, 3)
	assert.Equal(t, "x{% raw %}y{% endraw %}z", toks[1].Image)
	assert.True(t, toks[2].IsTag("endraw"))
}

func TestScanEscapedQuoteDoesNotCloseBlock(t *testing.T) {
	src := `{{ "a \" }} b" }}tail`
	toks := scanAll(src)
	require.Len(t, toks, 2)
	assert.Equal(t, Expression, toks[0].Kind)
	assert.Equal(t, `"a \" }} b"`, toks[0].Content)
	assert.Equal(t, "tail", toks[1].Image)
}

func TestScanSingleQuotesHideDelimiters(t *testing.T) {
	toks := scanAll(`{% set x = '%}' %}!`)
	require.Len(t, toks, 2)
	assert.Equal(t, `x = '%}'`, toks[0].Helpers)
}

func TestScanNestedBraces(t *testing.T) {
	toks := scanAll("{{ {'a': {'b': 1}}}}x")
	require.Len(t, toks, 2)
	assert.Equal(t, "{'a': {'b': 1}}", toks[0].Content)
	assert.Equal(t, "x", toks[1].Image)
}

func TestScanLineNumbers(t *testing.T) {
	src := "line1\n{% if a\n %}\nfoo {{ b }}\n{# c\nd #}{{ e }}"
	toks := scanAll(src)

	var lines []int
	for _, tok := range toks {
		if tok.Kind != Text {
			lines = append(lines, tok.Line)
		}
	}
	assert.Equal(t, []int{2, 4, 5, 6}, lines)

	last := toks[len(toks)-1]
	assert.Equal(t, 5, last.StartPos)
}

func TestScanUnclosedBlockKeepsRemainder(t *testing.T) {
	src := "before {{ unclosed and more"
	toks := scanAll(src)
	require.Len(t, toks, 2)

	assert.Equal(t, "before ", toks[0].Image)
	assert.True(t, toks[1].Unclosed)
	assert.Equal(t, Text, toks[1].Kind)
	assert.Equal(t, "{{ unclosed and more", toks[1].Image)

	var joined string
	for _, tok := range toks {
		joined += tok.Image
	}
	assert.Equal(t, src, joined)
}

func TestScanNoteIgnoresQuotes(t *testing.T) {
	toks := scanAll("{# it's #}{{ x }}")
	require.Len(t, toks, 2)
	assert.Equal(t, Note, toks[0].Kind)
	assert.Equal(t, "it's", toks[0].Content)
}

func TestScanIsRestartable(t *testing.T) {
	seq := Scan("a{{ b }}c", DefaultSymbols())

	var first, second []string
	for tok := range seq {
		first = append(first, tok.Image)
	}
	for tok := range seq {
		second = append(second, tok.Image)
	}
	assert.Equal(t, []string{"a", "{{ b }}", "c"}, first)
	assert.Equal(t, first, second)
}

func TestScanCustomSymbols(t *testing.T) {
	sym := Symbols{
		ExprStart: "<<", ExprEnd: ">>",
		TagStart: "<%", TagEnd: "%>",
		NoteStart: "<#", NoteEnd: "#>",
		Trim: '~',
	}
	require.NoError(t, sym.Validate())

	toks := NewScanner("<%~ if x %>{{ x }}<< y >>", sym).All()
	require.Len(t, toks, 3)
	assert.True(t, toks[0].LeftTrim)
	assert.Equal(t, "if", toks[0].TagName)
	assert.Equal(t, Text, toks[1].Kind)
	assert.Equal(t, "y", toks[2].Content)
}

func TestSymbolsValidate(t *testing.T) {
	sym := DefaultSymbols()
	sym.TagStart = sym.ExprStart
	assert.Error(t, sym.Validate())

	sym = DefaultSymbols()
	sym.NoteEnd = ""
	assert.Error(t, sym.Validate())
}
