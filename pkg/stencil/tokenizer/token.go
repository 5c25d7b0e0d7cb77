// Package tokenizer splits raw template text into text, tag, expression and
// note tokens. Scanning is character based so that quoted strings, nested
// braces and raw blocks never confuse delimiter detection.
package tokenizer

import (
	"fmt"
	"strings"
)

// Kind identifies what a token holds.
type Kind int

const (
	Text Kind = iota
	Tag
	Expression
	Note
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Tag:
		return "tag"
	case Expression:
		return "expression"
	case Note:
		return "note"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Token is one lexical unit of a template.
type Token struct {
	Kind Kind
	// Image is the exact source text covered by the token, delimiters included.
	Image string
	// Content is the text between the delimiters with trim markers and
	// surrounding whitespace removed.
	Content  string
	Line     int
	StartPos int
	Offset   int

	LeftTrim  bool
	RightTrim bool

	// Unclosed is set on the final token when input ended inside a block.
	Unclosed bool

	TagName string
	Helpers string
}

func (t Token) String() string {
	return fmt.Sprintf("%s@%d:%d %q", t.Kind, t.Line, t.StartPos, t.Image)
}

// End returns the byte offset just past the token.
func (t Token) End() int {
	return t.Offset + len(t.Image)
}

// IsTag reports whether t is a tag token with the given name.
func (t Token) IsTag(name string) bool {
	return t.Kind == Tag && t.TagName == name
}

func splitTag(content string) (name, helpers string) {
	i := 0
	for i < len(content) && isNameChar(content[i]) {
		i++
	}
	if i == 0 {
		fields := strings.Fields(content)
		if len(fields) == 0 {
			return "", ""
		}
		return fields[0], strings.TrimSpace(content[len(fields[0]):])
	}
	return content[:i], strings.TrimSpace(content[i:])
}

func isNameChar(c byte) bool {
	return c == '_' || c == '.' || c == ':' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
