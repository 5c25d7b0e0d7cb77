package tokenizer

import (
	"iter"
	"strings"
)

// Scanner produces tokens lazily from a template source. A Scanner is single
// use; call Scan for a fresh sequence.
type Scanner struct {
	src string
	sym Symbols

	pos       int
	line      int
	lineStart int

	// rawDepth counts open raw tags; while positive only tag delimiters are
	// examined, and only to find the matching endraw.
	rawDepth int
	pending  []Token
}

// NewScanner returns a scanner positioned at the start of src.
func NewScanner(src string, sym Symbols) *Scanner {
	return &Scanner{src: src, sym: sym, line: 1}
}

// Scan returns a lazy sequence over the tokens of src. Each iteration starts
// a new scan from the beginning.
func Scan(src string, sym Symbols) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		s := NewScanner(src, sym)
		for {
			tok, ok := s.Next()
			if !ok || !yield(tok) {
				return
			}
		}
	}
}

// All drains the scanner into a slice.
func (s *Scanner) All() []Token {
	var out []Token
	for {
		tok, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

// Next returns the next token, or false once input is exhausted.
func (s *Scanner) Next() (Token, bool) {
	if len(s.pending) > 0 {
		tok := s.pending[0]
		s.pending = s.pending[1:]
		return tok, true
	}
	if s.pos >= len(s.src) {
		return Token{}, false
	}
	if s.rawDepth > 0 {
		return s.scanRaw(), true
	}

	for i := s.pos; i < len(s.src); i++ {
		kind, ok := s.openerAt(i)
		if !ok {
			continue
		}
		if i > s.pos {
			return s.take(i, Text, true), true
		}
		end, closed := s.sym.scanBlock(s.src, i, kind)
		tok := s.take(end, kind, closed)
		if tok.Kind == Tag && tok.TagName == "raw" {
			s.rawDepth = 1
		}
		return tok, true
	}
	return s.take(len(s.src), Text, true), true
}

func (s *Scanner) openerAt(i int) (Kind, bool) {
	rest := s.src[i:]
	switch {
	case strings.HasPrefix(rest, s.sym.ExprStart):
		return Expression, true
	case strings.HasPrefix(rest, s.sym.TagStart):
		return Tag, true
	case strings.HasPrefix(rest, s.sym.NoteStart):
		return Note, true
	}
	return Text, false
}

// scanRaw consumes text up to the endraw matching the outermost raw tag.
// Nested raw/endraw pairs are kept as text.
func (s *Scanner) scanRaw() Token {
	depth := s.rawDepth
	i := s.pos
	for {
		j := strings.Index(s.src[i:], s.sym.TagStart)
		if j < 0 {
			break
		}
		j += i
		end, closed := s.sym.scanBlock(s.src, j, Tag)
		if !closed {
			break
		}
		content, _, _ := s.sym.inner(s.src[j:end], Tag)
		name, _ := splitTag(content)
		switch name {
		case "raw":
			depth++
		case "endraw":
			depth--
		}
		if depth == 0 {
			s.rawDepth = 0
			if j > s.pos {
				text := s.take(j, Text, true)
				s.pending = append(s.pending, s.take(end, Tag, true))
				return text
			}
			return s.take(end, Tag, true)
		}
		i = end
	}
	s.rawDepth = 0
	return s.take(len(s.src), Text, true)
}

// take builds the token spanning s.pos..end and advances past it.
func (s *Scanner) take(end int, kind Kind, closed bool) Token {
	image := s.src[s.pos:end]
	tok := Token{
		Kind:     kind,
		Image:    image,
		Line:     s.line,
		StartPos: s.pos - s.lineStart + 1,
		Offset:   s.pos,
	}
	switch {
	case !closed:
		tok.Kind = Text
		tok.Content = image
		tok.Unclosed = true
	case kind == Text:
		tok.Content = image
	default:
		tok.Content, tok.LeftTrim, tok.RightTrim = s.sym.inner(image, kind)
		if kind == Tag {
			tok.TagName, tok.Helpers = splitTag(tok.Content)
		}
	}
	for j := s.pos; j < end; j++ {
		if s.src[j] == '\n' {
			s.line++
			s.lineStart = j + 1
		}
	}
	s.pos = end
	return tok
}

// scanBlock finds the end of the block opened at start. Quotes and nested
// braces are honoured for tags and expressions; notes end at the first
// close delimiter.
func (s Symbols) scanBlock(src string, start int, k Kind) (int, bool) {
	closer := s.close(k)
	i := start + len(s.open(k))
	var quote byte
	depth := 0
	for i < len(src) {
		c := src[i]
		if k != Note {
			if quote != 0 {
				switch c {
				case '\\':
					i += 2
					continue
				case quote:
					quote = 0
				}
				i++
				continue
			}
			if c == '"' || c == '\'' {
				quote = c
				i++
				continue
			}
			if depth > 0 && c == '}' {
				depth--
				i++
				continue
			}
		}
		if strings.HasPrefix(src[i:], closer) {
			return i + len(closer), true
		}
		if k != Note && c == '{' {
			depth++
		}
		i++
	}
	return len(src), false
}

func (s Symbols) inner(image string, k Kind) (content string, left, right bool) {
	body := image[len(s.open(k)) : len(image)-len(s.close(k))]
	if s.Trim != 0 {
		if len(body) > 0 && body[0] == s.Trim {
			left = true
			body = body[1:]
		}
		if len(body) > 0 && body[len(body)-1] == s.Trim {
			right = true
			body = body[:len(body)-1]
		}
	}
	return strings.TrimSpace(body), left, right
}
