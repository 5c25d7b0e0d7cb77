package el

import (
	"regexp"
	"strings"
)

// TokenType classifies expression tokens.
type TokenType int

const (
	TokIdentifier TokenType = iota
	TokQualified
	TokNumber
	TokString
	TokOperator
	TokEOF
)

// ExprToken is one lexical unit of an expression.
type ExprToken struct {
	Type  TokenType
	Value string
	Pos   int
}

var (
	identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*`)
	qualifiedRegex  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*:[a-zA-Z_][a-zA-Z0-9_]*\s*\(`)
	numberRegex     = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]+)?`)
	operatorRegex   = regexp.MustCompile(`^(\*\*|//|==|!=|<=|>=|&&|\|\||[-+*/%<>!=~|.,:?()\[\]{}])`)
)

// Lex splits an expression into tokens.
func Lex(src string) ([]ExprToken, error) {
	var tokens []ExprToken
	pos := 0
	for pos < len(src) {
		c := src[pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			pos++
			continue
		}
		remaining := src[pos:]

		if m := qualifiedRegex.FindString(remaining); m != "" {
			name := strings.TrimRight(m[:len(m)-1], " \t\n")
			tokens = append(tokens, ExprToken{Type: TokQualified, Value: name, Pos: pos})
			pos += len(name)
			continue
		}
		if m := identifierRegex.FindString(remaining); m != "" {
			tokens = append(tokens, ExprToken{Type: TokIdentifier, Value: m, Pos: pos})
			pos += len(m)
			continue
		}
		if m := numberRegex.FindString(remaining); m != "" {
			tokens = append(tokens, ExprToken{Type: TokNumber, Value: m, Pos: pos})
			pos += len(m)
			continue
		}
		if c == '"' || c == '\'' {
			value, n, err := lexString(remaining, pos, src)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, ExprToken{Type: TokString, Value: value, Pos: pos})
			pos += n
			continue
		}
		if m := operatorRegex.FindString(remaining); m != "" {
			tokens = append(tokens, ExprToken{Type: TokOperator, Value: m, Pos: pos})
			pos += len(m)
			continue
		}
		return nil, &SyntaxError{Message: "unexpected character " + string(c), Pos: pos, Source: src}
	}
	tokens = append(tokens, ExprToken{Type: TokEOF, Pos: pos})
	return tokens, nil
}

func lexString(s string, pos int, src string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, &SyntaxError{Message: "unterminated string", Pos: pos, Source: src}
}
