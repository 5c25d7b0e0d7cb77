package el

import (
	"fmt"
	"strings"
)

// ParseOptions selects grammar variants.
type ParseOptions struct {
	// EvaluateMapKeys makes bare identifiers used as dict keys evaluate as
	// variables. When false they are string keys.
	EvaluateMapKeys bool
	// NaturalPrecedence binds unary minus looser than "**" so that -2 ** 2
	// is -4. When false unary operators bind tightest.
	NaturalPrecedence bool
}

// DefaultParseOptions returns the grammar used when no legacy flags are set.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{NaturalPrecedence: true}
}

// FuncRef identifies a function reference by position.
type FuncRef struct {
	Namespace string
	Name      string
	Arity     int
}

// Tree is a parsed expression together with its positional binding layout.
type Tree struct {
	Source string
	Root   Node

	idents []string
	funcs  []FuncRef
}

// String returns canonical source for the whole expression.
func (t *Tree) String() string {
	return t.Root.String()
}

// StructuralID returns the canonical form with variables replaced by their
// binding positions. Expressions that differ only in spacing or variable
// names share a structural id.
func (t *Tree) StructuralID() string {
	p := &printer{structural: true}
	t.Root.print(p)
	return p.b.String()
}

// Identifiers lists variable names by binding position.
func (t *Tree) Identifiers() []string {
	return append([]string(nil), t.idents...)
}

// Functions lists function references by binding position.
func (t *Tree) Functions() []FuncRef {
	return append([]FuncRef(nil), t.funcs...)
}

// Parse parses an expression with default options.
func Parse(src string) (*Tree, error) {
	return ParseWith(src, DefaultParseOptions())
}

// ParseWith parses an expression. A top-level comma list becomes a tuple.
func ParseWith(src string, opts ParseOptions) (*Tree, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{
		tokens:  tokens,
		src:     src,
		opts:    opts,
		identAt: map[string]int{},
		tree:    &Tree{Source: src},
	}
	if p.current().Type == TokEOF {
		return nil, p.errorf("empty expression")
	}
	root, err := p.parseTopLevel()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokEOF {
		return nil, &SyntaxError{Message: "unexpected trailing token " + quoteTok(tok), Pos: tok.Pos, Source: src}
	}
	p.tree.Root = root
	return p.tree, nil
}

// Parser is a precedence-climbing expression parser.
type Parser struct {
	tokens  []ExprToken
	pos     int
	src     string
	opts    ParseOptions
	identAt map[string]int
	tree    *Tree
}

func (p *Parser) current() ExprToken {
	if p.pos >= len(p.tokens) {
		return ExprToken{Type: TokEOF, Pos: len(p.src)}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peek(n int) ExprToken {
	if p.pos+n >= len(p.tokens) {
		return ExprToken{Type: TokEOF, Pos: len(p.src)}
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *Parser) isOp(v string) bool {
	tok := p.current()
	return tok.Type == TokOperator && tok.Value == v
}

func (p *Parser) isWord(v string) bool {
	tok := p.current()
	return tok.Type == TokIdentifier && tok.Value == v
}

func (p *Parser) expectOp(v string) error {
	if !p.isOp(v) {
		return p.errorf("expected %q, found %s", v, quoteTok(p.current()))
	}
	p.advance()
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Message: fmt.Sprintf(format, args...), Pos: p.current().Pos, Source: p.src}
}

func quoteTok(tok ExprToken) string {
	if tok.Type == TokEOF {
		return "end of expression"
	}
	return "'" + tok.Value + "'"
}

func (p *Parser) ident(name string) *Ident {
	idx, ok := p.identAt[name]
	if !ok {
		idx = len(p.tree.idents)
		p.identAt[name] = idx
		p.tree.idents = append(p.tree.idents, name)
	}
	return &Ident{Name: name, Index: idx}
}

func (p *Parser) funcRef(ns, name string, arity int) int {
	p.tree.funcs = append(p.tree.funcs, FuncRef{Namespace: ns, Name: name, Arity: arity})
	return len(p.tree.funcs) - 1
}

func (p *Parser) parseTopLevel() (Node, error) {
	first, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.isOp(",") {
		return first, nil
	}
	items := []Node{first}
	for p.isOp(",") {
		p.advance()
		if p.current().Type == TokEOF {
			break
		}
		n, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return &TupleLit{Items: items}, nil
}

func (p *Parser) parseExpression() (Node, error) {
	return p.parseTernary()
}

func (p *Parser) parseTernary() (Node, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	switch {
	case p.isOp("?"):
		p.advance()
		then, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		other, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return &Ternary{Cond: left, Then: then, Else: other}, nil
	case p.isWord("if"):
		p.advance()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		t := &Ternary{Cond: cond, Then: left, Inline: true}
		if p.isWord("else") {
			p.advance()
			if t.Else, err = p.parseTernary(); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
	return left, nil
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isWord("or") || p.isOp("||") {
		spelling := p.current().Value
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "or", Spelling: spelling, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isWord("and") || p.isOp("&&") {
		spelling := p.current().Value
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "and", Spelling: spelling, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Node, error) {
	if p.isWord("not") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", Spelling: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonWords = map[string]string{
	"eq": "==", "ne": "!=", "lt": "<", "gt": ">", "le": "<=", "ge": ">=",
}

func (p *Parser) comparisonOp() (op, spelling string, width int) {
	tok := p.current()
	switch tok.Type {
	case TokOperator:
		switch tok.Value {
		case "==", "!=", "<", ">", "<=", ">=":
			return tok.Value, tok.Value, 1
		}
	case TokIdentifier:
		if canon, ok := comparisonWords[tok.Value]; ok {
			return canon, tok.Value, 1
		}
		if tok.Value == "in" {
			return "in", "in", 1
		}
		if next := p.peek(1); tok.Value == "not" && next.Type == TokIdentifier && next.Value == "in" {
			return "not in", "not in", 2
		}
	}
	return "", "", 0
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		if p.isWord("is") {
			p.advance()
			if left, err = p.parseTest(left); err != nil {
				return nil, err
			}
			continue
		}
		op, spelling, width := p.comparisonOp()
		if width == 0 {
			return left, nil
		}
		for i := 0; i < width; i++ {
			p.advance()
		}
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Spelling: spelling, Left: left, Right: right}
	}
}

func (p *Parser) parseTest(value Node) (Node, error) {
	t := &TestCall{Value: value}
	if p.isWord("not") {
		p.advance()
		t.Negated = true
	}
	tok := p.current()
	if tok.Type != TokIdentifier {
		return nil, p.errorf("expected test name, found %s", quoteTok(tok))
	}
	t.Name = tok.Value
	p.advance()

	if p.isOp("(") {
		args, _, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		t.Args = args
		return t, nil
	}
	if p.startsPrimary() {
		arg, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		t.Args = []Node{arg}
	}
	return t, nil
}

func (p *Parser) startsPrimary() bool {
	tok := p.current()
	switch tok.Type {
	case TokNumber, TokString, TokQualified:
		return true
	case TokIdentifier:
		switch tok.Value {
		case "and", "or", "else", "if", "is", "in", "not":
			return false
		}
		_, cmp := comparisonWords[tok.Value]
		return !cmp
	case TokOperator:
		return tok.Value == "[" || tok.Value == "{"
	}
	return false
}

func (p *Parser) parseConcat() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("~") {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "~", Spelling: "~", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.current().Value
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Spelling: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) mulOp() (string, bool) {
	tok := p.current()
	switch {
	case tok.Type == TokOperator && (tok.Value == "*" || tok.Value == "/" || tok.Value == "//" || tok.Value == "%"):
		return tok.Value, true
	case tok.Type == TokIdentifier && tok.Value == "div":
		return "/", true
	case tok.Type == TokIdentifier && tok.Value == "mod":
		return "%", true
	}
	return "", false
}

func (p *Parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.mulOp()
		if !ok {
			return left, nil
		}
		spelling := p.current().Value
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Spelling: spelling, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Node, error) {
	tok := p.current()
	var op, spelling string
	switch {
	case tok.Type == TokOperator && (tok.Value == "-" || tok.Value == "+"):
		op, spelling = tok.Value, tok.Value
	case tok.Type == TokOperator && tok.Value == "!":
		op, spelling = "not", "!"
	case tok.Type == TokIdentifier && tok.Value == "empty" && p.peek(1).Type != TokEOF && !isBinaryFollower(p.peek(1)):
		op, spelling = "empty", "empty"
	}
	if op == "" {
		return p.parsePower()
	}
	p.advance()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if !p.opts.NaturalPrecedence {
		// unary binds tighter than ** in legacy mode
		u := &Unary{Op: op, Spelling: spelling, Operand: operand}
		if b, ok := operand.(*Binary); ok && b.Op == "**" {
			u.Operand = b.Left
			return &Binary{Op: "**", Spelling: b.Spelling, Left: u, Right: b.Right}, nil
		}
		return u, nil
	}
	return &Unary{Op: op, Spelling: spelling, Operand: operand}, nil
}

func isBinaryFollower(tok ExprToken) bool {
	if tok.Type != TokOperator {
		return tok.Type == TokIdentifier && (tok.Value == "and" || tok.Value == "or")
	}
	switch tok.Value {
	case "(", "[", "{", "-", "+", "!":
		return false
	}
	return true
}

func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "**", Spelling: "**", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseFilter() (Node, error) {
	value, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.advance()
		tok := p.current()
		if tok.Type != TokIdentifier {
			return nil, p.errorf("expected filter name, found %s", quoteTok(tok))
		}
		p.advance()
		f := &FilterCall{Value: value, Name: tok.Value}
		if p.isOp("(") {
			if f.Args, f.Kwargs, err = p.parseArgs(); err != nil {
				return nil, err
			}
		}
		value = f
	}
	return value, nil
}

func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			p.advance()
			tok := p.current()
			switch tok.Type {
			case TokIdentifier:
				node = &Attr{Object: node, Name: tok.Value}
			case TokNumber:
				v, _ := ParseNumber(tok.Value)
				node = &Index{Object: node, Key: &Literal{Value: v}}
			default:
				return nil, p.errorf("expected property name, found %s", quoteTok(tok))
			}
			p.advance()
		case p.isOp("["):
			p.advance()
			if node, err = p.parseSubscript(node); err != nil {
				return nil, err
			}
		case p.isOp("("):
			args, kwargs, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			call := &Call{Callee: node, Args: args, Kwargs: kwargs, FuncIndex: -1}
			if id, ok := node.(*Ident); ok {
				call.FuncIndex = p.funcRef("", id.Name, len(args))
			}
			node = call
		default:
			return node, nil
		}
	}
}

func (p *Parser) parseSubscript(obj Node) (Node, error) {
	var parts [3]Node
	n := 0
	for {
		if !p.isOp(":") && !p.isOp("]") {
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			parts[n] = e
		}
		if p.isOp("]") {
			p.advance()
			break
		}
		if !p.isOp(":") || n == 2 {
			return nil, p.errorf("expected ']' in subscript, found %s", quoteTok(p.current()))
		}
		p.advance()
		n++
	}
	if n == 0 {
		if parts[0] == nil {
			return nil, p.errorf("empty subscript")
		}
		return &Index{Object: obj, Key: parts[0]}, nil
	}
	return &Slice{Object: obj, Start: parts[0], Stop: parts[1], Step: parts[2]}, nil
}

func (p *Parser) parseArgs() ([]Node, []Kwarg, error) {
	if err := p.expectOp("("); err != nil {
		return nil, nil, err
	}
	var args []Node
	var kwargs []Kwarg
	for !p.isOp(")") {
		if tok, next := p.current(), p.peek(1); tok.Type == TokIdentifier && next.Type == TokOperator && next.Value == "=" {
			p.advance()
			p.advance()
			v, err := p.parseExpression()
			if err != nil {
				return nil, nil, err
			}
			kwargs = append(kwargs, Kwarg{Name: tok.Value, Value: v})
		} else {
			if len(kwargs) > 0 {
				return nil, nil, p.errorf("positional argument after keyword argument")
			}
			v, err := p.parseExpression()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, v)
		}
		if p.isOp(",") {
			p.advance()
			continue
		}
		if !p.isOp(")") {
			return nil, nil, p.errorf("expected ',' or ')' in arguments, found %s", quoteTok(p.current()))
		}
	}
	p.advance()
	return args, kwargs, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()
	switch tok.Type {
	case TokNumber:
		p.advance()
		v, ok := ParseNumber(tok.Value)
		if !ok {
			return nil, &SyntaxError{Message: "invalid number " + tok.Value, Pos: tok.Pos, Source: p.src}
		}
		return &Literal{Value: v}, nil
	case TokString:
		p.advance()
		s := tok.Value
		for p.current().Type == TokString {
			s += p.current().Value
			p.advance()
		}
		return &Literal{Value: s}, nil
	case TokQualified:
		p.advance()
		ns, name, _ := strings.Cut(tok.Value, ":")
		args, kwargs, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &NSCall{Namespace: ns, Name: name, Args: args, Kwargs: kwargs, FuncIndex: p.funcRef(ns, name, len(args))}, nil
	case TokIdentifier:
		p.advance()
		switch tok.Value {
		case "true", "True":
			return &Literal{Value: true}, nil
		case "false", "False":
			return &Literal{Value: false}, nil
		case "none", "None", "null":
			return &Literal{Value: nil}, nil
		}
		return p.ident(tok.Value), nil
	case TokOperator:
		switch tok.Value {
		case "(":
			return p.parseParen()
		case "[":
			p.advance()
			items, err := p.parseItems("]")
			if err != nil {
				return nil, err
			}
			return &ListLit{Items: items}, nil
		case "{":
			return p.parseDict()
		}
	}
	return nil, p.errorf("unexpected %s", quoteTok(tok))
}

func (p *Parser) parseParen() (Node, error) {
	p.advance()
	if p.isOp(")") {
		p.advance()
		return &TupleLit{}, nil
	}
	first, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.isOp(")") {
		p.advance()
		return first, nil
	}
	if !p.isOp(",") {
		return nil, p.errorf("expected ')', found %s", quoteTok(p.current()))
	}
	p.advance()
	rest, err := p.parseItems(")")
	if err != nil {
		return nil, err
	}
	return &TupleLit{Items: append([]Node{first}, rest...)}, nil
}

// parseItems parses a comma separated list up to and including closer.
func (p *Parser) parseItems(closer string) ([]Node, error) {
	var items []Node
	for !p.isOp(closer) {
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.isOp(",") {
			p.advance()
			continue
		}
		if !p.isOp(closer) {
			return nil, p.errorf("expected ',' or '%s', found %s", closer, quoteTok(p.current()))
		}
	}
	p.advance()
	return items, nil
}

func (p *Parser) parseDict() (Node, error) {
	p.advance()
	d := &DictLit{}
	for !p.isOp("}") {
		var key Node
		if tok, next := p.current(), p.peek(1); !p.opts.EvaluateMapKeys && tok.Type == TokIdentifier && next.Type == TokOperator && next.Value == ":" {
			p.advance()
			key = &Literal{Value: tok.Value}
		} else {
			var err error
			if key, err = p.parseExpression(); err != nil {
				return nil, err
			}
		}
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		d.Keys = append(d.Keys, key)
		d.Values = append(d.Values, value)
		if p.isOp(",") {
			p.advance()
			continue
		}
		if !p.isOp("}") {
			return nil, p.errorf("expected ',' or '}', found %s", quoteTok(p.current()))
		}
	}
	p.advance()
	return d, nil
}
