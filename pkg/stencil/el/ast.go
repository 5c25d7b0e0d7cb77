package el

import (
	"strconv"
	"strings"
)

// Precedence levels, lowest first. They drive both parsing and the
// parenthesisation of printed expressions.
const (
	precTernary = iota + 1
	precOr
	precAnd
	precNot
	precCompare
	precConcat
	precAdd
	precMul
	precUnary
	precPow
	precFilter
	precPostfix
	precAtom
)

// Node is a parsed expression node. String prints canonical source that
// parses back to an equivalent node.
type Node interface {
	String() string
	prec() int
	print(p *printer)
}

type printer struct {
	b          strings.Builder
	structural bool
}

func (p *printer) node(n Node, min int) {
	if n.prec() < min {
		p.b.WriteByte('(')
		n.print(p)
		p.b.WriteByte(')')
		return
	}
	n.print(p)
}

func (p *printer) list(nodes []Node) {
	for i, n := range nodes {
		if i > 0 {
			p.b.WriteString(", ")
		}
		p.node(n, precTernary)
	}
}

func (p *printer) args(args []Node, kwargs []Kwarg) {
	p.b.WriteByte('(')
	p.list(args)
	for i, kw := range kwargs {
		if i > 0 || len(args) > 0 {
			p.b.WriteString(", ")
		}
		p.b.WriteString(kw.Name)
		p.b.WriteByte('=')
		p.node(kw.Value, precTernary)
	}
	p.b.WriteByte(')')
}

func nodeString(n Node) string {
	p := &printer{}
	n.print(p)
	return p.b.String()
}

// Kwarg is a keyword argument in a call.
type Kwarg struct {
	Name  string
	Value Node
}

// Literal is a constant.
type Literal struct {
	Value interface{}
}

func (n *Literal) String() string { return nodeString(n) }
func (n *Literal) prec() int      { return precAtom }
func (n *Literal) print(p *printer) {
	if s, ok := Repr(n.Value); ok {
		p.b.WriteString(s)
		return
	}
	p.b.WriteString(ToString(n.Value))
}

// Ident references a variable. Index is its binding position.
type Ident struct {
	Name  string
	Index int
}

func (n *Ident) String() string { return nodeString(n) }
func (n *Ident) prec() int      { return precAtom }
func (n *Ident) print(p *printer) {
	if p.structural {
		p.b.WriteByte('#')
		p.b.WriteString(strconv.Itoa(n.Index))
		return
	}
	p.b.WriteString(n.Name)
}

// Attr is dotted property access.
type Attr struct {
	Object Node
	Name   string
}

func (n *Attr) String() string { return nodeString(n) }
func (n *Attr) prec() int      { return precPostfix }
func (n *Attr) print(p *printer) {
	p.node(n.Object, precPostfix)
	p.b.WriteByte('.')
	p.b.WriteString(n.Name)
}

// Index is bracketed access.
type Index struct {
	Object Node
	Key    Node
}

func (n *Index) String() string { return nodeString(n) }
func (n *Index) prec() int      { return precPostfix }
func (n *Index) print(p *printer) {
	p.node(n.Object, precPostfix)
	p.b.WriteByte('[')
	p.node(n.Key, precTernary)
	p.b.WriteByte(']')
}

// Slice is obj[start:stop:step]; any bound may be nil.
type Slice struct {
	Object            Node
	Start, Stop, Step Node
}

func (n *Slice) String() string { return nodeString(n) }
func (n *Slice) prec() int      { return precPostfix }
func (n *Slice) print(p *printer) {
	p.node(n.Object, precPostfix)
	p.b.WriteByte('[')
	if n.Start != nil {
		p.node(n.Start, precTernary)
	}
	p.b.WriteByte(':')
	if n.Stop != nil {
		p.node(n.Stop, precTernary)
	}
	if n.Step != nil {
		p.b.WriteByte(':')
		p.node(n.Step, precTernary)
	}
	p.b.WriteByte(']')
}

// Call invokes a callee: a global function or callable variable when Callee
// is an Ident, a method when it is an Attr. FuncIndex is the binding
// position of the global function, or -1.
type Call struct {
	Callee    Node
	Args      []Node
	Kwargs    []Kwarg
	FuncIndex int
}

func (n *Call) String() string { return nodeString(n) }
func (n *Call) prec() int      { return precPostfix }
func (n *Call) print(p *printer) {
	if id, ok := n.Callee.(*Ident); ok && p.structural {
		p.b.WriteString(id.Name)
	} else {
		p.node(n.Callee, precPostfix)
	}
	p.args(n.Args, n.Kwargs)
}

// NSCall is a namespaced function call ns:name(args).
type NSCall struct {
	Namespace string
	Name      string
	Args      []Node
	Kwargs    []Kwarg
	FuncIndex int
}

func (n *NSCall) String() string { return nodeString(n) }
func (n *NSCall) prec() int      { return precPostfix }
func (n *NSCall) print(p *printer) {
	p.b.WriteString(n.Namespace)
	p.b.WriteByte(':')
	p.b.WriteString(n.Name)
	p.args(n.Args, n.Kwargs)
}

// Unary is a prefix operator. Op is canonical (not, -, +, empty); Spelling
// is what the source used.
type Unary struct {
	Op       string
	Spelling string
	Operand  Node
}

func (n *Unary) String() string { return nodeString(n) }
func (n *Unary) prec() int {
	if n.Spelling == "not" {
		return precNot
	}
	return precUnary
}
func (n *Unary) print(p *printer) {
	p.b.WriteString(n.Spelling)
	if isWordOp(n.Spelling) {
		p.b.WriteByte(' ')
	}
	p.node(n.Operand, n.prec())
}

// Binary covers arithmetic, comparison, membership and concatenation.
type Binary struct {
	Op       string
	Spelling string
	Left     Node
	Right    Node
}

func (n *Binary) String() string { return nodeString(n) }
func (n *Binary) prec() int      { return binaryPrec(n.Op) }
func (n *Binary) print(p *printer) {
	pr := n.prec()
	if n.Op == "**" {
		p.node(n.Left, pr+1)
	} else {
		p.node(n.Left, pr)
	}
	p.b.WriteByte(' ')
	p.b.WriteString(n.Spelling)
	p.b.WriteByte(' ')
	if n.Op == "**" {
		p.node(n.Right, precUnary)
	} else {
		p.node(n.Right, pr+1)
	}
}

func binaryPrec(op string) int {
	switch op {
	case "~":
		return precConcat
	case "+", "-":
		return precAdd
	case "*", "/", "//", "%":
		return precMul
	case "**":
		return precPow
	}
	return precCompare
}

// Logical is a short-circuiting and/or.
type Logical struct {
	Op       string
	Spelling string
	Left     Node
	Right    Node
}

func (n *Logical) String() string { return nodeString(n) }
func (n *Logical) prec() int {
	if n.Op == "or" {
		return precOr
	}
	return precAnd
}
func (n *Logical) print(p *printer) {
	p.node(n.Left, n.prec())
	p.b.WriteByte(' ')
	p.b.WriteString(n.Spelling)
	p.b.WriteByte(' ')
	p.node(n.Right, n.prec()+1)
}

// Ternary is either "then if cond else other" (Inline) or
// "cond ? then : other". Else may be nil in the inline form.
type Ternary struct {
	Cond   Node
	Then   Node
	Else   Node
	Inline bool
}

func (n *Ternary) String() string { return nodeString(n) }
func (n *Ternary) prec() int      { return precTernary }
func (n *Ternary) print(p *printer) {
	if n.Inline {
		p.node(n.Then, precOr)
		p.b.WriteString(" if ")
		p.node(n.Cond, precOr)
		if n.Else != nil {
			p.b.WriteString(" else ")
			p.node(n.Else, precTernary)
		}
		return
	}
	p.node(n.Cond, precOr)
	p.b.WriteString(" ? ")
	p.node(n.Then, precTernary)
	p.b.WriteString(" : ")
	p.node(n.Else, precTernary)
}

// ListLit is [a, b].
type ListLit struct {
	Items []Node
}

func (n *ListLit) String() string { return nodeString(n) }
func (n *ListLit) prec() int      { return precAtom }
func (n *ListLit) print(p *printer) {
	p.b.WriteByte('[')
	p.list(n.Items)
	p.b.WriteByte(']')
}

// TupleLit is (a, b). It evaluates to a list.
type TupleLit struct {
	Items []Node
}

func (n *TupleLit) String() string { return nodeString(n) }
func (n *TupleLit) prec() int      { return precAtom }
func (n *TupleLit) print(p *printer) {
	p.b.WriteByte('(')
	p.list(n.Items)
	if len(n.Items) == 1 {
		p.b.WriteByte(',')
	}
	p.b.WriteByte(')')
}

// DictLit is {k: v}.
type DictLit struct {
	Keys   []Node
	Values []Node
}

func (n *DictLit) String() string { return nodeString(n) }
func (n *DictLit) prec() int      { return precAtom }
func (n *DictLit) print(p *printer) {
	p.b.WriteByte('{')
	for i := range n.Keys {
		if i > 0 {
			p.b.WriteString(", ")
		}
		p.node(n.Keys[i], precTernary)
		p.b.WriteString(": ")
		p.node(n.Values[i], precTernary)
	}
	p.b.WriteByte('}')
}

// FilterCall is value|name(args).
type FilterCall struct {
	Value  Node
	Name   string
	Args   []Node
	Kwargs []Kwarg
}

func (n *FilterCall) String() string { return nodeString(n) }
func (n *FilterCall) prec() int      { return precFilter }
func (n *FilterCall) print(p *printer) {
	p.node(n.Value, precFilter)
	p.b.WriteByte('|')
	p.b.WriteString(n.Name)
	if len(n.Args) > 0 || len(n.Kwargs) > 0 {
		p.args(n.Args, n.Kwargs)
	}
}

// TestCall is value is [not] name(args).
type TestCall struct {
	Value   Node
	Name    string
	Negated bool
	Args    []Node
}

func (n *TestCall) String() string { return nodeString(n) }
func (n *TestCall) prec() int      { return precCompare }
func (n *TestCall) print(p *printer) {
	p.node(n.Value, precCompare+1)
	p.b.WriteString(" is ")
	if n.Negated {
		p.b.WriteString("not ")
	}
	p.b.WriteString(n.Name)
	if len(n.Args) > 0 {
		p.args(n.Args, nil)
	}
}

func isWordOp(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Walk calls fn for n and every descendant in source order.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch x := n.(type) {
	case *Attr:
		Walk(x.Object, fn)
	case *Index:
		Walk(x.Object, fn)
		Walk(x.Key, fn)
	case *Slice:
		Walk(x.Object, fn)
		Walk(x.Start, fn)
		Walk(x.Stop, fn)
		Walk(x.Step, fn)
	case *Call:
		Walk(x.Callee, fn)
		walkAll(x.Args, x.Kwargs, fn)
	case *NSCall:
		walkAll(x.Args, x.Kwargs, fn)
	case *Unary:
		Walk(x.Operand, fn)
	case *Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Logical:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Ternary:
		Walk(x.Cond, fn)
		Walk(x.Then, fn)
		Walk(x.Else, fn)
	case *ListLit:
		walkAll(x.Items, nil, fn)
	case *TupleLit:
		walkAll(x.Items, nil, fn)
	case *DictLit:
		walkAll(x.Keys, nil, fn)
		walkAll(x.Values, nil, fn)
	case *FilterCall:
		Walk(x.Value, fn)
		walkAll(x.Args, x.Kwargs, fn)
	case *TestCall:
		Walk(x.Value, fn)
		walkAll(x.Args, nil, fn)
	}
}

func walkAll(nodes []Node, kwargs []Kwarg, fn func(Node)) {
	for _, c := range nodes {
		Walk(c, fn)
	}
	for _, kw := range kwargs {
		Walk(kw.Value, fn)
	}
}

// Names returns the distinct variable names referenced under n.
func Names(n Node) []string {
	seen := map[string]bool{}
	var out []string
	Walk(n, func(c Node) {
		if id, ok := c.(*Ident); ok && !seen[id.Name] {
			seen[id.Name] = true
			out = append(out, id.Name)
		}
	})
	return out
}
