// Package tree builds the node tree of a template from its token stream.
// Nodes live in an arena and link to each other by index, so subtrees can be
// unlinked in constant time and cloned without aliasing.
package tree

import (
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tokenizer"
)

// Kind identifies a node variant.
type Kind int

const (
	Root Kind = iota
	Text
	Expression
	Tag
)

func (k Kind) String() string {
	switch k {
	case Root:
		return "root"
	case Text:
		return "text"
	case Expression:
		return "expression"
	case Tag:
		return "tag"
	}
	return "unknown"
}

const none = -1

type nodeData struct {
	kind   Kind
	token  tokenizer.Token
	text   string
	end    *tokenizer.Token
	parent int
	first  int
	last   int
	prev   int
	next   int
}

// Arena owns the storage of one or more trees.
type Arena struct {
	nodes []nodeData
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) add(kind Kind, tok tokenizer.Token) Node {
	a.nodes = append(a.nodes, nodeData{
		kind:   kind,
		token:  tok,
		text:   tok.Image,
		parent: none,
		first:  none,
		last:   none,
		prev:   none,
		next:   none,
	})
	return Node{a: a, id: len(a.nodes) - 1}
}

// NewRoot creates a root node.
func (a *Arena) NewRoot() Node {
	return a.add(Root, tokenizer.Token{Line: 1})
}

// NewNode creates a detached node for tok.
func (a *Arena) NewNode(kind Kind, tok tokenizer.Token) Node {
	return a.add(kind, tok)
}

// Len returns the number of nodes allocated.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// Node is a handle to a node in an arena. The zero Node is invalid.
type Node struct {
	a  *Arena
	id int
}

func (n Node) d() *nodeData {
	return &n.a.nodes[n.id]
}

// Valid reports whether n refers to a node.
func (n Node) Valid() bool {
	return n.a != nil && n.id >= 0 && n.id < len(n.a.nodes)
}

func (n Node) at(id int) Node {
	if id == none {
		return Node{}
	}
	return Node{a: n.a, id: id}
}

func (n Node) Kind() Kind                 { return n.d().kind }
func (n Node) Token() tokenizer.Token     { return n.d().token }
func (n Node) Line() int                  { return n.d().token.Line }
func (n Node) StartPos() int              { return n.d().token.StartPos }
func (n Node) Parent() Node               { return n.at(n.d().parent) }
func (n Node) FirstChild() Node           { return n.at(n.d().first) }
func (n Node) LastChild() Node            { return n.at(n.d().last) }
func (n Node) Next() Node                 { return n.at(n.d().next) }
func (n Node) Prev() Node                 { return n.at(n.d().prev) }
func (n Node) TagName() string            { return n.d().token.TagName }
func (n Node) Helpers() string            { return n.d().token.Helpers }
func (n Node) Image() string              { return n.d().token.Image }
func (n Node) EndToken() *tokenizer.Token { return n.d().end }

// Text returns the output text of a text node after whitespace control.
func (n Node) Text() string {
	return n.d().text
}

// SetText replaces the output text of a text node.
func (n Node) SetText(s string) {
	n.d().text = s
}

// Content returns the trimmed content of an expression or tag token.
func (n Node) Content() string {
	return n.d().token.Content
}

// SetEnd records the token that closed a tag node.
func (n Node) SetEnd(tok tokenizer.Token) {
	n.d().end = &tok
}

// Children returns the child nodes in order.
func (n Node) Children() []Node {
	var out []Node
	for c := n.FirstChild(); c.Valid(); c = c.Next() {
		out = append(out, c)
	}
	return out
}

// Append links child as the last child of n.
func (n Node) Append(child Node) {
	cd := child.d()
	cd.parent = n.id
	cd.next = none
	cd.prev = n.d().last
	if last := n.d().last; last != none {
		n.a.nodes[last].next = child.id
	} else {
		n.d().first = child.id
	}
	n.d().last = child.id
}

// Remove unlinks n from its parent and siblings.
func (n Node) Remove() {
	d := n.d()
	if d.prev != none {
		n.a.nodes[d.prev].next = d.next
	} else if d.parent != none {
		n.a.nodes[d.parent].first = d.next
	}
	if d.next != none {
		n.a.nodes[d.next].prev = d.prev
	} else if d.parent != none {
		n.a.nodes[d.parent].last = d.prev
	}
	d.parent, d.prev, d.next = none, none, none
}

// CloneInto deep-copies n and its descendants into dst, appending the copy
// under parent when parent is valid.
func (n Node) CloneInto(dst *Arena, parent Node) Node {
	src := n.d()
	c := dst.add(src.kind, src.token)
	c.d().text = src.text
	if src.end != nil {
		end := *src.end
		c.d().end = &end
	}
	if parent.Valid() {
		parent.Append(c)
	}
	for ch := n.FirstChild(); ch.Valid(); ch = ch.Next() {
		ch.CloneInto(dst, c)
	}
	return c
}

// Clone deep-copies n into a fresh arena.
func (n Node) Clone() Node {
	return n.CloneInto(NewArena(), Node{})
}

// Source reproduces the template text of n and its descendants, tags
// included.
func (n Node) Source() string {
	var b strings.Builder
	n.writeSource(&b)
	return b.String()
}

// ChildrenSource reproduces the template text of n's children only.
func (n Node) ChildrenSource() string {
	var b strings.Builder
	for c := n.FirstChild(); c.Valid(); c = c.Next() {
		c.writeSource(&b)
	}
	return b.String()
}

func (n Node) writeSource(b *strings.Builder) {
	d := n.d()
	switch d.kind {
	case Text:
		b.WriteString(d.text)
		return
	case Expression:
		b.WriteString(d.token.Image)
		return
	case Tag:
		b.WriteString(d.token.Image)
	}
	for c := n.FirstChild(); c.Valid(); c = c.Next() {
		c.writeSource(b)
	}
	if d.end != nil {
		b.WriteString(d.end.Image)
	}
}
