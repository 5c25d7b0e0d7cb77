package tree

import (
	"strings"
	"unicode"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tokenizer"
)

// TagSpec describes how the builder treats a tag. An empty EndTagName makes
// the tag self-closing.
type TagSpec interface {
	EndTagName() string
}

// BlockChooser is implemented by tags that only sometimes have a body, such
// as set, which is inline with an assignment and a block without one.
type BlockChooser interface {
	HasBody(tok tokenizer.Token) bool
}

// TagResolver looks tags up by name.
type TagResolver interface {
	ResolveTag(name string) (TagSpec, bool)
}

// Options control tree building.
type Options struct {
	Symbols tokenizer.Symbols
	// TrimBlocks removes the first newline after a tag.
	TrimBlocks bool
	// LStripBlocks strips spaces and tabs from the start of a line up to a tag.
	LStripBlocks bool
	// StrictWhitespace only honours a trim marker on an expression when it is
	// separated from the expression by whitespace, so {{-1}} prints -1.
	StrictWhitespace bool
}

// DefaultOptions returns options with the default delimiters.
func DefaultOptions() Options {
	return Options{Symbols: tokenizer.DefaultSymbols()}
}

// Tree is the result of a build.
type Tree struct {
	Root   Node
	Source string
	Errors tmplerr.List
}

type builder struct {
	sc       *tokenizer.Scanner
	unread   []tokenizer.Token
	arena    *Arena
	resolver TagResolver
	opts     Options
	errs     tmplerr.List

	// open end-tag names, outermost first
	ends []string

	lastText   Node
	trimNext   bool
	stripNewln bool
}

// Build tokenizes src and assembles the node tree. Structural problems are
// recorded on the returned tree rather than aborting the build.
func Build(src string, resolver TagResolver, opts Options) *Tree {
	if opts.Symbols.ExprStart == "" {
		opts.Symbols = tokenizer.DefaultSymbols()
	}
	b := &builder{
		sc:       tokenizer.NewScanner(src, opts.Symbols),
		arena:    NewArena(),
		resolver: resolver,
		opts:     opts,
	}
	root := b.arena.NewRoot()
	b.children(root, "", tokenizer.Token{})
	return &Tree{Root: root, Source: src, Errors: b.errs}
}

func (b *builder) next() (tokenizer.Token, bool) {
	if n := len(b.unread); n > 0 {
		tok := b.unread[n-1]
		b.unread = b.unread[:n-1]
		return tok, true
	}
	return b.sc.Next()
}

func (b *builder) push(tok tokenizer.Token) {
	b.unread = append(b.unread, tok)
}

// children collects nodes under parent until the end tag named end is
// found. It reports whether the end tag was seen.
func (b *builder) children(parent Node, end string, open tokenizer.Token) bool {
	for {
		tok, ok := b.next()
		if !ok {
			if end != "" {
				b.errs = append(b.errs, tmplerr.Syntax(tmplerr.ReasonMissingEndTag, open.Line, open.StartPos,
					"missing %s for tag %s", end, open.TagName))
			}
			return false
		}

		switch tok.Kind {
		case tokenizer.Text:
			if tok.Unclosed {
				b.errs = append(b.errs, tmplerr.Syntax(tmplerr.ReasonUnterminatedBlock, tok.Line, tok.StartPos,
					"unterminated block %q", abbreviate(tok.Image)))
			}
			b.text(parent, tok)
		case tokenizer.Note:
			b.before(tok)
			b.after(tok, true)
		case tokenizer.Expression:
			tok = b.normalizeTrim(tok)
			b.before(tok)
			parent.Append(b.arena.NewNode(Expression, tok))
			b.after(tok, false)
		case tokenizer.Tag:
			if end != "" && tok.TagName == end {
				b.before(tok)
				parent.SetEnd(tok)
				b.after(tok, true)
				return true
			}
			if b.closesAncestor(tok.TagName) {
				b.errs = append(b.errs, tmplerr.Syntax(tmplerr.ReasonMissingEndTag, open.Line, open.StartPos,
					"missing %s for tag %s", end, open.TagName))
				b.push(tok)
				return false
			}
			b.tag(parent, tok)
		}
	}
}

func (b *builder) tag(parent Node, tok tokenizer.Token) {
	b.before(tok)
	b.after(tok, true)

	if tok.TagName == "" {
		b.errs = append(b.errs, tmplerr.Syntax(tmplerr.ReasonUnexpectedToken, tok.Line, tok.StartPos,
			"empty tag %q", tok.Image))
		return
	}
	spec, ok := b.resolver.ResolveTag(tok.TagName)
	if !ok {
		if strings.HasPrefix(tok.TagName, "end") {
			b.errs = append(b.errs, tmplerr.Syntax(tmplerr.ReasonUnexpectedToken, tok.Line, tok.StartPos,
				"unexpected end tag %s", tok.TagName))
			return
		}
		b.errs = append(b.errs, tmplerr.Syntax(tmplerr.ReasonUnknownTag, tok.Line, tok.StartPos,
			"unknown tag %s", tok.TagName))
		return
	}

	n := b.arena.NewNode(Tag, tok)
	parent.Append(n)

	end := spec.EndTagName()
	if chooser, ok := spec.(BlockChooser); ok && !chooser.HasBody(tok) {
		end = ""
	}
	if end == "" {
		return
	}
	b.ends = append(b.ends, end)
	b.children(n, end, tok)
	b.ends = b.ends[:len(b.ends)-1]
}

// closesAncestor reports whether name ends a block opened further out.
func (b *builder) closesAncestor(name string) bool {
	for i := len(b.ends) - 2; i >= 0; i-- {
		if b.ends[i] == name {
			return true
		}
	}
	return false
}

func (b *builder) text(parent Node, tok tokenizer.Token) {
	n := b.arena.NewNode(Text, tok)
	s := tok.Image
	switch {
	case b.trimNext:
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
	case b.stripNewln:
		if strings.HasPrefix(s, "\r\n") {
			s = s[2:]
		} else if strings.HasPrefix(s, "\n") {
			s = s[1:]
		}
	}
	b.trimNext, b.stripNewln = false, false
	n.SetText(s)
	parent.Append(n)
	b.lastText = n
}

// before applies whitespace control to the text preceding tok.
func (b *builder) before(tok tokenizer.Token) {
	prev := b.lastText
	b.lastText = Node{}
	if !prev.Valid() || prev.Next().Valid() {
		return
	}
	if tok.LeftTrim {
		prev.SetText(strings.TrimRightFunc(prev.Text(), unicode.IsSpace))
		return
	}
	if b.opts.LStripBlocks && tok.Kind != tokenizer.Expression {
		s := prev.Text()
		i := strings.LastIndexByte(s, '\n') + 1
		atLineStart := i > 0 || (!prev.Prev().Valid() && prev.Parent().Kind() == Root)
		if atLineStart && strings.Trim(s[i:], " \t") == "" {
			prev.SetText(s[:i])
		}
	}
}

// after records the whitespace control tok imposes on the following text.
func (b *builder) after(tok tokenizer.Token, block bool) {
	b.trimNext = tok.RightTrim
	b.stripNewln = block && b.opts.TrimBlocks
}

// normalizeTrim undoes trim markers that are really part of the expression
// under strict whitespace rules.
func (b *builder) normalizeTrim(tok tokenizer.Token) tokenizer.Token {
	if !b.opts.StrictWhitespace || b.opts.Symbols.Trim == 0 {
		return tok
	}
	open, cls := b.opts.Symbols.ExprStart, b.opts.Symbols.ExprEnd
	body := tok.Image[len(open) : len(tok.Image)-len(cls)]
	marker := string(b.opts.Symbols.Trim)
	if tok.LeftTrim && len(body) > 1 && !unicode.IsSpace(rune(body[1])) {
		tok.LeftTrim = false
		tok.Content = marker + tok.Content
	}
	if tok.RightTrim && len(body) > 1 && !unicode.IsSpace(rune(body[len(body)-2])) {
		tok.RightTrim = false
		tok.Content += marker
	}
	return tok
}

func abbreviate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
