package stencil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tree"
)

// Tag is a block or statement tag such as if, for or include.
type Tag interface {
	// Name is the tag name as written after the opening delimiter.
	Name() string
	// EndTagName names the closing tag; "" makes the tag self-closing.
	EndTagName() string
	// Interpret renders the tag node. Returning an *el.DeferredSignal keeps
	// the tag's source in the output.
	Interpret(n tree.Node, i *Interpreter) (string, error)
}

// EagerTag is implemented by tags that reconstruct themselves around
// deferred values in eager execution mode.
type EagerTag interface {
	Tag
	InterpretEager(n tree.Node, i *Interpreter) (string, error)
}

// TagRegistry maps tag names to implementations. It implements
// tree.TagResolver.
type TagRegistry struct {
	mu   sync.RWMutex
	tags map[string]Tag
}

// NewTagRegistry creates an empty registry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{tags: map[string]Tag{}}
}

// Register adds or replaces a tag.
func (r *TagRegistry) Register(t Tag) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tag name cannot be empty")
	}
	if strings.HasPrefix(name, "end") {
		return fmt.Errorf("tag name %q is reserved for end tags", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[name] = t
	return nil
}

// Get looks a tag up by name.
func (r *TagRegistry) Get(name string) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tags[name]
	return t, ok
}

// ResolveTag implements tree.TagResolver.
func (r *TagRegistry) ResolveTag(name string) (tree.TagSpec, bool) {
	t, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return t, true
}

// Names returns the registered tag names, sorted.
func (r *TagRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tags))
	for name := range r.tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func registerBuiltinTags(r *TagRegistry) {
	for _, t := range []Tag{
		ifTag{name: "if"},
		ifTag{name: "unless", negate: true},
		elseTag("elif"),
		elseTag("else"),
		forTag{},
		setTag{},
		doTag{},
		printTag{},
		macroTag{},
		callTag{},
		importTag{},
		fromTag{},
		includeTag{},
		extendsTag{},
		blockTag{},
		rawTag{},
		autoescapeTag{},
	} {
		r.Register(t)
	}
}

// branch is a run of child nodes headed by a separator tag such as elif or
// else. The first branch of a tag has no head.
type branch struct {
	head  tree.Node
	nodes []tree.Node
}

func (b branch) is(name string) bool {
	return b.head.Valid() && b.head.TagName() == name
}

// splitBranches splits the direct children of n at tags named in seps.
func splitBranches(n tree.Node, seps ...string) []branch {
	out := []branch{{}}
	for _, c := range n.Children() {
		if c.Kind() == tree.Tag && contains(seps, c.TagName()) {
			out = append(out, branch{head: c})
			continue
		}
		last := &out[len(out)-1]
		last.nodes = append(last.nodes, c)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// splitTopLevel splits s at the first occurrence of sep that is outside
// quotes and brackets. ok is false when sep does not occur.
func splitTopLevel(s, sep string) (before, after string, ok bool) {
	if k := indexTopLevel(s, sep); k >= 0 {
		return strings.TrimSpace(s[:k]), strings.TrimSpace(s[k+len(sep):]), true
	}
	return strings.TrimSpace(s), "", false
}

func indexTopLevel(s, sep string) int {
	var quote byte
	depth := 0
	for k := 0; k < len(s); k++ {
		c := s[k]
		switch {
		case quote != 0:
			if c == '\\' {
				k++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case depth == 0 && strings.HasPrefix(s[k:], sep):
			return k
		}
	}
	return -1
}

// splitList splits a comma separated list at top level.
func splitList(s string) []string {
	var out []string
	for {
		before, after, ok := splitTopLevel(s, ",")
		if before != "" {
			out = append(out, before)
		}
		if !ok {
			return out
		}
		s = after
	}
}

// assignIndex finds the '=' of an assignment, skipping comparison
// operators.
func assignIndex(s string) int {
	var quote byte
	depth := 0
	for k := 0; k < len(s); k++ {
		c := s[k]
		switch {
		case quote != 0:
			if c == '\\' {
				k++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '=' && depth == 0:
			if k+1 < len(s) && s[k+1] == '=' {
				k++
				continue
			}
			if k > 0 && strings.IndexByte("=!<>", s[k-1]) >= 0 {
				continue
			}
			return k
		}
	}
	return -1
}

// isIdentifier reports whether s is a plain variable name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for k, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case k > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// parseTargets splits an assignment or loop target list into names.
func parseTargets(s string) ([]string, error) {
	names := splitList(strings.Trim(strings.TrimSpace(s), "()"))
	if len(names) == 0 {
		return nil, fmt.Errorf("missing target")
	}
	for _, n := range names {
		if !isIdentifier(n) {
			return nil, fmt.Errorf("invalid target %q", n)
		}
	}
	return names, nil
}

// elseTag is a branch separator. It is consumed by its enclosing tag and
// only reaches the interpreter when misplaced.
type elseTag string

func (t elseTag) Name() string       { return string(t) }
func (t elseTag) EndTagName() string { return "" }

func (t elseTag) Interpret(n tree.Node, i *Interpreter) (string, error) {
	return "", fmt.Errorf("%s outside of a block that accepts it", t)
}
