package stencil

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

// FilterRegistry maps filter names to implementations.
type FilterRegistry struct {
	mu      sync.RWMutex
	filters map[string]el.FilterFunc
}

// NewFilterRegistry creates an empty registry.
func NewFilterRegistry() *FilterRegistry {
	return &FilterRegistry{filters: map[string]el.FilterFunc{}}
}

// Register adds or replaces a filter.
func (r *FilterRegistry) Register(name string, f el.FilterFunc) error {
	if name == "" {
		return fmt.Errorf("filter name cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("filter %s has no implementation", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = f
	return nil
}

// Get looks a filter up by name.
func (r *FilterRegistry) Get(name string) (el.FilterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	return f, ok
}

// Names returns the registered filter names, sorted.
func (r *FilterRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.filters))
	for name := range r.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policies are safe for concurrent use once built.
var (
	stripPolicy    = bluemonday.StrictPolicy()
	sanitizePolicy = bluemonday.UGCPolicy()
)

// filterArg returns a keyword argument, else the positional one at idx,
// else def.
func filterArg(args []interface{}, kwargs map[string]interface{}, idx int, name string, def interface{}) interface{} {
	if v, ok := kwargs[name]; ok {
		return v
	}
	if idx < len(args) {
		return args[idx]
	}
	return def
}

func intArg(args []interface{}, kwargs map[string]interface{}, idx int, name string, def int) (int, error) {
	v := filterArg(args, kwargs, idx, name, def)
	if n, ok := el.ToInt64(v); ok {
		return int(n), nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %s", name, el.ToString(v))
	}
	return n, nil
}

func boolArg(args []interface{}, kwargs map[string]interface{}, idx int, name string) bool {
	return el.Truthy(filterArg(args, kwargs, idx, name, false))
}

func stringFilter(fn func(string) string) el.FilterFunc {
	return func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return fn(el.ToString(v)), nil
	}
}

func listOf(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	l, ok := el.ToList(v)
	if !ok {
		return nil, fmt.Errorf("expected a sequence, got %s", el.ToString(v))
	}
	return l, nil
}

// attrOf follows a dotted attribute path.
func attrOf(env el.Env, v interface{}, path string) (interface{}, error) {
	for _, name := range strings.Split(path, ".") {
		next, err := el.GetAttr(env.Options(), v, name)
		if err != nil {
			return nil, err
		}
		v = next
	}
	return v, nil
}

func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return s
	}
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func reverseString(s string) string {
	r := []rune(s)
	for a, b := 0, len(r)-1; a < b; a, b = a+1, b-1 {
		r[a], r[b] = r[b], r[a]
	}
	return string(r)
}

// compareValues orders mixed values, falling back to their string forms
// when they do not compare.
func compareValues(a, b interface{}, caseSensitive bool) int {
	if !caseSensitive {
		if sa, ok := a.(string); ok {
			if sb, ok := b.(string); ok {
				return strings.Compare(strings.ToLower(sa), strings.ToLower(sb))
			}
		}
	}
	if c, ok, err := el.Compare(a, b); err == nil && ok {
		return c
	}
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(el.ToString(a), el.ToString(b))
}

func sortFilter(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	reverse := boolArg(args, kwargs, 0, "reverse")
	caseSensitive := boolArg(args, kwargs, 1, "case_sensitive")
	attribute := el.ToString(filterArg(args, kwargs, 2, "attribute", ""))

	keys := make([]interface{}, len(items))
	for k, item := range items {
		keys[k] = item
		if attribute != "" {
			if keys[k], err = attrOf(env, item, attribute); err != nil {
				return nil, err
			}
		}
	}
	idx := make([]int, len(items))
	for k := range idx {
		idx[k] = k
	}
	sort.SliceStable(idx, func(a, b int) bool {
		c := compareValues(keys[idx[a]], keys[idx[b]], caseSensitive)
		if reverse {
			return c > 0
		}
		return c < 0
	})
	out := make([]interface{}, len(items))
	for k, from := range idx {
		out[k] = items[from]
	}
	return out, nil
}

func dictsortFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	m, ok := el.ToMap(v)
	if !ok {
		return nil, fmt.Errorf("dictsort expects a mapping, got %s", el.ToString(v))
	}
	caseSensitive := boolArg(args, kwargs, 0, "case_sensitive")
	by := el.ToString(filterArg(args, kwargs, 1, "by", "key"))
	reverse := boolArg(args, kwargs, 2, "reverse")
	if by != "key" && by != "value" {
		return nil, fmt.Errorf("dictsort can sort by key or value, not %s", by)
	}

	keys := el.SortedKeys(m)
	sort.SliceStable(keys, func(a, b int) bool {
		var c int
		if by == "value" {
			c = compareValues(m[keys[a]], m[keys[b]], caseSensitive)
		} else {
			c = compareValues(keys[a], keys[b], caseSensitive)
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	out := make([]interface{}, len(keys))
	for k, key := range keys {
		out[k] = []interface{}{key, m[key]}
	}
	return out, nil
}

func defaultFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	def := filterArg(args, kwargs, 0, "default_value", "")
	if v == nil || (boolArg(args, kwargs, 1, "boolean") && !el.Truthy(v)) {
		return def, nil
	}
	return v, nil
}

func joinFilter(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	sep := el.ToString(filterArg(args, kwargs, 0, "d", ""))
	attribute := el.ToString(filterArg(args, kwargs, 1, "attribute", ""))
	parts := make([]string, len(items))
	for k, item := range items {
		if attribute != "" {
			if item, err = attrOf(env, item, attribute); err != nil {
				return nil, err
			}
		}
		parts[k] = el.ToString(item)
	}
	return strings.Join(parts, sep), nil
}

func replaceFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("replace expects old and new strings")
	}
	count, err := intArg(args, kwargs, 2, "count", -1)
	if err != nil {
		return nil, err
	}
	return strings.Replace(el.ToString(v), el.ToString(args[0]), el.ToString(args[1]), count), nil
}

func firstFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		r := []rune(s)
		if len(r) == 0 {
			return nil, nil
		}
		return string(r[0]), nil
	}
	items, err := listOf(v)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func lastFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		r := []rune(s)
		if len(r) == 0 {
			return nil, nil
		}
		return string(r[len(r)-1]), nil
	}
	items, err := listOf(v)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[len(items)-1], nil
}

func reverseFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return reverseString(s), nil
	}
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(items))
	for k, item := range items {
		out[len(items)-1-k] = item
	}
	return out, nil
}

func intFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if n, ok := el.ToInt64(v); ok {
		return n, nil
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return n, nil
	}
	return filterArg(args, kwargs, 0, "default", int64(0)), nil
}

func floatFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if f, ok := el.ToFloat64(v); ok {
		return f, nil
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return f, nil
	}
	return filterArg(args, kwargs, 0, "default", 0.0), nil
}

func absFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	if !el.IsNumber(v) {
		return nil, fmt.Errorf("abs expects a number, got %s", el.ToString(v))
	}
	if c, ok, err := el.Compare(v, int64(0)); err == nil && ok && c < 0 {
		return el.UnaryOp("-", v)
	}
	return v, nil
}

// roundFilter rounds with decimal arithmetic so that 2.675 rounds to 2.68.
func roundFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if !el.IsNumber(v) {
		f, ok := el.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("round expects a number, got %s", el.ToString(v))
		}
		v = f
	}
	precision, err := intArg(args, kwargs, 0, "precision", 0)
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(el.FormatNumber(v))
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	p := int32(precision)
	switch method := el.ToString(filterArg(args, kwargs, 1, "method", "common")); method {
	case "common":
		d = d.Round(p)
	case "ceil":
		d = d.RoundCeil(p)
	case "floor":
		d = d.RoundFloor(p)
	default:
		return nil, fmt.Errorf("round method must be common, ceil or floor, not %s", method)
	}
	return d.InexactFloat64(), nil
}

func tojsonFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tojson: %w", err)
	}
	return el.SafeString(b), nil
}

// normalizeDecoded turns decoded JSON or YAML into template values.
func normalizeDecoded(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if n, ok := el.ParseNumber(x.String()); ok {
			return n
		}
		return x.String()
	case int:
		return int64(x)
	case map[string]interface{}:
		for k, e := range x {
			x[k] = normalizeDecoded(e)
		}
		return x
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[el.ToString(k)] = normalizeDecoded(e)
		}
		return out
	case []interface{}:
		for k, e := range x {
			x[k] = normalizeDecoded(e)
		}
		return x
	}
	return v
}

func fromjsonFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(el.ToString(v)))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("fromjson: %w", err)
	}
	return normalizeDecoded(out), nil
}

func toyamlFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("toyaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("toyaml: %w", err)
	}
	return buf.String(), nil
}

func fromyamlFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	var out interface{}
	if err := yaml.Unmarshal([]byte(el.ToString(v)), &out); err != nil {
		return nil, fmt.Errorf("fromyaml: %w", err)
	}
	return normalizeDecoded(out), nil
}

func striptagsFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	text := html.UnescapeString(stripPolicy.Sanitize(el.ToString(v)))
	return strings.Join(strings.Fields(text), " "), nil
}

func sanitizeFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	return el.SafeString(sanitizePolicy.Sanitize(el.ToString(v))), nil
}

func escapeFilter(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	if s, ok := v.(el.SafeString); ok {
		return s, nil
	}
	return el.SafeString(html.EscapeString(el.ToString(v))), nil
}

func sumFilter(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	attribute := el.ToString(filterArg(args, kwargs, 0, "attribute", ""))
	acc := filterArg(args, kwargs, 1, "start", int64(0))
	for _, item := range items {
		if attribute != "" {
			if item, err = attrOf(env, item, attribute); err != nil {
				return nil, err
			}
		}
		if acc, err = el.BinaryOp("+", acc, item); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func uniqueFilter(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	attribute := el.ToString(filterArg(args, kwargs, 0, "attribute", ""))
	var out, seen []interface{}
	for _, item := range items {
		key := item
		if attribute != "" {
			if key, err = attrOf(env, item, attribute); err != nil {
				return nil, err
			}
		}
		dup := false
		for _, s := range seen {
			if el.Equal(s, key) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, key)
			out = append(out, item)
		}
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}

// mapFilter applies a filter to each item, or picks an attribute:
// users|map('upper') or users|map(attribute='name').
func mapFilter(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(items))
	if a, ok := kwargs["attribute"]; ok {
		for k, item := range items {
			if out[k], err = attrOf(env, item, el.ToString(a)); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("map expects a filter name or attribute")
	}
	name := el.ToString(args[0])
	f, ok := env.Filter(name)
	if !ok {
		return nil, fmt.Errorf("unknown filter %s", name)
	}
	for k, item := range items {
		if out[k], err = f(env, item, args[1:], kwargs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// selectFilter keeps (or with keep false drops) items passing a test. With
// byAttr the first argument names the attribute to test.
func selectFilter(keep, byAttr bool) el.FilterFunc {
	return func(env el.Env, v interface{}, args []interface{}, _ map[string]interface{}) (interface{}, error) {
		items, err := listOf(v)
		if err != nil {
			return nil, err
		}
		attribute := ""
		if byAttr {
			if len(args) == 0 {
				return nil, fmt.Errorf("missing attribute name")
			}
			attribute, args = el.ToString(args[0]), args[1:]
		}
		var test el.TestFunc
		if len(args) > 0 {
			name := el.ToString(args[0])
			t, ok := env.Test(name)
			if !ok {
				return nil, fmt.Errorf("unknown test %s", name)
			}
			test, args = t, args[1:]
		}

		out := []interface{}{}
		for _, item := range items {
			subject := item
			if attribute != "" {
				if subject, err = attrOf(env, item, attribute); err != nil {
					return nil, err
				}
			}
			pass := el.Truthy(subject)
			if test != nil {
				if pass, err = test(env, subject, args); err != nil {
					return nil, err
				}
			}
			if pass == keep {
				out = append(out, item)
			}
		}
		return out, nil
	}
}

func batchFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	items, err := listOf(v)
	if err != nil {
		return nil, err
	}
	size, err := intArg(args, kwargs, 0, "linecount", 0)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	fill, hasFill := kwargs["fill_with"]
	if !hasFill && len(args) > 1 {
		fill, hasFill = args[1], true
	}

	out := []interface{}{}
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		row := append([]interface{}(nil), items[start:end]...)
		for hasFill && len(row) < size {
			row = append(row, fill)
		}
		out = append(out, row)
	}
	return out, nil
}

func truncateFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	length, err := intArg(args, kwargs, 0, "length", 255)
	if err != nil {
		return nil, err
	}
	killwords := boolArg(args, kwargs, 1, "killwords")
	end := el.ToString(filterArg(args, kwargs, 2, "end", "..."))

	s := el.ToString(v)
	r := []rune(s)
	if length < 0 || len(r) <= length {
		return s, nil
	}
	cut := string(r[:length])
	if !killwords {
		if k := strings.LastIndex(cut, " "); k > 0 {
			cut = cut[:k]
		}
	}
	return cut + end, nil
}

func extremeFilter(want int) el.FilterFunc {
	return func(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		items, err := listOf(v)
		if err != nil || len(items) == 0 {
			return nil, err
		}
		caseSensitive := boolArg(args, kwargs, 0, "case_sensitive")
		attribute := el.ToString(filterArg(args, kwargs, 1, "attribute", ""))
		var best, bestKey interface{}
		for k, item := range items {
			key := item
			if attribute != "" {
				if key, err = attrOf(env, item, attribute); err != nil {
					return nil, err
				}
			}
			if k == 0 || compareValues(key, bestKey, caseSensitive)*want > 0 {
				best, bestKey = item, key
			}
		}
		return best, nil
	}
}

func registerBuiltinFilters(r *FilterRegistry) {
	filters := map[string]el.FilterFunc{
		"upper":      stringFilter(strings.ToUpper),
		"lower":      stringFilter(strings.ToLower),
		"capitalize": stringFilter(capitalize),
		"title":      stringFilter(el.TitleCase),
		"trim":       stringFilter(strings.TrimSpace),
		"slugify":    stringFilter(func(s string) string { return slug.Make(s) }),
		"urlencode":  stringFilter(url.QueryEscape),
		"string": func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			return el.ToString(v), nil
		},
		"safe": func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			return el.SafeString(el.ToString(v)), nil
		},
		"length": func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			n, _ := el.Length(v)
			return int64(n), nil
		},
		"wordcount": func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			return int64(len(strings.Fields(el.ToString(v)))), nil
		},
		"list": func(_ el.Env, v interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			return listOf(v)
		},
		"split": func(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			s := el.ToString(v)
			var parts []string
			if sep := el.ToString(filterArg(args, kwargs, 0, "separator", "")); sep == "" {
				parts = strings.Fields(s)
			} else {
				parts = strings.Split(s, sep)
			}
			out := make([]interface{}, len(parts))
			for k, p := range parts {
				out[k] = p
			}
			return out, nil
		},
		"attr": func(env el.Env, v interface{}, args []interface{}, _ map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("attr expects an attribute name")
			}
			return el.GetAttr(env.Options(), v, el.ToString(args[0]))
		},
		"default":    defaultFilter,
		"join":       joinFilter,
		"escape":     escapeFilter,
		"replace":    replaceFilter,
		"first":      firstFilter,
		"last":       lastFilter,
		"reverse":    reverseFilter,
		"sort":       sortFilter,
		"dictsort":   dictsortFilter,
		"int":        intFilter,
		"float":      floatFilter,
		"abs":        absFilter,
		"round":      roundFilter,
		"tojson":     tojsonFilter,
		"fromjson":   fromjsonFilter,
		"toyaml":     toyamlFilter,
		"fromyaml":   fromyamlFilter,
		"striptags":  striptagsFilter,
		"sanitize":   sanitizeFilter,
		"sum":        sumFilter,
		"unique":     uniqueFilter,
		"map":        mapFilter,
		"select":     selectFilter(true, false),
		"reject":     selectFilter(false, false),
		"selectattr": selectFilter(true, true),
		"rejectattr": selectFilter(false, true),
		"batch":      batchFilter,
		"truncate":   truncateFilter,
		"min":        extremeFilter(-1),
		"max":        extremeFilter(1),

		"format":         formatFilter,
		"filesizeformat": filesizeformatFilter,
		"datetimeformat": datetimeformatFilter,
	}
	for name, f := range filters {
		_ = r.Register(name, f)
	}
	for alias, name := range map[string]string{"d": "default", "e": "escape", "count": "length"} {
		_ = r.Register(alias, filters[name])
	}
}
