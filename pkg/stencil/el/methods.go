package el

import (
	"reflect"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

func (o Options) accessors() *Accessors {
	if o.Accessors != nil {
		return o.Accessors
	}
	return DefaultAccessors
}

// GetAttr resolves obj.name. Missing properties yield nil.
func GetAttr(opts Options, obj interface{}, name string) (interface{}, error) {
	switch x := obj.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return x[name], nil
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map {
		if m, ok := ToMap(obj); ok {
			return m[name], nil
		}
	}
	v, _, err := opts.accessors().Property(obj, name, opts.SnakeCaseProperties)
	return v, err
}

// GetIndex resolves obj[key].
func GetIndex(opts Options, obj, key interface{}) (interface{}, error) {
	if obj == nil {
		return nil, nil
	}
	if s, ok := isStringLike(obj); ok {
		i, ok := ToInt64(key)
		if !ok {
			return nil, typeErrorf("string indices must be integers")
		}
		r := []rune(s)
		if idx, ok := normIndex(int(i), len(r)); ok {
			return string(r[idx]), nil
		}
		return nil, nil
	}
	if l, ok := asSlice(obj); ok {
		i, ok := ToInt64(key)
		if !ok {
			return nil, typeErrorf("list indices must be integers, not %s", typeName(key))
		}
		if idx, ok := normIndex(int(i), len(l)); ok {
			return l[idx], nil
		}
		return nil, nil
	}
	return GetAttr(opts, obj, ToString(key))
}

func normIndex(i, n int) (int, bool) {
	if i < 0 {
		i += n
	}
	return i, i >= 0 && i < n
}

// GetSlice resolves obj[start:stop:step] on strings and lists.
func GetSlice(obj, start, stop, step interface{}) (interface{}, error) {
	if obj == nil {
		return nil, nil
	}
	st := int64(1)
	if step != nil {
		var ok bool
		if st, ok = ToInt64(step); !ok || st == 0 {
			return nil, typeErrorf("slice step must be a non-zero integer")
		}
	}
	if s, ok := isStringLike(obj); ok {
		r := []rune(s)
		items := make([]interface{}, len(r))
		for i, c := range r {
			items[i] = c
		}
		picked, err := sliceItems(items, start, stop, st)
		if err != nil {
			return nil, err
		}
		out := make([]rune, len(picked))
		for i, c := range picked {
			out[i] = c.(rune)
		}
		return string(out), nil
	}
	l, ok := asSlice(obj)
	if !ok {
		return nil, typeErrorf("cannot slice %s", typeName(obj))
	}
	return sliceItems(l, start, stop, st)
}

func sliceItems(l []interface{}, start, stop interface{}, step int64) ([]interface{}, error) {
	n := int64(len(l))
	bound := func(v interface{}, def int64) (int64, error) {
		if v == nil {
			return def, nil
		}
		i, ok := ToInt64(v)
		if !ok {
			return 0, typeErrorf("slice indices must be integers")
		}
		if i < 0 {
			i += n
		}
		return i, nil
	}
	clamp := func(i, lo, hi int64) int64 {
		if i < lo {
			return lo
		}
		if i > hi {
			return hi
		}
		return i
	}

	var out []interface{}
	if step > 0 {
		lo, err := bound(start, 0)
		if err != nil {
			return nil, err
		}
		hi, err := bound(stop, n)
		if err != nil {
			return nil, err
		}
		for i := clamp(lo, 0, n); i < clamp(hi, 0, n); i += step {
			out = append(out, l[i])
		}
		return append([]interface{}{}, out...), nil
	}
	hi, err := bound(start, n-1)
	if err != nil {
		return nil, err
	}
	lo, err := bound(stop, -1)
	if err != nil {
		return nil, err
	}
	for i := clamp(hi, -1, n-1); i > clamp(lo, -1, n-1); i += step {
		out = append(out, l[i])
	}
	return append([]interface{}{}, out...), nil
}

// CallMethod invokes obj.name(args). Callables stored in maps are called
// directly; strings, lists and dicts expose a small set of methods; other
// values go through the accessor registry.
func CallMethod(env Env, opts Options, obj interface{}, name string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if m, ok := obj.(map[string]interface{}); ok {
		if c, ok := m[name].(Callable); ok {
			return c.Call(env, args, kwargs)
		}
	}
	if s, ok := isStringLike(obj); ok {
		if v, handled, err := stringMethod(s, name, args); handled {
			return v, err
		}
	}
	if m, ok := obj.(map[string]interface{}); ok {
		if v, handled, err := dictMethod(m, name, args); handled {
			return v, err
		}
	}
	if l, ok := asSlice(obj); ok {
		if v, handled, err := listMethod(l, name, args); handled {
			return v, err
		}
	}
	if obj != nil {
		if m, ok := opts.accessors().Method(obj, name, opts.SnakeCaseProperties); ok {
			return callReflect(m, args)
		}
		if c, ok := obj.(Callable); ok && name == "__call__" {
			return c.Call(env, args, kwargs)
		}
	}
	return nil, unknownf(tmplerr.ReasonUnknownFunction, "%s has no method %q", typeName(obj), name)
}

func argString(args []interface{}, i int, def string) string {
	if i < len(args) {
		return ToString(args[i])
	}
	return def
}

func stringMethod(s, name string, args []interface{}) (interface{}, bool, error) {
	switch name {
	case "upper":
		return strings.ToUpper(s), true, nil
	case "lower":
		return strings.ToLower(s), true, nil
	case "strip":
		if len(args) > 0 {
			return strings.Trim(s, argString(args, 0, "")), true, nil
		}
		return strings.TrimSpace(s), true, nil
	case "lstrip":
		if len(args) > 0 {
			return strings.TrimLeft(s, argString(args, 0, "")), true, nil
		}
		return strings.TrimLeftFunc(s, isSpace), true, nil
	case "rstrip":
		if len(args) > 0 {
			return strings.TrimRight(s, argString(args, 0, "")), true, nil
		}
		return strings.TrimRightFunc(s, isSpace), true, nil
	case "startswith":
		return strings.HasPrefix(s, argString(args, 0, "")), true, nil
	case "endswith":
		return strings.HasSuffix(s, argString(args, 0, "")), true, nil
	case "replace":
		if len(args) < 2 {
			return nil, true, typeErrorf("replace expects 2 arguments")
		}
		return strings.ReplaceAll(s, ToString(args[0]), ToString(args[1])), true, nil
	case "split":
		var parts []string
		if len(args) == 0 {
			parts = strings.Fields(s)
		} else {
			parts = strings.Split(s, ToString(args[0]))
		}
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, true, nil
	case "find":
		return int64(strings.Index(s, argString(args, 0, ""))), true, nil
	case "count":
		return int64(strings.Count(s, argString(args, 0, ""))), true, nil
	case "join":
		if len(args) == 0 {
			return nil, true, typeErrorf("join expects 1 argument")
		}
		l, ok := ToList(args[0])
		if !ok {
			return nil, true, typeErrorf("join expects a list")
		}
		parts := make([]string, len(l))
		for i, e := range l {
			parts[i] = ToString(e)
		}
		return strings.Join(parts, s), true, nil
	case "capitalize":
		if s == "" {
			return s, true, nil
		}
		r := []rune(strings.ToLower(s))
		return strings.ToUpper(string(r[0])) + string(r[1:]), true, nil
	case "title":
		return titleCase(s), true, nil
	case "isdigit":
		if s == "" {
			return false, true, nil
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false, true, nil
			}
		}
		return true, true, nil
	}
	return nil, false, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// titleCase upper-cases the first letter of every word.
func titleCase(s string) string {
	r := []rune(s)
	start := true
	for i, c := range r {
		switch {
		case isSpace(c) || c == '-' || c == '_':
			start = true
		case start:
			r[i] = []rune(strings.ToUpper(string(c)))[0]
			start = false
		default:
			r[i] = []rune(strings.ToLower(string(c)))[0]
		}
	}
	return string(r)
}

// TitleCase is exported for filters.
func TitleCase(s string) string {
	return titleCase(s)
}

func dictMethod(m map[string]interface{}, name string, args []interface{}) (interface{}, bool, error) {
	switch name {
	case "keys":
		keys := SortedKeys(m)
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, true, nil
	case "values":
		keys := SortedKeys(m)
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = m[k]
		}
		return out, true, nil
	case "items":
		keys := SortedKeys(m)
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = []interface{}{k, m[k]}
		}
		return out, true, nil
	case "get":
		if len(args) == 0 {
			return nil, true, typeErrorf("get expects a key")
		}
		if v, ok := m[ToString(args[0])]; ok {
			return v, true, nil
		}
		if len(args) > 1 {
			return args[1], true, nil
		}
		return nil, true, nil
	case "update":
		if len(args) == 0 {
			return nil, true, nil
		}
		other, ok := ToMap(args[0])
		if !ok {
			return nil, true, typeErrorf("update expects a dict")
		}
		for k, v := range other {
			m[k] = v
		}
		return nil, true, nil
	case "put":
		if len(args) < 2 {
			return nil, true, typeErrorf("put expects a key and a value")
		}
		prev := m[ToString(args[0])]
		m[ToString(args[0])] = args[1]
		return prev, true, nil
	case "pop":
		if len(args) == 0 {
			return nil, true, typeErrorf("pop expects a key")
		}
		k := ToString(args[0])
		v, ok := m[k]
		if !ok && len(args) > 1 {
			return args[1], true, nil
		}
		delete(m, k)
		return v, true, nil
	}
	return nil, false, nil
}

func listMethod(l []interface{}, name string, args []interface{}) (interface{}, bool, error) {
	switch name {
	case "index":
		if len(args) == 0 {
			return nil, true, typeErrorf("index expects a value")
		}
		for i, e := range l {
			if Equal(e, args[0]) {
				return int64(i), true, nil
			}
		}
		return int64(-1), true, nil
	case "count":
		if len(args) == 0 {
			return nil, true, typeErrorf("count expects a value")
		}
		n := 0
		for _, e := range l {
			if Equal(e, args[0]) {
				n++
			}
		}
		return int64(n), true, nil
	}
	return nil, false, nil
}
