package el

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// SafeString is text that must not be escaped again on output.
type SafeString string

func (s SafeString) String() string {
	return string(s)
}

// DeferredValue marks a binding whose value is intentionally unknown during
// the current render pass. It is distinct from nil and from an absent key.
type DeferredValue struct {
	original interface{}
	has      bool
}

// Deferred returns a deferred marker without an original value.
func Deferred() *DeferredValue {
	return &DeferredValue{}
}

// DeferredOf returns a deferred marker remembering v.
func DeferredOf(v interface{}) *DeferredValue {
	if d, ok := v.(*DeferredValue); ok {
		return d
	}
	return &DeferredValue{original: v, has: true}
}

// Original returns the value the marker replaced, if any.
func (d *DeferredValue) Original() (interface{}, bool) {
	return d.original, d.has
}

func (d *DeferredValue) String() string {
	return "<deferred>"
}

// IsDeferred reports whether v is a DeferredValue.
func IsDeferred(v interface{}) bool {
	_, ok := v.(*DeferredValue)
	return ok
}

// DeferredSignal is returned instead of a value when evaluation reached a
// deferred binding. Text holds the expression to emit in place of the
// result: the original source outside eager mode, or the partially
// evaluated reconstruction in eager mode.
type DeferredSignal struct {
	Text string
	// Words are names the reconstruction still refers to that were not
	// themselves deferred; callers hoist their current values.
	Words []string
	// Deferred are the deferred names encountered.
	Deferred []string
}

func (s *DeferredSignal) Error() string {
	return "deferred: " + s.Text
}

// AsDeferred extracts a DeferredSignal from err.
func AsDeferred(err error) (*DeferredSignal, bool) {
	var sig *DeferredSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}

// Truthy applies template truthiness: empty strings, zero numbers, empty
// containers, false and none are false.
func Truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case SafeString:
		return x != ""
	case *DeferredValue:
		return false
	}
	if n, ok := asNumber(v); ok {
		return !n.isZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ToString converts a value to its rendered text.
func ToString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case SafeString:
		return string(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case *DeferredValue:
		if o, ok := x.Original(); ok {
			return ToString(o)
		}
		return ""
	case fmt.Stringer:
		if !IsNumber(v) {
			return x.String()
		}
	case error:
		return x.Error()
	}
	if IsNumber(v) {
		return FormatNumber(v)
	}
	if s, ok := Repr(v); ok {
		return s
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// Repr renders v as an expression literal that evaluates back to an equal
// value. The second result is false when no literal form exists.
func Repr(v interface{}) (string, bool) {
	var b strings.Builder
	if !writeRepr(&b, v) {
		return "", false
	}
	return b.String(), true
}

func writeRepr(b *strings.Builder, v interface{}) bool {
	switch x := v.(type) {
	case nil:
		b.WriteString("none")
		return true
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return true
	case string:
		writeQuoted(b, x)
		return true
	case SafeString:
		writeQuoted(b, string(x))
		return true
	case *big.Int, decimal.Decimal:
		b.WriteString(FormatNumber(x))
		return true
	case *DeferredValue:
		return false
	}
	if IsNumber(v) {
		b.WriteString(FormatNumber(v))
		return true
	}
	if m, ok := ToMap(v); ok {
		b.WriteByte('{')
		for i, k := range SortedKeys(m) {
			if i > 0 {
				b.WriteString(", ")
			}
			writeQuoted(b, k)
			b.WriteString(": ")
			if !writeRepr(b, m[k]) {
				return false
			}
		}
		b.WriteByte('}')
		return true
	}
	if l, ok := asSlice(v); ok {
		b.WriteByte('[')
		for i, e := range l {
			if i > 0 {
				b.WriteString(", ")
			}
			if !writeRepr(b, e) {
				return false
			}
		}
		b.WriteByte(']')
		return true
	}
	return false
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
}

// Quote returns s as a single-quoted string literal.
func Quote(s string) string {
	var b strings.Builder
	writeQuoted(&b, s)
	return b.String()
}

// ToMap converts string-keyed maps of any type to map[string]interface{}.
func ToMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[cast.ToString(iter.Key().Interface())] = iter.Value().Interface()
	}
	return out, true
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case nil, string, SafeString:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// ToList converts a value to a list for iteration: slices as-is, maps as
// their sorted keys, strings as their characters.
func ToList(v interface{}) ([]interface{}, bool) {
	if l, ok := asSlice(v); ok {
		return l, true
	}
	switch x := v.(type) {
	case string:
		return stringChars(x), true
	case SafeString:
		return stringChars(string(x)), true
	}
	if m, ok := ToMap(v); ok {
		keys := SortedKeys(m)
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, true
	}
	return nil, false
}

func stringChars(s string) []interface{} {
	out := make([]interface{}, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Length returns the size of strings and containers.
func Length(v interface{}) (int, bool) {
	switch x := v.(type) {
	case string:
		return len([]rune(x)), true
	case SafeString:
		return len([]rune(string(x))), true
	case nil:
		return 0, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	}
	return 0, false
}
