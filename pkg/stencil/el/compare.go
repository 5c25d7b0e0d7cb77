package el

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

func isStringLike(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case SafeString:
		return string(s), true
	}
	return "", false
}

// Equal compares two values with numeric promotion. None equals only none,
// and a string that cannot be read as a number never equals a number.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	switch {
	case aNum && bNum:
		return compareNumbers(na, nb) == 0
	case aNum || bNum:
		x, ok1 := coerceNumber(a)
		y, ok2 := coerceNumber(b)
		if !ok1 || !ok2 {
			return false
		}
		return compareNumbers(x, y) == 0
	}

	if ba, ok := a.(bool); ok {
		bb, err := toBoolStrict(b)
		return err == nil && ba == bb
	}
	if bb, ok := b.(bool); ok {
		ba, err := toBoolStrict(a)
		return err == nil && ba == bb
	}

	sa, aStr := isStringLike(a)
	sb, bStr := isStringLike(b)
	switch {
	case aStr && bStr:
		return sa == sb
	case aStr || bStr:
		return false
	}

	if la, ok := asSlice(a); ok {
		lb, ok := asSlice(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := ToMap(a); ok {
		mb, ok := ToMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, v := range ma {
			w, ok := mb[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toBoolStrict(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string, SafeString:
		return cast.ToBoolE(ToString(x))
	}
	return false, typeErrorf("not a boolean: %s", typeName(v))
}

// Compare orders two values. Numbers (and numeric strings compared with
// numbers) compare numerically; two strings compare lexically. The second
// result is false when either side is none.
func Compare(a, b interface{}) (int, bool, error) {
	if a == nil || b == nil {
		return 0, false, nil
	}
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum && bNum {
		return compareNumbers(na, nb), true, nil
	}
	sa, aStr := isStringLike(a)
	sb, bStr := isStringLike(b)
	if aStr && bStr {
		return strings.Compare(sa, sb), true, nil
	}
	if aNum || bNum {
		x, ok1 := coerceNumber(a)
		y, ok2 := coerceNumber(b)
		if ok1 && ok2 {
			return compareNumbers(x, y), true, nil
		}
	}
	return 0, false, typeErrorf("cannot compare %s with %s", typeName(a), typeName(b))
}

// Contains implements the "in" operator.
func Contains(container, item interface{}) (bool, error) {
	if container == nil {
		return false, nil
	}
	if s, ok := isStringLike(container); ok {
		return strings.Contains(s, ToString(item)), nil
	}
	if m, ok := ToMap(container); ok {
		_, found := m[ToString(item)]
		return found, nil
	}
	if l, ok := asSlice(container); ok {
		for _, e := range l {
			if Equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, typeErrorf("%s is not a container", typeName(container))
}
