package el

import (
	"math"
	"strings"
)

// BinaryOp applies a non-logical binary operator to two resolved values.
func BinaryOp(op string, left, right interface{}) (interface{}, error) {
	switch op {
	case "+":
		return add(left, right)
	case "*":
		if v, ok, err := repeat(left, right); ok {
			return v, err
		}
		return arith(op, left, right)
	case "-", "/", "//", "%", "**":
		return arith(op, left, right)
	case "~":
		return ToString(left) + ToString(right), nil
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case "<", ">", "<=", ">=":
		c, ok, err := Compare(left, right)
		if err != nil || !ok {
			return false, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case ">":
			return c > 0, nil
		case "<=":
			return c <= 0, nil
		}
		return c >= 0, nil
	case "in":
		return Contains(right, left)
	case "not in":
		in, err := Contains(right, left)
		return !in, err
	}
	return nil, typeErrorf("unknown operator %q", op)
}

func add(left, right interface{}) (interface{}, error) {
	_, lStr := isStringLike(left)
	_, rStr := isStringLike(right)
	if lStr || rStr {
		return ToString(left) + ToString(right), nil
	}
	if ll, ok := asSlice(left); ok {
		if rl, ok := asSlice(right); ok {
			out := make([]interface{}, 0, len(ll)+len(rl))
			return append(append(out, ll...), rl...), nil
		}
	}
	if lm, ok := ToMap(left); ok {
		if rm, ok := ToMap(right); ok {
			out := make(map[string]interface{}, len(lm)+len(rm))
			for k, v := range lm {
				out[k] = v
			}
			for k, v := range rm {
				out[k] = v
			}
			return out, nil
		}
	}
	return arith("+", left, right)
}

func repeat(left, right interface{}) (interface{}, bool, error) {
	n, nok := asNumber(right)
	if !nok || n.kind != kindLong {
		return nil, false, nil
	}
	count := n.i
	if count < 0 {
		count = 0
	}
	if s, ok := left.(string); ok {
		if err := checkRepeatSize(len(s), count); err != nil {
			return nil, true, err
		}
		return strings.Repeat(s, int(count)), true, nil
	}
	if l, ok := left.([]interface{}); ok {
		if err := checkRepeatSize(len(l), count); err != nil {
			return nil, true, err
		}
		out := make([]interface{}, 0, len(l)*int(count))
		for i := int64(0); i < count; i++ {
			out = append(out, l...)
		}
		return out, true, nil
	}
	return nil, false, nil
}

// maxRepeatSize bounds the bytes or items produced by string and list *.
const maxRepeatSize = 1 << 24

func checkRepeatSize(unit int, count int64) error {
	if unit == 0 || count <= maxRepeatSize/int64(unit) {
		return nil
	}
	size := math.MaxInt
	if count <= math.MaxInt/int64(unit) {
		size = unit * int(count)
	}
	return &LimitError{What: "repeated value", Size: size, Limit: maxRepeatSize}
}

// UnaryOp applies a prefix operator.
func UnaryOp(op string, v interface{}) (interface{}, error) {
	switch op {
	case "not":
		return !Truthy(v), nil
	case "-":
		return negate(v)
	case "+":
		n, ok := coerceNumber(v)
		if !ok {
			return nil, typeErrorf("bad operand for unary +: %s", typeName(v))
		}
		return n.value(), nil
	case "empty":
		return IsEmpty(v), nil
	}
	return nil, typeErrorf("unknown unary operator %q", op)
}

// IsEmpty reports none, empty strings and empty containers.
func IsEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if IsNumber(v) {
		return false
	}
	if n, ok := Length(v); ok {
		return n == 0
	}
	return false
}
