package el

import (
	"github.com/spf13/cast"
)

// ValueKind is the expected type of an evaluation result.
type ValueKind int

const (
	AnyKind ValueKind = iota
	StringKind
	BoolKind
	NumberKind
	ListKind
)

// EvaluateAs evaluates the tree and coerces the result to kind.
func (t *Tree) EvaluateAs(env Env, b *Bindings, kind ValueKind) (interface{}, error) {
	v, err := t.Evaluate(env, b)
	if err != nil {
		return nil, err
	}
	return CoerceTo(v, kind)
}

// CoerceTo converts v to the requested kind.
func CoerceTo(v interface{}, kind ValueKind) (interface{}, error) {
	switch kind {
	case StringKind:
		return ToString(v), nil
	case BoolKind:
		if s, ok := isStringLike(v); ok {
			if b, err := cast.ToBoolE(s); err == nil {
				return b, nil
			}
		}
		return Truthy(v), nil
	case NumberKind:
		if v == nil {
			return int64(0), nil
		}
		n, ok := coerceNumber(v)
		if !ok {
			if b, isBool := v.(bool); isBool {
				return cast.ToInt64(b), nil
			}
			return nil, typeErrorf("cannot coerce %s to number", typeName(v))
		}
		return n.value(), nil
	case ListKind:
		if v == nil {
			return []interface{}{}, nil
		}
		l, ok := ToList(v)
		if !ok {
			return []interface{}{v}, nil
		}
		return l, nil
	}
	return v, nil
}
