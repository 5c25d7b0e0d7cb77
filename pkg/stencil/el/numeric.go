package el

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// numKind orders the numeric representations by widening precedence.
type numKind int

const (
	kindLong numKind = iota
	kindDouble
	kindBigInt
	kindDecimal
)

// number is a normalised numeric operand.
type number struct {
	kind numKind
	i    int64
	f    float64
	b    *big.Int
	d    decimal.Decimal
}

// IsNumber reports whether v is one of the numeric kinds understood by the
// evaluator.
func IsNumber(v interface{}) bool {
	_, ok := asNumber(v)
	return ok
}

func asNumber(v interface{}) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{kind: kindLong, i: int64(n)}, true
	case int8:
		return number{kind: kindLong, i: int64(n)}, true
	case int16:
		return number{kind: kindLong, i: int64(n)}, true
	case int32:
		return number{kind: kindLong, i: int64(n)}, true
	case int64:
		return number{kind: kindLong, i: n}, true
	case uint:
		return fromUint(uint64(n)), true
	case uint8:
		return number{kind: kindLong, i: int64(n)}, true
	case uint16:
		return number{kind: kindLong, i: int64(n)}, true
	case uint32:
		return number{kind: kindLong, i: int64(n)}, true
	case uint64:
		return fromUint(n), true
	case float32:
		return number{kind: kindDouble, f: float64(n)}, true
	case float64:
		return number{kind: kindDouble, f: n}, true
	case *big.Int:
		if n == nil {
			return number{}, false
		}
		return number{kind: kindBigInt, b: n}, true
	case big.Int:
		return number{kind: kindBigInt, b: &n}, true
	case decimal.Decimal:
		return number{kind: kindDecimal, d: n}, true
	case *decimal.Decimal:
		if n == nil {
			return number{}, false
		}
		return number{kind: kindDecimal, d: *n}, true
	}
	return number{}, false
}

func fromUint(u uint64) number {
	if u > math.MaxInt64 {
		return number{kind: kindBigInt, b: new(big.Int).SetUint64(u)}
	}
	return number{kind: kindLong, i: int64(u)}
}

// ParseNumber parses a numeric literal or numeric string. Integers that do
// not fit in 64 bits become big integers; fractional values that lose
// precision as float64 become decimals.
func ParseNumber(s string) (interface{}, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, false
		}
		return b, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	if !strings.ContainsAny(s, "eE") && significantDigits(s) > 15 {
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
	}
	return f, true
}

func significantDigits(s string) int {
	n := 0
	leading := true
	for _, c := range s {
		if c < '0' || c > '9' {
			continue
		}
		if leading && c == '0' {
			continue
		}
		leading = false
		n++
	}
	return n
}

// coerceNumber converts strings, booleans and numeric values into a number.
func coerceNumber(v interface{}) (number, bool) {
	if n, ok := asNumber(v); ok {
		return n, true
	}
	switch x := v.(type) {
	case string:
		if p, ok := ParseNumber(x); ok {
			return asNumber(p)
		}
	case SafeString:
		if p, ok := ParseNumber(string(x)); ok {
			return asNumber(p)
		}
	}
	return number{}, false
}

func (n number) value() interface{} {
	switch n.kind {
	case kindDouble:
		return n.f
	case kindBigInt:
		return n.b
	case kindDecimal:
		return n.d
	default:
		return n.i
	}
}

func (n number) toFloat() float64 {
	switch n.kind {
	case kindDouble:
		return n.f
	case kindBigInt:
		f, _ := new(big.Float).SetInt(n.b).Float64()
		return f
	case kindDecimal:
		return n.d.InexactFloat64()
	default:
		return float64(n.i)
	}
}

func (n number) toBig() *big.Int {
	switch n.kind {
	case kindBigInt:
		return n.b
	case kindDecimal:
		return n.d.BigInt()
	case kindDouble:
		b, _ := big.NewFloat(n.f).Int(nil)
		return b
	default:
		return big.NewInt(n.i)
	}
}

func (n number) toDecimal() decimal.Decimal {
	switch n.kind {
	case kindDecimal:
		return n.d
	case kindBigInt:
		return decimal.NewFromBigInt(n.b, 0)
	case kindDouble:
		return decimal.NewFromFloat(n.f)
	default:
		return decimal.NewFromInt(n.i)
	}
}

func (n number) isZero() bool {
	switch n.kind {
	case kindDouble:
		return n.f == 0
	case kindBigInt:
		return n.b.Sign() == 0
	case kindDecimal:
		return n.d.IsZero()
	default:
		return n.i == 0
	}
}

// promote picks the result kind for a binary arithmetic operation:
// decimal > big integer > double > long, where mixing a big integer with a
// double yields a decimal.
func promote(a, b number) numKind {
	switch {
	case a.kind == kindDecimal || b.kind == kindDecimal:
		return kindDecimal
	case a.kind == kindDouble || b.kind == kindDouble:
		if a.kind == kindBigInt || b.kind == kindBigInt {
			return kindDecimal
		}
		return kindDouble
	case a.kind == kindBigInt || b.kind == kindBigInt:
		return kindBigInt
	}
	return kindLong
}

func bigResult(b *big.Int) interface{} {
	if b.IsInt64() {
		return b.Int64()
	}
	return b
}

func arith(op string, left, right interface{}) (interface{}, error) {
	a, ok1 := coerceNumber(left)
	b, ok2 := coerceNumber(right)
	if !ok1 || !ok2 {
		return nil, typeErrorf("cannot apply %q to %s and %s", op, typeName(left), typeName(right))
	}

	switch op {
	case "/":
		return divide(a, b)
	case "//":
		return floorDivide(a, b)
	case "%":
		return modulo(a, b)
	case "**":
		return power(a, b)
	}

	switch promote(a, b) {
	case kindDecimal:
		x, y := a.toDecimal(), b.toDecimal()
		switch op {
		case "+":
			return x.Add(y), nil
		case "-":
			return x.Sub(y), nil
		case "*":
			return x.Mul(y), nil
		}
	case kindDouble:
		x, y := a.toFloat(), b.toFloat()
		switch op {
		case "+":
			return x + y, nil
		case "-":
			return x - y, nil
		case "*":
			return x * y, nil
		}
	case kindBigInt:
		return bigArith(op, a.toBig(), b.toBig()), nil
	default:
		x, y := a.i, b.i
		switch op {
		case "+":
			r := x + y
			if (r > x) == (y > 0) {
				return r, nil
			}
		case "-":
			r := x - y
			if (r < x) == (y > 0) {
				return r, nil
			}
		case "*":
			if x == 0 || y == 0 {
				return int64(0), nil
			}
			r := x * y
			if r/y == x && !(x == -1 && y == math.MinInt64) && !(y == -1 && x == math.MinInt64) {
				return r, nil
			}
		}
		// overflowed: redo in arbitrary precision
		return bigArith(op, big.NewInt(x), big.NewInt(y)), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func bigArith(op string, x, y *big.Int) *big.Int {
	r := new(big.Int)
	switch op {
	case "+":
		r.Add(x, y)
	case "-":
		r.Sub(x, y)
	case "*":
		r.Mul(x, y)
	}
	return r
}

// divide never truncates: exact kinds divide as decimals, the rest as
// doubles.
func divide(a, b number) (interface{}, error) {
	if b.isZero() {
		return nil, divideByZero()
	}
	switch promote(a, b) {
	case kindDecimal, kindBigInt:
		return a.toDecimal().DivRound(b.toDecimal(), 32), nil
	}
	return a.toFloat() / b.toFloat(), nil
}

func floorDivide(a, b number) (interface{}, error) {
	if b.isZero() {
		return nil, divideByZero()
	}
	switch promote(a, b) {
	case kindDecimal:
		return a.toDecimal().Div(b.toDecimal()).Floor(), nil
	case kindDouble:
		return math.Floor(a.toFloat() / b.toFloat()), nil
	case kindBigInt:
		x, y := a.toBig(), b.toBig()
		q, m := new(big.Int).QuoRem(x, y, new(big.Int))
		if m.Sign() != 0 && (m.Sign() < 0) != (y.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
		}
		return q, nil
	}
	if a.i == math.MinInt64 && b.i == -1 {
		return new(big.Int).Neg(big.NewInt(a.i)), nil
	}
	q := a.i / b.i
	if (a.i%b.i != 0) && ((a.i < 0) != (b.i < 0)) {
		q--
	}
	return q, nil
}

func modulo(a, b number) (interface{}, error) {
	if b.isZero() {
		return nil, divideByZero()
	}
	switch promote(a, b) {
	case kindDecimal:
		return a.toDecimal().Mod(b.toDecimal()), nil
	case kindDouble:
		return math.Mod(a.toFloat(), b.toFloat()), nil
	case kindBigInt:
		return new(big.Int).Rem(a.toBig(), b.toBig()), nil
	}
	return a.i % b.i, nil
}

// maxPowerBits bounds the size of an exact ** result.
const maxPowerBits = 1 << 20

// checkPowerSize rejects exact powers whose result needs more than
// maxPowerBits bits. base is the integer or decimal coefficient.
func checkPowerSize(base, exp *big.Int) error {
	if exp.Sign() <= 0 || base.BitLen() <= 1 {
		return nil
	}
	// (bitlen-1)*exp+1 is the smallest the result can be
	bits := new(big.Int).Mul(big.NewInt(int64(base.BitLen()-1)), exp)
	bits.Add(bits, big.NewInt(1))
	if bits.Cmp(big.NewInt(maxPowerBits)) <= 0 {
		return nil
	}
	size := math.MaxInt
	if bits.IsInt64() && bits.Int64() <= math.MaxInt {
		size = int(bits.Int64())
	}
	return &LimitError{What: "power result in bits", Size: size, Limit: maxPowerBits}
}

func power(a, b number) (interface{}, error) {
	k := promote(a, b)
	if b.kind == kindLong || b.kind == kindBigInt {
		var base *big.Int
		switch k {
		case kindLong, kindBigInt:
			base = a.toBig()
		case kindDecimal:
			base = a.toDecimal().Coefficient()
		}
		if base != nil {
			if err := checkPowerSize(base, b.toBig()); err != nil {
				return nil, err
			}
		}
	}
	if (k == kindLong || k == kindBigInt) && b.toBig().Sign() >= 0 {
		r := new(big.Int).Exp(a.toBig(), b.toBig(), nil)
		if k == kindLong {
			return bigResult(r), nil
		}
		return r, nil
	}
	if k == kindDecimal && b.kind != kindDouble {
		return a.toDecimal().Pow(b.toDecimal()), nil
	}
	return math.Pow(a.toFloat(), b.toFloat()), nil
}

func negate(v interface{}) (interface{}, error) {
	n, ok := coerceNumber(v)
	if !ok {
		return nil, typeErrorf("cannot negate %s", typeName(v))
	}
	switch n.kind {
	case kindDouble:
		return -n.f, nil
	case kindBigInt:
		return new(big.Int).Neg(n.b), nil
	case kindDecimal:
		return n.d.Neg(), nil
	}
	if n.i == math.MinInt64 {
		return new(big.Int).Neg(big.NewInt(n.i)), nil
	}
	return -n.i, nil
}

// compareNumbers returns -1, 0 or 1 after promoting both operands.
func compareNumbers(a, b number) int {
	switch promote(a, b) {
	case kindDecimal:
		return a.toDecimal().Cmp(b.toDecimal())
	case kindBigInt:
		return a.toBig().Cmp(b.toBig())
	case kindDouble:
		x, y := a.toFloat(), b.toFloat()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	switch {
	case a.i < b.i:
		return -1
	case a.i > b.i:
		return 1
	}
	return 0
}

// FormatNumber renders a number the way templates print it. Whole doubles
// keep a trailing ".0" so that 4 / 2 prints as 2.0.
func FormatNumber(v interface{}) string {
	n, ok := asNumber(v)
	if !ok {
		return fmt.Sprint(v)
	}
	switch n.kind {
	case kindDouble:
		if math.IsInf(n.f, 0) || math.IsNaN(n.f) {
			return strconv.FormatFloat(n.f, 'g', -1, 64)
		}
		s := strconv.FormatFloat(n.f, 'g', 15, 64)
		if strings.ContainsAny(s, "e") {
			return s
		}
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	case kindBigInt:
		return n.b.String()
	case kindDecimal:
		return n.d.String()
	}
	return strconv.FormatInt(n.i, 10)
}

// ToInt64 converts a numeric or numeric string to int64, truncating
// fractional values.
func ToInt64(v interface{}) (int64, bool) {
	n, ok := coerceNumber(v)
	if !ok {
		return 0, false
	}
	switch n.kind {
	case kindDouble:
		return int64(n.f), true
	case kindBigInt:
		if !n.b.IsInt64() {
			return 0, false
		}
		return n.b.Int64(), true
	case kindDecimal:
		return n.d.IntPart(), true
	}
	return n.i, true
}

// ToFloat64 converts a numeric or numeric string to float64.
func ToFloat64(v interface{}) (float64, bool) {
	n, ok := coerceNumber(v)
	if !ok {
		return 0, false
	}
	return n.toFloat(), true
}
