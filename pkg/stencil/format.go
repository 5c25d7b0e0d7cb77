package stencil

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

// verbPattern matches one printf directive: %[index$][flags][width][.precision]verb
var verbPattern = regexp.MustCompile(`%(?:(\d+)\$)?([-#+ 0]*)(\d+)?(\.\d+)?([a-zA-Z%])`)

// sprintf formats values with a printf style pattern. Values are converted
// to what each verb expects, so "%d" accepts "42" and "%s" prints template
// values the way they render.
func sprintf(pattern string, values []interface{}) (string, error) {
	var b strings.Builder
	next, last := 0, 0
	for _, m := range verbPattern.FindAllStringSubmatchIndex(pattern, -1) {
		b.WriteString(pattern[last:m[0]])
		last = m[1]

		verb := rune(pattern[m[10]])
		if verb == '%' {
			b.WriteByte('%')
			continue
		}

		idx := next
		if m[2] >= 0 {
			n, _ := strconv.Atoi(pattern[m[2]:m[3]])
			idx = n - 1
		} else {
			next++
		}
		if idx < 0 || idx >= len(values) {
			return "", fmt.Errorf("format %q needs more than %d values", pattern, len(values))
		}
		arg, err := formatArg(values[idx], verb)
		if err != nil {
			return "", err
		}

		directive := "%"
		for _, g := range [][2]int{{m[4], m[5]}, {m[6], m[7]}, {m[8], m[9]}} {
			if g[0] >= 0 {
				directive += pattern[g[0]:g[1]]
			}
		}
		fmt.Fprintf(&b, directive+string(verb), arg)
	}
	b.WriteString(pattern[last:])
	return b.String(), nil
}

func formatArg(v interface{}, verb rune) (interface{}, error) {
	switch verb {
	case 'd', 'b', 'o', 'x', 'X', 'c':
		if v == nil {
			return 0, nil
		}
		if n, ok := el.ToInt64(v); ok {
			return n, nil
		}
		f, err := cast.ToFloat64E(el.ToString(v))
		if err != nil {
			return nil, fmt.Errorf("cannot format %q as an integer", el.ToString(v))
		}
		return int64(f), nil
	case 'e', 'E', 'f', 'F', 'g', 'G':
		if v == nil {
			return 0.0, nil
		}
		if f, ok := el.ToFloat64(v); ok {
			return f, nil
		}
		f, err := cast.ToFloat64E(el.ToString(v))
		if err != nil {
			return nil, fmt.Errorf("cannot format %q as a number", el.ToString(v))
		}
		return f, nil
	}
	return el.ToString(v), nil
}

// formatFilter is "%s has %d items"|format(name, n).
func formatFilter(_ el.Env, v interface{}, args []interface{}, _ map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return sprintf(el.ToString(v), args)
}

var (
	decimalUnits = []string{"Bytes", "kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}
	binaryUnits  = []string{"Bytes", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}
)

// filesizeformatFilter renders a byte count: 1500|filesizeformat is
// "1.5 kB", 2048|filesizeformat(true) is "2.0 KiB".
func filesizeformatFilter(_ el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	size, ok := el.ToFloat64(v)
	if !ok {
		var err error
		if size, err = cast.ToFloat64E(el.ToString(v)); err != nil {
			return nil, fmt.Errorf("filesizeformat expects a number, got %s", el.ToString(v))
		}
	}
	base, units := 1000.0, decimalUnits
	if boolArg(args, kwargs, 0, "binary") {
		base, units = 1024.0, binaryUnits
	}
	if math.Abs(size) < base {
		if size == 1 {
			return "1 Byte", nil
		}
		return fmt.Sprintf("%d Bytes", int64(size)), nil
	}
	k := 1
	for k < len(units)-1 && math.Abs(size) >= math.Pow(base, float64(k+1)) {
		k++
	}
	return fmt.Sprintf("%.1f %s", size/math.Pow(base, float64(k)), units[k]), nil
}

func registerFormatFunctions(registry *DefaultFunctionRegistry) {
	registry.RegisterFunction(NewSimpleFunction("fn:format", 1, -1, func(args ...interface{}) (interface{}, error) {
		if args[0] == nil {
			return nil, nil
		}
		return sprintf(el.ToString(args[0]), args[1:])
	}))
}
