package stencil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

const defaultDatetimeFormat = "%H:%M / %d-%m-%Y"

// toTime converts a template value to a time. Strings are parsed in loc,
// numbers are Unix seconds, or milliseconds when too large for seconds.
func toTime(v interface{}, loc *time.Location) (time.Time, error) {
	switch n := v.(type) {
	case int64:
		if n > 1e10 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	case float64:
		return toTime(int64(n), loc)
	case el.SafeString:
		v = string(n)
	}
	t, err := cast.ToTimeInDefaultLocationE(v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse date %q", el.ToString(v))
	}
	return t, nil
}

func locationOf(env el.Env) *time.Location {
	if i, ok := interpreterOf(env); ok {
		return i.config.Location()
	}
	return time.UTC
}

// datetimeformatFilter formats a time with strftime directives:
// value|datetimeformat("%Y-%m-%d", "Europe/Berlin"). A missing value
// means now.
func datetimeformatFilter(env el.Env, v interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	loc := locationOf(env)
	if tz := el.ToString(filterArg(args, kwargs, 1, "tz", "")); tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("unknown time zone %q", tz)
		}
	}
	t := time.Now()
	if v != nil {
		var err error
		if t, err = toTime(v, loc); err != nil {
			return nil, err
		}
	}
	format := el.ToString(filterArg(args, kwargs, 0, "format", defaultDatetimeFormat))
	return strftime(t.In(loc), format), nil
}

func strftime(t time.Time, format string) string {
	var b strings.Builder
	for k := 0; k < len(format); k++ {
		c := format[k]
		if c != '%' || k+1 == len(format) {
			b.WriteByte(c)
			continue
		}
		k++
		switch format[k] {
		case 'a':
			b.WriteString(t.Format("Mon"))
		case 'A':
			b.WriteString(t.Format("Monday"))
		case 'b':
			b.WriteString(t.Format("Jan"))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'e':
			fmt.Fprintf(&b, "%2d", t.Day())
		case 'f':
			fmt.Fprintf(&b, "%06d", t.Nanosecond()/1000)
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'I':
			fmt.Fprintf(&b, "%02d", (t.Hour()+11)%12+1)
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'p':
			b.WriteString(t.Format("PM"))
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'Y':
			b.WriteString(strconv.Itoa(t.Year()))
		case 'z':
			b.WriteString(t.Format("-0700"))
		case 'Z':
			b.WriteString(t.Format("MST"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[k])
		}
	}
	return b.String()
}

// javaDate formats t with a SimpleDateFormat style pattern such as
// "dd.MM.yyyy HH:mm". Quoted text is copied as is and two single quotes
// produce one.
func javaDate(t time.Time, pattern string) string {
	var b strings.Builder
	runes := []rune(pattern)
	for k := 0; k < len(runes); {
		c := runes[k]
		if c == '\'' {
			end := k + 1
			for end < len(runes) && runes[end] != '\'' {
				end++
			}
			if end == k+1 {
				b.WriteRune('\'')
			} else {
				b.WriteString(string(runes[k+1 : end]))
			}
			k = end + 1
			continue
		}
		n := 1
		for k+n < len(runes) && runes[k+n] == c {
			n++
		}
		k += n
		switch c {
		case 'y':
			if n == 2 {
				fmt.Fprintf(&b, "%02d", t.Year()%100)
			} else {
				fmt.Fprintf(&b, "%0*d", n, t.Year())
			}
		case 'M':
			switch {
			case n >= 4:
				b.WriteString(t.Format("January"))
			case n == 3:
				b.WriteString(t.Format("Jan"))
			default:
				fmt.Fprintf(&b, "%0*d", n, int(t.Month()))
			}
		case 'd':
			fmt.Fprintf(&b, "%0*d", n, t.Day())
		case 'E':
			if n >= 4 {
				b.WriteString(t.Format("Monday"))
			} else {
				b.WriteString(t.Format("Mon"))
			}
		case 'H':
			fmt.Fprintf(&b, "%0*d", n, t.Hour())
		case 'h':
			fmt.Fprintf(&b, "%0*d", n, (t.Hour()+11)%12+1)
		case 'm':
			fmt.Fprintf(&b, "%0*d", n, t.Minute())
		case 's':
			fmt.Fprintf(&b, "%0*d", n, t.Second())
		case 'S':
			fmt.Fprintf(&b, "%0*d", n, t.Nanosecond()/1e6)
		case 'a':
			b.WriteString(t.Format("PM"))
		case 'z':
			b.WriteString(t.Format("MST"))
		case 'Z':
			b.WriteString(t.Format("-0700"))
		case 'X':
			switch n {
			case 1:
				b.WriteString(t.Format("Z07"))
			case 2:
				b.WriteString(t.Format("Z0700"))
			default:
				b.WriteString(t.Format("Z07:00"))
			}
		default:
			b.WriteString(strings.Repeat(string(c), n))
		}
	}
	return b.String()
}

func registerDateFunctions(registry *DefaultFunctionRegistry) {
	registry.RegisterFunction(NewInterpreterFunction("fn:now", 0, 0, func(i *Interpreter, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return time.Now().In(i.config.Location()), nil
	}))

	// fn:date(pattern, value) is nil when either argument is missing so that
	// optional dates render as empty.
	registry.RegisterFunction(NewInterpreterFunction("fn:date", 2, 2, func(i *Interpreter, args []interface{}, _ map[string]interface{}) (interface{}, error) {
		pattern := el.ToString(args[0])
		if args[1] == nil || pattern == "" {
			return nil, nil
		}
		loc := i.config.Location()
		t, err := toTime(args[1], loc)
		if err != nil {
			return nil, err
		}
		return javaDate(t.In(loc), pattern), nil
	}))
}
