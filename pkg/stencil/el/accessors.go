package el

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Accessors is a registry of struct property and method names. Each type is
// indexed once, on registration or first access, so lookups never mangle
// names at evaluation time.
type Accessors struct {
	mu    sync.RWMutex
	types map[reflect.Type]*typeInfo
}

type typeInfo struct {
	fields       map[string][]int
	snakeFields  map[string][]int
	methods      map[string]string
	snakeMethods map[string]string
}

// DefaultAccessors is used when Options.Accessors is nil.
var DefaultAccessors = NewAccessors()

// NewAccessors returns an empty registry.
func NewAccessors() *Accessors {
	return &Accessors{types: make(map[reflect.Type]*typeInfo)}
}

// Register indexes the struct type of v (or of what v points to).
func (a *Accessors) Register(v interface{}) {
	t := reflect.TypeOf(v)
	if t == nil {
		return
	}
	a.info(t)
}

func (a *Accessors) info(t reflect.Type) *typeInfo {
	a.mu.RLock()
	ti, ok := a.types[t]
	a.mu.RUnlock()
	if ok {
		return ti
	}

	ti = &typeInfo{
		fields:       map[string][]int{},
		snakeFields:  map[string][]int{},
		methods:      map[string]string{},
		snakeMethods: map[string]string{},
	}
	st := t
	if st.Kind() == reflect.Ptr {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(st) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			ti.fields[f.Name] = f.Index
			ti.fields[lowerFirst(f.Name)] = f.Index
			for _, tag := range []string{"json", "yaml"} {
				if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
					ti.fields[name] = f.Index
				}
			}
			ti.snakeFields[snakeCase(f.Name)] = f.Index
		}
	}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		ti.methods[m.Name] = m.Name
		ti.methods[lowerFirst(m.Name)] = m.Name
		ti.snakeMethods[snakeCase(m.Name)] = m.Name
	}

	a.mu.Lock()
	a.types[t] = ti
	a.mu.Unlock()
	return ti
}

// Property reads a field or zero-argument method of a struct value.
func (a *Accessors) Property(obj interface{}, name string, snake bool) (interface{}, bool, error) {
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() {
		return nil, false, nil
	}
	ti := a.info(rv.Type())

	sv := rv
	if sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			return nil, false, nil
		}
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		idx, ok := ti.fields[name]
		if !ok && snake {
			idx, ok = ti.snakeFields[name]
		}
		if ok {
			f, err := sv.FieldByIndexErr(idx)
			if err != nil {
				return nil, false, nil
			}
			return f.Interface(), true, nil
		}
	}

	if m, ok := a.method(rv, ti, name, snake); ok && m.Type().NumIn() == 0 {
		v, err := callReflect(m, nil)
		return v, true, err
	}
	return nil, false, nil
}

// Method returns the named method bound to obj.
func (a *Accessors) Method(obj interface{}, name string, snake bool) (reflect.Value, bool) {
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() {
		return reflect.Value{}, false
	}
	return a.method(rv, a.info(rv.Type()), name, snake)
}

func (a *Accessors) method(rv reflect.Value, ti *typeInfo, name string, snake bool) (reflect.Value, bool) {
	goName, ok := ti.methods[name]
	if !ok && snake {
		goName, ok = ti.snakeMethods[name]
	}
	if !ok {
		return reflect.Value{}, false
	}
	m := rv.MethodByName(goName)
	return m, m.IsValid()
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func callReflect(fn reflect.Value, args []interface{}) (interface{}, error) {
	ft := fn.Type()
	if !ft.IsVariadic() && len(args) != ft.NumIn() {
		return nil, typeErrorf("expected %d arguments, got %d", ft.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= ft.NumIn()-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v, err := convertArg(arg, pt)
		if err != nil {
			return nil, err
		}
		in[i] = v
	}
	out := fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		var err error
		if ft.Out(len(out)-1) == errorType {
			err, _ = out[len(out)-1].Interface().(error)
		}
		return out[0].Interface(), err
	}
}

func convertArg(arg interface{}, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(pt), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	switch pt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i, ok := ToInt64(arg); ok {
			return reflect.ValueOf(i).Convert(pt), nil
		}
	case reflect.Float32, reflect.Float64:
		if f, ok := ToFloat64(arg); ok {
			return reflect.ValueOf(f).Convert(pt), nil
		}
	case reflect.String:
		return reflect.ValueOf(ToString(arg)).Convert(pt), nil
	}
	if v.Type().ConvertibleTo(pt) {
		return v.Convert(pt), nil
	}
	return reflect.Value{}, typeErrorf("cannot use %s as %s", typeName(arg), pt)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
