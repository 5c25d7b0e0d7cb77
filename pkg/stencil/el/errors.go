package el

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Message string
	Pos     int
	Source  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d in %q: %s", e.Pos, e.Source, e.Message)
}

// EvalError reports a failure while evaluating a parsed expression.
type EvalError struct {
	Reason  tmplerr.Reason
	Message string
	Err     error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// LimitError reports a value exceeding a configured or built-in size.
type LimitError struct {
	// What names the limited value, "collection" when empty.
	What  string
	Size  int
	Limit int
}

func (e *LimitError) Error() string {
	what := e.What
	if what == "" {
		what = "collection"
	}
	return fmt.Sprintf("%s of size %d exceeds limit %d", what, e.Size, e.Limit)
}

func typeErrorf(format string, args ...interface{}) error {
	return &EvalError{Reason: tmplerr.ReasonTypeMismatch, Message: fmt.Sprintf(format, args...)}
}

func divideByZero() error {
	return &EvalError{Reason: tmplerr.ReasonDivideByZero, Message: "division by zero"}
}

func unknownf(reason tmplerr.Reason, format string, args ...interface{}) error {
	return &EvalError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsSyntaxError reports whether err is an expression syntax error.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

// IsEvalError reports whether err is an evaluation error.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "none"
	case string, SafeString:
		return "string"
	case bool:
		return "boolean"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "dict"
	}
	if IsNumber(v) {
		return "number"
	}
	return reflect.TypeOf(v).String()
}
