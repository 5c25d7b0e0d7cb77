// Package tmplerr defines the error items recorded while tokenizing, building
// and rendering a template. Items carry a severity so that callers can tell a
// render that must fail from one that merely produced warnings.
package tmplerr

import (
	"fmt"
	"strings"
)

// Severity orders recorded errors. Only Fatal items make Render fail.
type Severity int

const (
	Fatal Severity = iota
	Warning
	Info
)

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "FATAL"
	case Warning:
		return "WARNING"
	case Info:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Kind is the coarse taxonomy bucket an item belongs to.
type Kind int

const (
	KindSyntax Kind = iota
	KindEval
	KindResourceLimit
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "SyntaxError"
	case KindEval:
		return "EvalError"
	case KindResourceLimit:
		return "ResourceLimitError"
	default:
		return "Error"
	}
}

// Reason gives a finer-grained cause within a Kind.
type Reason string

const (
	ReasonUnterminatedBlock Reason = "UNTERMINATED_BLOCK"
	ReasonUnknownTag        Reason = "UNKNOWN_TAG"
	ReasonMissingEndTag     Reason = "MISSING_END_TAG"
	ReasonUnexpectedToken   Reason = "UNEXPECTED_TOKEN"
	ReasonSyntaxError       Reason = "SYNTAX_ERROR"
	ReasonUnknownFunction   Reason = "UNKNOWN_FUNCTION"
	ReasonUnknownFilter     Reason = "UNKNOWN_FILTER"
	ReasonUnknownTest       Reason = "UNKNOWN_TEST"
	ReasonTypeMismatch      Reason = "TYPE_MISMATCH"
	ReasonDivideByZero      Reason = "DIVIDE_BY_ZERO"
	ReasonUnknownVariable   Reason = "UNKNOWN"
	ReasonEvalException     Reason = "EXCEPTION"
	ReasonCycle             Reason = "CYCLE"
	ReasonDepth             Reason = "TOO_DEEP"
	ReasonOutputTooBig      Reason = "OUTPUT_TOO_BIG"
	ReasonCollectionTooBig  Reason = "COLLECTION_TOO_BIG"
	ReasonDisabled          Reason = "DISABLED"
	ReasonDeferred          Reason = "DEFERRED"
	ReasonMissingResource   Reason = "MISSING"
)

// TemplateError is a single recorded problem. It doubles as an error value.
type TemplateError struct {
	Severity      Severity
	Kind          Kind
	Reason        Reason
	Message       string
	FieldName     string
	Line          int
	StartPosition int
	Scope         string
	Err           error
}

func (e *TemplateError) Error() string {
	var b strings.Builder
	b.WriteString(e.Severity.String())
	b.WriteByte(' ')
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
		if e.StartPosition > 0 {
			fmt.Fprintf(&b, ", position %d", e.StartPosition)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the item aborts Render.
func (e *TemplateError) IsFatal() bool {
	return e.Severity == Fatal
}

// WithLine returns a copy attributed to the given line when none is set yet.
func (e *TemplateError) WithLine(line, pos int) *TemplateError {
	c := *e
	if c.Line <= 0 {
		c.Line = line
		c.StartPosition = pos
	}
	return &c
}

// Syntax builds a fatal syntax item.
func Syntax(reason Reason, line, pos int, format string, args ...interface{}) *TemplateError {
	return &TemplateError{
		Severity:      Fatal,
		Kind:          KindSyntax,
		Reason:        reason,
		Message:       fmt.Sprintf(format, args...),
		Line:          line,
		StartPosition: pos,
	}
}

// Eval builds a fatal evaluation item wrapping err.
func Eval(reason Reason, err error, format string, args ...interface{}) *TemplateError {
	return &TemplateError{
		Severity: Fatal,
		Kind:     KindEval,
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// Limit builds a fatal resource-limit item.
func Limit(reason Reason, format string, args ...interface{}) *TemplateError {
	return &TemplateError{
		Severity: Fatal,
		Kind:     KindResourceLimit,
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Warn builds a warning item.
func Warn(reason Reason, line int, format string, args ...interface{}) *TemplateError {
	return &TemplateError{
		Severity: Warning,
		Kind:     KindOther,
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
		Line:     line,
	}
}

// List accumulates items in recording order.
type List []*TemplateError

// HasFatal reports whether any item is fatal.
func (l List) HasFatal() bool {
	for _, e := range l {
		if e.IsFatal() {
			return true
		}
	}
	return false
}

// Fatal returns only the fatal items.
func (l List) Fatal() List {
	var out List
	for _, e := range l {
		if e.IsFatal() {
			out = append(out, e)
		}
	}
	return out
}

func (l List) Error() string {
	if len(l) == 0 {
		return "no errors"
	}
	if len(l) == 1 {
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(l), strings.Join(msgs, "; "))
}
