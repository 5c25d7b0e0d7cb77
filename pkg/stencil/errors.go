package stencil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tmplerr"
)

// TemplateError is the item recorded on an interpreter for every problem
// found while building or rendering a template.
type TemplateError = tmplerr.TemplateError

// ErrorList is the ordered list of recorded items.
type ErrorList = tmplerr.List

// InterpretError wraps a failure raised by a tag implementation with the
// tag's position.
type InterpretError struct {
	Tag   string
	Line  int
	Cause error
}

func (e *InterpretError) Error() string {
	return fmt.Sprintf("error in tag '%s' at line %d: %v", e.Tag, e.Line, e.Cause)
}

func (e *InterpretError) Unwrap() error {
	return e.Cause
}

// NewInterpretError creates a new interpret error
func NewInterpretError(tag string, line int, cause error) error {
	return &InterpretError{Tag: tag, Line: line, Cause: cause}
}

// CycleError reports a template path that is already being rendered.
type CycleError struct {
	Path  string
	Stack []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected for '%s' (stack: %s)", e.Path, strings.Join(e.Stack, " -> "))
}

// NewCycleError creates a new cycle error
func NewCycleError(path string, stack []string) error {
	return &CycleError{Path: path, Stack: append([]string(nil), stack...)}
}

// DepthError reports a nested render or macro call exceeding its limit.
type DepthError struct {
	What  string
	Depth int
	Max   int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("%s depth %d exceeds maximum of %d", e.What, e.Depth, e.Max)
}

// NewDepthError creates a new depth error
func NewDepthError(what string, depth, max int) error {
	return &DepthError{What: what, Depth: depth, Max: max}
}

// OutputTooBigError reports that rendered output passed MaxOutputSize.
type OutputTooBigError struct {
	Max  int64
	Size int64
}

func (e *OutputTooBigError) Error() string {
	return fmt.Sprintf("output size %d exceeds maximum of %d bytes", e.Size, e.Max)
}

// NewOutputTooBigError creates a new output size error
func NewOutputTooBigError(max, size int64) error {
	return &OutputTooBigError{Max: max, Size: size}
}

// RenderError is returned by Render when fatal items were recorded.
type RenderError struct {
	Errors ErrorList
	// Output is whatever was produced before and around the failures.
	Output string
}

func (e *RenderError) Error() string {
	return "render failed: " + e.Errors.Fatal().Error()
}

// Unwrap exposes the fatal items to errors.Is and errors.As.
func (e *RenderError) Unwrap() []error {
	fatal := e.Errors.Fatal()
	out := make([]error, len(fatal))
	for i, item := range fatal {
		out[i] = item
	}
	return out
}

// MultiError collects multiple errors
type MultiError struct {
	errors []error
}

// NewMultiError creates a new multi-error collector
func NewMultiError() *MultiError {
	return &MultiError{
		errors: make([]error, 0),
	}
}

// Add adds an error to the collection (ignores nil errors)
func (m *MultiError) Add(err error) {
	if err != nil {
		m.errors = append(m.errors, err)
	}
}

// Len returns the number of errors
func (m *MultiError) Len() int {
	return len(m.errors)
}

// Err returns the multi-error or nil if empty
func (m *MultiError) Err() error {
	if len(m.errors) == 0 {
		return nil
	}
	if len(m.errors) == 1 {
		return m.errors[0]
	}
	return m
}

func (m *MultiError) Unwrap() []error {
	return m.errors
}

func (m *MultiError) Error() string {
	if len(m.errors) == 0 {
		return "no errors"
	}

	if len(m.errors) == 1 {
		return m.errors[0].Error()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%d errors occurred:", len(m.errors)))
	for i, err := range m.errors {
		parts = append(parts, fmt.Sprintf("  [%d] %v", i+1, err))
	}
	return strings.Join(parts, "\n")
}

// RecoverError converts a panic recovery value to an error
func RecoverError(r interface{}) error {
	switch v := r.(type) {
	case error:
		return fmt.Errorf("panic recovered: %w", v)
	case string:
		return fmt.Errorf("panic recovered: %s", v)
	default:
		return fmt.Errorf("panic recovered: %v", v)
	}
}

// IsRenderError checks if an error is a render error
func IsRenderError(err error) bool {
	var re *RenderError
	return errors.As(err, &re)
}

// IsCycleError checks if an error is a cycle error
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsDepthError checks if an error is a depth error
func IsDepthError(err error) bool {
	var de *DepthError
	return errors.As(err, &de)
}

// IsOutputTooBigError checks if an error is an output size error
func IsOutputTooBigError(err error) bool {
	var oe *OutputTooBigError
	return errors.As(err, &oe)
}

// IsInterpretError checks if an error is an interpret error
func IsInterpretError(err error) bool {
	var ie *InterpretError
	return errors.As(err, &ie)
}

// IsResourceLimit reports whether err is one of the resource guards:
// render depth, macro depth, cycles, output size or collection size.
func IsResourceLimit(err error) bool {
	return IsCycleError(err) || IsDepthError(err) || IsOutputTooBigError(err) || isLimitError(err)
}
