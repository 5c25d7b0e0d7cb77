package stencil

import "strings"

// OutputList accumulates rendered text up to a byte limit.
type OutputList struct {
	b   strings.Builder
	max int64
}

// NewOutputList returns a buffer that refuses to grow past max bytes.
// max <= 0 means unlimited.
func NewOutputList(max int64) *OutputList {
	return &OutputList{max: max}
}

// Add appends s, or fails with an OutputTooBigError leaving the buffer as
// it was.
func (o *OutputList) Add(s string) error {
	if o.max > 0 {
		if size := int64(o.b.Len() + len(s)); size > o.max {
			return NewOutputTooBigError(o.max, size)
		}
	}
	o.b.WriteString(s)
	return nil
}

// Len returns the accumulated size in bytes.
func (o *OutputList) Len() int64 {
	return int64(o.b.Len())
}

func (o *OutputList) String() string {
	return o.b.String()
}
