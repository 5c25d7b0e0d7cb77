package tokenizer

import "errors"

// Symbols is the delimiter set recognised by the scanner.
type Symbols struct {
	ExprStart string `yaml:"expr_start"`
	ExprEnd   string `yaml:"expr_end"`
	TagStart  string `yaml:"tag_start"`
	TagEnd    string `yaml:"tag_end"`
	NoteStart string `yaml:"note_start"`
	NoteEnd   string `yaml:"note_end"`
	Trim      byte   `yaml:"-"`
}

// DefaultSymbols returns the {{ }}, {% %}, {# #} delimiter set with '-' as
// trim marker.
func DefaultSymbols() Symbols {
	return Symbols{
		ExprStart: "{{",
		ExprEnd:   "}}",
		TagStart:  "{%",
		TagEnd:    "%}",
		NoteStart: "{#",
		NoteEnd:   "#}",
		Trim:      '-',
	}
}

// Validate checks that no delimiter is empty and openers are distinct.
func (s Symbols) Validate() error {
	for _, d := range []string{s.ExprStart, s.ExprEnd, s.TagStart, s.TagEnd, s.NoteStart, s.NoteEnd} {
		if d == "" {
			return errors.New("delimiters must not be empty")
		}
	}
	if s.ExprStart == s.TagStart || s.ExprStart == s.NoteStart || s.TagStart == s.NoteStart {
		return errors.New("opening delimiters must be distinct")
	}
	return nil
}

func (s Symbols) open(k Kind) string {
	switch k {
	case Tag:
		return s.TagStart
	case Note:
		return s.NoteStart
	default:
		return s.ExprStart
	}
}

func (s Symbols) close(k Kind) string {
	switch k {
	case Tag:
		return s.TagEnd
	case Note:
		return s.NoteEnd
	default:
		return s.ExprEnd
	}
}
