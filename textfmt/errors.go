package textfmt

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSyntax - the input does not follow the grammar.
	ErrSyntax = errors.New("syntax error")

	// ErrUnterminated - a string, list or block is not closed.
	ErrUnterminated = errors.New("unterminated")

	// ErrDuplicateKey - a key appears twice in one block.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMalformedNumber - a numeric literal is not a decimal integer.
	ErrMalformedNumber = errors.New("malformed number")

	// ErrNumericRange - a numeric literal does not fit in 64 signed bits.
	ErrNumericRange = errors.New("number out of range")
)

// ParseError describes where and why Decode failed. Kind is one of the
// Err* values of this package and can be tested with errors.Is.
type ParseError struct {
	Kind   error
	Line   int
	Column int
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("line %d column %d: %s", e.Line, e.Column, e.Kind)
	}

	return fmt.Sprintf("line %d column %d: %s: %s", e.Line, e.Column, e.Kind, e.Detail)
}

// Unwrap returns the error kind.
func (e *ParseError) Unwrap() error {
	return e.Kind
}
