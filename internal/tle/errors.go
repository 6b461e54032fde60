package tle

import (
	"errors"
	"fmt"
)

// Parse failures. Every error returned by Parse wraps exactly one of these.
var (
	ErrLineCount       = errors.New("element set must have a name line and two data lines")
	ErrLineLength      = errors.New("data line too short")
	ErrLineNumber      = errors.New("unexpected line number")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrFieldFormat     = errors.New("malformed numeric field")
	ErrCatalogMismatch = errors.New("catalog numbers on lines 1 and 2 differ")
	ErrEccentricity    = errors.New("eccentricity outside [0, 1)")
	ErrInclination     = errors.New("inclination outside [0, 180]")
)

// FieldError describes which field of which line failed to parse.
// Line is 0 for the name line, 1 or 2 for the data lines, and 0 with an
// empty Field for record-level failures such as ErrLineCount.
type FieldError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	switch {
	case e.Field == "" && e.Line == 0:
		return fmt.Sprintf("tle: %v", e.Err)
	case e.Field == "":
		return fmt.Sprintf("tle: line %d: %v", e.Line, e.Err)
	default:
		return fmt.Sprintf("tle: line %d: %s %q: %v", e.Line, e.Field, e.Value, e.Err)
	}
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(line int, field, value string, err error) error {
	return &FieldError{Line: line, Field: field, Value: value, Err: err}
}
