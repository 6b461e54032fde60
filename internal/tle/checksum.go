package tle

import (
	"fmt"
	"strconv"
)

// checksumColumn is the 0-based index of the check digit on a data line.
const checksumColumn = 68

// Checksum computes the modulo-10 checksum of the first 68 columns of a data
// line: digits count their value, '-' counts 1, everything else 0.
func Checksum(line string) int {
	n := len(line)
	if n > checksumColumn {
		n = checksumColumn
	}

	sum := 0
	for i := 0; i < n; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// VerifyChecksum checks the digit in column 69 of a data line against
// Checksum. lineNo is used only to label the error.
func VerifyChecksum(line string, lineNo int) error {
	if len(line) <= checksumColumn {
		return fieldErr(lineNo, "checksum", "", ErrLineLength)
	}

	got := line[checksumColumn : checksumColumn+1]
	want, err := strconv.Atoi(got)
	if err != nil {
		return fieldErr(lineNo, "checksum", got, ErrFieldFormat)
	}
	if sum := Checksum(line); sum != want {
		return &FieldError{
			Line:  lineNo,
			Field: "checksum",
			Value: got,
			Err:   fmt.Errorf("%w: computed %d", ErrChecksum, sum),
		}
	}
	return nil
}
