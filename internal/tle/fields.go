package tle

import (
	"math"
	"strconv"
	"strings"
)

// column returns the text between 1-based inclusive columns from and to.
// The caller guarantees the line is long enough.
func column(line string, from, to int) string {
	return line[from-1 : to]
}

func parseFloatField(lineNo int, field, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}
	return v, nil
}

func parseIntField(lineNo int, field, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}
	return v, nil
}

// parseImpliedDecimal reads a field with an implied leading "0.", such as
// the eccentricity "0003880" → 0.0003880.
func parseImpliedDecimal(lineNo int, field, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, "+-. ") {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}
	v, err := strconv.ParseFloat("0."+s, 64)
	if err != nil {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}
	return v, nil
}

// parseImpliedExponent reads the "±mmmmm±E" encoding used for the second
// mean-motion derivative and B*: " 25302-4" → 0.25302e-4. A blank field is 0.
func parseImpliedExponent(lineNo int, field, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if len(s) < 3 {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}

	mantissa, exp := s[:len(s)-2], s[len(s)-2:]
	if exp[0] != '+' && exp[0] != '-' {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}

	sign := ""
	if mantissa[0] == '+' || mantissa[0] == '-' {
		sign, mantissa = mantissa[:1], mantissa[1:]
	}
	if mantissa == "" || strings.ContainsAny(mantissa, "+-. ") {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}

	v, err := strconv.ParseFloat(sign+"0."+mantissa+"e"+exp, 64)
	if err != nil {
		return 0, fieldErr(lineNo, field, raw, ErrFieldFormat)
	}
	return v, nil
}

// ParseCatalogNumber decodes a catalog number as written on a data line,
// either plain digits or the Alpha-5 form (A0001 is 100001).
func ParseCatalogNumber(s string) (int, error) {
	return parseCatalogNumber(0, s)
}

// parseCatalogNumber accepts plain 5-digit numbers and Alpha-5 numbers, where
// a leading letter (A-Z without I and O) stands for 10-33.
func parseCatalogNumber(lineNo int, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fieldErr(lineNo, "catalog number", raw, ErrFieldFormat)
	}

	lead := 0
	if c := s[0]; c >= 'A' && c <= 'Z' {
		if c == 'I' || c == 'O' || len(s) != 5 {
			return 0, fieldErr(lineNo, "catalog number", raw, ErrFieldFormat)
		}
		lead = int(c-'A') + 10
		if c > 'I' {
			lead--
		}
		if c > 'O' {
			lead--
		}
		s = s[1:]
	}

	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fieldErr(lineNo, "catalog number", raw, ErrFieldFormat)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fieldErr(lineNo, "catalog number", raw, ErrFieldFormat)
	}
	return lead*10000 + n, nil
}
