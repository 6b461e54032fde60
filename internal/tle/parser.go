package tle

import (
	"strings"

	"github.com/star/keplertrack/internal/astrotime"
)

// minLineLength is the number of significant columns on a data line,
// including the check digit.
const minLineLength = 69

// Parse decodes a three-line element set: a name line followed by the two
// fixed-width data lines. Trailing whitespace, CR line endings and trailing
// blank lines are tolerated. referenceYear anchors the two-digit epoch year
// (see ResolveYear).
//
// Parse is atomic: on any error the zero ElementSet is returned together with
// a *FieldError describing the first failure.
func Parse(text string, referenceYear int) (ElementSet, error) {
	lines := splitLines(text)
	if len(lines) != 3 {
		return ElementSet{}, &FieldError{Err: ErrLineCount, Value: strings.Join(lines, "\n")}
	}
	return ParseLines(lines[0], lines[1], lines[2], referenceYear)
}

// splitLines drops trailing whitespace from every line and trailing blank lines.
func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimRight(l, " \t\r"))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// ParseLines is Parse for an already split record. An empty name is allowed.
func ParseLines(name, line1, line2 string, referenceYear int) (ElementSet, error) {
	line1 = strings.TrimRight(line1, " \t\r\n")
	line2 = strings.TrimRight(line2, " \t\r\n")

	if err := checkDataLine(line1, 1); err != nil {
		return ElementSet{}, err
	}
	if err := checkDataLine(line2, 2); err != nil {
		return ElementSet{}, err
	}

	es := ElementSet{
		name:  strings.TrimSpace(name),
		line1: line1,
		line2: line2,
	}
	if err := es.decodeLine1(line1, referenceYear); err != nil {
		return ElementSet{}, err
	}
	if err := es.decodeLine2(line2); err != nil {
		return ElementSet{}, err
	}
	return es, nil
}

func checkDataLine(line string, lineNo int) error {
	if len(line) < minLineLength {
		return &FieldError{Line: lineNo, Value: line, Err: ErrLineLength}
	}
	if want := byte('0' + lineNo); line[0] != want || line[1] != ' ' {
		return fieldErr(lineNo, "line number", line[:1], ErrLineNumber)
	}
	return VerifyChecksum(line, lineNo)
}

func (es *ElementSet) decodeLine1(line string, referenceYear int) error {
	var err error

	if es.catalogNumber, err = parseCatalogNumber(1, column(line, 3, 7)); err != nil {
		return err
	}
	es.classification = column(line, 8, 8)
	es.intlDesignator = strings.TrimSpace(column(line, 10, 17))

	yy, err := parseIntField(1, "epoch year", column(line, 19, 20))
	if err != nil {
		return err
	}
	if yy < 0 || yy > 99 {
		return fieldErr(1, "epoch year", column(line, 19, 20), ErrFieldFormat)
	}
	es.epochYear = ResolveYear(yy, referenceYear)

	if es.epochDay, err = parseFloatField(1, "epoch day", column(line, 21, 32)); err != nil {
		return err
	}
	if es.epochDay < 1 || es.epochDay >= 367 {
		return fieldErr(1, "epoch day", column(line, 21, 32), ErrFieldFormat)
	}

	if es.meanMotionDot, err = parseFloatField(1, "first derivative of mean motion", column(line, 34, 43)); err != nil {
		return err
	}
	if es.meanMotionDDot, err = parseImpliedExponent(1, "second derivative of mean motion", column(line, 45, 52)); err != nil {
		return err
	}
	if es.bstar, err = parseImpliedExponent(1, "B* drag term", column(line, 54, 61)); err != nil {
		return err
	}
	if es.ephemerisType, err = parseIntField(1, "ephemeris type", column(line, 63, 63)); err != nil {
		return err
	}
	if es.elementSetNumber, err = parseIntField(1, "element set number", column(line, 65, 68)); err != nil {
		return err
	}
	return nil
}

func (es *ElementSet) decodeLine2(line string) error {
	catnum, err := parseCatalogNumber(2, column(line, 3, 7))
	if err != nil {
		return err
	}
	if catnum != es.catalogNumber {
		return fieldErr(2, "catalog number", column(line, 3, 7), ErrCatalogMismatch)
	}

	incl, err := parseFloatField(2, "inclination", column(line, 9, 16))
	if err != nil {
		return err
	}
	if incl < 0 || incl > 180 {
		return fieldErr(2, "inclination", column(line, 9, 16), ErrInclination)
	}
	es.inclination = incl

	angles := []struct {
		field    string
		from, to int
		dst      *float64
	}{
		{"right ascension of ascending node", 18, 25, &es.raan},
		{"argument of perigee", 35, 42, &es.argPerigee},
		{"mean anomaly", 44, 51, &es.meanAnomaly},
	}
	for _, a := range angles {
		v, err := parseFloatField(2, a.field, column(line, a.from, a.to))
		if err != nil {
			return err
		}
		*a.dst = astrotime.Normalize360(v)
	}

	ecc, err := parseImpliedDecimal(2, "eccentricity", column(line, 27, 33))
	if err != nil {
		return err
	}
	if ecc < 0 || ecc >= 1 {
		return fieldErr(2, "eccentricity", column(line, 27, 33), ErrEccentricity)
	}
	es.eccentricity = ecc

	if es.meanMotion, err = parseFloatField(2, "mean motion", column(line, 53, 63)); err != nil {
		return err
	}
	if es.revNumber, err = parseIntField(2, "revolution number", column(line, 64, 68)); err != nil {
		return err
	}
	return nil
}

// ResolveYear expands a two-digit epoch year to the four-digit year closest
// to referenceYear: the century of referenceYear is prepended, then the result
// is moved by 100 years if it lies more than 50 years from referenceYear.
func ResolveYear(twoDigit, referenceYear int) int {
	year := referenceYear - referenceYear%100 + twoDigit
	switch {
	case year > referenceYear+50:
		year -= 100
	case year < referenceYear-50:
		year += 100
	}
	return year
}
