package propagation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

// SGP4 reference: github.com/joshuaferrara/go-satellite
//
// Used only to measure how far the two-body model drifts from a perturbed
// propagation of the same element set. Propagate() takes Satellite by value
// so SGP4 error codes are not visible to the caller; failures are detected
// from NaN/Inf output and unreasonable magnitudes.

// ErrSGP4Unsupported is returned for element sets go-satellite cannot parse.
var ErrSGP4Unsupported = errors.New("element set not supported by sgp4")

// SGP4Propagator wraps the go-satellite library for a single element set.
type SGP4Propagator struct {
	sat           satellite.Satellite
	catalogNumber int
}

// NewSGP4Propagator creates an SGP4 propagator from a parsed element set.
//
// go-satellite calls log.Fatal on any column it cannot parse, so the raw
// lines are run through the same column reads first and refused with
// ErrSGP4Unsupported.
func NewSGP4Propagator(es tle.ElementSet) (*SGP4Propagator, error) {
	line1, line2 := es.Lines()
	if err := checkSGP4Lines(line1, line2); err != nil {
		return nil, fmt.Errorf("catalog number %d: %w", es.CatalogNumber(), err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for catalog number %d: code=%d %s", es.CatalogNumber(), sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, catalogNumber: es.CatalogNumber()}, nil
}

// sgp4Column is one value as go-satellite's ParseTLE reads it.
type sgp4Column struct {
	field string
	text  string
	isInt bool
}

// squeeze drops the first two spaces, as go-satellite does before parsing.
func squeeze(s string) string { return strings.Replace(s, " ", "", 2) }

// checkSGP4Lines mirrors go-satellite's ParseTLE column reads. The element
// parser is more lenient (blank drag terms, padded integers, Alpha-5), so
// a set it accepts can still be fatal there.
func checkSGP4Lines(line1, line2 string) error {
	if len(line1) < 69 || len(line2) < 69 {
		return fmt.Errorf("%w: short line", ErrSGP4Unsupported)
	}
	columns := []sgp4Column{
		{"catalog number", strings.TrimSpace(line1[2:7]), true},
		{"epoch year", line1[18:20], true},
		{"epoch day", line1[20:32], false},
		{"first derivative of mean motion", squeeze(line1[33:43]), false},
		{"second derivative of mean motion", squeeze(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52]), false},
		{"B* drag term", squeeze(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61]), false},
		{"inclination", squeeze(line2[8:16]), false},
		{"right ascension", squeeze(line2[17:25]), false},
		{"eccentricity", "." + line2[26:33], false},
		{"argument of perigee", squeeze(line2[34:42]), false},
		{"mean anomaly", squeeze(line2[43:51]), false},
		{"mean motion", squeeze(line2[52:63]), false},
	}
	for _, c := range columns {
		var err error
		if c.isInt {
			_, err = strconv.ParseInt(c.text, 10, 0)
		} else {
			_, err = strconv.ParseFloat(c.text, 64)
		}
		if err != nil {
			return fmt.Errorf("%w: %s %q", ErrSGP4Unsupported, c.field, c.text)
		}
	}
	return nil
}

// Propagate computes the SGP4 state at t, truncated to whole seconds.
// Position and velocity are in the TEME frame, km and km/s.
func (p *SGP4Propagator) Propagate(t time.Time) (transform.State, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return transform.State{}, fmt.Errorf("sgp4 propagation failed for catalog number %d: output is NaN/Inf", p.catalogNumber)
	}

	state := transform.State{
		Position: r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity: r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z},
	}
	if !transform.ValidateECEF(state.Position) {
		return transform.State{}, fmt.Errorf("sgp4 propagation failed for catalog number %d: unreasonable position magnitude %.1f km",
			p.catalogNumber, r3.Norm(state.Position))
	}
	return state, nil
}
