package orbit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/star/keplertrack/internal/astrotime"
	"github.com/star/keplertrack/internal/transform"
)

var (
	ErrInvalidMeanMotion = errors.New("mean motion must be positive and finite")
	ErrSubsurfaceOrbit   = errors.New("semimajor axis is inside the Earth")
)

// Model is a two-body orbit built from mean elements. It keeps its own copy
// of every value it needs and holds no reference to the source elements.
// A Model is immutable and safe for concurrent use.
type Model struct {
	// Elements as given, degrees and rev/day.
	inclDeg, raanDeg, argpDeg, m0Deg, revsPerDay float64

	ecc     float64
	epochJD float64

	m0       float64 // mean anomaly at epoch, rad
	n        float64 // mean motion, rad/s
	a        float64 // semimajor axis, km
	b        float64 // semiminor axis, km
	pqwToECI *mat.Dense
	solver   SolverConfig
}

// New builds a Model with the default solver configuration.
func New(el Elements) (*Model, error) {
	return NewWithSolver(el, DefaultSolverConfig())
}

// NewWithSolver builds a Model with a custom solver configuration.
func NewWithSolver(el Elements, cfg SolverConfig) (*Model, error) {
	revs := el.MeanMotion()
	if !(revs > 0) || math.IsInf(revs, 0) {
		return nil, fmt.Errorf("mean motion %g rev/day: %w", revs, ErrInvalidMeanMotion)
	}
	e := el.Eccentricity()
	if e < 0 || e >= 1 || math.IsNaN(e) {
		return nil, fmt.Errorf("e=%g: %w", e, ErrSingularity)
	}

	n := revs * 2 * math.Pi / astrotime.SecondsPerDay
	a := math.Cbrt(Mu / (n * n))
	if a <= EarthRadius {
		return nil, fmt.Errorf("a=%.1f km: %w", a, ErrSubsurfaceOrbit)
	}

	m := &Model{
		inclDeg:    el.Inclination(),
		raanDeg:    el.RAAN(),
		argpDeg:    el.ArgPerigee(),
		m0Deg:      el.MeanAnomaly(),
		revsPerDay: revs,
		ecc:        e,
		epochJD:    el.EpochJD(),
		m0:         astrotime.DegToRad(el.MeanAnomaly()),
		n:          n,
		a:          a,
		b:          a * math.Sqrt(1-e*e),
		solver:     cfg.withDefaults(),
	}
	m.pqwToECI = transform.PerifocalMatrix(
		astrotime.DegToRad(m.argpDeg),
		astrotime.DegToRad(m.inclDeg),
		astrotime.DegToRad(m.raanDeg),
	)
	return m, nil
}

func (m *Model) Inclination() float64  { return m.inclDeg }
func (m *Model) RAAN() float64         { return m.raanDeg }
func (m *Model) Eccentricity() float64 { return m.ecc }
func (m *Model) ArgPerigee() float64   { return m.argpDeg }
func (m *Model) MeanAnomaly() float64  { return m.m0Deg }
func (m *Model) MeanMotion() float64   { return m.revsPerDay }
func (m *Model) EpochJD() float64      { return m.epochJD }

// Epoch returns the element epoch as a UTC time.
func (m *Model) Epoch() time.Time { return astrotime.TimeFromJulianDate(m.epochJD) }

// SemimajorAxis returns a = (μ/n²)^(1/3) in km.
func (m *Model) SemimajorAxis() float64 { return m.a }

// Period returns the orbital period.
func (m *Model) Period() time.Duration {
	return time.Duration(2 * math.Pi / m.n * float64(time.Second))
}

// Perigee returns the perigee altitude above the equatorial radius, km.
func (m *Model) Perigee() float64 { return m.a*(1-m.ecc) - EarthRadius }

// Apogee returns the apogee altitude above the equatorial radius, km.
func (m *Model) Apogee() float64 { return m.a*(1+m.ecc) - EarthRadius }

// AgeDays returns the time since epoch in days. Negative before epoch.
func (m *Model) AgeDays(t time.Time) float64 {
	return astrotime.JulianDate(t) - m.epochJD
}
