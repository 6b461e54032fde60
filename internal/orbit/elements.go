// Package orbit propagates a two-body Keplerian orbit from a set of mean
// elements. There is no drag, oblateness or third-body perturbation: accuracy
// degrades with the age of the elements, typically by kilometres per day in
// low Earth orbit.
package orbit

import (
	"time"

	"github.com/star/keplertrack/internal/astrotime"
	"github.com/star/keplertrack/internal/transform"
)

// Physical constants.
const (
	Mu          = 398600.4418 // Earth gravitational parameter, km³/s²
	EarthRadius = 6378.137    // WGS-84 equatorial radius, km
)

// Elements is the minimal set of mean elements a Model needs. Angles are in
// degrees and mean motion in revolutions per day. tle.ElementSet implements it.
type Elements interface {
	Inclination() float64
	RAAN() float64
	Eccentricity() float64
	ArgPerigee() float64
	MeanAnomaly() float64
	MeanMotion() float64
	EpochJD() float64
}

// Orbiter is anything that can be queried for its position over time.
type Orbiter interface {
	Elements
	AnomaliesAt(t time.Time) (AnomalySet, error)
	PositionAt(t time.Time) (State, error)
	LookAngles(obs transform.Observer, t time.Time) (transform.LookAngles, error)
}

// Keplerian is a plain element set for sources other than TLE text.
type Keplerian struct {
	InclinationDeg float64
	RAANDeg        float64
	Ecc            float64
	ArgPerigeeDeg  float64
	MeanAnomalyDeg float64
	RevsPerDay     float64
	Epoch          time.Time
}

func (k Keplerian) Inclination() float64  { return k.InclinationDeg }
func (k Keplerian) RAAN() float64         { return k.RAANDeg }
func (k Keplerian) Eccentricity() float64 { return k.Ecc }
func (k Keplerian) ArgPerigee() float64   { return k.ArgPerigeeDeg }
func (k Keplerian) MeanAnomaly() float64  { return k.MeanAnomalyDeg }
func (k Keplerian) MeanMotion() float64   { return k.RevsPerDay }
func (k Keplerian) EpochJD() float64      { return astrotime.JulianDate(k.Epoch) }
