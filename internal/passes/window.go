// Package passes finds the intervals during which an orbiting object is above
// an elevation threshold for a ground observer.
//
// The search samples elevation at a fixed step, refines every threshold
// crossing by bisection and locates the culmination with a golden-section
// search. Passes shorter than the step can fall between two samples and be
// missed; each window is assumed to have a single maximum.
package passes

import (
	"time"

	"github.com/star/keplertrack/internal/transform"
)

// Target is anything whose look angles can be evaluated at a time.
// *orbit.Model satisfies it.
type Target interface {
	LookAngles(obs transform.Observer, t time.Time) (transform.LookAngles, error)
}

// Event is the observer's view of the target at one instant.
type Event struct {
	Time      time.Time `json:"time"`
	Azimuth   float64   `json:"azimuth"`
	Elevation float64   `json:"elevation"`
	Range     float64   `json:"range_km"`
}

// TrackPoint is one sample of the sky track during a pass.
type TrackPoint = Event

// Window is one pass. For a complete window Acquisition is the last instant
// found below the threshold before the pass and Loss the first instant below
// it after, so both elevations are at or below the threshold and the maximum
// is above it.
//
// A window clipped by the search interval has AcquisitionClipped or
// LossClipped set and the corresponding event placed at the interval
// boundary, where the elevation is above the threshold. The culmination
// search is confined to the interval too, so when the target is still rising
// at the end (or already setting at the start) Maximum may coincide with the
// clipped boundary event. Acquisition < Maximum < Loss holds strictly only
// for complete windows; clipped ones guarantee the non-strict ordering.
type Window struct {
	Acquisition Event `json:"acquisition"`
	Maximum     Event `json:"maximum"`
	Loss        Event `json:"loss"`

	AcquisitionClipped bool `json:"acquisition_clipped,omitempty"`
	LossClipped        bool `json:"loss_clipped,omitempty"`

	Track []TrackPoint `json:"track,omitempty"`
}

// Duration returns the time from acquisition to loss.
func (w Window) Duration() time.Duration {
	return w.Loss.Time.Sub(w.Acquisition.Time)
}

// Partial reports whether the window was clipped at either end.
func (w Window) Partial() bool {
	return w.AcquisitionClipped || w.LossClipped
}

// Options controls Find.
type Options struct {
	MinElevation   float64       // degrees
	Step           time.Duration // coarse sampling interval
	Tolerance      time.Duration // bisection stop width for AOS/LOS
	IncludePartial bool          // emit windows clipped by the search interval
	MaxPasses      int           // 0 for no limit
	TrackStep      time.Duration // 0 for no sky track
	Refraction     transform.Refraction
}

// DefaultOptions returns a 0° threshold, a 30 s step and a 100 ms tolerance,
// with partial windows excluded and refraction off.
func DefaultOptions() Options {
	return Options{
		Step:      30 * time.Second,
		Tolerance: 100 * time.Millisecond,
	}
}
