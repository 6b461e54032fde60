package transform

import (
	"math"

	"github.com/star/keplertrack/internal/astrotime"
)

// DefaultRefractionThresholdDeg is the elevation above which refraction is
// ignored.
const DefaultRefractionThresholdDeg = 15.0

// Bennett's formula diverges as h approaches -4.4°.
const minRefractionElevationDeg = -1.0

// BennettRefraction returns the atmospheric refraction in degrees for an
// elevation in degrees, using Bennett (1982) for standard conditions
// (1010 hPa, 10 °C):
//
//	R = cot(h + 7.31 / (h + 4.4))   [arcminutes]
//
// Returns 0 below -1°.
func BennettRefraction(elevDeg float64) float64 {
	if elevDeg < minRefractionElevationDeg || math.IsNaN(elevDeg) {
		return 0
	}
	arg := astrotime.DegToRad(elevDeg + 7.31/(elevDeg+4.4))
	r := 1.0 / math.Tan(arg) / 60.0
	if r < 0 {
		return 0
	}
	return r
}

// Refraction configures the elevation correction applied to look angles.
type Refraction struct {
	Enabled bool
	// ThresholdDeg must be positive; zero selects
	// DefaultRefractionThresholdDeg.
	ThresholdDeg float64
}

// DefaultRefraction enables the correction below 15°.
func DefaultRefraction() Refraction {
	return Refraction{Enabled: true, ThresholdDeg: DefaultRefractionThresholdDeg}
}

// Apply returns the apparent elevation for a geometric elevation in degrees.
// Elevations at or above the threshold (15° when unset) or below -1° are
// returned unchanged.
func (r Refraction) Apply(elevDeg float64) float64 {
	threshold := r.ThresholdDeg
	if threshold == 0 {
		threshold = DefaultRefractionThresholdDeg
	}
	if !r.Enabled || elevDeg >= threshold || elevDeg < minRefractionElevationDeg {
		return elevDeg
	}
	return astrotime.Clamp(elevDeg+BennettRefraction(elevDeg), -90, 90)
}

// ApplyTo returns la with its elevation corrected.
func (r Refraction) ApplyTo(la LookAngles) LookAngles {
	la.Elevation = r.Apply(la.Elevation)
	return la
}
