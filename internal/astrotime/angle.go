package astrotime

import "math"

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * degToRad }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * radToDeg }

// Normalize360 wraps an angle in degrees into [0, 360).
func Normalize360(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	// math.Mod(-1e-18, 360) + 360 rounds to exactly 360.
	if deg >= 360.0 {
		deg = 0
	}
	return deg
}

// NormalizeTwoPi wraps an angle in radians into [0, 2π).
func NormalizeTwoPi(rad float64) float64 {
	rad = math.Mod(rad, 2*math.Pi)
	if rad < 0 {
		rad += 2 * math.Pi
	}
	if rad >= 2*math.Pi {
		rad = 0
	}
	return rad
}

// NormalizeLongitude wraps a longitude in degrees into (-180, 180].
func NormalizeLongitude(deg float64) float64 {
	deg = Normalize360(deg)
	if deg > 180.0 {
		deg -= 360.0
	}
	return deg
}

// Clamp limits v to [lo, hi]. NaN is passed through.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
