// Package transform provides coordinate frame transformations for satellite positions.
//
// Frames: perifocal (PQW) → inertial (ECI) → Earth-fixed (ECEF) → local
// East-North-Up → horizontal (azimuth/elevation/range). All distances are in
// kilometres and all velocities in km/s.
//
// ECI → ECEF uses a GMST-only rotation. Polar motion and the equation of the
// equinoxes are ignored, which is well inside the error of a two-body orbit.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/keplertrack/internal/astrotime"
)

// State is a position/velocity pair in km and km/s.
type State struct {
	Position r3.Vec
	Velocity r3.Vec
}

// ECIToECEF transforms an inertial state to ECEF at the given UTC time.
func ECIToECEF(eci State, t time.Time) State {
	return ECIToECEFWithGMST(eci, astrotime.GMST(t))
}

// ECIToECEFWithGMST transforms ECI to ECEF using a precomputed GMST angle (radians).
// Useful when propagating multiple satellites to the same time (compute GMST once).
//
// Position transform: r_ECEF = R3(θ) * r_ECI
// Velocity transform: v_ECEF = R3(θ) * v_ECI - ω × r_ECEF
//
// where R3(θ) is a rotation about the Z-axis by angle θ (GMST),
// and ω = [0, 0, ω_earth] is Earth's angular velocity vector.
func ECIToECEFWithGMST(eci State, gmst float64) State {
	sinG, cosG := math.Sincos(gmst)

	x := eci.Position.X*cosG + eci.Position.Y*sinG
	y := -eci.Position.X*sinG + eci.Position.Y*cosG
	z := eci.Position.Z

	// ω × r_ECEF = [-ω*y, ω*x, 0]
	vx := eci.Velocity.X*cosG + eci.Velocity.Y*sinG + astrotime.OmegaEarth*y
	vy := -eci.Velocity.X*sinG + eci.Velocity.Y*cosG - astrotime.OmegaEarth*x
	vz := eci.Velocity.Z

	return State{
		Position: r3.Vec{X: x, Y: y, Z: z},
		Velocity: r3.Vec{X: vx, Y: vy, Z: vz},
	}
}

// ECEFToECI is the inverse of ECIToECEF.
func ECEFToECI(ecef State, t time.Time) State {
	return ECEFToECIWithGMST(ecef, astrotime.GMST(t))
}

// ECEFToECIWithGMST rotates by -GMST after restoring the Earth-rotation
// velocity term removed by ECIToECEFWithGMST.
func ECEFToECIWithGMST(ecef State, gmst float64) State {
	sinG, cosG := math.Sincos(gmst)
	p := ecef.Position

	// v_ECEF + ω × r_ECEF, still in ECEF axes.
	vx := ecef.Velocity.X - astrotime.OmegaEarth*p.Y
	vy := ecef.Velocity.Y + astrotime.OmegaEarth*p.X
	vz := ecef.Velocity.Z

	return State{
		Position: r3.Vec{
			X: p.X*cosG - p.Y*sinG,
			Y: p.X*sinG + p.Y*cosG,
			Z: p.Z,
		},
		Velocity: r3.Vec{
			X: vx*cosG - vy*sinG,
			Y: vx*sinG + vy*cosG,
			Z: vz,
		},
	}
}

// ValidateECEF checks that an ECEF position (km) is physically reasonable for
// an Earth-orbiting object: finite, above the surface and inside cislunar space.
func ValidateECEF(pos r3.Vec) bool {
	for _, c := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}

	const minRadius = 6200.0   // km, below the polar radius
	const maxRadius = 400000.0 // km, roughly lunar distance

	mag := r3.Norm(pos)
	return mag >= minRadius && mag <= maxRadius
}
