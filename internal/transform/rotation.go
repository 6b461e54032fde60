package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// R1 is the frame rotation about the 1st (X) axis by x radians.
func R1(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	})
}

// R3 is the frame rotation about the 3rd (Z) axis by x radians.
func R3(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

// Rotate applies a 3x3 rotation matrix to v. There is no dimension check.
func Rotate(m mat.Matrix, v r3.Vec) r3.Vec {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r3.Vec{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// PerifocalMatrix returns the PQW → ECI rotation for the given orientation
// angles in radians: R3(-Ω)·R1(-i)·R3(-ω).
//
// The three rotations are, in order of application to a perifocal vector:
// argument of perigee about the orbit normal, inclination about the line of
// nodes, and right ascension of the ascending node about the polar axis.
func PerifocalMatrix(argPerigee, inclination, raan float64) *mat.Dense {
	var tmp, m mat.Dense
	tmp.Mul(R1(-inclination), R3(-argPerigee))
	m.Mul(R3(-raan), &tmp)
	return &m
}

// PerifocalToECI rotates a perifocal-frame vector into the inertial frame.
func PerifocalToECI(v r3.Vec, argPerigee, inclination, raan float64) r3.Vec {
	return Rotate(PerifocalMatrix(argPerigee, inclination, raan), v)
}
