package orbit

import (
	"errors"
	"fmt"
	"math"

	"github.com/star/keplertrack/internal/astrotime"
)

var (
	// ErrSingularity is returned for eccentricities outside [0, 1): parabolic
	// and hyperbolic trajectories are not supported.
	ErrSingularity = errors.New("eccentricity outside [0, 1): orbit type unsupported")
	// ErrNotConverged is wrapped by *ConvergenceError.
	ErrNotConverged = errors.New("kepler solver did not converge")
)

// SolverConfig bounds the Newton-Raphson iteration.
type SolverConfig struct {
	Tolerance     float64 // radians, on the Newton step
	MaxIterations int
}

// DefaultSolverConfig returns a tolerance of 1e-5 rad and 500 iterations.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{Tolerance: 1e-5, MaxIterations: 500}
}

func (c SolverConfig) withDefaults() SolverConfig {
	d := DefaultSolverConfig()
	if c.Tolerance <= 0 || math.IsNaN(c.Tolerance) {
		c.Tolerance = d.Tolerance
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	return c
}

// KeplerSolution is the outcome of SolveKepler. When Converged is false, E
// is the last iterate and Residual says how far it is from satisfying
// Kepler's equation.
type KeplerSolution struct {
	E          float64 // eccentric anomaly, radians
	Converged  bool
	Iterations int
	Residual   float64 // |E - e·sin E - M|, radians
}

// ConvergenceError reports a solve that ran out of iterations.
type ConvergenceError struct {
	MeanAnomaly  float64 // radians
	Eccentricity float64
	Iterations   int
	Residual     float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("kepler solver did not converge after %d iterations (M=%.6f rad, e=%.6f, residual=%.3e)",
		e.Iterations, e.MeanAnomaly, e.Eccentricity, e.Residual)
}

func (e *ConvergenceError) Unwrap() error { return ErrNotConverged }

// SolveKepler solves M = E - e·sin E for the eccentric anomaly E.
//
// Newton-Raphson starts from E₀ = M when e ≤ 0.8 and from E₀ = π otherwise;
// from π the iteration is monotone for every M. For e > 0 the mean anomaly is
// first reduced to [0, 2π). For e = 0 the input M is returned unchanged.
//
// The only error is ErrSingularity. Running out of iterations is reported
// through Converged, not through the error.
func SolveKepler(M, e float64, cfg SolverConfig) (KeplerSolution, error) {
	if e < 0 || e >= 1 || math.IsNaN(e) {
		return KeplerSolution{}, fmt.Errorf("e=%g: %w", e, ErrSingularity)
	}
	if e == 0 {
		return KeplerSolution{E: M, Converged: true}, nil
	}
	cfg = cfg.withDefaults()

	M = astrotime.NormalizeTwoPi(M)
	E := M
	if e > 0.8 {
		E = math.Pi
	}

	sol := KeplerSolution{}
	for sol.Iterations < cfg.MaxIterations {
		sinE, cosE := math.Sincos(E)
		delta := (E - e*sinE - M) / (1 - e*cosE)
		E -= delta
		sol.Iterations++
		if math.Abs(delta) < cfg.Tolerance {
			sol.Converged = true
			break
		}
	}

	sol.E = E
	sol.Residual = math.Abs(E - e*math.Sin(E) - M)
	return sol, nil
}

// TrueAnomaly converts an eccentric anomaly to the true anomaly, both in
// radians, using ν = atan2(√(1−e²)·sin E, cos E − e). The result is in
// [0, 2π). e must be in [0, 1); outside that range the result is NaN.
func TrueAnomaly(E, e float64) float64 {
	sinE, cosE := math.Sincos(E)
	return astrotime.NormalizeTwoPi(math.Atan2(math.Sqrt(1-e*e)*sinE, cosE-e))
}
