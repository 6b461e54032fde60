package orbit

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/keplertrack/internal/astrotime"
	"github.com/star/keplertrack/internal/transform"
)

// AnomalySet holds the three anomalies at one instant, in degrees [0, 360).
// Converged, Iterations and Residual come from the Kepler solve.
type AnomalySet struct {
	Mean       float64 `json:"mean"`
	Eccentric  float64 `json:"eccentric"`
	True       float64 `json:"true"`
	Converged  bool    `json:"converged"`
	Iterations int     `json:"iterations"`
	Residual   float64 `json:"residual"`
}

// State is the full propagated state at one instant.
type State struct {
	Time      time.Time
	Anomalies AnomalySet
	ECI       transform.State
	ECEF      transform.State
	Geodetic  transform.Geodetic
}

// meanAnomalyAt returns M(t) = M₀ + n·Δt in radians, reduced to [0, 2π).
func (m *Model) meanAnomalyAt(t time.Time) float64 {
	dt := (astrotime.JulianDate(t) - m.epochJD) * astrotime.SecondsPerDay
	return astrotime.NormalizeTwoPi(m.m0 + m.n*dt)
}

// solve returns the Kepler solution at t and, when it did not converge, a
// *ConvergenceError. The solution is returned in both cases.
func (m *Model) solve(t time.Time) (float64, KeplerSolution, error) {
	M := m.meanAnomalyAt(t)
	sol, err := SolveKepler(M, m.ecc, m.solver)
	if err != nil {
		return M, sol, err
	}
	if !sol.Converged {
		return M, sol, &ConvergenceError{
			MeanAnomaly:  M,
			Eccentricity: m.ecc,
			Iterations:   sol.Iterations,
			Residual:     sol.Residual,
		}
	}
	return M, sol, nil
}

// AnomaliesAt returns the mean, eccentric and true anomalies at t.
//
// If the solver does not converge, the AnomalySet is still returned with
// Converged set to false, together with a *ConvergenceError. Callers decide
// whether the unconverged values are usable.
func (m *Model) AnomaliesAt(t time.Time) (AnomalySet, error) {
	M, sol, err := m.solve(t)
	return m.anomalySet(M, sol), err
}

func (m *Model) anomalySet(M float64, sol KeplerSolution) AnomalySet {
	return AnomalySet{
		Mean:       astrotime.Normalize360(astrotime.RadToDeg(M)),
		Eccentric:  astrotime.Normalize360(astrotime.RadToDeg(sol.E)),
		True:       astrotime.Normalize360(astrotime.RadToDeg(TrueAnomaly(sol.E, m.ecc))),
		Converged:  sol.Converged,
		Iterations: sol.Iterations,
		Residual:   sol.Residual,
	}
}

// PositionAt propagates to t. Non-convergence follows the same contract as
// AnomaliesAt: the State is filled in from the last iterate and returned
// with a *ConvergenceError.
func (m *Model) PositionAt(t time.Time) (State, error) {
	M, sol, err := m.solve(t)
	if err != nil && !errors.Is(err, ErrNotConverged) {
		return State{}, err
	}

	sinE, cosE := math.Sincos(sol.E)
	r := m.a * (1 - m.ecc*cosE)
	// Perifocal position and velocity.
	vScale := math.Sqrt(Mu*m.a) / r
	pqwPos := r3.Vec{X: m.a * (cosE - m.ecc), Y: m.b * sinE}
	pqwVel := r3.Vec{X: -vScale * sinE, Y: vScale * math.Sqrt(1-m.ecc*m.ecc) * cosE}

	eci := transform.State{
		Position: transform.Rotate(m.pqwToECI, pqwPos),
		Velocity: transform.Rotate(m.pqwToECI, pqwVel),
	}
	ecef := transform.ECIToECEF(eci, t)

	return State{
		Time:      t,
		Anomalies: m.anomalySet(M, sol),
		ECI:       eci,
		ECEF:      ecef,
		Geodetic:  transform.ECEFToGeodetic(ecef.Position),
	}, err
}

// LookAngles returns the topocentric view of the object from obs at t.
// Non-convergence follows the PositionAt contract: the angles computed from
// the last iterate come back with the *ConvergenceError.
func (m *Model) LookAngles(obs transform.Observer, t time.Time) (transform.LookAngles, error) {
	st, err := m.PositionAt(t)
	if err != nil && !errors.Is(err, ErrNotConverged) {
		return transform.LookAngles{}, err
	}
	la, lerr := transform.ECEFToLookAngles(obs, st.ECEF)
	if lerr != nil {
		return transform.LookAngles{}, lerr
	}
	return la, err
}
