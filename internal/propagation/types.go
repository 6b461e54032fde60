package propagation

import (
	"runtime"
	"time"

	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/transform"
)

// Position is one object's propagated state at one instant. Vectors are in
// km and km/s.
type Position struct {
	CatalogNumber int                `json:"catalog_number"`
	Name          string             `json:"name,omitempty"`
	Time          time.Time          `json:"time"`
	PositionECI   [3]float64         `json:"position_eci_km"`
	VelocityECI   [3]float64         `json:"velocity_eci_kms"`
	PositionECEF  [3]float64         `json:"position_ecef_km"`
	VelocityECEF  [3]float64         `json:"velocity_ecef_kms"`
	Geodetic      transform.Geodetic `json:"geodetic"`
	Anomalies     orbit.AnomalySet   `json:"anomalies"`
}

// Snapshot holds the positions of every catalog object at a single instant.
type Snapshot struct {
	Time        time.Time  `json:"time"`
	Objects     []Position `json:"objects"`
	Failed      int        `json:"failed"`
	Unconverged int        `json:"unconverged"`
}

// FidelityReport compares the two-body position against SGP4 for the same
// element set. Stale is set when the elements are older than the configured
// horizon.
type FidelityReport struct {
	CatalogNumber int        `json:"catalog_number"`
	Time          time.Time  `json:"time"`
	AgeDays       float64    `json:"age_days"`
	SeparationKm  float64    `json:"separation_km"`
	TwoBodyECI    [3]float64 `json:"two_body_eci_km"`
	SGP4ECI       [3]float64 `json:"sgp4_eci_km"`
	Stale         bool       `json:"stale"`
}

// Config holds propagation settings.
type Config struct {
	Workers        int // worker pool size (default: runtime.NumCPU())
	Solver         orbit.SolverConfig
	StaleAfter     time.Duration // element age at which fidelity is flagged (default: 10 days)
	MaxTrackPoints int           // ground track length limit (default: 10000)
}

// DefaultStaleAfter is the element age beyond which two-body results are
// reported as stale.
const DefaultStaleAfter = 10 * 24 * time.Hour

// DefaultConfig returns NumCPU workers, the default solver, a 10 day stale
// horizon and a 10000 point track limit.
func DefaultConfig() Config {
	return Config{
		Workers:        runtime.NumCPU(),
		Solver:         orbit.DefaultSolverConfig(),
		StaleAfter:     DefaultStaleAfter,
		MaxTrackPoints: 10000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.MaxTrackPoints <= 0 {
		c.MaxTrackPoints = d.MaxTrackPoints
	}
	return c
}

func vec3(x, y, z float64) [3]float64 { return [3]float64{x, y, z} }
