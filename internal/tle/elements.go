package tle

import (
	"encoding/json"
	"time"

	"github.com/star/keplertrack/internal/astrotime"
)

// ElementSet is one decoded two-line element set. It is immutable: the only
// way to obtain a non-zero value is through Parse, ParseLines or ParseCatalog.
//
// Angles are in degrees, mean motion in revolutions per day.
type ElementSet struct {
	name           string
	catalogNumber  int
	classification string
	intlDesignator string

	epochYear int
	epochDay  float64

	meanMotionDot    float64 // rev/day², already halved as printed
	meanMotionDDot   float64 // rev/day³, already divided by 6 as printed
	bstar            float64 // 1/earth radii
	ephemerisType    int
	elementSetNumber int

	inclination  float64
	raan         float64
	eccentricity float64
	argPerigee   float64
	meanAnomaly  float64
	meanMotion   float64
	revNumber    int

	line1, line2 string
}

func (es ElementSet) Name() string                    { return es.name }
func (es ElementSet) CatalogNumber() int              { return es.catalogNumber }
func (es ElementSet) Classification() string          { return es.classification }
func (es ElementSet) InternationalDesignator() string { return es.intlDesignator }
func (es ElementSet) EpochYear() int                  { return es.epochYear }
func (es ElementSet) EpochDay() float64               { return es.epochDay }
func (es ElementSet) MeanMotionDot() float64          { return es.meanMotionDot }
func (es ElementSet) MeanMotionDDot() float64         { return es.meanMotionDDot }
func (es ElementSet) BStar() float64                  { return es.bstar }
func (es ElementSet) EphemerisType() int              { return es.ephemerisType }
func (es ElementSet) ElementSetNumber() int           { return es.elementSetNumber }
func (es ElementSet) Inclination() float64            { return es.inclination }
func (es ElementSet) RAAN() float64                   { return es.raan }
func (es ElementSet) Eccentricity() float64           { return es.eccentricity }
func (es ElementSet) ArgPerigee() float64             { return es.argPerigee }
func (es ElementSet) MeanAnomaly() float64            { return es.meanAnomaly }
func (es ElementSet) MeanMotion() float64             { return es.meanMotion }
func (es ElementSet) RevolutionNumber() int           { return es.revNumber }

// Lines returns the two data lines exactly as parsed, without trailing whitespace.
func (es ElementSet) Lines() (line1, line2 string) { return es.line1, es.line2 }

// IsZero reports whether es is the zero value returned alongside parse errors.
func (es ElementSet) IsZero() bool { return es.line1 == "" }

// EpochJD returns the epoch as a Julian Date.
func (es ElementSet) EpochJD() float64 {
	return astrotime.EpochJulianDate(es.epochYear, es.epochDay)
}

// Epoch returns the epoch as a UTC time.
func (es ElementSet) Epoch() time.Time {
	start := time.Date(es.epochYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((es.epochDay - 1) * float64(24*time.Hour)))
}

type elementSetJSON struct {
	Name                    string    `json:"name"`
	CatalogNumber           int       `json:"catalog_number"`
	Classification          string    `json:"classification"`
	InternationalDesignator string    `json:"international_designator"`
	Epoch                   time.Time `json:"epoch"`
	EpochYear               int       `json:"epoch_year"`
	EpochDay                float64   `json:"epoch_day"`
	MeanMotionDot           float64   `json:"mean_motion_dot"`
	MeanMotionDDot          float64   `json:"mean_motion_ddot"`
	BStar                   float64   `json:"bstar"`
	ElementSetNumber        int       `json:"element_set_number"`
	Inclination             float64   `json:"inclination_deg"`
	RAAN                    float64   `json:"raan_deg"`
	Eccentricity            float64   `json:"eccentricity"`
	ArgPerigee              float64   `json:"arg_perigee_deg"`
	MeanAnomaly             float64   `json:"mean_anomaly_deg"`
	MeanMotion              float64   `json:"mean_motion_rev_per_day"`
	RevolutionNumber        int       `json:"revolution_number"`
	Line1                   string    `json:"line1"`
	Line2                   string    `json:"line2"`
}

func (es ElementSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(elementSetJSON{
		Name:                    es.name,
		CatalogNumber:           es.catalogNumber,
		Classification:          es.classification,
		InternationalDesignator: es.intlDesignator,
		Epoch:                   es.Epoch(),
		EpochYear:               es.epochYear,
		EpochDay:                es.epochDay,
		MeanMotionDot:           es.meanMotionDot,
		MeanMotionDDot:          es.meanMotionDDot,
		BStar:                   es.bstar,
		ElementSetNumber:        es.elementSetNumber,
		Inclination:             es.inclination,
		RAAN:                    es.raan,
		Eccentricity:            es.eccentricity,
		ArgPerigee:              es.argPerigee,
		MeanAnomaly:             es.meanAnomaly,
		MeanMotion:              es.meanMotion,
		RevolutionNumber:        es.revNumber,
		Line1:                   es.line1,
		Line2:                   es.line2,
	})
}
