package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/keplertrack/internal/astrotime"
)

// WGS-84 ellipsoid parameters.
const (
	EarthRadiusKm = 6378.137              // equatorial radius (km)
	wgs84F        = 1.0 / 298.257223563   // flattening
	wgs84E2       = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// degenerateRangeKm is the slant range below which observer and target are
// treated as coincident.
const degenerateRangeKm = 1e-9

// ErrDegenerate is returned when a direction cannot be defined because the
// observer and target coincide.
var ErrDegenerate = errors.New("degenerate geometry: observer and target coincide")

// Observer holds a ground observer's location in both geodetic and ECEF frames.
// ECEF coordinates are precomputed once so they can be reused across many
// satellite lookups. Build it with NewObserver.
type Observer struct {
	LatRad, LonRad float64 // geodetic, radians
	AltM           float64 // meters above the WGS-84 ellipsoid
	ECEF           r3.Vec  // km

	sinLat, cosLat, sinLon, cosLon float64
}

// NewObserver creates an Observer from geodetic coordinates.
// Latitude and longitude are in degrees, altitude in meters above the WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat := astrotime.DegToRad(latDeg)
	lon := astrotime.DegToRad(lonDeg)
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	return Observer{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEF:   GeodeticToECEF(Geodetic{Latitude: latDeg, Longitude: lonDeg, Altitude: altM / 1000.0}),
		sinLat: sinLat,
		cosLat: cosLat,
		sinLon: sinLon,
		cosLon: cosLon,
	}
}

// LatDeg returns the observer latitude in degrees.
func (o Observer) LatDeg() float64 { return astrotime.RadToDeg(o.LatRad) }

// LonDeg returns the observer longitude in degrees.
func (o Observer) LonDeg() float64 { return astrotime.RadToDeg(o.LonRad) }

func (o Observer) String() string {
	return fmt.Sprintf("(%.4f°, %.4f°, %.0fm)", o.LatDeg(), o.LonDeg(), o.AltM)
}

// Geodetic holds a geodetic position: latitude/longitude in degrees, altitude in km.
type Geodetic struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude_km"`
}

// GeodeticToECEF converts a geodetic position to ECEF km.
func GeodeticToECEF(g Geodetic) r3.Vec {
	sinLat, cosLat := math.Sincos(astrotime.DegToRad(g.Latitude))
	sinLon, cosLon := math.Sincos(astrotime.DegToRad(g.Longitude))

	// Radius of curvature in the prime vertical.
	n := EarthRadiusKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return r3.Vec{
		X: (n + g.Altitude) * cosLat * cosLon,
		Y: (n + g.Altitude) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + g.Altitude) * sinLat,
	}
}

// ECEFToGeodetic converts ECEF coordinates (km) to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for Earth orbits.
func ECEFToGeodetic(pos r3.Vec) Geodetic {
	lon := math.Atan2(pos.Y, pos.X)
	p := math.Hypot(pos.X, pos.Y)

	lat := math.Atan2(pos.Z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := EarthRadiusKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(pos.Z+wgs84E2*n*sinLat, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := EarthRadiusKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(pos.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{
		Latitude:  astrotime.RadToDeg(lat),
		Longitude: astrotime.NormalizeLongitude(astrotime.RadToDeg(lon)),
		Altitude:  alt,
	}
}

// ENU is a vector in an observer's local East-North-Up tangent frame (km).
type ENU struct {
	East, North, Up float64
}

// rotateToENU rotates an ECEF-axis vector into the observer's ENU axes.
func (o Observer) rotateToENU(v r3.Vec) ENU {
	return ENU{
		East:  -o.sinLon*v.X + o.cosLon*v.Y,
		North: -o.sinLat*o.cosLon*v.X - o.sinLat*o.sinLon*v.Y + o.cosLat*v.Z,
		Up:    o.cosLat*o.cosLon*v.X + o.cosLat*o.sinLon*v.Y + o.sinLat*v.Z,
	}
}

// ECEFToENU returns the observer → target vector in ENU coordinates.
func ECEFToENU(obs Observer, target r3.Vec) ENU {
	return obs.rotateToENU(r3.Sub(target, obs.ECEF))
}

// ENUToECEF is the inverse of ECEFToENU: it returns the ECEF position of the
// point at the given ENU offset from the observer.
func ENUToECEF(obs Observer, enu ENU) r3.Vec {
	d := r3.Vec{
		X: -obs.sinLon*enu.East - obs.sinLat*obs.cosLon*enu.North + obs.cosLat*obs.cosLon*enu.Up,
		Y: obs.cosLon*enu.East - obs.sinLat*obs.sinLon*enu.North + obs.cosLat*obs.sinLon*enu.Up,
		Z: obs.cosLat*enu.North + obs.sinLat*enu.Up,
	}
	return r3.Add(obs.ECEF, d)
}

// Horizontal holds azimuth (0 = North, clockwise, [0, 360)), elevation
// ([-90, 90]) in degrees and slant range in km.
type Horizontal struct {
	Azimuth   float64
	Elevation float64
	Range     float64
}

// ENUToHorizontal converts an ENU vector to azimuth/elevation/range.
// Returns ErrDegenerate when the vector has (near) zero length.
func ENUToHorizontal(enu ENU) (Horizontal, error) {
	rng := math.Sqrt(enu.East*enu.East + enu.North*enu.North + enu.Up*enu.Up)
	if rng < degenerateRangeKm || math.IsNaN(rng) {
		return Horizontal{}, ErrDegenerate
	}

	el := math.Asin(astrotime.Clamp(enu.Up/rng, -1, 1))
	az := math.Atan2(enu.East, enu.North)

	return Horizontal{
		Azimuth:   astrotime.Normalize360(astrotime.RadToDeg(az)),
		Elevation: astrotime.Clamp(astrotime.RadToDeg(el), -90, 90),
		Range:     rng,
	}, nil
}

// HorizontalToENU is the inverse of ENUToHorizontal.
func HorizontalToENU(h Horizontal) ENU {
	sinEl, cosEl := math.Sincos(astrotime.DegToRad(h.Elevation))
	sinAz, cosAz := math.Sincos(astrotime.DegToRad(h.Azimuth))
	return ENU{
		East:  h.Range * cosEl * sinAz,
		North: h.Range * cosEl * cosAz,
		Up:    h.Range * sinEl,
	}
}

// LookAngles is the topocentric view of a target from an observer.
type LookAngles struct {
	Azimuth   float64 `json:"azimuth"`    // degrees, 0 = North, clockwise
	Elevation float64 `json:"elevation"`  // degrees, 0 = horizon, 90 = zenith
	Range     float64 `json:"range_km"`   // km
	RangeRate float64 `json:"range_rate"` // km/s, positive = receding
}

// ECEFToLookAngles computes azimuth, elevation, range and range-rate from an
// observer (fixed in ECEF) to a target state given in ECEF km and km/s.
func ECEFToLookAngles(obs Observer, target State) (LookAngles, error) {
	rel := r3.Sub(target.Position, obs.ECEF)
	h, err := ENUToHorizontal(obs.rotateToENU(rel))
	if err != nil {
		return LookAngles{}, err
	}

	return LookAngles{
		Azimuth:   h.Azimuth,
		Elevation: h.Elevation,
		Range:     h.Range,
		RangeRate: r3.Dot(rel, target.Velocity) / h.Range,
	}, nil
}
