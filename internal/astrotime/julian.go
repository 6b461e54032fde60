// Package astrotime holds the time and angle helpers shared by the orbit and
// transform packages: Julian dates, Greenwich Mean Sidereal Time and angle
// normalization. Everything here is a pure function of its arguments.
package astrotime

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// J2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const J2000 = 2451545.0

// SecondsPerDay is the number of SI seconds in a day.
const SecondsPerDay = 86400.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JulianDate converts a time.Time to a UTC Julian Date.
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// EpochJulianDate returns the Julian Date of a TLE-style epoch, where
// dayOfYear 1.0 is January 1 at 00:00 UTC of the given year.
func EpochJulianDate(year int, dayOfYear float64) float64 {
	return julian.CalendarGregorianToJD(year, 1, 1) + dayOfYear - 1
}

// TimeFromJulianDate converts a Julian Date back to a UTC time.Time.
func TimeFromJulianDate(jd float64) time.Time {
	return julian.JDToTime(jd).UTC()
}

// DaysBetween returns (b - a) in fractional days.
func DaysBetween(a, b time.Time) float64 {
	return JulianDate(b) - JulianDate(a)
}

// GMST calculates Greenwich Mean Sidereal Time in radians for a given UTC time.
// Uses the IAU-82 model as described in Vallado "Fundamentals of Astrodynamics".
func GMST(t time.Time) float64 {
	return GMSTFromJulianDate(JulianDate(t))
}

// GMSTFromJulianDate evaluates the IAU-82 GMST polynomial (Vallado Eq 3-47):
//
//	θ_GMST = 67310.54841 + (876600h + 8640184.812866)*T + 0.093104*T² - 6.2e-6*T³
//
// where T is Julian centuries of UT1 from J2000.0 and the result is in
// seconds of time. The return value is in radians, normalized to [0, 2π).
func GMSTFromJulianDate(jd float64) float64 {
	tUT1 := (jd - J2000) / 36525.0

	// 876600h = 876600 * 3600 = 3155760000 seconds.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	gmstSec = math.Mod(gmstSec, SecondsPerDay)
	if gmstSec < 0 {
		gmstSec += SecondsPerDay
	}
	return gmstSec / SecondsPerDay * 2.0 * math.Pi
}
