package astrotime

import (
	"math"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJulianDate verifies our Julian Date calculation against known values.
func TestJulianDate(t *testing.T) {
	tests := []struct {
		name     string
		time     time.Time
		expected float64
	}{
		{
			name:     "J2000.0 epoch",
			time:     time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			expected: 2451545.0,
		},
		{
			name:     "Unix epoch",
			time:     time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: 2440587.5,
		},
		{
			// Vallado Example 3-15: April 6, 2004, 07:51:28.386 UTC
			name:     "Vallado example date",
			time:     time.Date(2004, 4, 6, 7, 51, 28, 386009000, time.UTC),
			expected: 2453101.827411875,
		},
		{
			name:     "non-UTC location is converted first",
			time:     time.Date(2000, 1, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			expected: 2451545.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, JulianDate(tt.time), 1e-6)
		})
	}
}

func TestEpochJulianDate(t *testing.T) {
	tests := []struct {
		name string
		year int
		doy  float64
		want time.Time
	}{
		{"day one is Jan 1 midnight", 2020, 1.0, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"fractional day", 2020, 45.5, time.Date(2020, 2, 14, 12, 0, 0, 0, time.UTC)},
		{"leap day", 2024, 60.25, time.Date(2024, 2, 29, 6, 0, 0, 0, time.UTC)},
		{"last century", 1998, 365.0, time.Date(1998, 12, 31, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, JulianDate(tt.want), EpochJulianDate(tt.year, tt.doy), 1e-9)
		})
	}
}

func TestTimeFromJulianDateRoundTrip(t *testing.T) {
	in := time.Date(2025, 7, 4, 18, 30, 15, 250000000, time.UTC)
	assert.WithinDuration(t, in, TimeFromJulianDate(JulianDate(in)), time.Millisecond)
}

// TestGMST validates the IAU-82 GMST against go-satellite's GSTimeFromDate,
// which uses the same model.
func TestGMST(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
	}{
		{"J2000.0 epoch", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"Vallado example date", time.Date(2004, 4, 6, 7, 51, 28, 0, time.UTC)},
		{"recent date 2026", time.Date(2026, 2, 6, 4, 1, 0, 0, time.UTC)},
		{"before J2000", time.Date(1985, 11, 3, 23, 59, 59, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := satellite.GSTimeFromDate(
				tt.time.Year(), int(tt.time.Month()), tt.time.Day(),
				tt.time.Hour(), tt.time.Minute(), tt.time.Second(),
			)
			assert.InDelta(t, ref, GMST(tt.time), 1e-8)
		})
	}
}

// TestGMSTAgainstMeeus cross-checks with Meeus' mean sidereal time (eq 12.4).
func TestGMSTAgainstMeeus(t *testing.T) {
	for _, ts := range []time.Time{
		time.Date(1987, 4, 10, 19, 21, 0, 0, time.UTC),
		time.Date(2020, 2, 14, 4, 27, 39, 0, time.UTC),
		time.Date(2031, 9, 30, 12, 0, 0, 0, time.UTC),
	} {
		jd := JulianDate(ts)
		ours := GMSTFromJulianDate(jd)
		ref := NormalizeTwoPi(sidereal.Mean(jd).Angle().Rad())

		diff := math.Abs(ours - ref)
		if diff > math.Pi {
			diff = 2*math.Pi - diff
		}
		assert.Less(t, diff, 1e-6, "GMST at %v: ours=%.9f meeus=%.9f", ts, ours, ref)
	}
}

func TestGMSTRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		g := GMST(start.Add(time.Duration(i) * 37 * time.Minute))
		require.False(t, math.IsNaN(g), "step %d", i)
		require.GreaterOrEqual(t, g, 0.0, "step %d", i)
		require.Less(t, g, 2*math.Pi, "step %d", i)
	}
}
