package api

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

// catalogNumber reads the {id} path value, digits or Alpha-5.
func catalogNumber(r *http.Request) (int, error) {
	raw := r.PathValue("id")
	n, err := tle.ParseCatalogNumber(raw)
	if err != nil {
		return 0, badParam("id", "%q is not a catalog number", raw)
	}
	return n, nil
}

func queryTime(q url.Values, key string, def time.Time) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, badParam(key, "%q is not an RFC 3339 time", v)
	}
	return t.UTC(), nil
}

func queryFloat(q url.Values, key string, def, min, max float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f < min || f > max {
		return 0, badParam(key, "%q is not a number in [%g, %g]", v, min, max)
	}
	return f, nil
}

func requiredFloat(q url.Values, key string, min, max float64) (float64, error) {
	if q.Get(key) == "" {
		return 0, badParam(key, "required")
	}
	return queryFloat(q, key, 0, min, max)
}

func queryInt(q url.Values, key string, def, min, max int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, badParam(key, "%q is not an integer in [%d, %d]", v, min, max)
	}
	return n, nil
}

func queryBool(q url.Values, key string, def bool) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badParam(key, "%q is not a boolean", v)
	}
	return b, nil
}

// maxDurationSeconds is the largest whole number of seconds a time.Duration
// holds.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// queryDuration accepts Go durations ("30s") or plain seconds ("30").
func queryDuration(q url.Values, key string, def time.Duration) (time.Duration, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
			return 0, badParam(key, "%q must be positive", v)
		}
		if secs > maxDurationSeconds {
			return 0, badParam(key, "%q is too large", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, badParam(key, "%q is not a positive duration", v)
	}
	return d, nil
}

// observer reads lat and lon (degrees, required) and alt (metres above the
// ellipsoid, default 0).
func observer(q url.Values) (transform.Observer, error) {
	lat, err := requiredFloat(q, "lat", -90, 90)
	if err != nil {
		return transform.Observer{}, err
	}
	lon, err := requiredFloat(q, "lon", -180, 180)
	if err != nil {
		return transform.Observer{}, err
	}
	alt, err := queryFloat(q, "alt", 0, -500, 100000)
	if err != nil {
		return transform.Observer{}, err
	}
	return transform.NewObserver(lat, lon, alt), nil
}

// refraction reads the refraction flag. When set, the configured correction
// is used if one is enabled, otherwise the default.
func refraction(q url.Values, configured transform.Refraction) (transform.Refraction, error) {
	on, err := queryBool(q, "refraction", configured.Enabled)
	if err != nil || !on {
		return transform.Refraction{}, err
	}
	if configured.Enabled {
		return configured, nil
	}
	return transform.DefaultRefraction(), nil
}
