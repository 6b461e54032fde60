package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keplertrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keplertrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propagationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keplertrack_propagation_duration_seconds",
			Help:    "Duration of batch propagation runs.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	propagationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keplertrack_propagations_total",
			Help: "Individual object propagations by result.",
		},
		[]string{"result"},
	)

	solverNonConvergenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keplertrack_kepler_nonconvergence_total",
			Help: "Kepler solves that ran out of iterations.",
		},
	)

	passSearchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keplertrack_pass_search_duration_seconds",
			Help:    "Duration of pass searches.",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 10, 30},
		},
	)

	passesFoundTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keplertrack_passes_found_total",
			Help: "Pass windows returned by searches.",
		},
	)

	catalogObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keplertrack_catalog_objects",
			Help: "Number of objects in the current catalog.",
		},
	)

	catalogAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keplertrack_catalog_age_seconds",
			Help: "Seconds since the current catalog was fetched, -1 if none.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keplertrack_stream_connections_total",
			Help: "Stream connect and disconnect events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keplertrack_streams_active",
			Help: "Currently open tracking streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keplertrack_stream_messages_total",
			Help: "Data messages written to tracking streams.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keplertrack_stream_bytes_total",
			Help: "Bytes written to tracking streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keplertrack_stream_errors_total",
			Help: "Tracking stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propagationDurationSeconds,
		propagationsTotal,
		solverNonConvergenceTotal,
		passSearchDurationSeconds,
		passesFoundTotal,
		catalogObjects,
		catalogAgeSeconds,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPropagation records one batch propagation run.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagationsTotal.WithLabelValues("success").Add(float64(success))
	propagationsTotal.WithLabelValues("error").Add(float64(errors))
}

// RecordNonConvergence counts a Kepler solve that did not converge.
func RecordNonConvergence() {
	solverNonConvergenceTotal.Inc()
}

// RecordPassSearch records one pass search and the number of windows found.
func RecordPassSearch(d time.Duration, windows int) {
	passSearchDurationSeconds.Observe(d.Seconds())
	passesFoundTotal.Add(float64(windows))
}

// SetCatalogObjects sets the catalog size gauge.
func SetCatalogObjects(n int) {
	catalogObjects.Set(float64(n))
}

// SetCatalogAge sets the catalog age gauge.
func SetCatalogAge(seconds float64) {
	catalogAgeSeconds.Set(seconds)
}

// IncStreamConnections counts a stream "connect" or "disconnect" event.
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error. Reasons are a fixed set of
// identifiers chosen by the stream handler.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

var exactRoutes = map[string]bool{
	"/":                      true,
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/api/v1/catalog":        true,
	"/api/v1/catalog/fetch":  true,
	"/api/v1/elements/parse": true,
	"/api/v1/snapshot":       true,
}

var satelliteSubroutes = map[string]bool{
	"position": true,
	"look":     true,
	"track":    true,
	"passes":   true,
	"fidelity": true,
	"stream":   true,
}

const satellitesPrefix = "/api/v1/satellites/"

// normalizeRoute maps a request path to a bounded label set so that catalog
// numbers and scanner noise do not create new time series.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}

	rest, ok := strings.CutPrefix(path, satellitesPrefix)
	if !ok || rest == "" {
		return "other"
	}
	id, sub, hasSub := strings.Cut(rest, "/")
	if id == "" || strings.ContainsAny(id, "./") {
		return "other"
	}
	if !hasSub {
		return satellitesPrefix + "{id}"
	}
	if satelliteSubroutes[sub] {
		return satellitesPrefix + "{id}/" + sub
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
