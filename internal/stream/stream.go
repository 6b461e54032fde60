// Package stream implements Server-Sent Events (SSE) tracking streams for a
// single catalog object. Clients connect via
// GET /api/v1/satellites/{id}/stream and receive the object's state every
// interval until they disconnect.
//
// SSE message format:
//
//	data: {"type":"state","t":"2020-02-14T04:27:39Z","catalog_number":25544,...}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","catalog_number":25544,"element_epoch":"...","age_days":0.3,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval without data.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/keplertrack/internal/httputil"
	"github.com/star/keplertrack/internal/metrics"
	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

const (
	DefaultMaxPerIP          = 10
	DefaultMaxTotal          = 1000
	DefaultKeepaliveInterval = 30 * time.Second

	MinInterval = time.Second
	MaxInterval = time.Minute
)

// Config holds streaming limits.
type Config struct {
	MaxConcurrentPerIP int
	MaxTotal           int
	KeepaliveInterval  time.Duration
	TrustProxy         bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = DefaultMaxPerIP
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = DefaultMaxTotal
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	return c
}

// Source supplies the states streamed to clients. *propagation.Propagator
// satisfies it.
type Source interface {
	Model(catalogNumber int) (tle.ElementSet, *orbit.Model, error)
	Position(catalogNumber int, t time.Time) (propagation.Position, error)
	Look(catalogNumber int, obs transform.Observer, t time.Time, refraction transform.Refraction) (transform.LookAngles, error)
}

// Request describes one validated stream subscription.
type Request struct {
	CatalogNumber int
	Interval      time.Duration
	Observer      *transform.Observer // nil streams positions only
	Refraction    transform.Refraction
}

// Handler manages SSE streaming connections.
type Handler struct {
	source     Source
	config     Config
	staleAfter time.Duration
	limiter    *streamLimiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a new streaming handler.
func NewHandler(source Source, config Config, staleAfter time.Duration, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		source:     source,
		config:     config,
		staleAfter: staleAfter,
		limiter:    newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:     logger,
		now:        time.Now,
	}
}

// Serve streams req to the client until the request context ends or a write
// fails. The caller validates req and checks that the object exists.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, req Request) {
	if req.Interval < MinInterval || req.Interval > MaxInterval {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("interval must be between %s and %s", MinInterval, MaxInterval))
		return
	}
	es, model, err := h.source.Model(req.CatalogNumber)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if reason := h.limiter.acquire(ip); reason != "" {
		metrics.IncStreamErrors(reason)
		h.logger.Warn("stream limit exceeded",
			"remote_ip", ip,
			"limit", reason,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"catalog_number", req.CatalogNumber,
		"interval", req.Interval.String(),
		"look", req.Observer != nil,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"catalog_number", req.CatalogNumber,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The server WriteTimeout would otherwise cut the stream.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, rc: rc, logger: h.logger}

	// Jittered retry (3-7s) spreads reconnects after a restart.
	if err := c.sendRetry(3000 + rand.Intn(4000)); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	now := h.now().UTC()
	age := model.AgeDays(now)
	meta := metadataMessage{
		Type:          "metadata",
		CatalogNumber: es.CatalogNumber(),
		Name:          es.Name(),
		ElementEpoch:  model.Epoch().UTC().Format(time.RFC3339Nano),
		AgeDays:       age,
		Stale:         propagation.IsStale(age, h.staleAfter),
		Interval:      req.Interval.Seconds(),
		Refraction:    req.Refraction.Enabled,
	}
	if req.Observer != nil {
		g := transform.Geodetic{Latitude: req.Observer.LatDeg(), Longitude: req.Observer.LonDeg(), Altitude: req.Observer.AltM / 1000}
		meta.Observer = &g
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	if !h.sendState(c, req, now, ip) {
		return
	}

	ticker := time.NewTicker(req.Interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !h.sendState(c, req, h.now().UTC(), ip) {
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// sendState propagates and writes one state message. It returns false when
// the stream should end.
func (h *Handler) sendState(c *client, req Request, t time.Time, ip string) bool {
	msg, err := h.buildState(req, t)
	if err != nil {
		metrics.IncStreamErrors("propagation_error")
		h.logger.Warn("stream propagation error",
			"remote_ip", ip,
			"catalog_number", req.CatalogNumber,
			"error", err,
		)
		// The client gets the reason before the stream closes.
		_ = c.sendJSON(errorMessage{Type: "error", Error: err.Error()})
		return false
	}
	if err := c.sendJSON(msg); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
		return false
	}
	return true
}

func (h *Handler) buildState(req Request, t time.Time) (stateMessage, error) {
	pos, err := h.source.Position(req.CatalogNumber, t)
	converged := true
	if err != nil {
		if !errors.Is(err, orbit.ErrNotConverged) {
			return stateMessage{}, err
		}
		converged = false
	}
	msg := stateMessage{
		Type:          "state",
		Time:          t,
		CatalogNumber: req.CatalogNumber,
		PositionECI:   pos.PositionECI,
		PositionECEF:  pos.PositionECEF,
		Geodetic:      pos.Geodetic,
		Converged:     converged,
	}
	if req.Observer == nil {
		return msg, nil
	}
	// Unconverged angles are still streamed; Converged marks them.
	la, err := h.source.Look(req.CatalogNumber, *req.Observer, t, req.Refraction)
	if err != nil {
		if !errors.Is(err, orbit.ErrNotConverged) {
			return stateMessage{}, err
		}
		msg.Converged = false
	}
	visible := la.Elevation > 0
	msg.Look = &la
	msg.Visible = &visible
	return msg, nil
}

// SSE message payload types.

type metadataMessage struct {
	Type          string              `json:"type"`
	CatalogNumber int                 `json:"catalog_number"`
	Name          string              `json:"name,omitempty"`
	ElementEpoch  string              `json:"element_epoch"`
	AgeDays       float64             `json:"age_days"`
	Stale         bool                `json:"stale"`
	Interval      float64             `json:"interval_seconds"`
	Observer      *transform.Geodetic `json:"observer,omitempty"`
	Refraction    bool                `json:"refraction"`
}

type stateMessage struct {
	Type          string                `json:"type"`
	Time          time.Time             `json:"t"`
	CatalogNumber int                   `json:"catalog_number"`
	PositionECI   [3]float64            `json:"position_eci"`
	PositionECEF  [3]float64            `json:"position_ecef"`
	Geodetic      transform.Geodetic    `json:"geodetic"`
	Converged     bool                  `json:"converged"`
	Look          *transform.LookAngles `json:"look,omitempty"`
	Visible       *bool                 `json:"visible,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
