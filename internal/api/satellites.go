package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/stream"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

const (
	defaultTrackStep  = time.Minute
	defaultTrackCount = 90
	defaultPassWindow = 24 * time.Hour
	minPassStep       = time.Second
)

type orbitSummary struct {
	SemimajorAxisKm float64 `json:"semimajor_axis_km"`
	PeriodMinutes   float64 `json:"period_minutes"`
	PerigeeKm       float64 `json:"perigee_altitude_km"`
	ApogeeKm        float64 `json:"apogee_altitude_km"`
	AgeDays         float64 `json:"age_days"`
	Stale           bool    `json:"stale"`
}

type satelliteResponse struct {
	Elements tle.ElementSet `json:"elements"`
	Orbit    orbitSummary   `json:"orbit"`
}

func (s *Server) handleSatellite(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	es, m, err := s.deps.Propagator.Model(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, satelliteResponse{
		Elements: es,
		Orbit:    s.summarize(m),
	})
}

func (s *Server) summarize(m *orbit.Model) orbitSummary {
	age := m.AgeDays(s.now())
	return orbitSummary{
		SemimajorAxisKm: m.SemimajorAxis(),
		PeriodMinutes:   m.Period().Minutes(),
		PerigeeKm:       m.Perigee(),
		ApogeeKm:        m.Apogee(),
		AgeDays:         age,
		Stale:           propagation.IsStale(age, s.deps.Propagator.Config().StaleAfter),
	}
}

// handlePosition returns the state at t. An unconverged Kepler solve is
// still a 200; the anomalies carry converged=false.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := queryTime(r.URL.Query(), "t", s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pos, err := s.deps.Propagator.Position(id, t)
	if err != nil && !errors.Is(err, orbit.ErrNotConverged) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type lookResponse struct {
	CatalogNumber int                  `json:"catalog_number"`
	Time          time.Time            `json:"time"`
	Observer      transform.Geodetic   `json:"observer"`
	Refraction    bool                 `json:"refraction"`
	Look          transform.LookAngles `json:"look"`
}

func (s *Server) handleLook(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	obs, err := observer(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := queryTime(q, "t", s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	refr, err := refraction(q, s.deps.PassDefaults.Refraction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	la, err := s.deps.Propagator.Look(id, obs, t, refr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lookResponse{
		CatalogNumber: id,
		Time:          t,
		Observer:      observerGeodetic(obs),
		Refraction:    refr.Enabled,
		Look:          la,
	})
}

func observerGeodetic(obs transform.Observer) transform.Geodetic {
	return transform.Geodetic{Latitude: obs.LatDeg(), Longitude: obs.LonDeg(), Altitude: obs.AltM / 1000}
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := queryTime(q, "start", s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	step, err := queryDuration(q, "step", defaultTrackStep)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	count, err := queryInt(q, "count", defaultTrackCount, 1, s.deps.Propagator.Config().MaxTrackPoints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	track, err := s.deps.Propagator.GroundTrack(r.Context(), id, start, step, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_number": id,
		"start":          start,
		"step_seconds":   step.Seconds(),
		"points":         track,
	})
}

func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	obs, err := observer(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	start, err := queryTime(q, "start", s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := queryTime(q, "end", start.Add(defaultPassWindow))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !end.After(start) {
		s.writeError(w, r, badParam("end", "must be after start"))
		return
	}
	if end.Sub(start) > s.deps.MaxPassWindow {
		s.writeError(w, r, badParam("end", "search window exceeds %s", s.deps.MaxPassWindow))
		return
	}

	opts := s.deps.PassDefaults
	if opts.MinElevation, err = queryFloat(q, "min_el", opts.MinElevation, -90, 90); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Step, err = queryDuration(q, "step", opts.Step); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Step < minPassStep {
		s.writeError(w, r, badParam("step", "must be at least %s", minPassStep))
		return
	}
	if opts.IncludePartial, err = queryBool(q, "partial", opts.IncludePartial); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.MaxPasses, err = queryInt(q, "limit", opts.MaxPasses, 0, 1000); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Refraction, err = refraction(q, opts.Refraction); err != nil {
		s.writeError(w, r, err)
		return
	}

	results, err := s.deps.Propagator.Passes(r.Context(), []int{id}, obs, start, end, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := results[0]
	if res.Error != "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:     res.Error,
			RequestID: RequestID(r.Context()),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_number": res.ID,
		"name":           res.Name,
		"observer":       observerGeodetic(obs),
		"start":          start,
		"end":            end,
		"min_elevation":  opts.MinElevation,
		"passes":         res.Passes,
	})
}

func (s *Server) handleFidelity(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := queryTime(r.URL.Query(), "t", s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.deps.Propagator.Fidelity(id, t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	t, err := queryTime(r.URL.Query(), "t", s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.deps.Propagator.Snapshot(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStream validates a tracking stream request and hands the connection
// to the stream handler. Observer coordinates are optional; when lat is
// present look angles are streamed too.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := catalogNumber(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	interval, err := queryDuration(q, "interval", time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if interval < stream.MinInterval || interval > stream.MaxInterval {
		s.writeError(w, r, badParam("interval", "must be between %s and %s", stream.MinInterval, stream.MaxInterval))
		return
	}
	req := stream.Request{CatalogNumber: id, Interval: interval}
	if q.Has("lat") || q.Has("lon") {
		obs, err := observer(q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Observer = &obs
		if req.Refraction, err = refraction(q, s.deps.PassDefaults.Refraction); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if _, _, err := s.deps.Propagator.Model(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Stream.Serve(w, r, req)
}
