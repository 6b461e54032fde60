package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/keplertrack/internal/metrics"
	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/passes"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

var (
	// ErrInvalidTrack is returned for ground track requests with a
	// non-positive step or a point count outside the configured limit.
	ErrInvalidTrack = errors.New("invalid ground track request")
	// ErrInvalidElements wraps the orbit.New failure of a catalog entry
	// that has no usable two-body model.
	ErrInvalidElements = errors.New("element set has no two-body model")
)

// object pairs a catalog entry with its two-body model.
type object struct {
	set   tle.ElementSet
	model *orbit.Model
}

func (o *object) position(st orbit.State) Position {
	return Position{
		CatalogNumber: o.set.CatalogNumber(),
		Name:          o.set.Name(),
		Time:          st.Time,
		PositionECI:   vec3(st.ECI.Position.X, st.ECI.Position.Y, st.ECI.Position.Z),
		VelocityECI:   vec3(st.ECI.Velocity.X, st.ECI.Velocity.Y, st.ECI.Velocity.Z),
		PositionECEF:  vec3(st.ECEF.Position.X, st.ECEF.Position.Y, st.ECEF.Position.Z),
		VelocityECEF:  vec3(st.ECEF.Velocity.X, st.ECEF.Velocity.Y, st.ECEF.Velocity.Z),
		Geodetic:      st.Geodetic,
		Anomalies:     st.Anomalies,
	}
}

// modelCache holds the two-body models for one catalog.
// Immutable after construction; safe for concurrent reads.
type modelCache struct {
	objects   map[int]*object
	order     []*object
	invalid   map[int]error
	fetchedAt time.Time
}

// Propagator runs two-body propagation over the current catalog.
type Propagator struct {
	store   *tle.Store
	pool    *WorkerPool
	config  Config
	logger  *slog.Logger
	cache   atomic.Pointer[modelCache]
	cacheMu sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(store *tle.Store, config Config, logger *slog.Logger) *Propagator {
	config = config.withDefaults()
	return &Propagator{
		store:  store,
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (p *Propagator) Config() Config { return p.config }

// models returns the model cache for the current catalog, rebuilding it when
// the catalog has changed (double-checked locking).
func (p *Propagator) models() (*modelCache, error) {
	cat := p.store.Get()
	if cat == nil {
		return nil, tle.ErrNoCatalog
	}

	if c := p.cache.Load(); c != nil && c.fetchedAt.Equal(cat.FetchedAt) {
		return c, nil
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	if c := p.cache.Load(); c != nil && c.fetchedAt.Equal(cat.FetchedAt) {
		return c, nil
	}

	c := &modelCache{
		objects:   make(map[int]*object, len(cat.Sets)),
		order:     make([]*object, 0, len(cat.Sets)),
		invalid:   make(map[int]error),
		fetchedAt: cat.FetchedAt,
	}
	for _, es := range cat.Sets {
		m, err := orbit.NewWithSolver(es, p.config.Solver)
		if err != nil {
			p.logger.Warn("two-body model init failed", "catalog_number", es.CatalogNumber(), "error", err)
			c.invalid[es.CatalogNumber()] = err
			continue
		}
		obj := &object{set: es, model: m}
		c.objects[es.CatalogNumber()] = obj
		c.order = append(c.order, obj)
	}

	p.logger.Info("model cache rebuilt",
		"cached", len(c.order),
		"skipped", len(c.invalid),
		"catalog_fetched_at", cat.FetchedAt.UTC().Format(time.RFC3339),
	)
	p.cache.Store(c)
	return c, nil
}

func (p *Propagator) object(catalogNumber int) (*object, error) {
	c, err := p.models()
	if err != nil {
		return nil, err
	}
	if obj, ok := c.objects[catalogNumber]; ok {
		return obj, nil
	}
	if cause, ok := c.invalid[catalogNumber]; ok {
		return nil, fmt.Errorf("catalog number %d: %w: %w", catalogNumber, ErrInvalidElements, cause)
	}
	return nil, fmt.Errorf("catalog number %d: %w", catalogNumber, tle.ErrUnknownObject)
}

// Model returns the element set and two-body model for a catalog number.
func (p *Propagator) Model(catalogNumber int) (tle.ElementSet, *orbit.Model, error) {
	obj, err := p.object(catalogNumber)
	if err != nil {
		return tle.ElementSet{}, nil, err
	}
	return obj.set, obj.model, nil
}

// Position propagates one object to t. An unconverged solve returns the
// position together with a *orbit.ConvergenceError.
func (p *Propagator) Position(catalogNumber int, t time.Time) (Position, error) {
	obj, err := p.object(catalogNumber)
	if err != nil {
		return Position{}, err
	}
	st, err := obj.model.PositionAt(t)
	if err != nil {
		if !errors.Is(err, orbit.ErrNotConverged) {
			return Position{}, err
		}
		metrics.RecordNonConvergence()
	}
	return obj.position(st), err
}

// Snapshot propagates every catalog object to t on the worker pool.
func (p *Propagator) Snapshot(ctx context.Context, t time.Time) (*Snapshot, error) {
	c, err := p.models()
	if err != nil {
		return nil, err
	}

	jobs := make([]propagateJob, len(c.order))
	for i, obj := range c.order {
		jobs[i] = propagateJob{index: i, obj: obj, targetTime: t}
	}

	p.logger.Debug("propagating",
		"object_count", len(jobs),
		"target_time", t.UTC().Format(time.RFC3339),
		"workers", p.config.Workers,
	)

	start := time.Now()
	res := p.pool.PropagateBatch(ctx, jobs)
	duration := time.Since(start)

	metrics.RecordPropagation(duration, res.success, res.failed)
	for i := 0; i < res.unconverged; i++ {
		metrics.RecordNonConvergence()
	}

	p.logger.Debug("propagation complete",
		"success", res.success,
		"errors", res.failed,
		"unconverged", res.unconverged,
		"duration_ms", duration.Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Time:        t,
		Objects:     res.positions,
		Failed:      res.failed + len(c.invalid),
		Unconverged: res.unconverged,
	}, nil
}

// GroundTrack propagates one object at count instants start, start+step, …
// in parallel. The result is in time order.
func (p *Propagator) GroundTrack(ctx context.Context, catalogNumber int, start time.Time, step time.Duration, count int) ([]Position, error) {
	if step <= 0 || count < 1 || count > p.config.MaxTrackPoints {
		return nil, fmt.Errorf("%w: step %s, count %d (limit %d)", ErrInvalidTrack, step, count, p.config.MaxTrackPoints)
	}
	obj, err := p.object(catalogNumber)
	if err != nil {
		return nil, err
	}

	jobs := make([]propagateJob, count)
	for i := range jobs {
		jobs[i] = propagateJob{index: i, obj: obj, targetTime: start.Add(time.Duration(i) * step)}
	}

	begin := time.Now()
	res := p.pool.PropagateBatch(ctx, jobs)
	metrics.RecordPropagation(time.Since(begin), res.success, res.failed)
	for i := 0; i < res.unconverged; i++ {
		metrics.RecordNonConvergence()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res.positions, nil
}

// Look returns the topocentric look angles of one object from obs at t, with
// refraction applied to the elevation when enabled. An unconverged solve
// returns the angles together with a *orbit.ConvergenceError.
func (p *Propagator) Look(catalogNumber int, obs transform.Observer, t time.Time, refraction transform.Refraction) (transform.LookAngles, error) {
	obj, err := p.object(catalogNumber)
	if err != nil {
		return transform.LookAngles{}, err
	}
	la, err := obj.model.LookAngles(obs, t)
	if err != nil {
		if !errors.Is(err, orbit.ErrNotConverged) {
			return transform.LookAngles{}, err
		}
		metrics.RecordNonConvergence()
	}
	return refraction.ApplyTo(la), err
}

// Passes predicts visibility windows of the given objects over obs. Every
// catalog number must resolve to a model; per-object search failures are
// reported in the result.
func (p *Propagator) Passes(ctx context.Context, catalogNumbers []int, obs transform.Observer, start, end time.Time, opts passes.Options) ([]passes.SatellitePasses, error) {
	sats := make([]passes.Satellite, 0, len(catalogNumbers))
	for _, n := range catalogNumbers {
		obj, err := p.object(n)
		if err != nil {
			return nil, err
		}
		sats = append(sats, passes.Satellite{ID: n, Name: obj.set.Name(), Target: obj.model})
	}

	begin := time.Now()
	results := passes.Predict(ctx, passes.Request{
		Observer:   obs,
		Satellites: sats,
		Start:      start,
		End:        end,
		Options:    opts,
	})
	duration := time.Since(begin)

	var found int
	for _, r := range results {
		found += len(r.Passes)
		if r.Error != "" {
			p.logger.Warn("pass search failed", "catalog_number", r.ID, "error", r.Error)
		}
	}
	metrics.RecordPassSearch(duration, found)

	p.logger.Debug("pass search complete",
		"objects", len(sats),
		"passes", found,
		"duration_ms", duration.Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Fidelity compares the two-body position of one object at t against SGP4.
// Element sets SGP4 cannot handle return ErrSGP4Unsupported.
func (p *Propagator) Fidelity(catalogNumber int, t time.Time) (FidelityReport, error) {
	obj, err := p.object(catalogNumber)
	if err != nil {
		return FidelityReport{}, err
	}
	// SGP4 only resolves whole seconds.
	t = t.UTC().Truncate(time.Second)

	st, err := obj.model.PositionAt(t)
	if err != nil {
		return FidelityReport{}, err
	}
	sgp4, err := NewSGP4Propagator(obj.set)
	if err != nil {
		return FidelityReport{}, err
	}
	ref, err := sgp4.Propagate(t)
	if err != nil {
		return FidelityReport{}, err
	}

	age := obj.model.AgeDays(t)
	return FidelityReport{
		CatalogNumber: catalogNumber,
		Time:          t,
		AgeDays:       age,
		SeparationKm:  r3.Norm(r3.Sub(st.ECI.Position, ref.Position)),
		TwoBodyECI:    vec3(st.ECI.Position.X, st.ECI.Position.Y, st.ECI.Position.Z),
		SGP4ECI:       vec3(ref.Position.X, ref.Position.Y, ref.Position.Z),
		Stale:         IsStale(age, p.config.StaleAfter),
	}, nil
}

// IsStale reports whether an element age in days (either direction from
// epoch) exceeds horizon.
func IsStale(ageDays float64, horizon time.Duration) bool {
	if ageDays < 0 {
		ageDays = -ageDays
	}
	return ageDays*24*float64(time.Hour) > float64(horizon)
}
