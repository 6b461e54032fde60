package passes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/star/keplertrack/internal/transform"
)

var (
	ErrInvalidInterval = errors.New("search end must be after start")
	ErrInvalidOptions  = errors.New("invalid pass search options")
)

// invPhi is 1/φ, the golden-section shrink factor.
var invPhi = (math.Sqrt(5) - 1) / 2

// ctxCheckEvery is how many look-angle evaluations run between checks of
// the search context.
const ctxCheckEvery = 256

// searcher evaluates elevation relative to the threshold for one Find call.
type searcher struct {
	ctx    context.Context
	calls  int
	target Target
	obs    transform.Observer
	opts   Options
}

func (s *searcher) look(t time.Time) (Event, error) {
	s.calls++
	if s.calls%ctxCheckEvery == 0 {
		if err := s.ctx.Err(); err != nil {
			return Event{}, err
		}
	}
	la, err := s.target.LookAngles(s.obs, t)
	if err != nil {
		return Event{}, fmt.Errorf("look angles at %s: %w", t.Format(time.RFC3339Nano), err)
	}
	la = s.opts.Refraction.ApplyTo(la)
	return Event{Time: t, Azimuth: la.Azimuth, Elevation: la.Elevation, Range: la.Range}, nil
}

func (s *searcher) above(ev Event) bool {
	return ev.Elevation > s.opts.MinElevation
}

// Find returns the passes of target over obs between start and end, in
// chronological order.
//
// Elevation is sampled at start + k·Step with the last sample at end. Each
// change of side relative to MinElevation is bisected down to Tolerance;
// the maximum is found by golden-section search inside the window and
// checked against the best sample. Any error from target aborts the search.
func Find(target Target, obs transform.Observer, start, end time.Time, opts Options) ([]Window, error) {
	return FindContext(context.Background(), target, obs, start, end, opts)
}

// FindContext is Find with cancellation. ctx is checked every few hundred
// evaluations; on cancellation the search stops and returns ctx.Err().
func FindContext(ctx context.Context, target Target, obs transform.Observer, start, end time.Time, opts Options) ([]Window, error) {
	if !end.After(start) {
		return nil, ErrInvalidInterval
	}
	def := DefaultOptions()
	if opts.Step == 0 {
		opts.Step = def.Step
	}
	if opts.Tolerance == 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.Step < 0 || opts.Tolerance < 0 || opts.TrackStep < 0 || opts.MaxPasses < 0 ||
		opts.MinElevation < -90 || opts.MinElevation > 90 || math.IsNaN(opts.MinElevation) {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidOptions, opts)
	}

	s := &searcher{ctx: ctx, target: target, obs: obs, opts: opts}

	var (
		windows []Window
		cur     *Window // open window
		best    Event   // best sample in the open window
		prev    Event
	)

	for k := 0; ; k++ {
		t := start.Add(time.Duration(k) * opts.Step)
		last := !t.Before(end)
		if last {
			t = end
		}

		ev, err := s.look(t)
		if err != nil {
			return nil, err
		}

		switch {
		case k == 0 && s.above(ev):
			cur = &Window{Acquisition: ev, AcquisitionClipped: true}
			best = ev
		case k > 0 && !s.above(prev) && s.above(ev):
			aos, err := s.bisect(prev, ev, true)
			if err != nil {
				return nil, err
			}
			cur = &Window{Acquisition: aos}
			best = ev
		case cur != nil && s.above(ev):
			if ev.Elevation > best.Elevation {
				best = ev
			}
		case cur != nil && !s.above(ev):
			los, err := s.bisect(prev, ev, false)
			if err != nil {
				return nil, err
			}
			cur.Loss = los
			if err := s.finish(cur, best); err != nil {
				return nil, err
			}
			windows = s.emit(windows, cur)
			cur = nil
		}

		if opts.MaxPasses > 0 && len(windows) >= opts.MaxPasses {
			return windows, nil
		}
		prev = ev
		if last {
			break
		}
	}

	if cur != nil {
		cur.Loss = prev
		cur.LossClipped = true
		if err := s.finish(cur, best); err != nil {
			return nil, err
		}
		windows = s.emit(windows, cur)
	}

	return windows, nil
}

func (s *searcher) emit(windows []Window, w *Window) []Window {
	if w.Partial() && !s.opts.IncludePartial {
		return windows
	}
	return append(windows, *w)
}

// bisect narrows a threshold crossing between lo and hi. When rising, lo is
// below and hi above and the returned event is the final below-side bound.
// When setting, lo is above and hi below and the returned event is again the
// below-side bound.
func (s *searcher) bisect(lo, hi Event, rising bool) (Event, error) {
	for hi.Time.Sub(lo.Time) > s.opts.Tolerance {
		mid := lo.Time.Add(hi.Time.Sub(lo.Time) / 2)
		ev, err := s.look(mid)
		if err != nil {
			return Event{}, err
		}
		if s.above(ev) == rising {
			hi = ev
		} else {
			lo = ev
		}
	}
	if rising {
		return lo, nil
	}
	return hi, nil
}

// finish locates the maximum of w and fills in its track.
func (s *searcher) finish(w *Window, best Event) error {
	peak, err := s.goldenMax(w.Acquisition.Time, w.Loss.Time)
	if err != nil {
		return err
	}
	if best.Elevation > peak.Elevation {
		peak = best
	}
	// Clipped ends are above the threshold and may be the highest point.
	for _, ev := range []Event{w.Acquisition, w.Loss} {
		if ev.Elevation > peak.Elevation {
			peak = ev
		}
	}
	w.Maximum = peak

	if s.opts.TrackStep > 0 {
		for t := w.Acquisition.Time; t.Before(w.Loss.Time); t = t.Add(s.opts.TrackStep) {
			ev, err := s.look(t)
			if err != nil {
				return err
			}
			w.Track = append(w.Track, ev)
		}
		w.Track = append(w.Track, w.Loss)
	}
	return nil
}

// goldenMax maximises elevation on [a, b] until the bracket is narrower
// than the tolerance.
func (s *searcher) goldenMax(a, b time.Time) (Event, error) {
	span := func(x, y time.Time) time.Duration { return y.Sub(x) }
	at := func(from time.Time, d time.Duration, f float64) time.Time {
		return from.Add(time.Duration(float64(d) * f))
	}

	c := at(b, -span(a, b), invPhi)
	d := at(a, span(a, b), invPhi)
	fc, err := s.look(c)
	if err != nil {
		return Event{}, err
	}
	fd, err := s.look(d)
	if err != nil {
		return Event{}, err
	}

	for span(a, b) > s.opts.Tolerance {
		if fc.Elevation > fd.Elevation {
			b, d, fd = d, c, fc
			c = at(b, -span(a, b), invPhi)
			if fc, err = s.look(c); err != nil {
				return Event{}, err
			}
		} else {
			a, c, fc = c, d, fd
			d = at(a, span(a, b), invPhi)
			if fd, err = s.look(d); err != nil {
				return Event{}, err
			}
		}
	}

	if fc.Elevation > fd.Elevation {
		return fc, nil
	}
	return fd, nil
}
