package passes

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/star/keplertrack/internal/transform"
)

// Satellite is one entry of a batch request.
type Satellite struct {
	ID     int
	Name   string
	Target Target
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	ID     int      `json:"catalog_number"`
	Name   string   `json:"name,omitempty"`
	Passes []Window `json:"passes"`
	Error  string   `json:"error,omitempty"`
}

// Request holds the parameters for a batch pass prediction.
type Request struct {
	Observer   transform.Observer
	Satellites []Satellite
	Start      time.Time
	End        time.Time
	Options    Options
}

// Predict runs Find for every satellite in req. Each satellite is processed
// in its own goroutine, bounded by a semaphore of runtime.NumCPU(). Results
// keep the order of req.Satellites; per-satellite failures and cancellation
// are reported in the Error field.
func Predict(ctx context.Context, req Request) []SatellitePasses {
	results := make([]SatellitePasses, len(req.Satellites))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, sat := range req.Satellites {
		wg.Add(1)
		go func(idx int, s Satellite) {
			defer wg.Done()
			results[idx] = SatellitePasses{ID: s.ID, Name: s.Name}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx].Error = "cancelled"
				return
			}
			if ctx.Err() != nil {
				results[idx].Error = "cancelled"
				return
			}

			windows, err := FindContext(ctx, s.Target, req.Observer, req.Start, req.End, req.Options)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					results[idx].Error = "cancelled"
					return
				}
				results[idx].Error = err.Error()
				return
			}
			if windows == nil {
				windows = []Window{}
			}
			results[idx].Passes = windows
		}(i, sat)
	}

	wg.Wait()
	return results
}
