package propagation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/star/keplertrack/internal/orbit"
)

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index      int
	obj        *object
	targetTime time.Time
}

// propagateResult is the output of a single propagation.
type propagateResult struct {
	index    int
	position Position
	err      error
}

// batchResult collects the outcome of PropagateBatch. Positions keep the
// order of the submitted jobs; failed jobs are left out.
type batchResult struct {
	positions   []Position
	success     int
	failed      int
	unconverged int
}

// WorkerPool manages a fixed number of goroutines for parallel two-body
// propagation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// PropagateBatch runs every job on the pool. Unconverged Kepler solves still
// produce a position, flagged through Anomalies.Converged; any other failure
// is logged and skipped. On cancellation the jobs not yet started are dropped.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, jobs []propagateJob) batchResult {
	if len(jobs) == 0 {
		return batchResult{}
	}

	jobCh := make(chan propagateJob, wp.workers*2)
	results := make(chan propagateResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				result := propagateSingle(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	slots := make([]*Position, len(jobs))
	var out batchResult

	for result := range results {
		if result.err != nil {
			if !errors.Is(result.err, orbit.ErrNotConverged) {
				out.failed++
				wp.logger.Warn("propagation failed",
					"catalog_number", jobs[result.index].obj.set.CatalogNumber(),
					"error", result.err,
				)
				continue
			}
			out.unconverged++
		}
		out.success++
		pos := result.position
		slots[result.index] = &pos
	}

	out.positions = make([]Position, 0, out.success)
	for _, p := range slots {
		if p != nil {
			out.positions = append(out.positions, *p)
		}
	}
	return out
}

// propagateSingle runs the two-body model for one job.
func propagateSingle(job propagateJob) propagateResult {
	st, err := job.obj.model.PositionAt(job.targetTime)
	if err != nil && !errors.Is(err, orbit.ErrNotConverged) {
		return propagateResult{index: job.index, err: err}
	}
	return propagateResult{
		index:    job.index,
		position: job.obj.position(st),
		err:      err,
	}
}
