// Package dispatch runs the bounded-parallel worker pool that drives the
// importer's per-row pipeline (SPEC_FULL.md §4.7): it consumes rows,
// dispatches each to a worker under the Limiter's concurrency cap, joins
// workers with golang.org/x/sync/errgroup, and aggregates per-row failures
// without aborting the run unless a strict flag upgrades them to fatal.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Phase is the coarse-grained state of one run, reported alongside Progress.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseReading    Phase = "reading"
	PhaseDispatching Phase = "dispatching"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Progress is a point-in-time snapshot of one run, delivered through
// ProgressCallback after each row completes (§4.7).
type Progress struct {
	Phase      Phase
	TotalRows  int
	Processed  int
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
}

// Percent returns progress as 0-100; 0 when the total is not yet known.
func (p Progress) Percent() int {
	if p.TotalRows <= 0 {
		return 0
	}
	return (p.Processed * 100) / p.TotalRows
}

// ProgressCallback is invoked after every row completes (success or
// failure). Implementations must not block meaningfully — the dispatcher
// calls it synchronously from whichever worker finished.
type ProgressCallback func(Progress)

// Outcome classifies a successfully processed job. Work returns one so Run
// can aggregate Progress.Inserted/Updated/Skipped under the same lock as
// the other progress fields, instead of leaving the caller to tally them
// itself from multiple worker goroutines.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

// RowFailure is one row's structured failure: its input index and cause
// (§7 "captured with the input row index and a structured cause").
type RowFailure struct {
	RowIndex int
	Cause    error
}

// Job is one unit of work: a row index plus whatever the caller's worker
// function needs to process it. The dispatcher is agnostic to the row's
// shape; Work does the actual convert→upload.
type Job[T any] struct {
	Index int
	Item  T
}

// Work processes exactly one job. A non-nil error is recorded as a
// RowFailure and does not stop the run, unless the caller's own logic
// chooses to return a context-cancellation-propagating fatal error (see
// Run's fatal parameter). On success, Outcome tells Run which of
// Progress.Inserted/Updated/Skipped to bump; OutcomeNone bumps none of
// them.
type Work[T any] func(ctx context.Context, job Job[T]) (Outcome, error)

// Result is the run's aggregate outcome: progress counters plus every
// per-row failure observed, in the order each failing worker completed
// (not input order, per §5 "not order-preserving across workers").
type Result struct {
	Progress Progress
	Failures []RowFailure
}

// Run drains jobs through a bounded pool of width concurrency, invoking work
// for each. A job's error is recorded in Result.Failures and processing
// continues, UNLESS isFatal(err) is true, in which case the run cancels
// remaining workers (via the errgroup's derived context) and drains
// in-flight jobs before returning (§4.7 "Error policy").
func Run[T any](ctx context.Context, jobs []Job[T], concurrency int, work Work[T], isFatal func(error) bool, onProgress ProgressCallback) (Result, error) {
	limiter := NewLimiter(concurrency, DefaultMaxWaitTime)

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	result := Result{Progress: Progress{Phase: PhaseDispatching, TotalRows: len(jobs)}}

	report := func() {
		if onProgress != nil {
			mu.Lock()
			snapshot := result.Progress
			mu.Unlock()
			onProgress(snapshot)
		}
	}

	var fatalErr error

	for _, job := range jobs {
		job := job
		err := limiter.Acquire(gctx)
		for err == ErrTooManyWorkers {
			err = limiter.Acquire(gctx)
		}
		if err != nil {
			break
		}

		g.Go(func() error {
			defer limiter.Release()

			outcome, err := work(gctx, job)

			mu.Lock()
			result.Progress.Processed++
			if err != nil {
				result.Progress.Failed++
				result.Failures = append(result.Failures, RowFailure{RowIndex: job.Index, Cause: err})
			} else {
				switch outcome {
				case OutcomeInserted:
					result.Progress.Inserted++
				case OutcomeUpdated:
					result.Progress.Updated++
				case OutcomeSkipped:
					result.Progress.Skipped++
				}
			}
			mu.Unlock()
			report()

			if err != nil && isFatal != nil && isFatal(err) {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	groupErr := g.Wait()

	mu.Lock()
	if fatalErr != nil {
		result.Progress.Phase = PhaseCancelled
	} else {
		result.Progress.Phase = PhaseComplete
	}
	snapshot := result
	mu.Unlock()
	if onProgress != nil {
		onProgress(snapshot.Progress)
	}

	if fatalErr != nil {
		return result, fatalErr
	}
	return result, groupErr
}
