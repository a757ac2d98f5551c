package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_ContinuesOnError(t *testing.T) {
	jobs := make([]Job[int], 10)
	for i := range jobs {
		jobs[i] = Job[int]{Index: i, Item: i}
	}

	work := func(ctx context.Context, j Job[int]) (Outcome, error) {
		if j.Item%3 == 0 {
			return OutcomeNone, errors.New("boom")
		}
		return OutcomeInserted, nil
	}

	result, err := Run(context.Background(), jobs, 3, work, nil, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Progress.Processed != 10 {
		t.Errorf("Processed = %d, want 10", result.Progress.Processed)
	}
	wantFailed := 0
	for i := 0; i < 10; i++ {
		if i%3 == 0 {
			wantFailed++
		}
	}
	if len(result.Failures) != wantFailed {
		t.Errorf("Failures = %d, want %d", len(result.Failures), wantFailed)
	}
	if result.Progress.Phase != PhaseComplete {
		t.Errorf("Phase = %q, want complete", result.Progress.Phase)
	}
}

func TestRun_RespectsConcurrencyBound(t *testing.T) {
	jobs := make([]Job[int], 20)
	for i := range jobs {
		jobs[i] = Job[int]{Index: i, Item: i}
	}

	var active int32
	var maxActive int32
	var mu sync.Mutex

	work := func(ctx context.Context, j Job[int]) (Outcome, error) {
		n := atomic.AddInt32(&active, 1)
		mu.Lock()
		if n > maxActive {
			maxActive = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return OutcomeInserted, nil
	}

	if _, err := Run(context.Background(), jobs, 4, work, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if maxActive > 4 {
		t.Errorf("max concurrent workers = %d, want <= 4", maxActive)
	}
}

func TestRun_FatalFlagCancelsRemainingWork(t *testing.T) {
	jobs := make([]Job[int], 50)
	for i := range jobs {
		jobs[i] = Job[int]{Index: i, Item: i}
	}

	sentinel := errors.New("fatal")
	var processed int32

	work := func(ctx context.Context, j Job[int]) (Outcome, error) {
		atomic.AddInt32(&processed, 1)
		if j.Item == 5 {
			return OutcomeNone, sentinel
		}
		time.Sleep(2 * time.Millisecond)
		return OutcomeInserted, nil
	}

	isFatal := func(err error) bool { return errors.Is(err, sentinel) }

	_, err := Run(context.Background(), jobs, 2, work, isFatal, nil)
	if err == nil {
		t.Fatal("expected the fatal error to propagate")
	}
	if atomic.LoadInt32(&processed) >= int32(len(jobs)) {
		t.Errorf("expected cancellation to stop processing before all %d jobs ran, got %d", len(jobs), processed)
	}
}

func TestRun_ProgressCallbackReportsEachRow(t *testing.T) {
	jobs := make([]Job[int], 5)
	for i := range jobs {
		jobs[i] = Job[int]{Index: i, Item: i}
	}

	var calls int32
	onProgress := func(p Progress) { atomic.AddInt32(&calls, 1) }

	work := func(ctx context.Context, j Job[int]) (Outcome, error) { return OutcomeInserted, nil }

	if _, err := Run(context.Background(), jobs, 2, work, nil, onProgress); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// At least one callback per row plus the final phase-completion callback.
	if calls < int32(len(jobs)) {
		t.Errorf("onProgress called %d times, want at least %d", calls, len(jobs))
	}
}
