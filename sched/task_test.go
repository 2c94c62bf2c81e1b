package sched

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dm-vev/threadedregions/region"
	"github.com/google/uuid"
	"log/slog"
)

func testScheduler(t *testing.T, resolver region.Resolver) *Scheduler {
	t.Helper()
	s := Config{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolver: resolver,
		Metrics:  NewMetrics(),
	}.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCancelIdempotent(t *testing.T) {
	s := testScheduler(t, region.NewTable())
	ran := false
	task := s.Global().RunDelayed(uuid.New(), func(*Task) { ran = true }, 5)

	if got := task.Cancel(); got != CancelledByCaller {
		t.Fatalf("first cancel: expected CancelledByCaller, got %v", got)
	}
	if got := task.Cancel(); got != CancelledAlready {
		t.Fatalf("second cancel: expected CancelledAlready, got %v", got)
	}
	for tick := int64(1); tick <= 10; tick++ {
		s.RunGlobalTick(tick)
	}
	if ran {
		t.Fatalf("cancelled task must never run")
	}
	if got := task.State(); got != StateCancelled {
		t.Fatalf("expected cancelled state, got %v", got)
	}
}

func TestCancelExecuteRaceSingleWinner(t *testing.T) {
	s := testScheduler(t, region.NewTable())
	for i := 0; i < 200; i++ {
		var ran atomic.Bool
		task := s.Global().Run(uuid.New(), func(*Task) { ran.Store(true) })

		var wg sync.WaitGroup
		wg.Add(2)
		var res CancelledState
		go func() {
			defer wg.Done()
			res = task.Cancel()
		}()
		go func() {
			defer wg.Done()
			s.RunGlobalTick(int64(i + 1))
		}()
		wg.Wait()

		if res == CancelledByCaller && ran.Load() {
			t.Fatalf("iteration %d: cancel won but task still ran", i)
		}
		if res != CancelledByCaller && !ran.Load() {
			t.Fatalf("iteration %d: cancel lost (%v) but task never ran", i, res)
		}
	}
}

func TestConcurrentCancelSingleWinner(t *testing.T) {
	s := testScheduler(t, region.NewTable())
	task := s.Global().RunDelayed(uuid.New(), func(*Task) {}, 100)

	const racers = 16
	results := make(chan CancelledState, racers)
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			results <- task.Cancel()
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for res := range results {
		switch res {
		case CancelledByCaller:
			winners++
		case CancelledAlready:
		default:
			t.Fatalf("unexpected cancel outcome %v", res)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning cancel, got %d", winners)
	}
}

func TestRepeatingCancelMidRun(t *testing.T) {
	s := testScheduler(t, region.NewTable())
	runs := 0
	var first, second CancelledState
	var task *Task
	task = s.Global().RunAtFixedRate(uuid.New(), func(*Task) {
		runs++
		if runs == 1 {
			first = task.Cancel()
			second = task.Cancel()
		}
	}, 1, 1)

	for tick := int64(1); tick <= 5; tick++ {
		s.RunGlobalTick(tick)
	}
	if runs != 1 {
		t.Fatalf("expected exactly one occurrence after mid-run cancel, got %d", runs)
	}
	if first != NextRunsCancelled {
		t.Fatalf("expected NextRunsCancelled, got %v", first)
	}
	if second != NextRunsCancelledAlready {
		t.Fatalf("expected NextRunsCancelledAlready, got %v", second)
	}
	if got := task.State(); got != StateCancelled {
		t.Fatalf("expected the task to settle cancelled, got %v", got)
	}
	if got := task.Cancel(); got != CancelledAlready {
		t.Fatalf("cancel after settle: expected CancelledAlready, got %v", got)
	}
}

func TestCancelFinishedOneShot(t *testing.T) {
	s := testScheduler(t, region.NewTable())
	task := s.Global().Run(uuid.New(), func(*Task) {})
	s.RunGlobalTick(1)
	if got := task.State(); got != StateFinished {
		t.Fatalf("expected finished, got %v", got)
	}
	if got := task.Cancel(); got != AlreadyExecuted {
		t.Fatalf("expected AlreadyExecuted, got %v", got)
	}
}

func TestSelfCancelFromCallback(t *testing.T) {
	s := testScheduler(t, region.NewTable())
	runs := 0
	s.Global().RunAtFixedRate(uuid.New(), func(task *Task) {
		runs++
		if runs == 3 {
			if got := task.Cancel(); got != NextRunsCancelled {
				t.Fatalf("self-cancel: expected NextRunsCancelled, got %v", got)
			}
		}
	}, 1, 1)
	for tick := int64(1); tick <= 10; tick++ {
		s.RunGlobalTick(tick)
	}
	if runs != 3 {
		t.Fatalf("expected three occurrences, got %d", runs)
	}
}
