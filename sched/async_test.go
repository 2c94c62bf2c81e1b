package sched

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dm-vev/threadedregions/region"
	"github.com/google/uuid"
	"log/slog"
)

func testAsyncScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := Config{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolver: region.NewTable(),
		Metrics:  NewMetrics(),
		// A short tick interval keeps delayed async tests fast.
		TickInterval: time.Millisecond,
	}.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAsyncRunNow(t *testing.T) {
	s := testAsyncScheduler(t)
	var ran atomic.Bool
	task := s.Async().RunNow(uuid.New(), func(*Task) { ran.Store(true) })

	waitFor(t, ran.Load, "async task to run")
	waitFor(t, func() bool { return task.State() == StateFinished }, "async task to finish")
}

func TestAsyncDelayed(t *testing.T) {
	s := testAsyncScheduler(t)
	var ran atomic.Bool
	start := time.Now()
	s.Async().RunDelayed(uuid.New(), func(*Task) { ran.Store(true) }, 50)

	waitFor(t, ran.Load, "delayed async task to run")
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("task ran after %v, before its 50 tick delay", elapsed)
	}
}

func TestAsyncRepeatingCancelStopsFutureRuns(t *testing.T) {
	s := testAsyncScheduler(t)
	var runs atomic.Int64
	task := s.Async().RunAtFixedRate(uuid.New(), func(*Task) { runs.Add(1) }, 1, 1)

	waitFor(t, func() bool { return runs.Load() >= 3 }, "repeating async task to run")
	res := task.Cancel()
	switch res {
	case CancelledByCaller, NextRunsCancelled:
	default:
		t.Fatalf("unexpected cancel outcome %v", res)
	}
	waitFor(t, task.Done, "cancelled async task to settle")
	after := runs.Load()
	time.Sleep(25 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Fatalf("task kept running after cancellation: %d -> %d", after, got)
	}
}

func TestAsyncCancelBeforeDispatch(t *testing.T) {
	s := testAsyncScheduler(t)
	var ran atomic.Bool
	task := s.Async().RunDelayed(uuid.New(), func(*Task) { ran.Store(true) }, 10_000)

	if got := task.Cancel(); got != CancelledByCaller {
		t.Fatalf("expected CancelledByCaller, got %v", got)
	}
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("cancelled async task must not run")
	}
}

func TestAsyncCloseCancelsPending(t *testing.T) {
	s := Config{
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolver:     region.NewTable(),
		TickInterval: time.Millisecond,
	}.New()
	task := s.Async().RunDelayed(uuid.New(), func(*Task) {}, 60_000)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := task.State(); got != StateCancelled {
		t.Fatalf("expected pending task cancelled on close, got %v", got)
	}
}
