package sched

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/dm-vev/threadedregions/region"
	"github.com/google/uuid"
)

// ExecutionState is the lifecycle state of a Task. The state field is the
// single source of truth for a task's progress and is only ever mutated
// through compare-and-swap, so that a cancellation racing with the owning
// worker's execution attempt resolves deterministically: exactly one of the
// two transitions out of any state wins.
type ExecutionState uint32

const (
	// StateIdle means the task is waiting on a queue for its due tick.
	StateIdle ExecutionState = iota
	// StateRunning means the primary callback is currently executing.
	StateRunning
	// StateFinished means a one-shot task ran to completion. Terminal.
	StateFinished
	// StateCancelled means the task was cancelled or retired before a run
	// could start. Terminal.
	StateCancelled
	// StateCancelledRunning means a repeating task was cancelled while an
	// occurrence was mid-run. The in-flight occurrence completes, no
	// further occurrences happen.
	StateCancelledRunning
)

// String returns the name of the execution state.
func (s ExecutionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateCancelledRunning:
		return "cancelled_running"
	}
	return "unknown"
}

// CancelledState is the outcome of a Task.Cancel call. It tells the caller
// whether side effects from a run are still going to happen: a caller that
// observes CancelledByCaller knows the primary callback will never fire,
// while CancelRunning means the callback is executing right now.
type CancelledState uint8

const (
	// CancelledByCaller means this call performed the cancellation. No
	// callback will run.
	CancelledByCaller CancelledState = iota
	// CancelledAlready means the task was already cancelled or retired
	// before this call.
	CancelledAlready
	// CancelRunning means a one-shot task is mid-run and can no longer be
	// cancelled. Its side effects will happen.
	CancelRunning
	// AlreadyExecuted means a one-shot task already ran to completion.
	AlreadyExecuted
	// NextRunsCancelled means this call stopped all future occurrences of
	// a repeating task while an occurrence was mid-run. The in-flight
	// occurrence still completes.
	NextRunsCancelled
	// NextRunsCancelledAlready means future occurrences were already
	// stopped by an earlier call while an occurrence was mid-run.
	NextRunsCancelledAlready
)

// String returns the name of the cancellation outcome.
func (s CancelledState) String() string {
	switch s {
	case CancelledByCaller:
		return "cancelled_by_caller"
	case CancelledAlready:
		return "cancelled_already"
	case CancelRunning:
		return "cancel_running"
	case AlreadyExecuted:
		return "already_executed"
	case NextRunsCancelled:
		return "next_runs_cancelled"
	case NextRunsCancelledAlready:
		return "next_runs_cancelled_already"
	}
	return "unknown"
}

type targetKind uint8

const (
	targetNone targetKind = iota
	targetRegion
	targetEntity
)

// target is the tagged target descriptor of a task. A single descriptor type
// with a kind tag keeps resolution in one switch instead of per-facade task
// subtypes.
type target struct {
	kind   targetKind
	key    region.Key
	entity region.EntityID
}

// Task is a single scheduled unit of work, one-shot or repeating. Tasks are
// created through the scheduler facades and handed back to the caller as a
// handle for state inspection and cancellation. All Task methods are safe to
// call from any thread, including from inside the task's own callback.
type Task struct {
	id      uuid.UUID
	owner   uuid.UUID
	created time.Time

	run     func(*Task)
	retired func(*Task)

	target target

	// delay and period are tick counts. period is 0 for one-shot tasks.
	delay  int64
	period int64

	state atomic.Uint32

	// due, seq and tries are only touched by the queue that currently
	// owns the task; ownership transfers atomically with the task itself
	// when re-resolution moves it between queues.
	due   int64
	seq   uint64
	tries int

	s *Scheduler
}

// UUID returns the unique identity of the task.
func (t *Task) UUID() uuid.UUID { return t.id }

// Owner returns the owner the task is attributed to for bulk cancellation.
func (t *Task) Owner() uuid.UUID { return t.owner }

// CreatedAt returns the time at which the task was submitted.
func (t *Task) CreatedAt() time.Time { return t.created }

// Repeating reports whether the task runs at a fixed period rather than once.
func (t *Task) Repeating() bool { return t.period > 0 }

// State returns the current execution state of the task.
func (t *Task) State() ExecutionState { return ExecutionState(t.state.Load()) }

// Done reports whether the task is in a terminal state and will never run
// again.
func (t *Task) Done() bool {
	switch t.State() {
	case StateFinished, StateCancelled:
		return true
	}
	return false
}

// Cancel requests cancellation of the task. It may be called from any thread,
// any number of times, concurrently with execution. The returned
// CancelledState reports which branch of the race this call took.
func (t *Task) Cancel() CancelledState {
	for {
		switch ExecutionState(t.state.Load()) {
		case StateIdle:
			if t.state.CompareAndSwap(uint32(StateIdle), uint32(StateCancelled)) {
				t.s.owners.remove(t)
				return CancelledByCaller
			}
		case StateRunning:
			if !t.Repeating() {
				// Too late: the one-shot run is in flight and will
				// complete. There are no future runs to stop.
				return CancelRunning
			}
			if t.state.CompareAndSwap(uint32(StateRunning), uint32(StateCancelledRunning)) {
				t.s.owners.remove(t)
				return NextRunsCancelled
			}
		case StateFinished:
			return AlreadyExecuted
		case StateCancelled:
			return CancelledAlready
		case StateCancelledRunning:
			return NextRunsCancelledAlready
		}
	}
}

// execute performs one occurrence of the task. It returns true if the task is
// repeating and a next occurrence must be enqueued. A false return with a
// false ran value means the task had been cancelled before the run started.
func (t *Task) execute() (requeue, ran bool) {
	if !t.state.CompareAndSwap(uint32(StateIdle), uint32(StateRunning)) {
		// Lost the race against Cancel. The task is terminal and the
		// primary callback must not fire.
		return false, false
	}
	t.invoke(t.run, "task")
	if t.Repeating() {
		if t.state.CompareAndSwap(uint32(StateRunning), uint32(StateIdle)) {
			return true, true
		}
		// Cancelled mid-run: settle the transient state so that the
		// task reads as terminal once the occurrence has completed.
		t.state.Store(uint32(StateCancelled))
		return false, true
	}
	if !t.state.CompareAndSwap(uint32(StateRunning), uint32(StateFinished)) {
		t.state.Store(uint32(StateCancelled))
	}
	t.s.owners.remove(t)
	return false, true
}

// retire delivers the target-gone notification. It returns true if this call
// won the race to retire the task, in which case the retirement callback, if
// any, has been invoked exactly once, synchronously on the calling thread.
func (t *Task) retire() bool {
	if !t.state.CompareAndSwap(uint32(StateIdle), uint32(StateCancelled)) {
		return false
	}
	t.s.owners.remove(t)
	if t.retired != nil {
		t.invoke(t.retired, "retirement")
	}
	return true
}

// invoke runs a callback, recovering panics so that a faulting callback
// degrades only itself: the state machine still completes its transition and
// the owning worker's tick continues.
func (t *Task) invoke(fn func(*Task), what string) {
	defer func() {
		if r := recover(); r != nil {
			t.s.log.Error("Task callback panic.", "kind", what, "task", t.id, "owner", t.owner, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(t)
}

// normalizeTicks clamps a tick delay or period to the minimum of one tick.
func normalizeTicks(n int64) int64 {
	if n < 1 {
		return 1
	}
	return n
}
