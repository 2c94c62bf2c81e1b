// Package sched implements the task scheduling core of a multi-threaded,
// spatially partitioned simulation server. The world is divided into regions,
// each ticked by exactly one worker at a time, with regions free to move
// between workers as load balances. Callers schedule deferred and repeating
// work against a region, an entity or the process-wide global region, and the
// scheduler guarantees the work runs on whichever worker owns the target at
// the moment of execution, never on a stale owner.
//
// Ownership is re-resolved on every execution attempt, not just at
// submission: a task queued against an entity follows the entity across
// region and worker boundaries, and a task whose entity is destroyed before
// it could run has its retirement callback invoked exactly once instead.
package sched

import (
	"sync"
	"sync/atomic"

	"github.com/dm-vev/threadedregions/region"
	"github.com/google/uuid"
	"log/slog"
)

// Scheduler owns the per-worker task queues, the global region queue and the
// async executor. All public methods are safe for concurrent use from any
// thread, including from inside a task callback.
type Scheduler struct {
	conf Config
	log  *slog.Logger

	resolver region.Resolver
	router   *router
	owners   *ownerSet
	metrics  *Metrics
	async    *asyncExecutor

	tick   atomic.Int64
	closed atomic.Bool

	loops loopRegistry
	tps   sync.Map // map[region.WorkerID]*atomic.Uint64
}

// New creates a Scheduler from the Config. The global region queue is
// attached immediately; spatial workers attach through AttachWorker as the
// host brings them up.
func (conf Config) New() *Scheduler {
	conf = conf.withDefaults()
	if conf.Resolver == nil {
		panic("sched: scheduler requires an ownership resolver")
	}
	s := &Scheduler{
		conf:     conf,
		log:      conf.Log,
		resolver: conf.Resolver,
		router:   newRouter(conf.Log),
		owners:   newOwnerSet(),
		metrics:  conf.Metrics,
	}
	s.async = newAsyncExecutor(s, conf.AsyncWorkers, conf.AsyncQueueSize)
	s.router.attach(region.GlobalWorker)
	return s
}

// AttachWorker creates the task queue for a spatial worker. Attaching an
// already attached worker is a no-op.
func (s *Scheduler) AttachWorker(w region.WorkerID) {
	s.router.attach(w)
}

// DetachWorker removes a worker's queue and transfers its remaining tasks to
// their targets' current owners. Tasks whose target cannot currently be
// resolved are parked on the global queue, which re-resolves them each tick;
// tasks whose entity target has been retired have their retirement callback
// invoked here. The global worker cannot be detached.
func (s *Scheduler) DetachWorker(w region.WorkerID) {
	if w == region.GlobalWorker {
		return
	}
	for _, t := range s.router.detach(w) {
		if t.target.kind == targetEntity && s.resolver.ResolveEntity(t.target.entity).State == region.EntityRetired {
			s.retireTask(w, t)
			continue
		}
		s.route(t, t.due)
	}
}

// CurrentTick returns the scheduler's global tick counter, advanced by the
// global region tick.
func (s *Scheduler) CurrentTick() int64 { return s.tick.Load() }

// RunGlobalTick advances the global tick counter to the tick passed and
// drains the global region queue. It must be called from the thread ticking
// the global region.
func (s *Scheduler) RunGlobalTick(tick int64) {
	s.tick.Store(tick)
	s.RunTick(region.GlobalWorker, tick)
}

// RunTick drains the queue of the worker passed, executing every task due at
// or before the tick passed. It must be called from the worker's own tick
// thread: the scheduler relies on each queue having a single consumer. Tasks
// due on the same tick execute in submission order.
func (s *Scheduler) RunTick(w region.WorkerID, tick int64) {
	q, ok := s.router.queue(w)
	if !ok {
		return
	}
	for _, t := range q.popDue(tick) {
		s.process(w, t, tick)
	}
	s.sweepRetired(w, q)
	s.metrics.SetQueueSize(w, q.len())
}

// sweepRetired retires queued entity tasks whose target was destroyed before
// their due tick, so a waiting task never outlives its target by more than
// one of its owner's ticks.
func (s *Scheduler) sweepRetired(w region.WorkerID, q *taskQueue) {
	for _, t := range q.entityTasks() {
		if t.Done() {
			q.dropEntity(t)
			continue
		}
		if s.resolver.ResolveEntity(t.target.entity).State == region.EntityRetired {
			s.retireTask(w, t)
			q.dropEntity(t)
		}
	}
}

// process re-resolves a due task's target and either executes it on this
// worker, hands it to the worker that now owns the target, defers it or
// retires it.
func (s *Scheduler) process(w region.WorkerID, t *Task, tick int64) {
	if t.Done() {
		// Cancelled while queued. Nothing left to do but drop it.
		s.metrics.IncSkipped(w)
		return
	}
	switch t.target.kind {
	case targetNone:
		s.runTask(w, t, tick)
	case targetRegion:
		owner, ok := s.resolver.ResolveRegion(t.target.key)
		if !ok {
			// Region currently unowned, typically mid-rebalance. Hold
			// the task here and retry next tick.
			s.deferTask(w, t, tick)
			return
		}
		s.runOrTransfer(w, owner, t, tick)
	case targetEntity:
		res := s.resolver.ResolveEntity(t.target.entity)
		switch res.State {
		case region.EntityResolved:
			s.runOrTransfer(w, res.Worker, t, tick)
		case region.EntityPending:
			t.tries++
			if s.conf.PendingRetryLimit > 0 && t.tries >= s.conf.PendingRetryLimit {
				s.retireTask(w, t)
				return
			}
			s.deferTask(w, t, tick)
		case region.EntityRetired:
			s.retireTask(w, t)
		}
	}
}

// runOrTransfer executes the task if this worker owns its target, and
// otherwise moves it to the owning worker's queue for that worker's next
// drain of the same tick.
func (s *Scheduler) runOrTransfer(w, owner region.WorkerID, t *Task, tick int64) {
	if owner == w {
		s.runTask(w, t, tick)
		return
	}
	if err := s.router.send(owner, t, tick); err != nil {
		// The owner detached between resolution and send. Retry from
		// this queue next tick; the next resolution sees the new owner.
		s.deferTask(w, t, tick)
		return
	}
	s.metrics.IncTransferred(w)
}

// runTask performs one occurrence of the task on the calling worker thread
// and re-enqueues repeating tasks for their next period.
func (s *Scheduler) runTask(w region.WorkerID, t *Task, tick int64) {
	requeue, ran := t.execute()
	if ran {
		s.metrics.IncExecuted(w)
	} else {
		s.metrics.IncSkipped(w)
	}
	if requeue {
		t.tries = 0
		if err := s.router.send(w, t, tick+t.period); err != nil {
			// This worker raced its own detach. Park globally.
			s.router.send(region.GlobalWorker, t, tick+t.period)
		}
	}
}

func (s *Scheduler) deferTask(w region.WorkerID, t *Task, tick int64) {
	s.metrics.IncDeferred(w)
	if err := s.router.send(w, t, tick+1); err != nil {
		s.router.send(region.GlobalWorker, t, tick+1)
	}
}

// retireTask delivers the exactly-once target-gone notification on the
// calling thread. The retirement callback runs inside the resolver's critical
// path and must not itself remove entities, load chunks or worlds, or change
// region ownership.
func (s *Scheduler) retireTask(w region.WorkerID, t *Task) {
	if t.retire() {
		s.metrics.IncRetired(w)
	} else {
		s.metrics.IncSkipped(w)
	}
}

// submit registers a new task with its owner and routes it to the queue of
// the worker currently owning its target. Submission never blocks on a tick:
// it resolves, enqueues and returns.
func (s *Scheduler) submit(t *Task) *Task {
	due := s.tick.Load() + t.delay
	if t.target.kind == targetEntity {
		// A target already retired at submission fires the retirement
		// callback synchronously on the submitting thread.
		if res := s.resolver.ResolveEntity(t.target.entity); res.State == region.EntityRetired {
			t.state.Store(uint32(StateCancelled))
			if t.retired != nil {
				t.invoke(t.retired, "retirement")
			}
			return t
		}
	}
	s.owners.add(t)
	s.route(t, due)
	return t
}

// route enqueues a task for the worker owning its target, parking it on the
// global queue when no owner is currently resolvable. The global queue
// re-resolves parked tasks every tick and transfers them once an owner
// appears.
func (s *Scheduler) route(t *Task, due int64) {
	w := region.GlobalWorker
	switch t.target.kind {
	case targetRegion:
		if owner, ok := s.resolver.ResolveRegion(t.target.key); ok {
			w = owner
		}
	case targetEntity:
		if res := s.resolver.ResolveEntity(t.target.entity); res.State == region.EntityResolved {
			w = res.Worker
		}
	}
	if err := s.router.send(w, t, due); err != nil {
		s.router.send(region.GlobalWorker, t, due)
	}
}

// CancelAllFor cancels every live task attributed to the owner passed. It is
// safe to call while the owner's tasks are executing, completing or being
// retired concurrently; such races resolve through the task state machine.
// The number of tasks this call stopped is returned.
func (s *Scheduler) CancelAllFor(owner uuid.UUID) int {
	return s.owners.cancelAll(owner)
}

// Metrics returns the metrics registry the scheduler reports to, if any.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// Close stops the async executor and the worker loops started through
// StartWorkerLoop. Queued region tasks are left in place; hosts drain or
// abandon them as part of their own shutdown.
func (s *Scheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.loops.stopAll()
	s.async.close()
	return nil
}
