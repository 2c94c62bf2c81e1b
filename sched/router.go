package sched

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dm-vev/threadedregions/region"
	"golang.org/x/time/rate"
)

// ErrUnknownWorker is returned when a task is routed to a worker that has no
// attached queue.
var ErrUnknownWorker = errors.New("sched: unknown worker endpoint")

// router maintains the per-worker queue endpoints. Workers attach when the
// host assigns them regions and detach when they stop; detaching hands the
// remaining queue contents back to the caller so they can be re-resolved and
// transferred instead of lost.
type router struct {
	log       *slog.Logger
	endpoints sync.Map // map[region.WorkerID]*taskQueue

	// warn rate-limits routing failure logs: a rebalance storm can produce
	// one failed send per queued task and must not flood the log.
	warn *rate.Limiter
}

func newRouter(log *slog.Logger) *router {
	return &router{log: log, warn: rate.NewLimiter(rate.Every(5*time.Second), 1)}
}

// attach creates (or returns) the queue endpoint for a worker.
func (r *router) attach(w region.WorkerID) *taskQueue {
	if q, ok := r.endpoints.Load(w); ok {
		return q.(*taskQueue)
	}
	q, _ := r.endpoints.LoadOrStore(w, newTaskQueue())
	return q.(*taskQueue)
}

// detach removes a worker's endpoint and returns its remaining tasks in
// queue order.
func (r *router) detach(w region.WorkerID) []*Task {
	raw, ok := r.endpoints.LoadAndDelete(w)
	if !ok {
		return nil
	}
	return raw.(*taskQueue).drainAll()
}

// queue returns the endpoint for a worker if one is attached.
func (r *router) queue(w region.WorkerID) (*taskQueue, bool) {
	raw, ok := r.endpoints.Load(w)
	if !ok {
		return nil, false
	}
	return raw.(*taskQueue), true
}

// send places a task on the queue of the worker passed with the due tick
// passed. ErrUnknownWorker is returned if the worker is not attached, in
// which case the caller still owns the task.
func (r *router) send(w region.WorkerID, t *Task, due int64) error {
	raw, ok := r.endpoints.Load(w)
	if !ok {
		if r.log != nil && r.warn.Allow() {
			r.log.Warn("Task routed to detached worker.", "worker", w, "task", t.id)
		}
		return ErrUnknownWorker
	}
	raw.(*taskQueue).push(t, due)
	return nil
}
