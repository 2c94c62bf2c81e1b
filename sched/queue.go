package sched

import (
	"cmp"
	"container/heap"
	"slices"
	"sync"
)

// taskQueue is the multi-producer work queue bound to a single worker. Any
// thread may push; only the worker currently owning the queue's region drains
// it, once per tick. Pending tasks are kept in a min-heap ordered by due tick
// and then by submission sequence, so a drain pops exactly the due entries in
// FIFO order without rescanning work that is not yet due.
type taskQueue struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   uint64

	// entity indexes the queued entity-targeted tasks so the owning worker
	// can discover target retirement each tick without rescanning the
	// not-yet-due heap entries for dueness.
	entity map[*Task]struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// push enqueues a task with the due tick passed. The queue takes ownership of
// the task until it is popped again.
func (q *taskQueue) push(t *Task, due int64) {
	q.mu.Lock()
	q.seq++
	t.due, t.seq = due, q.seq
	heap.Push(&q.tasks, t)
	if t.target.kind == targetEntity {
		if q.entity == nil {
			q.entity = make(map[*Task]struct{})
		}
		q.entity[t] = struct{}{}
	}
	q.mu.Unlock()
}

// popDue removes and returns all tasks due at or before the tick passed, in
// (due tick, submission) order.
func (q *taskQueue) popDue(tick int64) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 || q.tasks[0].due > tick {
		return nil
	}
	due := make([]*Task, 0, 4)
	for len(q.tasks) > 0 && q.tasks[0].due <= tick {
		t := heap.Pop(&q.tasks).(*Task)
		delete(q.entity, t)
		due = append(due, t)
	}
	return due
}

// entityTasks returns the queued, not yet due entity-targeted tasks.
func (q *taskQueue) entityTasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entity) == 0 {
		return nil
	}
	out := make([]*Task, 0, len(q.entity))
	for t := range q.entity {
		out = append(out, t)
	}
	return out
}

// dropEntity removes a task from the entity index once it is terminal. The
// heap entry stays until its due tick, at which point the drain skips it.
func (q *taskQueue) dropEntity(t *Task) {
	q.mu.Lock()
	delete(q.entity, t)
	q.mu.Unlock()
}

// drainAll removes and returns every queued task, due or not, in (due tick,
// submission) order. Used when a worker detaches so its remaining work can be
// transferred.
func (q *taskQueue) drainAll() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	all := make([]*Task, len(q.tasks))
	copy(all, q.tasks)
	q.tasks = q.tasks[:0]
	clear(q.entity)
	slices.SortFunc(all, func(a, b *Task) int {
		if a.due != b.due {
			return cmp.Compare(a.due, b.due)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return all
}

// len returns the number of queued tasks.
func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
