package sched

import (
	"sync"

	"github.com/dm-vev/threadedregions/region"
)

// Metrics tracks per-worker scheduling counters for observability. A nil
// *Metrics is a valid no-op receiver.
type Metrics struct {
	mu sync.Mutex

	executed    map[region.WorkerID]uint64
	transferred map[region.WorkerID]uint64
	deferred    map[region.WorkerID]uint64
	retired     map[region.WorkerID]uint64
	skipped     map[region.WorkerID]uint64
	queue       map[region.WorkerID]int
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		executed:    make(map[region.WorkerID]uint64),
		transferred: make(map[region.WorkerID]uint64),
		deferred:    make(map[region.WorkerID]uint64),
		retired:     make(map[region.WorkerID]uint64),
		skipped:     make(map[region.WorkerID]uint64),
		queue:       make(map[region.WorkerID]int),
	}
}

// IncExecuted increments the counter of task occurrences run by a worker.
func (m *Metrics) IncExecuted(w region.WorkerID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.executed[w]++
	m.mu.Unlock()
}

// IncTransferred increments the counter of tasks a worker handed to another
// worker because their target moved.
func (m *Metrics) IncTransferred(w region.WorkerID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.transferred[w]++
	m.mu.Unlock()
}

// IncDeferred increments the counter of tasks a worker pushed to a later tick
// because their target was not resolvable yet.
func (m *Metrics) IncDeferred(w region.WorkerID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deferred[w]++
	m.mu.Unlock()
}

// IncRetired increments the counter of tasks retired on a worker because
// their target no longer exists.
func (m *Metrics) IncRetired(w region.WorkerID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.retired[w]++
	m.mu.Unlock()
}

// IncSkipped increments the counter of due tasks a worker skipped because
// they had been cancelled before their run could start.
func (m *Metrics) IncSkipped(w region.WorkerID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.skipped[w]++
	m.mu.Unlock()
}

// SetQueueSize stores the current queue size gauge for a worker.
func (m *Metrics) SetQueueSize(w region.WorkerID, size int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queue[w] = size
	m.mu.Unlock()
}

// WorkerSnapshot is a point-in-time copy of one worker's counters.
type WorkerSnapshot struct {
	Executed    uint64
	Transferred uint64
	Deferred    uint64
	Retired     uint64
	Skipped     uint64
	QueueSize   int
}

// Snapshot returns a copy of the counters of every worker seen so far.
func (m *Metrics) Snapshot() map[region.WorkerID]WorkerSnapshot {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[region.WorkerID]WorkerSnapshot)
	add := func(w region.WorkerID) WorkerSnapshot { return out[w] }
	for w, v := range m.executed {
		s := add(w)
		s.Executed = v
		out[w] = s
	}
	for w, v := range m.transferred {
		s := add(w)
		s.Transferred = v
		out[w] = s
	}
	for w, v := range m.deferred {
		s := add(w)
		s.Deferred = v
		out[w] = s
	}
	for w, v := range m.retired {
		s := add(w)
		s.Retired = v
		out[w] = s
	}
	for w, v := range m.skipped {
		s := add(w)
		s.Skipped = v
		out[w] = s
	}
	for w, v := range m.queue {
		s := add(w)
		s.QueueSize = v
		out[w] = s
	}
	return out
}
