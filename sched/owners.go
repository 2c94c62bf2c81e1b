package sched

import (
	"sync"

	"github.com/google/uuid"
)

// ownerSet tracks live tasks per owner so that all of an owner's tasks can be
// cancelled in bulk when, for example, a plugin is unloaded. Tasks deregister
// themselves on reaching a terminal state.
type ownerSet struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]map[*Task]struct{}
}

func newOwnerSet() *ownerSet {
	return &ownerSet{tasks: make(map[uuid.UUID]map[*Task]struct{})}
}

func (o *ownerSet) add(t *Task) {
	o.mu.Lock()
	set, ok := o.tasks[t.owner]
	if !ok {
		set = make(map[*Task]struct{})
		o.tasks[t.owner] = set
	}
	set[t] = struct{}{}
	o.mu.Unlock()
}

func (o *ownerSet) remove(t *Task) {
	o.mu.Lock()
	if set, ok := o.tasks[t.owner]; ok {
		delete(set, t)
		if len(set) == 0 {
			delete(o.tasks, t.owner)
		}
	}
	o.mu.Unlock()
}

// cancelAll cancels every live task attributed to the owner and returns how
// many tasks this call stopped. Cancellations run outside the lock: Cancel
// deregisters the task, and concurrent completions or retirements racing with
// the walk simply win their own CAS and are not counted.
func (o *ownerSet) cancelAll(owner uuid.UUID) int {
	o.mu.Lock()
	snapshot := make([]*Task, 0, len(o.tasks[owner]))
	for t := range o.tasks[owner] {
		snapshot = append(snapshot, t)
	}
	o.mu.Unlock()

	cancelled := 0
	for _, t := range snapshot {
		switch t.Cancel() {
		case CancelledByCaller, NextRunsCancelled:
			cancelled++
		}
	}
	return cancelled
}
