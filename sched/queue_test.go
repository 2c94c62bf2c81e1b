package sched

import (
	"testing"
)

func TestQueuePopDueOrdering(t *testing.T) {
	q := newTaskQueue()
	a, b, c, d := &Task{}, &Task{}, &Task{}, &Task{}
	q.push(a, 5)
	q.push(b, 3)
	q.push(c, 5)
	q.push(d, 9)

	due := q.popDue(5)
	if len(due) != 3 {
		t.Fatalf("expected 3 due tasks, got %d", len(due))
	}
	if due[0] != b || due[1] != a || due[2] != c {
		t.Fatalf("expected due-tick then submission order, got %v", due)
	}
	if q.len() != 1 {
		t.Fatalf("not-yet-due task must remain queued")
	}
	if got := q.popDue(8); got != nil {
		t.Fatalf("expected nothing due at tick 8, got %d tasks", len(got))
	}
	if got := q.popDue(9); len(got) != 1 || got[0] != d {
		t.Fatalf("expected the remaining task at tick 9")
	}
}

func TestQueueDrainAllOrdered(t *testing.T) {
	q := newTaskQueue()
	a, b, c := &Task{}, &Task{}, &Task{}
	q.push(a, 7)
	q.push(b, 2)
	q.push(c, 7)

	all := q.drainAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 drained tasks, got %d", len(all))
	}
	if all[0] != b || all[1] != a || all[2] != c {
		t.Fatalf("expected drain in (due, submission) order")
	}
	if q.len() != 0 {
		t.Fatalf("queue must be empty after drain")
	}
}
