package sched

import (
	"container/heap"
	"sync"
	"time"

	"github.com/dm-vev/threadedregions/region"
)

// asyncExecutor runs tasks declared independent of simulation state on a
// fixed pool of goroutines, never on a region tick thread. It shares the Task
// state machine and cancellation protocol with region-bound scheduling, so a
// handle behaves identically regardless of where its task executes. Tick
// delays are converted to wall-clock delays at the configured tick interval.
type asyncExecutor struct {
	s        *Scheduler
	interval time.Duration

	jobs    chan *Task
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending taskHeap
	seq     uint64
	wake    chan struct{}
}

func newAsyncExecutor(s *Scheduler, workers, queueSize int) *asyncExecutor {
	a := &asyncExecutor{
		s:        s,
		interval: s.conf.TickInterval,
		jobs:     make(chan *Task, queueSize),
		closing:  make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	a.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go a.worker()
	}
	go a.timerLoop()
	return a
}

// schedule queues a task to run after the tick delay passed. A delay of zero
// dispatches on the pool as soon as a worker is free.
func (a *asyncExecutor) schedule(t *Task, delayTicks int64) {
	due := time.Now().UnixNano() + delayTicks*int64(a.interval)
	a.mu.Lock()
	a.seq++
	t.due, t.seq = due, a.seq
	heap.Push(&a.pending, t)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// timerLoop moves tasks whose due time has passed from the pending heap onto
// the pool's job channel.
func (a *asyncExecutor) timerLoop() {
	defer a.wg.Done()
	for {
		now := time.Now().UnixNano()

		a.mu.Lock()
		var ready []*Task
		for len(a.pending) > 0 && a.pending[0].due <= now {
			ready = append(ready, heap.Pop(&a.pending).(*Task))
		}
		var timer *time.Timer
		if len(a.pending) > 0 {
			timer = time.NewTimer(time.Duration(a.pending[0].due - now))
		}
		a.mu.Unlock()

		for _, t := range ready {
			select {
			case a.jobs <- t:
			case <-a.closing:
				return
			}
		}

		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-timerC:
		case <-a.wake:
		case <-a.closing:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (a *asyncExecutor) worker() {
	defer a.wg.Done()
	for {
		select {
		case t := <-a.jobs:
			a.run(t)
		case <-a.closing:
			return
		}
	}
}

func (a *asyncExecutor) run(t *Task) {
	requeue, ran := t.execute()
	if ran {
		a.s.metrics.IncExecuted(region.AsyncWorker)
	} else {
		a.s.metrics.IncSkipped(region.AsyncWorker)
	}
	if requeue {
		a.schedule(t, t.period)
	}
}

// close stops the pool. Pending tasks that have not been dispatched are
// cancelled so their handles read as terminal.
func (a *asyncExecutor) close() {
	a.once.Do(func() {
		close(a.closing)
		a.wg.Wait()
		a.mu.Lock()
		pending := a.pending
		a.pending = nil
		a.mu.Unlock()
		for _, t := range pending {
			t.Cancel()
		}
	})
}
