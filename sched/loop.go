package sched

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dm-vev/threadedregions/region"
)

const tpsSampleSize = 20

// StartWorkerLoop starts a goroutine ticking the worker passed at the
// configured tick interval, for hosts that want the scheduler to own their
// region threads. The global worker's loop advances the global tick counter;
// spatial worker loops drain at the current global tick. The loop samples its
// achieved ticks per second and warns once when it falls behind.
//
// The returned stop function ends the loop; Close stops every loop that is
// still running. Hosts driving their own tick threads call RunTick and
// RunGlobalTick directly instead.
func (s *Scheduler) StartWorkerLoop(w region.WorkerID) (stop func()) {
	s.AttachWorker(w)
	closing, stop := s.loops.register()
	go s.workerLoop(w, closing)
	return stop
}

func (s *Scheduler) workerLoop(w region.WorkerID, closing <-chan struct{}) {
	defer s.loops.wg.Done()
	tc := time.NewTicker(s.conf.TickInterval)
	defer tc.Stop()

	nominal := 1.0 / s.conf.TickInterval.Seconds()
	lastTick := time.Now()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					avg := durationSum / time.Duration(ticksCount)
					tps := 1.0 / avg.Seconds()
					s.storeTPS(w, tps)
					if tps < nominal*0.95 {
						if !warned {
							s.log.Warn("Worker TPS dropped below threshold.", "worker", w, "tps", tps)
							warned = true
						}
					} else if warned {
						warned = false
					}
					durationSum = 0
					ticksCount = 0
				}
			}
			if w == region.GlobalWorker {
				s.RunGlobalTick(s.tick.Load() + 1)
			} else {
				s.RunTick(w, s.tick.Load())
			}
		case <-closing:
			return
		}
	}
}

func (s *Scheduler) storeTPS(w region.WorkerID, tps float64) {
	v, _ := s.tps.LoadOrStore(w, &atomic.Uint64{})
	v.(*atomic.Uint64).Store(math.Float64bits(tps))
}

// TPS returns the achieved ticks per second of a worker loop, averaged over
// the last tpsSampleSize ticks. It reports zero until a loop started through
// StartWorkerLoop has recorded a full sample.
func (s *Scheduler) TPS(w region.WorkerID) float64 {
	v, ok := s.tps.Load(w)
	if !ok {
		return 0
	}
	return math.Float64frombits(v.(*atomic.Uint64).Load())
}

// loopRegistry tracks running worker loops so Close can stop them all.
type loopRegistry struct {
	mu    sync.Mutex
	stops []func()
	wg    sync.WaitGroup
}

func (l *loopRegistry) register() (closing <-chan struct{}, stop func()) {
	c := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() { close(c) })
	}
	l.mu.Lock()
	l.stops = append(l.stops, stop)
	l.mu.Unlock()
	l.wg.Add(1)
	return c, stop
}

func (l *loopRegistry) stopAll() {
	l.mu.Lock()
	stops := l.stops
	l.stops = nil
	l.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	l.wg.Wait()
}
