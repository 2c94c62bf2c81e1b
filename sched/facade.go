package sched

import (
	"time"

	"github.com/dm-vev/threadedregions/region"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

func (s *Scheduler) newTask(owner uuid.UUID, run, retired func(*Task), tg target, delay, period int64) *Task {
	return &Task{
		id:      uuid.New(),
		owner:   owner,
		created: time.Now(),
		run:     run,
		retired: retired,
		target:  tg,
		delay:   delay,
		period:  period,
		s:       s,
	}
}

// GlobalScheduler schedules work on the global region, the singleton
// execution context that owns process-wide state such as time of day, weather
// and console command processing.
type GlobalScheduler struct {
	s *Scheduler
}

// Global returns the facade for scheduling on the global region.
func (s *Scheduler) Global() GlobalScheduler { return GlobalScheduler{s: s} }

// Run schedules fn to run on the global region's next tick. The task is
// queued, never executed inline, so fn always runs on the global tick thread.
func (g GlobalScheduler) Run(owner uuid.UUID, fn func(*Task)) *Task {
	return g.s.submit(g.s.newTask(owner, fn, nil, target{kind: targetNone}, 0, 0))
}

// RunDelayed schedules fn to run on the global region after delay ticks.
// Delays below one tick are clamped to one.
func (g GlobalScheduler) RunDelayed(owner uuid.UUID, fn func(*Task), delay int64) *Task {
	return g.s.submit(g.s.newTask(owner, fn, nil, target{kind: targetNone}, normalizeTicks(delay), 0))
}

// RunAtFixedRate schedules fn to run on the global region every period ticks
// after an initial delay. Values below one tick are clamped to one.
func (g GlobalScheduler) RunAtFixedRate(owner uuid.UUID, fn func(*Task), delay, period int64) *Task {
	return g.s.submit(g.s.newTask(owner, fn, nil, target{kind: targetNone}, normalizeTicks(delay), normalizeTicks(period)))
}

// RegionScheduler schedules work against a fixed region. The task runs on
// whichever worker owns the region at execution time, following the region
// through merges, splits and rebalances.
type RegionScheduler struct {
	s *Scheduler
}

// Region returns the facade for scheduling against fixed regions.
func (s *Scheduler) Region() RegionScheduler { return RegionScheduler{s: s} }

// Run schedules fn against the region containing key for that region's next
// tick.
func (r RegionScheduler) Run(owner uuid.UUID, key region.Key, fn func(*Task)) *Task {
	return r.s.submit(r.s.newTask(owner, fn, nil, target{kind: targetRegion, key: key}, 0, 0))
}

// RunAt is a convenience variant of Run deriving the chunk coordinate from a
// world position.
func (r RegionScheduler) RunAt(owner uuid.UUID, world string, pos mgl64.Vec3, fn func(*Task)) *Task {
	return r.Run(owner, region.Key{World: world, Pos: region.ChunkPosFromVec3(pos)}, fn)
}

// RunDelayed schedules fn against the region containing key after delay
// ticks. Delays below one tick are clamped to one.
func (r RegionScheduler) RunDelayed(owner uuid.UUID, key region.Key, fn func(*Task), delay int64) *Task {
	return r.s.submit(r.s.newTask(owner, fn, nil, target{kind: targetRegion, key: key}, normalizeTicks(delay), 0))
}

// RunAtFixedRate schedules fn against the region containing key every period
// ticks after an initial delay. Values below one tick are clamped to one.
func (r RegionScheduler) RunAtFixedRate(owner uuid.UUID, key region.Key, fn func(*Task), delay, period int64) *Task {
	return r.s.submit(r.s.newTask(owner, fn, nil, target{kind: targetRegion, key: key}, normalizeTicks(delay), normalizeTicks(period)))
}

// EntityScheduler schedules work against an entity. The task follows the
// entity between regions, workers and worlds, and fires its retirement
// callback instead of the primary callback if the entity is destroyed before
// a pending occurrence could run.
type EntityScheduler struct {
	s *Scheduler
}

// Entity returns the facade for scheduling against entities.
func (s *Scheduler) Entity() EntityScheduler { return EntityScheduler{s: s} }

// Run schedules fn against the entity for its owning region's next tick. The
// zero-delay variant still queues rather than executing inline, so fn always
// runs on the thread that owns the entity at that moment. retired may be nil.
//
// If the entity is already retired at submission, retired is invoked
// synchronously on the calling thread before Run returns and the returned
// task is terminal.
func (e EntityScheduler) Run(owner uuid.UUID, id region.EntityID, fn, retired func(*Task)) *Task {
	return e.s.submit(e.s.newTask(owner, fn, retired, target{kind: targetEntity, entity: id}, 0, 0))
}

// RunDelayed schedules fn against the entity after delay ticks. Delays below
// one tick are clamped to one.
func (e EntityScheduler) RunDelayed(owner uuid.UUID, id region.EntityID, fn, retired func(*Task), delay int64) *Task {
	return e.s.submit(e.s.newTask(owner, fn, retired, target{kind: targetEntity, entity: id}, normalizeTicks(delay), 0))
}

// RunAtFixedRate schedules fn against the entity every period ticks after an
// initial delay. Values below one tick are clamped to one. Retirement, if it
// ever happens, fires the retired callback exactly once and stops all future
// occurrences.
func (e EntityScheduler) RunAtFixedRate(owner uuid.UUID, id region.EntityID, fn, retired func(*Task), delay, period int64) *Task {
	return e.s.submit(e.s.newTask(owner, fn, retired, target{kind: targetEntity, entity: id}, normalizeTicks(delay), normalizeTicks(period)))
}

// AsyncScheduler schedules work on the async pool, off every region tick
// thread, for work explicitly declared independent of simulation state. Tasks
// share the same state machine and cancellation protocol as region-bound
// tasks.
type AsyncScheduler struct {
	s *Scheduler
}

// Async returns the facade for scheduling on the async pool.
func (s *Scheduler) Async() AsyncScheduler { return AsyncScheduler{s: s} }

// RunNow schedules fn to run on the async pool as soon as a worker is free.
func (a AsyncScheduler) RunNow(owner uuid.UUID, fn func(*Task)) *Task {
	t := a.s.newTask(owner, fn, nil, target{kind: targetNone}, 0, 0)
	a.s.owners.add(t)
	a.s.async.schedule(t, 0)
	return t
}

// RunDelayed schedules fn to run on the async pool after delay ticks,
// measured against the configured tick interval. Delays below one tick are
// clamped to one.
func (a AsyncScheduler) RunDelayed(owner uuid.UUID, fn func(*Task), delay int64) *Task {
	t := a.s.newTask(owner, fn, nil, target{kind: targetNone}, normalizeTicks(delay), 0)
	a.s.owners.add(t)
	a.s.async.schedule(t, t.delay)
	return t
}

// RunAtFixedRate schedules fn to run on the async pool every period ticks
// after an initial delay. Values below one tick are clamped to one.
func (a AsyncScheduler) RunAtFixedRate(owner uuid.UUID, fn func(*Task), delay, period int64) *Task {
	t := a.s.newTask(owner, fn, nil, target{kind: targetNone}, normalizeTicks(delay), normalizeTicks(period))
	a.s.owners.add(t)
	a.s.async.schedule(t, t.delay)
	return t
}
