// Package region defines the spatial addressing used by the task scheduling
// core: worker identities, region keys and the ownership lookup consumed by
// the scheduler. The ownership map itself is owned by the host server, which
// decides how regions merge, split and move between workers. The scheduler
// only ever reads it through the Resolver interface and treats every read as
// a snapshot that may be stale by the time a task executes.
package region

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// WorkerID identifies a region-ticking worker thread. The zero value is
// reserved for the global worker, which owns process-wide state such as the
// time of day, weather and console command processing.
type WorkerID int32

// GlobalWorker is the worker that ticks the global region. It is always
// attached and is never the owner of a spatial region.
const GlobalWorker WorkerID = 0

// AsyncWorker is the pseudo worker used to attribute work executed on the
// async pool, which has no region affinity. It never owns a queue or a
// region.
const AsyncWorker WorkerID = -1

// ChunkPos holds the X and Z coordinate of a chunk. The X and Z coordinate
// are the block coordinates shifted right by four bits.
type ChunkPos [2]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 { return p[0] }

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 { return p[1] }

// ChunkPosFromVec3 returns the ChunkPos of the chunk that a world position is
// located in.
func ChunkPosFromVec3(vec mgl64.Vec3) ChunkPos {
	return ChunkPos{
		int32(math.Floor(vec[0])) >> 4,
		int32(math.Floor(vec[2])) >> 4,
	}
}

// Key addresses a region: a world name plus a chunk coordinate within that
// world. Two tasks scheduled against the same Key always resolve to the same
// worker at any single point in time.
type Key struct {
	World string
	Pos   ChunkPos
}

// EntityID is the numeric runtime ID of an entity. Runtime IDs are unique for
// the lifetime of the process and are never reused, so a retired ID stays
// retired.
type EntityID int64

// EntityState describes the outcome of resolving an entity to a region.
type EntityState uint8

const (
	// EntityResolved means the entity is present in a region owned by a
	// worker and work may be queued against that worker.
	EntityResolved EntityState = iota
	// EntityPending means the entity exists but is between regions, for
	// example mid-teleport between worlds. Work targeting it must be
	// deferred, never executed against the stale region.
	EntityPending
	// EntityRetired means the entity has been permanently removed. Work
	// targeting it can never run.
	EntityRetired
)

// String returns the name of the entity state.
func (s EntityState) String() string {
	switch s {
	case EntityResolved:
		return "resolved"
	case EntityPending:
		return "pending"
	case EntityRetired:
		return "retired"
	}
	return "unknown"
}

// EntityResolution is the result of an entity lookup. Worker and Key are only
// meaningful when State is EntityResolved.
type EntityResolution struct {
	State  EntityState
	Worker WorkerID
	Key    Key
}

// Resolver is the ownership lookup the scheduler depends on. Implementations
// must be safe for concurrent use: lookups arrive from arbitrary threads at
// any moment, including from inside region ticks.
//
// The scheduler never caches a resolution across ticks. A Resolver is free to
// reassign regions between calls; the scheduler re-resolves every task
// immediately before each execution attempt.
type Resolver interface {
	// ResolveRegion returns the worker currently ticking the region that
	// the key falls in. ok is false if no worker currently owns the
	// region, in which case the task is deferred until one does.
	ResolveRegion(key Key) (worker WorkerID, ok bool)
	// ResolveEntity returns where the entity currently lives.
	ResolveEntity(id EntityID) EntityResolution
}
