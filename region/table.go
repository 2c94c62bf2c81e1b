package region

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/brentp/intintmap"
	"github.com/cespare/xxhash/v2"
)

// Table is an in-process ownership map implementing Resolver. Regions are
// assigned to workers either explicitly through Assign or, for regions never
// assigned, by hashing the region key over the attached workers. Entities are
// tracked in a dense int map keyed by their runtime ID.
//
// Table is a reference implementation: a host with its own region
// partitioning keeps its own Resolver and never touches Table. All methods
// are safe for concurrent use.
type Table struct {
	mu sync.RWMutex

	workers []WorkerID

	assigned map[Key]WorkerID

	// entities maps entity runtime IDs to packed region keys. A packed key
	// is a 16 bit world index followed by two 24 bit chunk coordinates,
	// which keeps the map allocation-free for the common case of many
	// thousands of tracked entities.
	entities *intintmap.Map
	pending  map[EntityID]struct{}

	worldIndex map[string]uint16
	worldNames []string
}

// NewTable creates a Table with the spatial workers passed attached.
// GlobalWorker is filtered out: the global worker never owns spatial regions.
func NewTable(workers ...WorkerID) *Table {
	t := &Table{
		assigned:   make(map[Key]WorkerID),
		entities:   intintmap.New(1024, 0.6),
		pending:    make(map[EntityID]struct{}),
		worldIndex: make(map[string]uint16),
	}
	for _, w := range workers {
		t.addWorker(w)
	}
	return t
}

// AddWorker attaches a worker so that hashed region assignment may select it.
func (t *Table) AddWorker(w WorkerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addWorker(w)
}

func (t *Table) addWorker(w WorkerID) {
	if w == GlobalWorker || slices.Contains(t.workers, w) {
		return
	}
	t.workers = append(t.workers, w)
	slices.Sort(t.workers)
}

// RemoveWorker detaches a worker. Explicit assignments to it are dropped so
// that affected regions fall back to hashed assignment over the remaining
// workers.
func (t *Table) RemoveWorker(w WorkerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.workers, w); i >= 0 {
		t.workers = slices.Delete(t.workers, i, i+1)
	}
	for key, owner := range t.assigned {
		if owner == w {
			delete(t.assigned, key)
		}
	}
}

// Assign pins the region containing key to a specific worker, overriding
// hashed assignment. Assigning to a detached worker attaches it.
func (t *Table) Assign(key Key, w WorkerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addWorker(w)
	t.assigned[key] = w
}

// Unassign removes an explicit assignment, returning the region to hashed
// assignment.
func (t *Table) Unassign(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.assigned, key)
}

// ResolveRegion returns the worker owning the region containing key.
func (t *Table) ResolveRegion(key Key) (WorkerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolveRegion(key)
}

func (t *Table) resolveRegion(key Key) (WorkerID, bool) {
	if w, ok := t.assigned[key]; ok {
		return w, true
	}
	if len(t.workers) == 0 {
		return 0, false
	}
	h := xxhash.New()
	_, _ = h.WriteString(key.World)
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], uint32(key.Pos[0]))
	binary.LittleEndian.PutUint32(b[4:], uint32(key.Pos[1]))
	_, _ = h.Write(b[:])
	return t.workers[h.Sum64()%uint64(len(t.workers))], true
}

// AddEntity records an entity as living in the region containing key. It is
// also used to complete a move started with SetEntityPending.
func (t *Table) AddEntity(id EntityID, key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entities.Put(int64(id), t.packKey(key))
	delete(t.pending, id)
}

// SetEntityPending marks an entity as mid-transition between regions. Until
// AddEntity or RemoveEntity is called for it, the entity resolves as pending.
func (t *Table) SetEntityPending(id EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entities.Get(int64(id)); ok {
		t.pending[id] = struct{}{}
	}
}

// RemoveEntity permanently retires an entity. Runtime IDs are never reused,
// so a removed entity resolves as retired forever after.
func (t *Table) RemoveEntity(id EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entities.Del(int64(id))
	delete(t.pending, id)
}

// ResolveEntity returns where the entity currently lives.
func (t *Table) ResolveEntity(id EntityID) EntityResolution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.pending[id]; ok {
		return EntityResolution{State: EntityPending}
	}
	packed, ok := t.entities.Get(int64(id))
	if !ok {
		return EntityResolution{State: EntityRetired}
	}
	key := t.unpackKey(packed)
	w, ok := t.resolveRegion(key)
	if !ok {
		// The entity's region lost its worker, typically mid-rebalance.
		// Report pending so the task is retried once a worker owns it.
		return EntityResolution{State: EntityPending}
	}
	return EntityResolution{State: EntityResolved, Worker: w, Key: key}
}

func (t *Table) packKey(key Key) int64 {
	wi, ok := t.worldIndex[key.World]
	if !ok {
		wi = uint16(len(t.worldNames))
		t.worldIndex[key.World] = wi
		t.worldNames = append(t.worldNames, key.World)
	}
	x := uint64(uint32(key.Pos[0])) & 0xFFFFFF
	z := uint64(uint32(key.Pos[1])) & 0xFFFFFF
	return int64(uint64(wi)<<48 | x<<24 | z)
}

func (t *Table) unpackKey(v int64) Key {
	u := uint64(v)
	x := int32(int64(u>>24&0xFFFFFF) << 40 >> 40)
	z := int32(int64(u&0xFFFFFF) << 40 >> 40)
	return Key{World: t.worldNames[uint16(u>>48)], Pos: ChunkPos{x, z}}
}
