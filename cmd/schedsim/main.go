// Command schedsim runs a small synthetic workload against the region task
// scheduler: a set of worker loops over a hash-sharded ownership table, a mix
// of global, region, entity and async tasks, and a simulated entity that
// migrates between regions and is eventually destroyed. It prints per-worker
// metrics on exit.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/dm-vev/threadedregions/region"
	"github.com/dm-vev/threadedregions/sched"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

func main() {
	var (
		configPath = flag.String("config", "schedsim.toml", "path to the scheduler config file")
		workers    = flag.Int("workers", 4, "number of spatial workers")
		duration   = flag.Duration("duration", 5*time.Second, "how long to run the workload")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	uc, err := sched.ReadUserConfig(*configPath)
	if err != nil {
		log.Error("Read config.", "error", err)
		os.Exit(1)
	}

	table := region.NewTable()
	for i := 1; i <= *workers; i++ {
		table.AddWorker(region.WorkerID(i))
	}

	conf := uc.Config(log, table)
	conf.Metrics = sched.NewMetrics()
	s := conf.New()
	defer s.Close()

	s.StartWorkerLoop(region.GlobalWorker)
	for i := 1; i <= *workers; i++ {
		s.StartWorkerLoop(region.WorkerID(i))
	}

	owner := uuid.New()

	// Global heartbeat reporting the achieved tick rate.
	s.Global().RunAtFixedRate(owner, func(t *sched.Task) {
		log.Info("Heartbeat.", "tick", s.CurrentTick(), "tps", s.TPS(region.GlobalWorker))
	}, 20, 20)

	// Region tasks scattered over random chunks.
	for i := 0; i < 32; i++ {
		pos := mgl64.Vec3{rand.Float64() * 4096, 64, rand.Float64() * 4096}
		s.Region().RunAt(owner, "overworld", pos, func(t *sched.Task) {})
	}

	// A wandering entity with a repeating task following it, destroyed
	// partway through the run.
	const wanderer region.EntityID = 1
	table.AddEntity(wanderer, region.Key{World: "overworld", Pos: region.ChunkPos{0, 0}})
	s.Entity().RunAtFixedRate(owner, wanderer, func(t *sched.Task) {}, nil, 1, 2)
	s.Global().RunAtFixedRate(owner, func(t *sched.Task) {
		table.AddEntity(wanderer, region.Key{
			World: "overworld",
			Pos:   region.ChunkPos{rand.Int32N(256), rand.Int32N(256)},
		})
	}, 5, 5)
	s.Entity().RunDelayed(owner, wanderer, func(t *sched.Task) {
		log.Info("Wanderer task ran before destruction.")
	}, func(t *sched.Task) {
		log.Info("Wanderer retired before its task could run.")
	}, int64(2 * *duration / conf.TickInterval))

	destroyAt := time.AfterFunc(*duration/2, func() { table.RemoveEntity(wanderer) })
	defer destroyAt.Stop()

	// Async background work.
	s.Async().RunAtFixedRate(owner, func(t *sched.Task) {}, 1, 10)

	time.Sleep(*duration)
	cancelled := s.CancelAllFor(owner)
	log.Info("Workload done.", "cancelled", cancelled)

	snap := conf.Metrics.Snapshot()
	ids := make([]region.WorkerID, 0, len(snap))
	for w := range snap {
		ids = append(ids, w)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, w := range ids {
		m := snap[w]
		fmt.Printf("worker %3d: executed=%d transferred=%d deferred=%d retired=%d skipped=%d queue=%d\n",
			w, m.Executed, m.Transferred, m.Deferred, m.Retired, m.Skipped, m.QueueSize)
	}
}
