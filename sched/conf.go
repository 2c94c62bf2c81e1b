package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dm-vev/threadedregions/region"
	"github.com/pelletier/go-toml"
	"log/slog"
)

// Config contains options for creating a Scheduler. The zero value is not
// usable on its own: a Resolver is required. All other fields have sensible
// defaults applied by New.
type Config struct {
	// Log is the Logger used for degraded-condition warnings and callback
	// panic reports. If nil, Log is set to slog.Default().
	Log *slog.Logger
	// Resolver is the ownership lookup mapping regions and entities to the
	// workers currently ticking them. The scheduler only reads it and
	// re-resolves at every execution attempt.
	Resolver region.Resolver
	// TickInterval is the duration of one tick, used by the worker loops
	// and to convert tick delays for the async pool. Defaults to 50ms, the
	// standard 20 ticks per second.
	TickInterval time.Duration
	// AsyncWorkers is the number of goroutines in the async pool.
	AsyncWorkers int
	// AsyncQueueSize bounds the async dispatch channel.
	AsyncQueueSize int
	// PendingRetryLimit caps how many consecutive ticks a task may be
	// deferred while its entity target is mid-transition between regions.
	// Once exhausted the task is retired. Zero means retry without bound.
	PendingRetryLimit int
	// Metrics receives per-worker scheduling counters. May be nil.
	Metrics *Metrics
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = time.Second / 20
	}
	if conf.AsyncWorkers <= 0 {
		conf.AsyncWorkers = 4
	}
	if conf.AsyncQueueSize <= 0 {
		conf.AsyncQueueSize = 256
	}
	return conf
}

// UserConfig is the user-facing scheduler configuration as stored on disk. It
// may be serialised to TOML and converted to a Config by calling
// UserConfig.Config.
type UserConfig struct {
	Scheduler struct {
		// TickRate is the number of ticks per second.
		TickRate int `toml:"tick_rate"`
		// PendingRetryLimit caps deferrals of tasks whose entity target
		// is mid-transition. Zero retries without bound.
		PendingRetryLimit int `toml:"pending_retry_limit"`
	} `toml:"scheduler"`
	Async struct {
		// Workers is the size of the async pool.
		Workers int `toml:"workers"`
		// QueueSize bounds the async dispatch channel.
		QueueSize int `toml:"queue_size"`
	} `toml:"async"`
}

// DefaultConfig returns a UserConfig with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Scheduler.TickRate = 20
	c.Scheduler.PendingRetryLimit = 0
	c.Async.Workers = 4
	c.Async.QueueSize = 256
	return c
}

// Config converts a UserConfig to a Config using the logger and resolver
// passed.
func (uc UserConfig) Config(log *slog.Logger, r region.Resolver) Config {
	conf := Config{Log: log, Resolver: r}
	if uc.Scheduler.TickRate > 0 {
		conf.TickInterval = time.Second / time.Duration(uc.Scheduler.TickRate)
	}
	conf.PendingRetryLimit = uc.Scheduler.PendingRetryLimit
	conf.AsyncWorkers = uc.Async.Workers
	conf.AsyncQueueSize = uc.Async.QueueSize
	return conf
}

// ReadUserConfig loads a UserConfig from the TOML file at the path passed. If
// the file does not exist yet, it is created with the default configuration.
func ReadUserConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		encoded, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile(path, encoded, 0644); err != nil {
			return c, fmt.Errorf("create default config: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}
