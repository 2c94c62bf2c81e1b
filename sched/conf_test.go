package sched

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dm-vev/threadedregions/region"
)

func TestReadUserConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.toml")
	c, err := ReadUserConfig(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c.Scheduler.TickRate != 20 || c.Async.Workers != 4 {
		t.Fatalf("expected defaults, got %+v", c)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
}

func TestReadUserConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.toml")
	data := "[scheduler]\ntick_rate = 10\npending_retry_limit = 7\n\n[async]\nworkers = 2\nqueue_size = 16\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := ReadUserConfig(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	conf := c.Config(nil, region.NewTable())
	if conf.TickInterval != time.Second/10 {
		t.Fatalf("expected 100ms tick interval, got %v", conf.TickInterval)
	}
	if conf.PendingRetryLimit != 7 || conf.AsyncWorkers != 2 || conf.AsyncQueueSize != 16 {
		t.Fatalf("unexpected conversion: %+v", conf)
	}
}

func TestConfigDefaults(t *testing.T) {
	conf := Config{Resolver: region.NewTable()}.withDefaults()
	if conf.Log == nil {
		t.Fatalf("expected default logger")
	}
	if conf.TickInterval != time.Second/20 {
		t.Fatalf("expected 50ms default tick interval, got %v", conf.TickInterval)
	}
	if conf.AsyncWorkers <= 0 || conf.AsyncQueueSize <= 0 {
		t.Fatalf("expected async defaults, got %+v", conf)
	}
}
