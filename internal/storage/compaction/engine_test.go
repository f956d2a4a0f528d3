package compaction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/metricstore/internal/storage/config"
)

type fakeTarget struct {
	mu      sync.Mutex
	names   []string
	fail    map[string]error
	calls   []string
	cutoffs []time.Time
}

func (f *fakeTarget) BucketNames() []string { return f.names }

func (f *fakeTarget) CompressBefore(name string, cutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.fail[name]
}

func testConfig() config.CompactionConfig {
	cfg := config.DefaultConfig().Compaction
	cfg.Workers = 2
	return cfg
}

func TestEngine_New(t *testing.T) {
	engine, err := New(testConfig(), &fakeTarget{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if engine == nil {
		t.Fatal("engine is nil")
	}

	if engine.IsRunning() {
		t.Error("engine should not be running before Start()")
	}

	if _, err := New(testConfig(), nil); err == nil {
		t.Error("expected error without target")
	}
}

func TestEngine_StartStop(t *testing.T) {
	engine, err := New(testConfig(), &fakeTarget{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Start
	if err := engine.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !engine.IsRunning() {
		t.Error("engine should be running after Start()")
	}

	// Double start should fail
	if err := engine.Start(); err == nil {
		t.Error("expected error on double start")
	}

	// Stop
	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if engine.IsRunning() {
		t.Error("engine should not be running after Stop()")
	}

	// Double stop should be safe
	if err := engine.Stop(); err != nil {
		t.Errorf("double Stop: %v", err)
	}

	// Restart works
	if err := engine.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	engine.Stop()
}

func TestEngine_RunOnce(t *testing.T) {
	target := &fakeTarget{names: []string{"cpu", "mem", "disk"}}

	cfg := testConfig()
	cfg.Age = 48 * time.Hour

	engine, err := New(cfg, target)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	sort.Strings(target.calls)
	if got := len(target.calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	want := now.Add(-48 * time.Hour)
	for _, c := range target.cutoffs {
		if !c.Equal(want) {
			t.Errorf("cutoff = %v, want %v", c, want)
		}
	}

	stats := engine.Stats()
	if stats.SweepsRun != 1 || stats.BucketsCompacted != 3 || stats.BucketsFailed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.LastSweep.IsZero() {
		t.Error("LastSweep not set")
	}
}

func TestEngine_FailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	target := &fakeTarget{
		names: []string{"a", "b", "c"},
		fail:  map[string]error{"b": boom},
	}

	engine, err := New(testConfig(), target)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = engine.Run(context.Background(), time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := len(target.calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}

	stats := engine.Stats()
	if stats.SweepsFailed != 1 || stats.BucketsFailed != 1 || stats.BucketsCompacted != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	target := &fakeTarget{names: []string{"a", "b"}}
	engine, err := New(testConfig(), target)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := engine.Run(ctx, time.Now()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(target.calls) != 0 {
		t.Errorf("no bucket should be swept, got %v", target.calls)
	}
}
