package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage/config"
)

// Target is the set of buckets a sweep runs over.
type Target interface {
	// BucketNames lists the buckets to sweep.
	BucketNames() []string

	// CompressBefore compresses every day of the bucket strictly before
	// the day of cutoff.
	CompressBefore(name string, cutoff time.Time) error
}

// Engine compresses finished days into archives.
// Every interval it sweeps all buckets with days older than the configured age.
type Engine struct {
	config config.CompactionConfig
	target Target
	log    *slog.Logger

	// Test hook
	now func() time.Time

	// State
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	SweepsRun        atomic.Int64
	SweepsFailed     atomic.Int64
	BucketsCompacted atomic.Int64
	BucketsFailed    atomic.Int64
	LastSweep        atomic.Int64 // unix nanos
}

// New creates a new compaction engine.
func New(cfg config.CompactionConfig, target Target) (*Engine, error) {
	if target == nil {
		return nil, errors.NewMissingField("compaction target")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Engine{
		config: cfg,
		target: target,
		log:    logging.Component("compaction"),
		now:    time.Now,
	}, nil
}

// Start starts the periodic sweep.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return fmt.Errorf("compaction engine: %w", errors.ErrAlreadyRunning)
	}
	if e.config.Interval <= 0 {
		return errors.NewValidation("compaction.interval", "must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running.Store(true)

	e.wg.Add(1)
	go e.scheduler(ctx)

	e.log.Info("compaction started",
		"interval", e.config.Interval,
		"age", e.config.Age,
		"workers", e.config.Workers,
	)
	return nil
}

// Stop stops the sweep and waits for a running one to finish.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return nil
	}

	e.running.Store(false)
	e.cancel()
	e.wg.Wait()

	e.log.Info("compaction stopped")
	return nil
}

// IsRunning returns whether the engine is running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// scheduler runs a sweep on every tick.
func (e *Engine) scheduler(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
				e.log.Warn("compaction sweep failed", "error", err)
			}
		}
	}
}

// Cutoff returns the cutoff of a sweep started now.
func (e *Engine) Cutoff() time.Time {
	return e.now().Add(-e.config.Age)
}

// RunOnce runs a single sweep with the configured age.
func (e *Engine) RunOnce(ctx context.Context) error {
	return e.Run(ctx, e.Cutoff())
}

// Run compresses every day strictly before the day of cutoff in all
// buckets, with at most Workers buckets in flight. One bucket failing
// does not stop the others; failures are returned joined.
func (e *Engine) Run(ctx context.Context, cutoff time.Time) error {
	start := time.Now()
	e.stats.SweepsRun.Add(1)
	e.stats.LastSweep.Store(start.UnixNano())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)

	var (
		mu   sync.Mutex
		errs []error
	)

	for _, name := range e.target.BucketNames() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := e.target.CompressBefore(name, cutoff); err != nil {
				e.stats.BucketsFailed.Add(1)
				e.log.Warn("compact bucket", "bucket", name, "error", err)

				mu.Lock()
				errs = append(errs, fmt.Errorf("bucket '%s': %w", name, err))
				mu.Unlock()
				return nil
			}
			e.stats.BucketsCompacted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		e.stats.SweepsFailed.Add(1)
	}

	e.log.Debug("compaction sweep done",
		"cutoff", cutoff.Format(time.DateOnly),
		"failures", len(errs),
		"duration", time.Since(start),
	)
	return errors.Join(errs...)
}

// Stats returns current statistics.
func (e *Engine) Stats() EngineStats {
	var last time.Time
	if ns := e.stats.LastSweep.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return EngineStats{
		Running:          e.running.Load(),
		SweepsRun:        e.stats.SweepsRun.Load(),
		SweepsFailed:     e.stats.SweepsFailed.Load(),
		BucketsCompacted: e.stats.BucketsCompacted.Load(),
		BucketsFailed:    e.stats.BucketsFailed.Load(),
		LastSweep:        last,
	}
}

// EngineStats holds engine statistics.
type EngineStats struct {
	Running          bool
	SweepsRun        int64
	SweepsFailed     int64
	BucketsCompacted int64
	BucketsFailed    int64
	LastSweep        time.Time
}
