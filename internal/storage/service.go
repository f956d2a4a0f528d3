package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage/bucket"
	"github.com/xtxerr/metricstore/internal/storage/compaction"
	"github.com/xtxerr/metricstore/internal/storage/config"
	"github.com/xtxerr/metricstore/internal/storage/export"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
	"github.com/xtxerr/metricstore/internal/storage/query"
	"github.com/xtxerr/metricstore/internal/storage/retention"
	"github.com/xtxerr/metricstore/internal/storage/stats"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Store owns every configured bucket and the background jobs that
// maintain them. All bucket access goes through a per-bucket mutex, so a
// Store is safe for concurrent use.
type Store struct {
	config *config.Config
	log    *slog.Logger

	buckets map[string]*guarded
	names   []string

	// Components
	compaction *compaction.Engine
	retention  *retention.Manager
	query      *query.Service

	// State
	mu      sync.Mutex
	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
}

// guarded serializes access to one bucket.
type guarded struct {
	mu     sync.Mutex
	bucket *bucket.Writable
}

// New opens every configured bucket.
func New(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	s := &Store{
		config:  cfg,
		log:     logging.Component("store"),
		buckets: make(map[string]*guarded, len(cfg.Buckets)),
	}

	for _, bc := range cfg.Buckets {
		res, err := cfg.Resolve(bc)
		if err != nil {
			return nil, err
		}
		b, err := bucket.New(res.Data, bucket.Options{
			Codec:           res.Codec,
			Timestamp:       res.Timestamp,
			WriterCacheSize: res.CacheSize,
			Recorder:        stats.NewRecorder(),
		})
		if err != nil {
			return nil, fmt.Errorf("open bucket '%s': %w", bc.Name, err)
		}
		s.buckets[bc.Name] = &guarded{bucket: b}
		s.names = append(s.names, bc.Name)
	}
	sort.Strings(s.names)

	comp, err := compaction.New(cfg.Compaction, s)
	if err != nil {
		return nil, fmt.Errorf("create compaction: %w", err)
	}
	s.compaction = comp
	s.retention = retention.New(cfg.Retention, s)

	qry, err := query.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}
	s.query = qry

	return s, nil
}

// lookup returns the guarded bucket for name.
func (s *Store) lookup(name string) (*guarded, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("store: %w", errors.ErrClosed)
	}
	g, ok := s.buckets[name]
	if !ok {
		return nil, errors.NewBucketNotFound(name)
	}
	return g, nil
}

// WithBucket runs fn while holding the bucket's lock. fn must not call
// back into the Store for the same bucket.
func (s *Store) WithBucket(name string, fn func(b *bucket.Writable) error) error {
	g, err := s.lookup(name)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.bucket)
}

// Bucket returns the named bucket. The bucket itself is not safe for
// concurrent use; callers sharing the Store should use WithBucket.
func (s *Store) Bucket(name string) (*bucket.Writable, error) {
	g, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return g.bucket, nil
}

// BucketNames lists the configured buckets in name order.
func (s *Store) BucketNames() []string {
	return append([]string(nil), s.names...)
}

// Write stores rec in the named bucket.
func (s *Store) Write(name string, rec types.Record) (m types.StoredMetric, err error) {
	err = s.WithBucket(name, func(b *bucket.Writable) error {
		m, err = b.Write(rec)
		return err
	})
	return m, err
}

// WriteBatch stores recs in order and stops at the first failure. It
// returns the number of records written.
func (s *Store) WriteBatch(name string, recs []types.Record) (n int, err error) {
	err = s.WithBucket(name, func(b *bucket.Writable) error {
		for _, rec := range recs {
			if _, err := b.Write(rec); err != nil {
				return fmt.Errorf("record %d: %w", n, err)
			}
			n++
		}
		return nil
	})
	return n, err
}

// Read calls fn for every record of the bucket in [from, to).
//
// The bucket lock is held while one day is loaded into memory and released
// before fn sees its records, so a slow consumer never stalls writers. Each
// day is read atomically; writes between days may or may not be seen.
func (s *Store) Read(name string, from, to time.Time, fn func(types.StoredMetric) error) error {
	var days []pathfinder.PathFinder
	err := s.WithBucket(name, func(b *bucket.Writable) (err error) {
		days, err = b.DaysBetween(from, to)
		return err
	})
	if err != nil {
		return err
	}

	var batch []types.StoredMetric
	for _, day := range days {
		batch = batch[:0]
		err := s.WithBucket(name, func(b *bucket.Writable) error {
			return b.ReadDay(day, func(m types.StoredMetric) error {
				if !m.Timestamp.Before(from) && m.Timestamp.Before(to) {
					batch = append(batch, m)
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		for _, m := range batch {
			if err := fn(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compress compresses the day containing day.
func (s *Store) Compress(name string, day time.Time) error {
	return s.WithBucket(name, func(b *bucket.Writable) error {
		return b.Compress(b.PathFinder(day))
	})
}

// Expand expands the day containing day.
func (s *Store) Expand(name string, day time.Time) error {
	return s.WithBucket(name, func(b *bucket.Writable) error {
		return b.Expand(b.PathFinder(day))
	})
}

// Digest hashes the records of the day containing day.
func (s *Store) Digest(name string, day time.Time) (sum uint64, err error) {
	err = s.WithBucket(name, func(b *bucket.Writable) error {
		sum, err = b.Digest(b.PathFinder(day))
		return err
	})
	return sum, err
}

// CompressBefore compresses every day of the bucket strictly before the
// day of cutoff.
func (s *Store) CompressBefore(name string, cutoff time.Time) error {
	return s.WithBucket(name, func(b *bucket.Writable) error {
		return b.CompressAll(cutoff)
	})
}

// CompressAll compresses every day strictly before the day of cutoff in
// all buckets, sweeping buckets in parallel.
func (s *Store) CompressAll(ctx context.Context, cutoff time.Time) error {
	if s.closed.Load() {
		return fmt.Errorf("store: %w", errors.ErrClosed)
	}
	return s.compaction.Run(ctx, cutoff)
}

// Export writes the day containing day to the bucket's export directory
// and returns the file path and row count.
func (s *Store) Export(ctx context.Context, name string, day time.Time) (path string, rows int64, err error) {
	b, err := s.Bucket(name)
	if err != nil {
		return "", 0, err
	}
	path = filepath.Join(s.config.ExportDir(name), export.FileName(b.PathFinder(day)))

	rows, err = s.ExportTo(ctx, name, day, path)
	if err != nil {
		return "", 0, err
	}
	return path, rows, nil
}

// ExportTo writes the day containing day to path.
func (s *Store) ExportTo(ctx context.Context, name string, day time.Time, path string) (rows int64, err error) {
	compression, err := export.ParseCompressionType(s.config.Export.Compression)
	if err != nil {
		return 0, err
	}
	opts := export.DefaultOptions()
	opts.Compression = compression

	err = s.WithBucket(name, func(b *bucket.Writable) error {
		rows, err = export.WriteDay(ctx, b, b.PathFinder(day), path, opts)
		return err
	})
	return rows, err
}

// Days lists the days of a bucket in ascending order.
func (s *Store) Days(name string) (days []pathfinder.PathFinder, err error) {
	err = s.WithBucket(name, func(b *bucket.Writable) error {
		days, err = b.Days()
		return err
	})
	return days, err
}

// DayUsage returns files and bytes held by a day of a bucket.
func (s *Store) DayUsage(name string, day pathfinder.PathFinder) (files int, bytes int64, err error) {
	err = s.WithBucket(name, func(b *bucket.Writable) error {
		files, bytes, err = b.DayUsage(day)
		return err
	})
	return files, bytes, err
}

// Drop deletes a day of a bucket in every representation.
func (s *Store) Drop(name string, day pathfinder.PathFinder) error {
	return s.WithBucket(name, func(b *bucket.Writable) error {
		return b.Drop(day)
	})
}

// DiskUsage returns files and bytes below the bucket root.
func (s *Store) DiskUsage(name string) (files int, bytes int64, err error) {
	err = s.WithBucket(name, func(b *bucket.Writable) error {
		files, bytes, err = b.DiskUsage()
		return err
	})
	return files, bytes, err
}

// Start starts the background jobs enabled in the configuration.
func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return fmt.Errorf("store: %w", errors.ErrClosed)
	}
	if s.running.Load() {
		return fmt.Errorf("store: %w", errors.ErrAlreadyRunning)
	}

	if s.config.Compaction.Enabled {
		if err := s.compaction.Start(); err != nil {
			return fmt.Errorf("start compaction: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.config.Retention.Enabled {
		s.wg.Add(1)
		go s.retentionWorker(ctx)
	}

	s.running.Store(true)
	s.startTime = time.Now()

	s.log.Info("store started",
		"buckets", len(s.names),
		"compaction", s.config.Compaction.Enabled,
		"retention", s.config.Retention.Enabled,
	)
	return nil
}

// Stop stops the background jobs. Buckets stay open.
func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	// Wait for background workers
	s.wg.Wait()

	if err := s.compaction.Stop(); err != nil {
		return fmt.Errorf("stop compaction: %w", err)
	}

	s.log.Info("store stopped")
	return nil
}

// retentionWorker periodically runs retention cleanup.
func (s *Store) retentionWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Retention.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retention.RunCleanup(ctx)
		}
	}
}

// Close stops the background jobs and closes every bucket, continuing
// past failures. Later calls on the Store fail with ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := s.Stop(); err != nil {
		errs = append(errs, err)
	}

	for _, name := range s.names {
		g := s.buckets[name]
		g.mu.Lock()
		if err := g.bucket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket '%s': %w", name, err))
		}
		g.mu.Unlock()
	}

	if err := s.query.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close query: %w", err))
	}

	return errors.Join(errs...)
}

// RunRetention manually triggers retention cleanup.
func (s *Store) RunRetention(ctx context.Context) []retention.CleanupResult {
	return s.retention.RunCleanup(ctx)
}

// DryRunRetention simulates retention cleanup.
func (s *Store) DryRunRetention(ctx context.Context) []retention.CleanupResult {
	return s.retention.DryRun(ctx)
}

// GetDiskUsage returns disk usage per bucket.
func (s *Store) GetDiskUsage() map[string]retention.DiskUsage {
	return s.retention.GetDiskUsage()
}

// FormatDiskUsage renders per-bucket disk usage as a table.
func (s *Store) FormatDiskUsage() string {
	return s.retention.FormatDiskUsage()
}

// Query returns the query service over exported days.
func (s *Store) Query() *query.Service {
	return s.query
}

// Config returns the current configuration.
func (s *Store) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the background jobs are running.
func (s *Store) IsRunning() bool {
	return s.running.Load()
}

// Stats returns combined statistics.
func (s *Store) Stats() StoreStats {
	var uptime time.Duration
	s.mu.Lock()
	if s.running.Load() {
		uptime = time.Since(s.startTime)
	}
	s.mu.Unlock()

	out := StoreStats{
		Running:    s.running.Load(),
		Uptime:     uptime,
		Compaction: s.compaction.Stats(),
		Retention:  s.retention.Stats(),
		Query:      s.query.Stats(),
	}
	for _, name := range s.names {
		g := s.buckets[name]
		g.mu.Lock()
		bs := g.bucket.Stats()
		g.mu.Unlock()
		out.Buckets = append(out.Buckets, bs)
	}
	return out
}

// StoreStats holds combined statistics.
type StoreStats struct {
	Running    bool
	Uptime     time.Duration
	Buckets    []bucket.Stats
	Compaction compaction.EngineStats
	Retention  retention.ManagerStats
	Query      query.ServiceStats
}
