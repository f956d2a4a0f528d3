package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage/config"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
)

// Target is the set of buckets retention applies to.
type Target interface {
	BucketNames() []string

	// Days lists the days of a bucket in ascending order.
	Days(name string) ([]pathfinder.PathFinder, error)

	// DayUsage returns files and bytes held by a day.
	DayUsage(name string, day pathfinder.PathFinder) (files int, bytes int64, err error)

	// Drop deletes a day in every representation.
	Drop(name string, day pathfinder.PathFinder) error

	// DiskUsage returns files and bytes below the bucket root.
	DiskUsage(name string) (files int, bytes int64, err error)
}

// Manager handles automatic cleanup of expired days.
type Manager struct {
	mu     sync.Mutex
	config config.RetentionConfig
	target Target
	log    *slog.Logger
	now    func() time.Time
	stats  ManagerStats
}

// CleanupResult holds the result of a cleanup on one bucket.
type CleanupResult struct {
	Bucket       string
	DaysDeleted  []string
	FilesDeleted int
	BytesFreed   int64
	DaysKept     int
	Errors       []error
}

// Err joins the errors of the result.
func (r CleanupResult) Err() error {
	return errors.Join(r.Errors...)
}

// New creates a new retention manager.
func New(cfg config.RetentionConfig, target Target) *Manager {
	return &Manager{
		config: cfg,
		target: target,
		log:    logging.Component("retention"),
		now:    time.Now,
	}
}

// Cutoff returns the time before whose day everything is deleted.
func (m *Manager) Cutoff() time.Time {
	return m.now().Add(-m.config.MaxAge)
}

// RunCleanup deletes every day strictly older than the day of the cutoff
// in all buckets.
func (m *Manager) RunCleanup(ctx context.Context) []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()
	results := m.run(ctx, false)

	for _, r := range results {
		m.stats.DaysDeleted += int64(len(r.DaysDeleted))
		m.stats.FilesDeleted += int64(r.FilesDeleted)
		m.stats.BytesFreed += r.BytesFreed
		m.stats.Errors += int64(len(r.Errors))

		if len(r.DaysDeleted) > 0 {
			m.log.Info("expired days deleted",
				"bucket", r.Bucket,
				"days", len(r.DaysDeleted),
				"freed", formatBytes(r.BytesFreed),
			)
		}
		for _, err := range r.Errors {
			m.log.Warn("retention cleanup", "bucket", r.Bucket, "error", err)
		}
	}

	return results
}

// DryRun reports what RunCleanup would delete without deleting anything.
func (m *Manager) DryRun(ctx context.Context) []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.run(ctx, true)
}

func (m *Manager) run(ctx context.Context, dryRun bool) []CleanupResult {
	cutoff := m.Cutoff()
	names := m.target.BucketNames()
	sort.Strings(names)

	results := make([]CleanupResult, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.cleanupBucket(ctx, name, cutoff, dryRun))
	}
	return results
}

// cleanupBucket deletes the expired days of one bucket.
func (m *Manager) cleanupBucket(ctx context.Context, name string, cutoff time.Time, dryRun bool) CleanupResult {
	result := CleanupResult{Bucket: name}

	days, err := m.target.Days(name)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list days: %w", err))
		return result
	}

	for i, day := range days {
		if !day.Before(cutoff) {
			result.DaysKept = len(days) - i
			break
		}
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}

		label := day.Day().Format(time.DateOnly)
		files, bytes, err := m.target.DayUsage(name, day)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("usage %s: %w", label, err))
			continue
		}

		if !dryRun {
			if err := m.target.Drop(name, day); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("drop %s: %w", label, err))
				continue
			}
		}

		result.DaysDeleted = append(result.DaysDeleted, label)
		result.FilesDeleted += files
		result.BytesFreed += bytes
	}

	return result
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	LastRunTime  time.Time
	DaysDeleted  int64
	FilesDeleted int64
	BytesFreed   int64
	Errors       int64
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns disk usage for each bucket.
func (m *Manager) GetDiskUsage() map[string]DiskUsage {
	usage := make(map[string]DiskUsage)

	for _, name := range m.target.BucketNames() {
		files, bytes, err := m.target.DiskUsage(name)
		if err != nil {
			m.log.Debug("disk usage", "bucket", name, "error", err)
			continue
		}
		usage[name] = DiskUsage{FileCount: files, TotalSize: bytes}
	}

	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	var totalSize int64
	var totalFiles int

	b.WriteString("Disk Usage:\n")
	for _, name := range names {
		u := usage[name]
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		fmt.Fprintf(&b, "  %s: %d files, %s\n", name, u.FileCount, formatBytes(u.TotalSize))
	}
	fmt.Fprintf(&b, "  Total: %d files, %s\n", totalFiles, formatBytes(totalSize))

	return b.String()
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
