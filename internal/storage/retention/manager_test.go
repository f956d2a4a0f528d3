package retention

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/metricstore/internal/storage/bucket"
	"github.com/xtxerr/metricstore/internal/storage/codec"
	"github.com/xtxerr/metricstore/internal/storage/config"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// buckets adapts a map of buckets to Target.
type buckets map[string]*bucket.Writable

func (b buckets) BucketNames() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	return names
}

func (b buckets) Days(name string) ([]pathfinder.PathFinder, error) {
	return b[name].Days()
}

func (b buckets) DayUsage(name string, day pathfinder.PathFinder) (int, int64, error) {
	return b[name].DayUsage(day)
}

func (b buckets) Drop(name string, day pathfinder.PathFinder) error {
	return b[name].Drop(day)
}

func (b buckets) DiskUsage(name string) (int, int64, error) {
	return b[name].DiskUsage()
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newBucket(t *testing.T, name string) *bucket.Writable {
	t.Helper()

	b, err := bucket.New(types.BucketData{
		Name:        name,
		Root:        t.TempDir(),
		Granularity: time.Minute,
	}, bucket.Options{
		Codec:     codec.JSON,
		Timestamp: types.FieldTimestamp("ts", ""),
	})
	if err != nil {
		t.Fatalf("bucket.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func write(t *testing.T, b *bucket.Writable, ts time.Time) {
	t.Helper()
	if _, err := b.Write(types.Record{"ts": ts.Format(time.RFC3339), "value": 1.0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func newManager(target Target) *Manager {
	m := New(config.RetentionConfig{
		Enabled:  true,
		Interval: time.Hour,
		MaxAge:   7 * 24 * time.Hour,
	}, target)
	m.now = func() time.Time { return now }
	return m
}

func dayNames(t *testing.T, b *bucket.Writable) []string {
	t.Helper()
	days, err := b.Days()
	if err != nil {
		t.Fatalf("Days: %v", err)
	}
	var names []string
	for _, d := range days {
		names = append(names, d.Day().Format(time.DateOnly))
	}
	return names
}

func TestManager_New(t *testing.T) {
	m := New(config.DefaultConfig().Retention, buckets{})

	if m == nil {
		t.Fatal("manager is nil")
	}
}

func TestManager_RunCleanup(t *testing.T) {
	cpu := newBucket(t, "cpu")

	old := now.AddDate(0, 0, -20)
	expired := now.AddDate(0, 0, -8)
	boundary := now.AddDate(0, 0, -7)
	recent := now.AddDate(0, 0, -1)

	for _, ts := range []time.Time{old, expired, boundary, recent} {
		write(t, cpu, ts)
	}
	// One expired day only exists as an archive.
	if err := cpu.Compress(cpu.PathFinder(old)); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	m := newManager(buckets{"cpu": cpu})
	results := m.RunCleanup(context.Background())

	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if err := r.Err(); err != nil {
		t.Fatalf("cleanup errors: %v", err)
	}
	if len(r.DaysDeleted) != 2 {
		t.Errorf("DaysDeleted = %v, want 2 days", r.DaysDeleted)
	}
	if r.DaysKept != 2 {
		t.Errorf("DaysKept = %d, want 2", r.DaysKept)
	}
	if r.FilesDeleted != 2 || r.BytesFreed == 0 {
		t.Errorf("FilesDeleted = %d, BytesFreed = %d", r.FilesDeleted, r.BytesFreed)
	}

	got := strings.Join(dayNames(t, cpu), ",")
	want := boundary.Format(time.DateOnly) + "," + recent.Format(time.DateOnly)
	if got != want {
		t.Errorf("remaining days = %s, want %s", got, want)
	}

	if _, err := os.Stat(cpu.PathFinder(old).DayFilePath()); !os.IsNotExist(err) {
		t.Error("archive of expired day should be deleted")
	}

	stats := m.Stats()
	if stats.DaysDeleted != 2 || stats.LastRunTime.IsZero() {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestManager_DryRun(t *testing.T) {
	cpu := newBucket(t, "cpu")
	write(t, cpu, now.AddDate(0, 0, -30))
	write(t, cpu, now)

	m := newManager(buckets{"cpu": cpu})
	results := m.DryRun(context.Background())

	if len(results) != 1 || len(results[0].DaysDeleted) != 1 {
		t.Fatalf("unexpected dry run: %+v", results)
	}
	if got := len(dayNames(t, cpu)); got != 2 {
		t.Errorf("dry run deleted days: %d left, want 2", got)
	}
	if m.Stats().DaysDeleted != 0 {
		t.Error("dry run should not update stats")
	}
}

func TestManager_DiskUsage(t *testing.T) {
	cpu := newBucket(t, "cpu")
	mem := newBucket(t, "mem")
	write(t, cpu, now)
	write(t, cpu, now.Add(time.Minute))

	m := newManager(buckets{"cpu": cpu, "mem": mem})
	usage := m.GetDiskUsage()

	if usage["cpu"].FileCount != 2 {
		t.Errorf("cpu files = %d, want 2", usage["cpu"].FileCount)
	}
	if usage["mem"].FileCount != 0 {
		t.Errorf("mem files = %d, want 0", usage["mem"].FileCount)
	}

	out := m.FormatDiskUsage()
	for _, want := range []string{"cpu: 2 files", "mem: 0 files", "Total: 2 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatDiskUsage missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.bytes)
		if got != tt.expected {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.bytes, got, tt.expected)
		}
	}
}
