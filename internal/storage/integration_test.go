package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/config"
	"github.com/xtxerr/metricstore/internal/storage/export"
	"github.com/xtxerr/metricstore/internal/storage/query"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// TestIntegration_FullPipeline tests write → compress → write again → export → query.
func TestIntegration_FullPipeline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Export.Dir = t.TempDir()
	cfg.Buckets = []config.BucketConfig{config.DefaultBucket("cpu")}

	s, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	// Write 100 records spread over 10 minutes
	for i := 0; i < 100; i++ {
		ts := day.Add(10*time.Hour + time.Duration(i)*6*time.Second)
		if _, err := s.Write("cpu", types.Record{"timestamp": ts.Format(time.RFC3339), "value": float64(i)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if err := s.Compress("cpu", day); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	// A late record expands the archive
	late := day.Add(23 * time.Hour)
	if _, err := s.Write("cpu", types.Record{"timestamp": late.Format(time.RFC3339), "value": 100.0}); err != nil {
		t.Fatalf("late Write: %v", err)
	}

	path, rows, err := s.Export(context.Background(), "cpu", day)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rows != 101 {
		t.Errorf("exported %d rows, want 101", rows)
	}

	metrics, err := export.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(metrics) != 101 {
		t.Errorf("read back %d rows, want 101", len(metrics))
	}

	// Query through the store
	results, err := s.Query().Range(context.Background(), query.RangeQuery{
		Bucket: "cpu",
		Start:  day.Add(10 * time.Hour),
		End:    day.Add(10*time.Hour + time.Minute),
	})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(results) != 10 {
		t.Errorf("expected 10 results in the first minute, got %d", len(results))
	}

	counts, err := s.Query().CountByMinute(context.Background(), query.RangeQuery{
		Bucket: "cpu",
		Start:  day,
		End:    day.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("CountByMinute: %v", err)
	}
	if len(counts) != 11 {
		t.Errorf("expected 11 minutes, got %d", len(counts))
	}
}

// TestIntegration_Retention tests that retention drops only expired days.
func TestIntegration_Retention(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Buckets = []config.BucketConfig{config.DefaultBucket("cpu")}
	cfg.Retention.Enabled = true
	cfg.Retention.MaxAge = 7 * 24 * time.Hour

	s, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -30)
	for _, ts := range []time.Time{old, now} {
		if _, err := s.Write("cpu", types.Record{"timestamp": ts.Format(time.RFC3339), "value": 1.0}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := s.Compress("cpu", old); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	dry := s.DryRunRetention(context.Background())
	if len(dry) != 1 || len(dry[0].DaysDeleted) != 1 {
		t.Fatalf("unexpected dry run: %+v", dry)
	}

	results := s.RunRetention(context.Background())
	if err := results[0].Err(); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}

	days, err := s.Days("cpu")
	if err != nil {
		t.Fatalf("Days: %v", err)
	}
	if len(days) != 1 || !days[0].SameDay(now) {
		t.Errorf("remaining days = %v, want only today", days)
	}

	usage := s.GetDiskUsage()
	if usage["cpu"].FileCount != 1 {
		t.Errorf("cpu files = %d, want 1", usage["cpu"].FileCount)
	}
}
