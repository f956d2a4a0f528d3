package metrics

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/bucket"
	"github.com/xtxerr/metricstore/internal/storage/cache"
	"github.com/xtxerr/metricstore/internal/storage/stats"
)

type staticSource storage.StoreStats

func (s staticSource) Stats() storage.StoreStats { return storage.StoreStats(s) }

func testStats() storage.StoreStats {
	return storage.StoreStats{
		Running: true,
		Buckets: []bucket.Stats{
			{
				Bucket:   "cpu",
				Counters: bucket.Counters{Writes: 42, Compressions: 3, Expansions: 1},
				Cache:    cache.Stats{Capacity: 64, Open: 5, Evictions: 7},
				Ops: []stats.OpSnapshot{
					{Op: stats.OpWrite, Count: 42, SumMs: 21, P50Ms: 0.4, P90Ms: 0.8, P99Ms: 1.2},
				},
			},
		},
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector(staticSource(testStats()))

	expected := `
# HELP metricstore_writes_total Records written
# TYPE metricstore_writes_total counter
metricstore_writes_total{bucket="cpu"} 42
# HELP metricstore_writer_cache_open Slot files currently open for writing
# TYPE metricstore_writer_cache_open gauge
metricstore_writer_cache_open{bucket="cpu"} 5
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"metricstore_writes_total", "metricstore_writer_cache_open"); err != nil {
		t.Error(err)
	}

	if n := testutil.CollectAndCount(c, "metricstore_operation_duration_milliseconds"); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := New(staticSource(testStats()))

	m.RecordHTTPRequest(http.MethodPost, "/v1/buckets/{bucket}/records", http.StatusOK, 5*time.Millisecond)
	m.RecordHTTPRequest(http.MethodPost, "/v1/buckets/{bucket}/records", http.StatusBadRequest, time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/v1/buckets/{bucket}/records", "2xx")); got != 1 {
		t.Errorf("2xx requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/v1/buckets/{bucket}/records", "4xx")); got != 1 {
		t.Errorf("4xx requests = %v, want 1", got)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "metricstore_compressions_total" {
			found = true
		}
	}
	if !found {
		t.Error("store collector not registered")
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 100: "100"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %s, want %s", code, got, want)
		}
	}
}
