// Package metrics exposes store statistics and HTTP request metrics to
// Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xtxerr/metricstore/internal/storage"
)

const namespace = "metricstore"

// StatsSource provides a point-in-time view of the store.
type StatsSource interface {
	Stats() storage.StoreStats
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRecordsWritten  *prometheus.CounterVec
	HTTPWritesRejected  prometheus.Counter

	// BackpressureLevel is the current write admission level, 0 is normal.
	BackpressureLevel prometheus.Gauge
}

// New creates a registry holding the store collector, the HTTP metrics
// and the Go runtime collectors.
func New(src StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		reg.MustRegister(NewCollector(src))
	}

	return &Metrics{
		Registry: reg,

		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRecordsWritten: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_records_written_total",
				Help:      "Records accepted through the HTTP API",
			},
			[]string{"bucket"},
		),
		HTTPWritesRejected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_writes_rejected_total",
				Help:      "Write requests turned away under backpressure",
			},
		),
		BackpressureLevel: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backpressure_level",
				Help:      "Write backpressure level (0=normal, 1=warning, 2=critical, 3=emergency)",
			},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// statusClass converts status code to string
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}

// Collector reads store statistics on every scrape.
type Collector struct {
	src StatsSource

	writes          *prometheus.Desc
	expansions      *prometheus.Desc
	compressions    *prometheus.Desc
	cleanupFailures *prometheus.Desc
	openWriters     *prometheus.Desc
	cacheCapacity   *prometheus.Desc
	cacheHits       *prometheus.Desc
	cacheMisses     *prometheus.Desc
	evictions       *prometheus.Desc
	closeFailures   *prometheus.Desc
	opCount         *prometheus.Desc
	opErrors        *prometheus.Desc
	opLatency       *prometheus.Desc
	sweeps          *prometheus.Desc
	sweepFailures   *prometheus.Desc
	daysDeleted     *prometheus.Desc
	bytesFreed      *prometheus.Desc
	running         *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src StatsSource) *Collector {
	bucket := []string{"bucket"}
	op := []string{"bucket", "op"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		src: src,

		writes:          desc("writes_total", "Records written", bucket),
		expansions:      desc("expansions_total", "Archives expanded into day directories", bucket),
		compressions:    desc("compressions_total", "Day directories compressed into archives", bucket),
		cleanupFailures: desc("cleanup_failures_total", "Leftovers that could not be removed after a rename", bucket),
		openWriters:     desc("writer_cache_open", "Slot files currently open for writing", bucket),
		cacheCapacity:   desc("writer_cache_capacity", "Maximum number of open slot files", bucket),
		cacheHits:       desc("writer_cache_hits_total", "Writes served by an open writer", bucket),
		cacheMisses:     desc("writer_cache_misses_total", "Writes that had to open a slot file", bucket),
		evictions:       desc("writer_cache_evictions_total", "Writers closed to make room", bucket),
		closeFailures:   desc("writer_close_failures_total", "Writers that failed to close", bucket),
		opCount:         desc("operations_total", "Bucket operations", op),
		opErrors:        desc("operation_errors_total", "Failed bucket operations", op),
		opLatency:       desc("operation_duration_milliseconds", "Bucket operation latency quantiles", op),
		sweeps:          desc("compaction_sweeps_total", "Compaction sweeps run", nil),
		sweepFailures:   desc("compaction_sweep_failures_total", "Compaction sweeps with at least one failure", nil),
		daysDeleted:     desc("retention_days_deleted_total", "Days deleted by retention", nil),
		bytesFreed:      desc("retention_bytes_freed_total", "Bytes freed by retention", nil),
		running:         desc("background_running", "Whether background jobs are running", nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.writes, c.expansions, c.compressions, c.cleanupFailures,
		c.openWriters, c.cacheCapacity, c.cacheHits, c.cacheMisses, c.evictions, c.closeFailures,
		c.opCount, c.opErrors, c.opLatency,
		c.sweeps, c.sweepFailures, c.daysDeleted, c.bytesFreed, c.running,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	for _, b := range stats.Buckets {
		counter(c.writes, b.Counters.Writes, b.Bucket)
		counter(c.expansions, b.Counters.Expansions, b.Bucket)
		counter(c.compressions, b.Counters.Compressions, b.Bucket)
		counter(c.cleanupFailures, b.Counters.CleanupFailures, b.Bucket)

		gauge(c.openWriters, float64(b.Cache.Open), b.Bucket)
		gauge(c.cacheCapacity, float64(b.Cache.Capacity), b.Bucket)
		counter(c.cacheHits, b.Cache.Hits, b.Bucket)
		counter(c.cacheMisses, b.Cache.Misses, b.Bucket)
		counter(c.evictions, b.Cache.Evictions, b.Bucket)
		counter(c.closeFailures, b.Cache.CloseFailures, b.Bucket)

		for _, op := range b.Ops {
			counter(c.opCount, op.Count, b.Bucket, op.Op)
			counter(c.opErrors, op.Errors, b.Bucket, op.Op)
			ch <- prometheus.MustNewConstSummary(c.opLatency,
				uint64(op.Count), op.SumMs,
				map[float64]float64{0.5: op.P50Ms, 0.9: op.P90Ms, 0.99: op.P99Ms},
				b.Bucket, op.Op,
			)
		}
	}

	counter(c.sweeps, stats.Compaction.SweepsRun)
	counter(c.sweepFailures, stats.Compaction.SweepsFailed)
	counter(c.daysDeleted, stats.Retention.DaysDeleted)
	counter(c.bytesFreed, stats.Retention.BytesFreed)

	running := 0.0
	if stats.Running {
		running = 1
	}
	gauge(c.running, running)
}
