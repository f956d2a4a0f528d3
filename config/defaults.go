// Package config provides configuration defaults and utilities
// for the metricstore application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Environment
// =============================================================================

const (
	// EnvConfigPath names the config file when --config is not given.
	EnvConfigPath = "METRICSTORE_CONFIG"

	// EnvDataDir overrides data_dir from the config file.
	EnvDataDir = "METRICSTORE_DATA_DIR"

	// EnvLogLevel overrides logging.level from the config file.
	EnvLogLevel = "METRICSTORE_LOG_LEVEL"
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root under which every bucket gets its own tree.
	// Override via config: data_dir
	DefaultDataDir = "./data"

	// DefaultCodec is the record framing of new buckets.
	// Options: json, protobuf
	// Override via config: buckets[].codec
	DefaultCodec = "json"

	// DefaultGranularity is the span of one live file.
	// Must be a whole number of minutes that divides a day.
	// Override via config: buckets[].granularity
	DefaultGranularity = time.Minute

	// DefaultTimestampField is the record field holding the timestamp.
	// Override via config: buckets[].timestamp_field
	DefaultTimestampField = "timestamp"

	// DefaultLocation decides where day boundaries fall.
	// Override via config: buckets[].location
	DefaultLocation = "UTC"

	// DefaultWriterCacheSize is the number of slot files kept open for
	// append per bucket. Each open writer holds one file descriptor.
	// Range: 1-100000
	// Override via config: buckets[].writer_cache_size
	DefaultWriterCacheSize = 64
)

// =============================================================================
// Compaction Defaults
// =============================================================================

const (
	// DefaultCompactionInterval is how often the compaction sweep runs.
	// Override via config: compaction.interval
	DefaultCompactionInterval = 10 * time.Minute

	// DefaultCompactionAge is how old a day must be before it is compacted.
	// Days are compacted once they end before now minus this age.
	// Override via config: compaction.age
	DefaultCompactionAge = 24 * time.Hour

	// DefaultCompactionWorkers is the number of buckets swept concurrently.
	// Override via config: compaction.workers
	DefaultCompactionWorkers = 2
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionInterval is how often expired days are removed.
	// Override via config: retention.interval
	DefaultRetentionInterval = time.Hour

	// DefaultRetentionMaxAge is how long days are kept.
	// Override via config: retention.max_age
	DefaultRetentionMaxAge = 90 * 24 * time.Hour
)

// =============================================================================
// Export and Query Defaults
// =============================================================================

const (
	// DefaultExportDir holds parquet exports, one sub-directory per bucket.
	// Override via config: export.dir
	DefaultExportDir = "./export"

	// DefaultExportCompression is the parquet page compression.
	// Options: snappy, zstd, lz4, gzip, none
	// Override via config: export.compression
	DefaultExportCompression = "zstd"

	// DefaultQueryMemoryLimit bounds DuckDB memory use.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"

	// DefaultQueryTimeout bounds a single query.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps the rows returned by one query.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 100000
)

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: server.listen
	DefaultListenAddress = "127.0.0.1:8428"

	// DefaultReadTimeout bounds reading one request.
	// Override via config: server.read_timeout
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds writing one response. Reads over long
	// ranges stream for a while, so this is generous.
	// Override via config: server.write_timeout
	DefaultWriteTimeout = 5 * time.Minute

	// DefaultShutdownTimeout is the grace period for in-flight requests.
	// Override via config: server.shutdown_timeout
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxBodySize limits ingest request bodies.
	// Override via config: server.max_body_size
	DefaultMaxBodySize = 32 * 1024 * 1024

	// DefaultRejectLimitPerMinute is the number of rejected requests a
	// client may send per minute before it is blocked. Zero disables it.
	// Override via config: server.reject_limit
	DefaultRejectLimitPerMinute = 120
)

// =============================================================================
// Backpressure Defaults
// =============================================================================

const (
	// DefaultMaxInflightBytes bounds the request bodies held in memory by
	// writes in progress.
	// Override via config: server.backpressure.max_inflight_bytes
	DefaultMaxInflightBytes = 256 * 1024 * 1024

	// Usage thresholds of the in-flight limit.
	// Override via config: server.backpressure.thresholds.*
	DefaultBackpressureWarning   = 0.50
	DefaultBackpressureCritical  = 0.80
	DefaultBackpressureEmergency = 0.95

	// DefaultBackpressureHysteresis keeps the level from flapping.
	// Override via config: server.backpressure.recovery.hysteresis
	DefaultBackpressureHysteresis = 0.10

	// DefaultBackpressureCooldown is the minimum time between level checks.
	// Override via config: server.backpressure.recovery.cooldown
	DefaultBackpressureCooldown = time.Second
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum level written.
	// Options: debug, info, warn, error
	// Override via config: logging.level
	DefaultLogLevel = "info"

	// DefaultLogFormat selects the slog handler.
	// Options: text, json
	// Override via config: logging.format
	DefaultLogFormat = "text"
)
