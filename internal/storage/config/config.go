package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/metricstore/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory. Each bucket lives in DataDir/<name>.
	DataDir string `yaml:"data_dir"`

	// Buckets lists the metric streams to open.
	Buckets []BucketConfig `yaml:"buckets"`

	// Compaction configures the background compaction sweep.
	Compaction CompactionConfig `yaml:"compaction"`

	// Retention defines how long days are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Export configures parquet exports.
	Export ExportConfig `yaml:"export"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// BucketConfig describes one bucket.
type BucketConfig struct {
	// Name is the bucket name and the name of its directory.
	Name string `yaml:"name"`

	// TimestampField is the record field holding the timestamp.
	TimestampField string `yaml:"timestamp_field"`

	// TimestampLayout parses string timestamps. Empty means RFC3339.
	TimestampLayout string `yaml:"timestamp_layout"`

	// Codec is the record framing: json, protobuf.
	Codec string `yaml:"codec"`

	// Granularity is the span of one live file.
	// Format: "1m", "5m", "1h"
	Granularity time.Duration `yaml:"granularity"`

	// WriterCacheSize is the number of slot files kept open.
	WriterCacheSize int `yaml:"writer_cache_size"`

	// Location is the IANA zone that decides day boundaries.
	Location string `yaml:"location"`
}

// CompactionConfig configures the compaction sweep.
type CompactionConfig struct {
	// Enabled starts the background sweep with the server.
	Enabled bool `yaml:"enabled"`

	// Interval is the time between sweeps.
	Interval time.Duration `yaml:"interval"`

	// Age is how old a day must be before it is compacted.
	Age time.Duration `yaml:"age"`

	// Workers is the number of buckets swept in parallel.
	Workers int `yaml:"workers"`
}

// RetentionConfig defines how long days are kept.
type RetentionConfig struct {
	// Enabled starts the background cleanup with the server.
	Enabled bool `yaml:"enabled"`

	// Interval is the time between cleanups.
	Interval time.Duration `yaml:"interval"`

	// MaxAge is the age after which a day is deleted.
	MaxAge time.Duration `yaml:"max_age"`
}

// ExportConfig configures parquet exports.
type ExportConfig struct {
	// Dir holds exports, one sub-directory per bucket.
	Dir string `yaml:"dir"`

	// Compression is the parquet compression: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`

	// TLS is enabled when both files are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// RejectLimit is the number of rejected requests per minute after
	// which a client address is blocked. Zero disables blocking.
	RejectLimit int `yaml:"reject_limit"`

	// Backpressure sheds writes when too many request bytes are in flight.
	Backpressure BackpressureConfig `yaml:"backpressure"`
}

// BackpressureConfig configures load shedding.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool `yaml:"enabled"`

	// MaxInflightBytes is the body volume that counts as full load.
	MaxInflightBytes int64 `yaml:"max_inflight_bytes"`

	// Thresholds defines usage thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery BackpressureRecovery `yaml:"recovery"`
}

// BackpressureThresholds defines usage thresholds.
type BackpressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0). Writes are rejected from here on.
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0).
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-0.5).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level checks.
	Cooldown time.Duration `yaml:"cooldown"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	config.fillBucketDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Buckets: []BucketConfig{DefaultBucket("default")},
		Compaction: CompactionConfig{
			Enabled:  true,
			Interval: defaults.DefaultCompactionInterval,
			Age:      defaults.DefaultCompactionAge,
			Workers:  defaults.DefaultCompactionWorkers,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Interval: defaults.DefaultRetentionInterval,
			MaxAge:   defaults.DefaultRetentionMaxAge,
		},
		Export: ExportConfig{
			Dir:         defaults.DefaultExportDir,
			Compression: defaults.DefaultExportCompression,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
			Timeout:     defaults.DefaultQueryTimeout,
			MaxRows:     defaults.DefaultQueryMaxRows,
		},
		Server: ServerConfig{
			Listen:          defaults.DefaultListenAddress,
			ReadTimeout:     defaults.DefaultReadTimeout,
			WriteTimeout:    defaults.DefaultWriteTimeout,
			ShutdownTimeout: defaults.DefaultShutdownTimeout,
			MaxBodySize:     defaults.DefaultMaxBodySize,
			RejectLimit:     defaults.DefaultRejectLimitPerMinute,
			Backpressure: BackpressureConfig{
				Enabled:          true,
				MaxInflightBytes: defaults.DefaultMaxInflightBytes,
				Thresholds: BackpressureThresholds{
					Warning:   defaults.DefaultBackpressureWarning,
					Critical:  defaults.DefaultBackpressureCritical,
					Emergency: defaults.DefaultBackpressureEmergency,
				},
				Recovery: BackpressureRecovery{
					Hysteresis: defaults.DefaultBackpressureHysteresis,
					Cooldown:   defaults.DefaultBackpressureCooldown,
				},
			},
		},
		Logging: LoggingConfig{
			Level:  defaults.DefaultLogLevel,
			Format: defaults.DefaultLogFormat,
		},
	}
}

// DefaultBucket returns a bucket configuration with every default applied.
func DefaultBucket(name string) BucketConfig {
	return BucketConfig{
		Name:            name,
		TimestampField:  defaults.DefaultTimestampField,
		Codec:           defaults.DefaultCodec,
		Granularity:     defaults.DefaultGranularity,
		WriterCacheSize: defaults.DefaultWriterCacheSize,
		Location:        defaults.DefaultLocation,
	}
}

// fillBucketDefaults completes bucket entries that only set some fields.
func (c *Config) fillBucketDefaults() {
	for i := range c.Buckets {
		b := &c.Buckets[i]
		d := DefaultBucket(b.Name)
		if b.TimestampField == "" {
			b.TimestampField = d.TimestampField
		}
		if b.Codec == "" {
			b.Codec = d.Codec
		}
		if b.Granularity == 0 {
			b.Granularity = d.Granularity
		}
		if b.WriterCacheSize == 0 {
			b.WriterCacheSize = d.WriterCacheSize
		}
		if b.Location == "" {
			b.Location = d.Location
		}
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(defaults.EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(defaults.EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Bucket returns the configuration of the named bucket.
func (c *Config) Bucket(name string) (BucketConfig, bool) {
	for _, b := range c.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return BucketConfig{}, false
}
