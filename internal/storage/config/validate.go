package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage/codec"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Buckets
	if len(c.Buckets) == 0 {
		errs = append(errs, errors.New("at least one bucket is required"))
	}
	seen := make(map[string]bool)
	for i := range c.Buckets {
		b := &c.Buckets[i]
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("buckets[%d] (%s): %w", i, b.Name, err))
		}
		if seen[b.Name] {
			errs = append(errs, fmt.Errorf("buckets[%d]: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = true
	}

	// Compaction
	if err := c.Compaction.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compaction: %w", err))
	}

	// Retention
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}
	if c.Retention.Enabled && c.Compaction.Enabled && c.Retention.MaxAge <= c.Compaction.Age {
		errs = append(errs, errors.New("retention.max_age should be > compaction.age"))
	}

	// Export
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	// Server
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if err := c.Server.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.backpressure: %w", err))
	}

	// Logging
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" && c.Logging.Format != "" {
		errs = append(errs, errors.New("logging.format must be one of: text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks a bucket configuration.
func (c *BucketConfig) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Name != filepath.Base(c.Name) || c.Name == "." || c.Name == ".." {
		errs = append(errs, errors.New("name must be a plain directory name"))
	}
	if c.TimestampField == "" {
		errs = append(errs, errors.New("timestamp_field is required"))
	}
	if _, err := codec.Lookup(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.Granularity <= 0 || c.Granularity%time.Minute != 0 || (24*time.Hour)%c.Granularity != 0 {
		errs = append(errs, errors.New("granularity must be a whole number of minutes dividing 24h"))
	}
	if c.WriterCacheSize <= 0 {
		errs = append(errs, errors.New("writer_cache_size must be positive"))
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		errs = append(errs, fmt.Errorf("location: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compaction configuration.
func (c *CompactionConfig) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.Age < 0 {
		errs = append(errs, errors.New("age must be non-negative"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.MaxAge < 24*time.Hour {
		errs = append(errs, errors.New("max_age must be at least 24h"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		return errors.New("compression must be one of: snappy, zstd, lz4, gzip, none")
	}
	return nil
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.MaxInflightBytes <= 0 {
		errs = append(errs, errors.New("max_inflight_bytes must be positive"))
	}

	// Thresholds must be in order
	if c.Thresholds.Warning <= 0 || c.Thresholds.Warning >= 1 {
		errs = append(errs, errors.New("thresholds.warning must be between 0 and 1"))
	}
	if c.Thresholds.Critical <= 0 || c.Thresholds.Critical >= 1 {
		errs = append(errs, errors.New("thresholds.critical must be between 0 and 1"))
	}
	if c.Thresholds.Emergency <= 0 || c.Thresholds.Emergency > 1 {
		errs = append(errs, errors.New("thresholds.emergency must be between 0 and 1"))
	}

	if c.Thresholds.Warning >= c.Thresholds.Critical {
		errs = append(errs, errors.New("thresholds.warning must be < thresholds.critical"))
	}
	if c.Thresholds.Critical >= c.Thresholds.Emergency {
		errs = append(errs, errors.New("thresholds.critical must be < thresholds.emergency"))
	}

	// Recovery
	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 0.5 {
		errs = append(errs, errors.New("recovery.hysteresis must be between 0 and 0.5"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.New("recovery.cooldown must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	for _, b := range c.Buckets {
		dirs = append(dirs, c.BucketDir(b.Name))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// BucketDir returns the root directory of a bucket.
func (c *Config) BucketDir(name string) string {
	return filepath.Join(c.DataDir, name)
}

// ExportDir returns the export directory of a bucket.
func (c *Config) ExportDir(name string) string {
	return filepath.Join(c.Export.Dir, name)
}
