package config

import (
	"fmt"
	"time"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// File handles
	WriterDescriptors int64
	PeakDescriptors   int64

	// Inodes
	SlotFilesPerDay int64
	LiveDays        int64
	MaxLiveFiles    int64
	RetainedDays    int64
	MaxArchives     int64

	// Memory
	WriterBufferBytes int64
	QueryCacheBytes   int64
	TotalRAMBytes     int64
}

// Constants for calculations
const (
	// Approximate heap held by one open gzip writer.
	bytesPerGzipWriter = 800 * 1024

	// Descriptors held by one compaction or expansion at its peak
	// (archive, one slot file, staging file).
	descriptorsPerSweep = 3
)

// CalculateRequirements computes resource requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}

	// -------------------------------------------------------------------------
	// File Handles
	// -------------------------------------------------------------------------

	for _, b := range c.Buckets {
		r.WriterDescriptors += int64(b.WriterCacheSize)
		if b.Granularity > 0 {
			r.SlotFilesPerDay += int64(24 * time.Hour / b.Granularity)
		}
	}
	r.PeakDescriptors = r.WriterDescriptors + int64(c.Compaction.Workers)*descriptorsPerSweep

	// -------------------------------------------------------------------------
	// Inodes
	// -------------------------------------------------------------------------

	if c.Retention.Enabled {
		r.RetainedDays = int64(c.Retention.MaxAge / (24 * time.Hour))
	}

	// Today plus every day still younger than the compaction age.
	if c.Compaction.Enabled {
		r.LiveDays = int64(c.Compaction.Age/(24*time.Hour)) + 1
	} else {
		r.LiveDays = r.RetainedDays
	}
	r.MaxLiveFiles = r.SlotFilesPerDay * r.LiveDays

	if r.RetainedDays > r.LiveDays {
		r.MaxArchives = int64(len(c.Buckets)) * (r.RetainedDays - r.LiveDays)
	}

	// -------------------------------------------------------------------------
	// Memory
	// -------------------------------------------------------------------------

	r.WriterBufferBytes = r.WriterDescriptors * bytesPerGzipWriter
	r.QueryCacheBytes = parseMemoryLimit(c.Query.MemoryLimit)
	r.TotalRAMBytes = r.WriterBufferBytes + r.QueryCacheBytes

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	retained := "unbounded"
	if r.RetainedDays > 0 {
		retained = formatNumber(r.RetainedDays)
	}
	return fmt.Sprintf(`Resource Requirements
=====================

File Handles:
  Open Writers:      %s
  Peak Descriptors:  %s

Inodes:
  Slot Files/day:    %s
  Live Days:         %s
  Max Live Files:    %s
  Retained Days:     %s
  Max Archives:      %s

Memory:
  Writer Buffers:    %s
  Query Cache:       %s
  Total RAM:         %s (recommended)
`,
		formatNumber(r.WriterDescriptors),
		formatNumber(r.PeakDescriptors),
		formatNumber(r.SlotFilesPerDay),
		formatNumber(r.LiveDays),
		formatNumber(r.MaxLiveFiles),
		retained,
		formatNumber(r.MaxArchives),
		formatBytes(r.WriterBufferBytes),
		formatBytes(r.QueryCacheBytes),
		formatBytes(r.TotalRAMBytes),
	)
}

// parseMemoryLimit parses a memory limit string like "2GB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 2 * 1024 * 1024 * 1024 // Default 2GB
	}

	var value int64
	var unit string
	_, err := fmt.Sscanf(s, "%d%s", &value, &unit)
	if err != nil {
		// Try without space
		for i, c := range s {
			if c < '0' || c > '9' {
				fmt.Sscanf(s[:i], "%d", &value)
				unit = s[i:]
				break
			}
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return value
	}
}

// formatBytes formats bytes as a human-readable string.
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

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
