package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// BatchSize is the number of rows buffered before a write
	BatchSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// String returns the configuration name of the algorithm.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		BatchSize:   4096,
	}
}

// ParseCompressionType parses a compression type string. An empty string
// selects zstd.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none":
		return CompressionNone, nil
	default:
		return CompressionZstd, errors.NewValidation("compression", fmt.Sprintf("unknown algorithm %q", s))
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Row represents a stored metric in Parquet format.
type Row struct {
	TimestampMs int64  `parquet:"timestamp_ms"`
	Minute      string `parquet:"minute,dict"`
	Payload     string `parquet:"payload,zstd"`
}

// MetricToRow converts a stored metric to a Row. The minute column holds
// the label of the live slot the metric belongs to.
func MetricToRow(data types.BucketData, m types.StoredMetric) (Row, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return Row{}, errors.NewInvalidRecord(fmt.Sprintf("encode payload: %v", err))
	}
	return Row{
		TimestampMs: m.TimestampMs(),
		Minute:      pathfinder.New(data, m.Timestamp).String(),
		Payload:     string(payload),
	}, nil
}

// Writer writes rows to a Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[Row]
	rowCount int64
	closed   bool
}

// NewWriter creates a new Parquet writer at path.
func NewWriter(path string, opts Options) (*Writer, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewStorageError("create directory", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.NewStorageError("create", path, err)
	}

	writer := parquet.NewGenericWriter[Row](f,
		parquet.Compression(getCompression(opts.Compression)),
	)

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes rows to the Parquet file.
func (w *Writer) Write(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return errors.NewStorageError("write rows", w.path, err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return errors.NewCloseError(w.path, err)
	}

	return errors.NewCloseError(w.path, w.file.Close())
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer: %w", errors.ErrClosed)

// DayReader reads one day of a bucket in stored order.
type DayReader interface {
	Data() types.BucketData
	ReadDay(pf pathfinder.PathFinder, fn func(types.StoredMetric) error) error
}

// WriteDay exports day from r to path and returns the number of rows.
//
// The file is written next to path under a staging name and renamed into
// place once complete, so path never holds a partial export.
func WriteDay(ctx context.Context, r DayReader, day pathfinder.PathFinder, path string, opts Options) (int64, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	tmp := path + pathfinder.TmpSuffix
	w, err := NewWriter(tmp, opts)
	if err != nil {
		return 0, err
	}

	data := r.Data()
	batch := make([]Row, 0, opts.BatchSize)
	err = r.ReadDay(day, func(m types.StoredMetric) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := MetricToRow(data, m)
		if err != nil {
			return err
		}
		batch = append(batch, row)
		if len(batch) < opts.BatchSize {
			return nil
		}
		err = w.Write(batch)
		batch = batch[:0]
		return err
	})
	if err == nil {
		err = w.Write(batch)
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, errors.NewStorageError("rename", tmp, err)
	}
	return w.RowCount(), nil
}

// FileName returns the export file name of day.
func FileName(day pathfinder.PathFinder) string {
	return day.Day().Format("2006-01-02") + ".parquet"
}
