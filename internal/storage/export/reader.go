package export

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Reader reads rows from a Parquet file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[Row]
	path   string
}

// NewReader creates a new Parquet reader.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageError("open", path, err)
	}

	reader := parquet.NewGenericReader[Row](f, parquet.ReadBufferSize(1024*1024))

	return &Reader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *Reader) Read(n int) ([]Row, error) {
	rows := make([]Row, n)
	count, err := r.reader.Read(rows)
	if err == io.EOF && count > 0 {
		err = nil
	}
	return rows[:count], err
}

// ReadAll reads all rows from the file.
func (r *Reader) ReadAll() ([]Row, error) {
	rows := make([]Row, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, errors.NewStorageError("read rows", r.path, err)
	}

	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// RowToMetric converts a Row back to a stored metric.
func RowToMetric(row Row) (types.StoredMetric, error) {
	payload, err := types.DecodeRecord([]byte(row.Payload))
	if err != nil {
		return types.StoredMetric{}, fmt.Errorf("decode payload at %d: %w", row.TimestampMs, err)
	}
	return types.StoredMetric{
		Timestamp: time.UnixMilli(row.TimestampMs).UTC(),
		Payload:   payload,
	}, nil
}

// ReadFile reads every row of an export as stored metrics.
func ReadFile(path string) ([]types.StoredMetric, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	metrics := make([]types.StoredMetric, 0, len(rows))
	for _, row := range rows {
		m, err := RowToMetric(row)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}
