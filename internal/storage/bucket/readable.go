// Package bucket implements the on-disk storage of one metric stream.
//
// Readable opens readers for arbitrary paths and walks the days of a
// bucket. Writable extends it with appends, compaction of a day into a
// single archive, and expansion of an archive back into slot files.
//
// Neither type is safe for concurrent use. Operations on one bucket must be
// serialized by the caller. Different buckets are independent.
package bucket

import (
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"time"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/codec"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// ReaderOpener creates record readers for paths.
type ReaderOpener interface {
	OpenReader(path string) (codec.Reader, error)
}

// StoredReader decodes records and attaches their timestamps.
type StoredReader struct {
	path      string
	r         codec.Reader
	timestamp types.TimestampFunc
}

// NewStoredReader wraps r. Records are stamped with ts.
func NewStoredReader(path string, r codec.Reader, ts types.TimestampFunc) *StoredReader {
	return &StoredReader{path: path, r: r, timestamp: ts}
}

// Read returns the next stored metric or io.EOF.
func (s *StoredReader) Read() (types.StoredMetric, error) {
	rec, err := s.r.Read()
	if err != nil {
		return types.StoredMetric{}, err
	}
	ts, err := s.timestamp(rec)
	if err != nil {
		return types.StoredMetric{}, errors.NewStorageError("read", s.path, err)
	}
	return types.StoredMetric{Timestamp: ts, Payload: rec}, nil
}

// All yields every remaining stored metric. Iteration stops after the first
// error, which is yielded once.
func (s *StoredReader) All() iter.Seq2[types.StoredMetric, error] {
	return func(yield func(types.StoredMetric, error) bool) {
		for {
			m, err := s.Read()
			if err == io.EOF {
				return
			}
			if !yield(m, err) || err != nil {
				return
			}
		}
	}
}

// Path returns the file being read.
func (s *StoredReader) Path() string { return s.path }

// Close releases the underlying reader.
func (s *StoredReader) Close() error {
	return s.r.Close()
}

// Readable is the read side of a bucket.
type Readable struct {
	data      types.BucketData
	newReader codec.ReaderFactory
	timestamp types.TimestampFunc

	// opener is used for every reader the bucket creates. It points back
	// at the Readable unless an extension overrides reader creation.
	opener ReaderOpener
}

// NewReadable creates the read side of a bucket.
func NewReadable(data types.BucketData, newReader codec.ReaderFactory, ts types.TimestampFunc) (*Readable, error) {
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("bucket '%s': %w", data.Name, err)
	}
	if newReader == nil {
		return nil, errors.NewMissingField("reader factory")
	}
	if ts == nil {
		return nil, errors.NewMissingField("timestamp function")
	}

	r := &Readable{
		data:      data,
		newReader: newReader,
		timestamp: ts,
	}
	r.opener = r
	return r, nil
}

// Data returns the bucket identity.
func (r *Readable) Data() types.BucketData { return r.data }

// PathFinder returns the PathFinder for the slot containing t.
func (r *Readable) PathFinder(t time.Time) pathfinder.PathFinder {
	return pathfinder.New(r.data, t)
}

// OpenReader opens a record reader for path.
func (r *Readable) OpenReader(path string) (codec.Reader, error) {
	return r.newReader(path)
}

// Open returns a StoredReader for path, honoring reader-creation overrides.
func (r *Readable) Open(path string) (*StoredReader, error) {
	rd, err := r.opener.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return NewStoredReader(path, rd, r.timestamp), nil
}

// DayState reports which representation the day of pf has on disk.
func (r *Readable) DayState(pf pathfinder.PathFinder) (types.DayState, error) {
	return dayState(pf)
}

// Days lists the days present on disk in either representation, ascending.
func (r *Readable) Days() ([]pathfinder.PathFinder, error) {
	return listDays(r.data)
}

// ReadDay visits every record of the day in storage order. When an archive
// exists it is authoritative. Otherwise slot files are read in ascending
// slot order and records within a file in write order.
func (r *Readable) ReadDay(pf pathfinder.PathFinder, fn func(types.StoredMetric) error) error {
	day := pathfinder.ForDay(r.data, pf.Time())

	state, err := dayState(day)
	if err != nil {
		return err
	}

	switch {
	case state.HasArchive():
		return r.readFile(day.DayFilePath(), fn)
	case state.HasDirectory():
		present, err := slotFiles(day.DayDirectoryPath())
		if err != nil {
			return err
		}
		for slot := range day.MinutesOfDay() {
			path := slot.MinuteFilePath()
			if !present[filepath.Base(path)] {
				continue
			}
			if err := r.readFile(path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// DaysBetween returns the stored days that overlap [from, to), ascending.
func (r *Readable) DaysBetween(from, to time.Time) ([]pathfinder.PathFinder, error) {
	if !from.Before(to) {
		return nil, nil
	}
	days, err := listDays(r.data)
	if err != nil {
		return nil, err
	}

	first := pathfinder.ForDay(r.data, from).Day()
	var out []pathfinder.PathFinder
	for _, day := range days {
		if day.Day().Before(first) {
			continue
		}
		if !day.Day().Before(to) {
			break
		}
		out = append(out, day)
	}
	return out, nil
}

// Read visits every record with from <= timestamp < to, days ascending.
// An error returned by fn stops the walk and is returned as is.
func (r *Readable) Read(from, to time.Time, fn func(types.StoredMetric) error) error {
	days, err := r.DaysBetween(from, to)
	if err != nil {
		return err
	}
	for _, day := range days {
		err := r.ReadDay(day, func(m types.StoredMetric) error {
			if m.Timestamp.Before(from) || !m.Timestamp.Before(to) {
				return nil
			}
			return fn(m)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Readable) readFile(path string, fn func(types.StoredMetric) error) (err error) {
	sr, err := r.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for m, rerr := range sr.All() {
		if rerr != nil {
			return rerr
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}
