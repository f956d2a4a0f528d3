package bucket

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/xtxerr/metricstore/config"
	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage/cache"
	"github.com/xtxerr/metricstore/internal/storage/codec"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
	"github.com/xtxerr/metricstore/internal/storage/stats"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Options configures a Writable bucket.
type Options struct {
	// Codec frames records. Its extension must match the bucket data.
	// Default: codec.JSON
	Codec codec.Codec

	// Timestamp derives the timestamp of a record. Required.
	Timestamp types.TimestampFunc

	// WriterCacheSize is the number of slot files kept open.
	// Default: config.DefaultWriterCacheSize
	WriterCacheSize int

	// Recorder receives operation latencies. Optional.
	Recorder *stats.Recorder
}

// Counters holds bucket operation counts.
type Counters struct {
	Writes          int64
	Expansions      int64
	Compressions    int64
	CleanupFailures int64
}

// Stats is a point-in-time view of a bucket.
type Stats struct {
	Bucket   string
	Counters Counters
	Cache    cache.Stats
	Ops      []stats.OpSnapshot
}

// Writable is a bucket that accepts writes. It embeds Readable and
// overrides reader creation so that a slot file is never read while a
// writer still holds it open.
type Writable struct {
	*Readable

	newWriter codec.WriterFactory
	writers   *cache.WriterCache
	recorder  *stats.Recorder
	log       *slog.Logger

	counters Counters
}

// New creates a Writable bucket using the codec from opts for both
// directions. The bucket extension is taken from the codec when empty.
func New(data types.BucketData, opts Options) (*Writable, error) {
	c := opts.Codec
	if c.Name() == "" {
		c = codec.JSON
	}
	if data.Extension == "" {
		data.Extension = c.Extension()
	}
	if data.Extension != c.Extension() {
		return nil, errors.NewValidation("extension",
			fmt.Sprintf("%q does not match codec %s (%q)", data.Extension, c.Name(), c.Extension()))
	}
	return NewWithFactories(data, c.NewWriter, c.NewReader, opts)
}

// NewWithFactories creates a Writable bucket with injected factories.
// opts.Codec is ignored.
func NewWithFactories(data types.BucketData, newWriter codec.WriterFactory, newReader codec.ReaderFactory, opts Options) (*Writable, error) {
	if newWriter == nil {
		return nil, errors.NewMissingField("writer factory")
	}

	r, err := NewReadable(data, newReader, opts.Timestamp)
	if err != nil {
		return nil, err
	}

	size := opts.WriterCacheSize
	if size <= 0 {
		size = config.DefaultWriterCacheSize
	}
	writers, err := cache.New(size)
	if err != nil {
		return nil, err
	}

	w := &Writable{
		Readable:  r,
		newWriter: newWriter,
		writers:   writers,
		recorder:  opts.Recorder,
		log:       logging.Component("bucket").With("bucket", data.Name),
	}
	r.opener = w

	return w, nil
}

// Write files rec under its timestamp and returns the stored metric.
//
// A write to a day that only exists as an archive expands the archive
// first. Opening a new writer may evict and close an unrelated one.
func (b *Writable) Write(rec types.Record) (m types.StoredMetric, err error) {
	start := time.Now()
	defer func() { b.recorder.Since(stats.OpWrite, start, err) }()

	ts, err := b.timestamp(rec)
	if err != nil {
		if !errors.IsInvalidRecord(err) {
			err = fmt.Errorf("%v: %w", err, errors.ErrInvalidRecord)
		}
		return types.StoredMetric{}, err
	}

	pf := pathfinder.New(b.data, ts)
	path := pf.MinuteFilePath()

	w, ok := b.writers.Get(path)
	if !ok {
		compacted, err := isRegularFile(pf.DayFilePath())
		if err != nil {
			return types.StoredMetric{}, err
		}
		if compacted {
			// A cleanup failure here would leave the archive shadowing
			// the slot files, so it fails the write as well.
			if err := b.Expand(pf); err != nil {
				return types.StoredMetric{}, err
			}
		}

		if err := os.MkdirAll(pf.DayDirectoryPath(), dirPerm); err != nil {
			return types.StoredMetric{}, errors.NewStorageError("mkdir", pf.DayDirectoryPath(), err)
		}
		w, err = b.newWriter(path)
		if err != nil {
			return types.StoredMetric{}, wrapStorage("open writer", path, err)
		}
		b.writers.Put(path, w)
	}

	if err := w.Write(rec); err != nil {
		// A writer that failed mid-record is not reused.
		if cerr := b.writers.Remove(path); cerr != nil {
			b.log.Warn("close failed writer", "path", path, "error", cerr)
		}
		return types.StoredMetric{}, wrapStorage("write", path, err)
	}

	b.counters.Writes++
	return types.StoredMetric{Timestamp: ts, Payload: rec}, nil
}

// Expand turns the archive of pf's day back into slot files.
//
// Records are staged in the temporary directory and published by a single
// rename onto the day directory. Any failure before the rename leaves the
// archive untouched. A failure to delete the archive afterwards is
// reported as errors.ErrCleanup. Expanding a day without an archive is a
// no-op.
func (b *Writable) Expand(pf pathfinder.PathFinder) (err error) {
	start := time.Now()
	day := pathfinder.ForDay(b.data, pf.Time())
	archive := day.DayFilePath()

	exists, err := isRegularFile(archive)
	if err != nil || !exists {
		return err
	}
	defer func() { b.recorder.Since(stats.OpExpand, start, err) }()

	tmpDir := day.TemporaryDirectoryPath()
	if err := resetDir(tmpDir); err != nil {
		return err
	}

	records, err := b.stage(day, archive)
	if err != nil {
		return err
	}

	live := day.DayDirectoryPath()
	if stale, err := isDir(live); err != nil {
		return err
	} else if stale {
		// Leftover from a compaction whose cleanup failed. The archive
		// holds everything it held.
		b.evictDay(day)
		if err := os.RemoveAll(live); err != nil {
			return errors.NewStorageError("remove stale day directory", live, err)
		}
	}

	if err := os.Rename(tmpDir, live); err != nil {
		return errors.NewStorageError("rename", tmpDir, err)
	}
	b.counters.Expansions++

	b.log.Info("day expanded",
		"day", day.Day().Format(time.DateOnly),
		"records", records,
		"duration", time.Since(start))

	if err := remove(archive); err != nil {
		// Park the archive under the staging name so it no longer
		// shadows the slot files. The next compaction truncates it.
		if rerr := rename(archive, day.TemporaryDayFilePath()); rerr != nil {
			b.counters.CleanupFailures++
			return errors.NewCleanup("remove archive", archive, err)
		}
	}
	return nil
}

// stage copies every archive record into its temporary slot file. Writers
// are reused while consecutive records share a slot. Every handle is
// closed before stage returns.
func (b *Writable) stage(day pathfinder.PathFinder, archive string) (n int, err error) {
	src, err := b.Open(archive)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var w codec.Writer
	defer func() {
		if w == nil {
			return
		}
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for m, rerr := range src.All() {
		if rerr != nil {
			return n, rerr
		}
		if !day.SameDay(m.Timestamp) {
			return n, errors.NewStorageError("expand", archive,
				fmt.Errorf("record at %s outside day %s: %w",
					m.Timestamp.Format(time.RFC3339), day.Day().Format(time.DateOnly), errors.ErrCorruptArchive))
		}

		path := pathfinder.New(b.data, m.Timestamp).TemporaryMinuteFilePath()
		if w == nil || w.Path() != path {
			if w != nil {
				cerr := w.Close()
				w = nil
				if cerr != nil {
					return n, cerr
				}
			}
			if w, err = b.newWriter(path); err != nil {
				w = nil
				return n, wrapStorage("open writer", path, err)
			}
		}
		if err := w.Write(m.Payload); err != nil {
			return n, wrapStorage("write", path, err)
		}
		n++
	}
	return n, nil
}

// Compress merges the slot files of pf's day into one archive.
//
// The decompressed bytes of each slot file are copied verbatim, in slot
// order, into a temporary archive that is then renamed onto the day
// archive path. The day directory is removed afterwards; failing that is
// reported as errors.ErrCleanup. A day that already has an archive, or has
// no directory, is left alone.
func (b *Writable) Compress(pf pathfinder.PathFinder) (err error) {
	start := time.Now()
	day := pathfinder.ForDay(b.data, pf.Time())
	archive := day.DayFilePath()
	dir := day.DayDirectoryPath()

	state, err := dayState(day)
	if err != nil || state.HasArchive() || !state.HasDirectory() {
		return err
	}
	defer func() { b.recorder.Since(stats.OpCompress, start, err) }()

	present, err := slotFiles(dir)
	if err != nil {
		return err
	}

	tmp := day.TemporaryDayFilePath()
	out, err := codec.CreateRaw(tmp)
	if err != nil {
		return err
	}
	abort := func(cause error) error {
		out.Close()
		os.Remove(tmp)
		return cause
	}

	slots := 0
	for slot := range day.MinutesOfDay() {
		path := slot.MinuteFilePath()
		if err := b.writers.Remove(path); err != nil {
			return abort(errors.NewStorageError("close writer", path, err))
		}
		name := filepath.Base(path)
		if !present[name] {
			continue
		}
		delete(present, name)
		if err := copyRaw(out, path); err != nil {
			return abort(err)
		}
		slots++
	}
	for name := range present {
		b.log.Warn("unknown file in day directory", "path", filepath.Join(dir, name))
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, archive); err != nil {
		os.Remove(tmp)
		return errors.NewStorageError("rename", tmp, err)
	}
	b.counters.Compressions++

	b.log.Info("day compressed",
		"day", day.Day().Format(time.DateOnly),
		"slots", slots,
		"duration", time.Since(start))

	if err := discardDir(dir, day.TemporaryDirectoryPath()); err != nil {
		b.counters.CleanupFailures++
		return err
	}
	return nil
}

func copyRaw(dst io.Writer, path string) (err error) {
	src, err := codec.OpenRaw(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.NewStorageError("copy", path, err)
	}
	return nil
}

// CompressAll compresses every day strictly before the day of cutoff.
//
// Days are visited in ascending order starting at the oldest day on disk,
// and the sweep stops at the first day that is not older than cutoff.
// A failing day does not stop the sweep; all failures are returned joined.
func (b *Writable) CompressAll(cutoff time.Time) error {
	days, err := listDays(b.data)
	if err != nil || len(days) == 0 {
		return err
	}

	var errs []error
	for day := range pathfinder.Days(b.data, days[0].Time()) {
		if !day.Before(cutoff) {
			break
		}
		if err := b.Compress(day); err != nil {
			errs = append(errs, fmt.Errorf("compress %s: %w", day.Day().Format(time.DateOnly), err))
		}
	}
	return errors.Join(errs...)
}

// OpenReader closes any writer open for path before delegating to the
// base reader factory. This makes every record written so far visible to
// the reader.
func (b *Writable) OpenReader(path string) (codec.Reader, error) {
	if b.writers.Contains(path) {
		if err := b.writers.Remove(path); err != nil {
			b.log.Warn("close writer before read", "path", path, "error", err)
		}
	}
	return b.Readable.OpenReader(path)
}

// Drop removes pf's day in every representation, including staging
// leftovers. Writers open for the day are closed first.
func (b *Writable) Drop(pf pathfinder.PathFinder) error {
	day := pathfinder.ForDay(b.data, pf.Time())
	b.evictDay(day)

	var errs []error
	for _, dir := range []string{day.DayDirectoryPath(), day.TemporaryDirectoryPath()} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, errors.NewStorageError("remove directory", dir, err))
		}
	}
	for _, file := range []string{day.DayFilePath(), day.TemporaryDayFilePath()} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			errs = append(errs, errors.NewStorageError("remove", file, err))
		}
	}
	return errors.Join(errs...)
}

// evictDay closes every cached writer below the day directory.
func (b *Writable) evictDay(day pathfinder.PathFinder) {
	prefix := day.DayDirectoryPath() + string(filepath.Separator)
	for _, path := range b.writers.Keys() {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if err := b.writers.Remove(path); err != nil {
			b.log.Warn("close writer", "path", path, "error", err)
		}
	}
}

// Digest hashes the records of pf's day in read order. Two days with the
// same records in the same order have the same digest, whatever their
// representation.
func (b *Writable) Digest(pf pathfinder.PathFinder) (uint64, error) {
	h := xxhash.New()
	err := b.ReadDay(pf, func(m types.StoredMetric) error {
		line, err := json.Marshal(m.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%d\t", m.Timestamp.UnixNano())
		h.Write(line)
		h.Write([]byte{'\n'})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// DiskUsage returns the number of files and bytes below the bucket root.
func (b *Writable) DiskUsage() (files int, bytes int64, err error) {
	return diskUsage(b.data.Root)
}

// DayUsage returns the number of files and bytes held by pf's day in
// every representation.
func (b *Writable) DayUsage(pf pathfinder.PathFinder) (files int, bytes int64, err error) {
	day := pathfinder.ForDay(b.data, pf.Time())
	for _, path := range []string{
		day.DayFilePath(),
		day.TemporaryDayFilePath(),
		day.DayDirectoryPath(),
		day.TemporaryDirectoryPath(),
	} {
		n, size, err := diskUsage(path)
		if err != nil {
			return 0, 0, err
		}
		files += n
		bytes += size
	}
	return files, bytes, nil
}

// OpenWriters returns the number of cached writers.
func (b *Writable) OpenWriters() int {
	return b.writers.Len()
}

// Stats returns bucket statistics.
func (b *Writable) Stats() Stats {
	return Stats{
		Bucket:   b.data.Name,
		Counters: b.counters,
		Cache:    b.writers.Stats(),
		Ops:      b.recorder.Snapshot(),
	}
}

// Close closes every cached writer, continuing past failures. The bucket
// stays usable; later writes reopen their files. Closing twice is safe.
func (b *Writable) Close() error {
	return b.writers.Close()
}

// wrapStorage keeps typed errors from factories and adds the path to
// anything else.
func wrapStorage(op, path string, err error) error {
	if errors.IsStorage(err) || errors.IsInvalidRecord(err) || errors.Is(err, errors.ErrClose) {
		return err
	}
	return errors.NewStorageError(op, path, err)
}
