package codec

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

const readBufferSize = 64 * 1024

// fileWriter owns one descriptor and one gzip member.
type fileWriter struct {
	path   string
	file   *os.File
	gz     *gzip.Writer
	format format
	closed bool
}

func openWriter(path string, f format) (*fileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewStorageError("open writer", path, err)
	}
	return &fileWriter{
		path:   path,
		file:   file,
		gz:     gzip.NewWriter(file),
		format: f,
	}, nil
}

func (w *fileWriter) Write(rec types.Record) error {
	if w.closed {
		return errors.NewStorageError("write", w.path, errors.ErrClosed)
	}
	if err := w.format.encode(w.gz, rec); err != nil {
		if errors.IsInvalidRecord(err) {
			return err
		}
		return errors.NewStorageError("write", w.path, err)
	}
	return nil
}

func (w *fileWriter) Path() string { return w.path }

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	gzErr := w.gz.Close()
	fileErr := w.file.Close()
	return errors.NewCloseError(w.path, errors.Join(gzErr, fileErr))
}

// fileReader owns one descriptor and one multi-member gzip decoder.
type fileReader struct {
	path   string
	file   *os.File
	gz     *gzip.Reader // nil for an empty file
	buf    *bufio.Reader
	format format
}

func openReader(path string, f format) (*fileReader, error) {
	file, gz, err := openGzip(path)
	if err != nil {
		return nil, err
	}
	r := &fileReader{path: path, file: file, gz: gz, format: f}
	if gz != nil {
		r.buf = bufio.NewReaderSize(gz, readBufferSize)
	}
	return r, nil
}

func (r *fileReader) Read() (types.Record, error) {
	if r.buf == nil {
		return nil, io.EOF
	}
	rec, err := r.format.decode(r.buf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.NewStorageError("read", r.path, err)
	}
	return rec, nil
}

func (r *fileReader) Close() error {
	var gzErr error
	if r.gz != nil {
		gzErr = r.gz.Close()
	}
	return errors.NewCloseError(r.path, errors.Join(gzErr, r.file.Close()))
}

// openGzip opens path and attaches a gzip reader. A zero-length file has no
// gzip header and yields a nil reader.
func openGzip(path string) (*os.File, *gzip.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.NewStorageError("open reader", path, err)
	}
	gz, err := gzip.NewReader(file)
	if err == io.EOF {
		return file, nil, nil
	}
	if err != nil {
		file.Close()
		return nil, nil, errors.NewStorageError("open reader", path, fmt.Errorf("gzip header: %w", err))
	}
	return file, gz, nil
}

// rawReader exposes the decompressed bytes of a file.
type rawReader struct {
	path string
	file *os.File
	gz   *gzip.Reader
}

func (r *rawReader) Read(p []byte) (int, error) {
	if r.gz == nil {
		return 0, io.EOF
	}
	return r.gz.Read(p)
}

func (r *rawReader) Close() error {
	var gzErr error
	if r.gz != nil {
		gzErr = r.gz.Close()
	}
	return errors.NewCloseError(r.path, errors.Join(gzErr, r.file.Close()))
}

// OpenRaw returns the decompressed byte stream of path without decoding
// records.
func OpenRaw(path string) (io.ReadCloser, error) {
	file, gz, err := openGzip(path)
	if err != nil {
		return nil, err
	}
	return &rawReader{path: path, file: file, gz: gz}, nil
}

// rawWriter compresses bytes into a freshly truncated file.
type rawWriter struct {
	path string
	file *os.File
	gz   *gzip.Writer
}

func (w *rawWriter) Write(p []byte) (int, error) {
	return w.gz.Write(p)
}

func (w *rawWriter) Close() error {
	gzErr := w.gz.Close()
	if gzErr == nil {
		gzErr = w.file.Sync()
	}
	return errors.NewCloseError(w.path, errors.Join(gzErr, w.file.Close()))
}

// CreateRaw truncates path and returns a writer that gzip-compresses the
// bytes written to it into a single member.
func CreateRaw(path string) (io.WriteCloser, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewStorageError("create", path, err)
	}
	return &rawWriter{path: path, file: file, gz: gzip.NewWriter(file)}, nil
}
