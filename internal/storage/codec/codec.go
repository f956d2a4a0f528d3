// Package codec reads and writes gzip-compressed record streams.
//
// A stream is a sequence of individually framed records with no index.
// Every open for append starts a new gzip member, and readers accept
// multi-member input, so raw concatenation of decoded streams is again a
// valid stream. Compaction relies on this.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Writer appends records to one file.
type Writer interface {
	// Write encodes and appends rec.
	Write(rec types.Record) error

	// Path returns the file the writer appends to.
	Path() string

	// Close flushes the compressed stream and releases the descriptor.
	// Calling Close more than once is a no-op.
	Close() error
}

// Reader reads records sequentially from one file.
type Reader interface {
	// Read returns the next record or io.EOF at the end of the stream.
	Read() (types.Record, error)

	// Close releases the descriptor.
	Close() error
}

// WriterFactory opens a Writer for path in append mode.
type WriterFactory func(path string) (Writer, error)

// ReaderFactory opens a Reader for path.
type ReaderFactory func(path string) (Reader, error)

// Codec binds a record framing to its file extension.
type Codec struct {
	name      string
	extension string
	format    format
}

// Name returns the codec name used in configuration.
func (c Codec) Name() string { return c.name }

// Extension returns the file extension including the gzip suffix.
func (c Codec) Extension() string { return c.extension }

// NewWriter opens path for appending. It matches WriterFactory.
func (c Codec) NewWriter(path string) (Writer, error) {
	w, err := openWriter(path, c.format)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewReader opens path for reading. It matches ReaderFactory.
func (c Codec) NewReader(path string) (Reader, error) {
	r, err := openReader(path, c.format)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// JSON writes one JSON object per line.
var JSON = Codec{name: "json", extension: ".json.gz", format: jsonFormat{}}

// Protobuf writes length-delimited google.protobuf.Struct messages.
var Protobuf = Codec{name: "protobuf", extension: ".pb.gz", format: protoFormat{}}

var registry = map[string]Codec{
	JSON.name:     JSON,
	Protobuf.name: Protobuf,
	"ndjson":      JSON,
	"pb":          Protobuf,
}

// Lookup returns the codec registered under name. An empty name selects JSON.
func Lookup(name string) (Codec, error) {
	if name == "" {
		return JSON, nil
	}
	c, ok := registry[strings.ToLower(name)]
	if !ok {
		return Codec{}, fmt.Errorf("codec %q (known: %s): %w", name, strings.Join(Names(), ", "), errors.ErrUnknownCodec)
	}
	return c, nil
}

// Names returns the canonical codec names.
func Names() []string {
	names := []string{JSON.name, Protobuf.name}
	sort.Strings(names)
	return names
}
