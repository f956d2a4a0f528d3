package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// format frames single records inside a decompressed stream.
type format interface {
	encode(w io.Writer, rec types.Record) error
	decode(r *bufio.Reader) (types.Record, error)
}

// jsonFormat is newline-delimited JSON.
type jsonFormat struct{}

func (jsonFormat) encode(w io.Writer, rec types.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %v: %w", err, errors.ErrInvalidRecord)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

func (jsonFormat) decode(r *bufio.Reader) (types.Record, error) {
	for {
		line, err := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil && err != io.EOF {
			return nil, err
		}

		rec, uerr := types.DecodeRecord(line)
		if uerr != nil {
			return nil, fmt.Errorf("decode record: %w", uerr)
		}
		return rec, nil
	}
}

// protoFormat is a sequence of varint length-prefixed structpb.Struct messages.
type protoFormat struct{}

func (protoFormat) encode(w io.Writer, rec types.Record) error {
	if err := exactAsDouble(rec); err != nil {
		return fmt.Errorf("encode record: %v: %w", err, errors.ErrInvalidRecord)
	}
	s, err := structpb.NewStruct(rec)
	if err != nil {
		return fmt.Errorf("encode record: %v: %w", err, errors.ErrInvalidRecord)
	}
	_, err = protodelim.MarshalTo(w, s)
	return err
}

func (protoFormat) decode(r *bufio.Reader) (types.Record, error) {
	s := &structpb.Struct{}
	if err := protodelim.UnmarshalFrom(r, s); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return s.AsMap(), nil
}

// exactAsDouble rejects integers that a protobuf double value would round.
func exactAsDouble(v any) error {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			if err := exactAsDouble(e); err != nil {
				return fmt.Errorf("field '%s': %w", k, err)
			}
		}
	case []any:
		for _, e := range x {
			if err := exactAsDouble(e); err != nil {
				return err
			}
		}
	case int:
		return checkInt(int64(x))
	case int64:
		return checkInt(x)
	case uint:
		return checkUint(uint64(x))
	case uint64:
		return checkUint(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return checkInt(i)
		}
		if !strings.ContainsAny(string(x), ".eE") {
			return fmt.Errorf("integer %s exceeds %d", x, int64(types.MaxExactInt))
		}
	}
	return nil
}

func checkInt(i int64) error {
	if i > types.MaxExactInt || i < -types.MaxExactInt {
		return fmt.Errorf("integer %d exceeds %d", i, int64(types.MaxExactInt))
	}
	return nil
}

func checkUint(u uint64) error {
	if u > types.MaxExactInt {
		return fmt.Errorf("integer %d exceeds %d", u, int64(types.MaxExactInt))
	}
	return nil
}
