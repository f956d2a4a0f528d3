package types

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xtxerr/metricstore/internal/errors"
)

// MaxExactInt is the largest integer magnitude a float64 represents exactly.
const MaxExactInt = 1 << 53

// DecodeRecord parses one JSON object into a Record without losing integer
// precision. Numbers a float64 holds exactly decode as float64, larger
// integers as int64 or uint64, and integer literals beyond uint64 stay
// json.Number.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := decodeNumbers(data, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record is not an object: %w", errors.ErrInvalidRecord)
	}
	normalize(rec)
	return rec, nil
}

// DecodeRecords parses a JSON array of objects like DecodeRecord.
func DecodeRecords(data []byte) ([]Record, error) {
	var recs []Record
	if err := decodeNumbers(data, &recs); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		normalize(rec)
	}
	return recs, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		return number(x)
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
	}
	return v
}

func number(n json.Number) any {
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i >= -MaxExactInt && i <= MaxExactInt {
			return float64(i)
		}
		return i
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	if !strings.ContainsAny(s, ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}
