package types

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/metricstore/internal/errors"
)

// Record is one metric payload. Keys and values follow the JSON data model
// (string, float64, bool, nil, []any, map[string]any). Integers beyond
// MaxExactInt are int64 or uint64 so they keep their exact value.
type Record = map[string]any

// StoredMetric pairs a record with the timestamp it was filed under.
// It is produced by reads and returned by writes and is never mutated.
type StoredMetric struct {
	Timestamp time.Time
	Payload   Record
}

// TimestampMs returns the timestamp as Unix milliseconds.
func (m StoredMetric) TimestampMs() int64 {
	return m.Timestamp.UnixMilli()
}

// TimestampFunc derives the timestamp of a record. It must return an error
// wrapping errors.ErrInvalidRecord when no usable timestamp is present.
type TimestampFunc func(Record) (time.Time, error)

// FieldTimestamp returns a TimestampFunc reading the named field.
//
// Accepted values:
//   - strings parsed with layout (RFC3339Nano when layout is empty)
//   - numbers interpreted as Unix milliseconds
//   - time.Time values
func FieldTimestamp(field, layout string) TimestampFunc {
	if layout == "" {
		layout = time.RFC3339Nano
	}
	return func(rec Record) (time.Time, error) {
		v, ok := rec[field]
		if !ok || v == nil {
			return time.Time{}, errors.NewInvalidRecord(fmt.Sprintf("missing field '%s'", field))
		}
		switch x := v.(type) {
		case string:
			t, err := time.Parse(layout, x)
			if err != nil {
				return time.Time{}, errors.NewInvalidRecord(fmt.Sprintf("field '%s': %v", field, err))
			}
			return t, nil
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return time.Time{}, errors.NewInvalidRecord(fmt.Sprintf("field '%s' is not finite", field))
			}
			return time.UnixMilli(int64(x)), nil
		case int64:
			return time.UnixMilli(x), nil
		case uint64:
			return time.UnixMilli(int64(x)), nil
		case int:
			return time.UnixMilli(int64(x)), nil
		case json.Number:
			ms, err := x.Int64()
			if err != nil {
				return time.Time{}, errors.NewInvalidRecord(fmt.Sprintf("field '%s': %v", field, err))
			}
			return time.UnixMilli(ms), nil
		case time.Time:
			return x, nil
		default:
			return time.Time{}, errors.NewInvalidRecord(fmt.Sprintf("field '%s' has unsupported type %T", field, v))
		}
	}
}

// DayLayout is the format of a calendar day on the command line and in
// query parameters.
const DayLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD day as midnight in loc.
func ParseDay(field, v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.NewMissingField(field)
	}
	t, err := time.ParseInLocation(DayLayout, v, loc)
	if err != nil {
		return time.Time{}, errors.NewValidation(field, "expected YYYY-MM-DD")
	}
	return t, nil
}

// ParseTime accepts RFC3339, a YYYY-MM-DD day in loc or Unix milliseconds.
func ParseTime(field, v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.NewMissingField(field)
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(DayLayout, v, loc); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, errors.NewValidation(field, "expected RFC3339, YYYY-MM-DD or Unix milliseconds")
}
