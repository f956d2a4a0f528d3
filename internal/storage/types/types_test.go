package types

import (
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/metricstore/internal/errors"
)

func TestFieldTimestamp(t *testing.T) {
	ts := FieldTimestamp("ts", "")
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"rfc3339", Record{"ts": "2024-01-15T10:30:00Z"}, false},
		{"epoch ms float", Record{"ts": float64(want.UnixMilli())}, false},
		{"epoch ms int64", Record{"ts": want.UnixMilli()}, false},
		{"time value", Record{"ts": want}, false},
		{"missing", Record{"value": 1.0}, true},
		{"null", Record{"ts": nil}, true},
		{"bad string", Record{"ts": "yesterday"}, true},
		{"wrong type", Record{"ts": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ts(tt.rec)
			if tt.wantErr {
				if !errors.IsInvalidRecord(err) {
					t.Fatalf("expected invalid record error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("expected %v, got %v", want, got)
			}
		})
	}
}

func TestFieldTimestampLayout(t *testing.T) {
	ts := FieldTimestamp("when", "2006-01-02 15:04")

	got, err := ts(Record{"when": "2024-03-01 08:15"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Hour() != 8 || got.Minute() != 15 {
		t.Errorf("unexpected time %v", got)
	}
}

func TestBucketDataValidate(t *testing.T) {
	base := BucketData{
		Name:        "cpu",
		Root:        "/data/cpu",
		Granularity: time.Minute,
		Extension:   ".json.gz",
	}

	tests := []struct {
		name    string
		mutate  func(*BucketData)
		wantErr bool
	}{
		{"valid", func(*BucketData) {}, false},
		{"five minutes", func(d *BucketData) { d.Granularity = 5 * time.Minute }, false},
		{"hourly", func(d *BucketData) { d.Granularity = time.Hour }, false},
		{"zero granularity", func(d *BucketData) { d.Granularity = 0 }, true},
		{"seconds", func(d *BucketData) { d.Granularity = 30 * time.Second }, true},
		{"does not divide day", func(d *BucketData) { d.Granularity = 7 * time.Minute }, true},
		{"no name", func(d *BucketData) { d.Name = "" }, true},
		{"slash in name", func(d *BucketData) { d.Name = "a/b" }, true},
		{"no root", func(d *BucketData) { d.Root = "" }, true},
		{"bad extension", func(d *BucketData) { d.Extension = "gz" }, true},
		{"tmp extension", func(d *BucketData) { d.Extension = ".tmp.gz" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlotsPerDay(t *testing.T) {
	tests := []struct {
		g    time.Duration
		want int
	}{
		{time.Minute, 1440},
		{5 * time.Minute, 288},
		{time.Hour, 24},
		{0, 0},
	}

	for _, tt := range tests {
		d := BucketData{Granularity: tt.g}
		if got := d.SlotsPerDay(); got != tt.want {
			t.Errorf("SlotsPerDay(%v) = %d, want %d", tt.g, got, tt.want)
		}
	}
}

func TestDayState(t *testing.T) {
	tests := []struct {
		archive, dir bool
		want         DayState
	}{
		{false, false, DayAbsent},
		{false, true, DayLive},
		{true, false, DayCompacted},
		{true, true, DayBoth},
	}

	for _, tt := range tests {
		got := StateOf(tt.archive, tt.dir)
		if got != tt.want {
			t.Errorf("StateOf(%v, %v) = %v, want %v", tt.archive, tt.dir, got, tt.want)
		}
		if got.HasArchive() != tt.archive || got.HasDirectory() != tt.dir {
			t.Errorf("%v: HasArchive/HasDirectory mismatch", got)
		}
	}
}

func TestParseTime(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, berlin)

	for _, v := range []string{"2024-01-15", "2024-01-15T00:00:00+01:00", "1705273200000"} {
		got, err := ParseTime("from", v, berlin)
		if err != nil {
			t.Fatalf("ParseTime(%q): %v", v, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", v, got, want)
		}
	}

	if _, err := ParseTime("from", "", berlin); !errors.IsValidation(err) {
		t.Errorf("empty: expected validation error, got %v", err)
	}
	if _, err := ParseTime("from", "soon", berlin); !errors.IsValidation(err) {
		t.Errorf("garbage: expected validation error, got %v", err)
	}
}

func TestParseDay(t *testing.T) {
	got, err := ParseDay("day", "2024-02-29", time.UTC)
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if !got.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected day %v", got)
	}

	if _, err := ParseDay("day", "2024-02-29T10:00:00Z", time.UTC); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"ts":1705312800000,"counter":9007199254740993,"neg":-9007199254740993,` +
		`"max":18446744073709551615,"huge":123456789012345678901234567890,"v":42.5,"list":[1,9007199254740995]}`))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}

	want := Record{
		"ts":      float64(1705312800000),
		"counter": int64(9007199254740993),
		"neg":     int64(-9007199254740993),
		"max":     uint64(18446744073709551615),
		"huge":    json.Number("123456789012345678901234567890"),
		"v":       42.5,
		"list":    []any{1.0, int64(9007199254740995)},
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("DecodeRecord:\n got %#v\nwant %#v", rec, want)
	}

	ts, err := FieldTimestamp("ts", "")(rec)
	if err != nil || ts.UnixMilli() != 1705312800000 {
		t.Errorf("timestamp = %v, %v", ts, err)
	}

	for _, bad := range []string{`[1]`, `null`, `{"a":1} {"b":2}`, `{"a":`} {
		if _, err := DecodeRecord([]byte(bad)); err == nil {
			t.Errorf("DecodeRecord(%s): expected error", bad)
		}
	}
}

func TestDecodeRecords(t *testing.T) {
	recs, err := DecodeRecords([]byte(`[{"n":9007199254740993},{"n":1}]`))
	if err != nil {
		t.Fatalf("DecodeRecords: %v", err)
	}
	if len(recs) != 2 || recs[0]["n"] != int64(9007199254740993) || recs[1]["n"] != 1.0 {
		t.Errorf("unexpected records %#v", recs)
	}
}
