// Package pathfinder derives on-disk paths for a bucket.
//
// Layout under the bucket root:
//
//	YYYY/MM/DD/HHMM<ext>      live slot file
//	YYYY/MM/DD<ext>           compacted day archive
//	YYYY/MM/DD.tmp/HHMM<ext>  staging slot file (expansion)
//	YYYY/MM/DD.tmp<ext>       staging archive (compaction)
//
// Everything here is a pure function of the bucket data and a timestamp.
// No filesystem access happens in this package.
package pathfinder

import (
	"fmt"
	"iter"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xtxerr/metricstore/internal/storage/types"
)

// TmpSuffix marks staging paths.
const TmpSuffix = ".tmp"

// PathFinder is bound to one slot of one bucket. It is a small value and
// is meant to be created per call.
type PathFinder struct {
	data types.BucketData
	t    time.Time
}

// New returns the PathFinder for the slot containing t.
func New(data types.BucketData, t time.Time) PathFinder {
	loc := data.Loc()
	t = t.In(loc)

	gmin := int(data.Granularity / time.Minute)
	if gmin <= 0 {
		gmin = 1
	}
	minute := t.Hour()*60 + t.Minute()
	minute -= minute % gmin

	return PathFinder{
		data: data,
		t:    time.Date(t.Year(), t.Month(), t.Day(), minute/60, minute%60, 0, 0, loc),
	}
}

// ForDay returns the PathFinder for the first slot of the day containing t.
func ForDay(data types.BucketData, t time.Time) PathFinder {
	t = t.In(data.Loc())
	return PathFinder{
		data: data,
		t:    time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, data.Loc()),
	}
}

// Data returns the bucket this PathFinder belongs to.
func (p PathFinder) Data() types.BucketData { return p.data }

// Time returns the start of the slot.
func (p PathFinder) Time() time.Time { return p.t }

// Day returns midnight of the slot's day in the bucket location.
func (p PathFinder) Day() time.Time {
	return time.Date(p.t.Year(), p.t.Month(), p.t.Day(), 0, 0, 0, 0, p.data.Loc())
}

// SameDay reports whether t falls on this PathFinder's day.
func (p PathFinder) SameDay(t time.Time) bool {
	t = t.In(p.data.Loc())
	return t.Year() == p.t.Year() && t.YearDay() == p.t.YearDay()
}

// Before reports whether this day is strictly before the day containing t.
func (p PathFinder) Before(t time.Time) bool {
	return p.Day().Before(ForDay(p.data, t).Day())
}

func (p PathFinder) monthDir() string {
	return filepath.Join(p.data.Root,
		fmt.Sprintf("%04d", p.t.Year()),
		fmt.Sprintf("%02d", int(p.t.Month())))
}

func (p PathFinder) dayName() string {
	return fmt.Sprintf("%02d", p.t.Day())
}

func (p PathFinder) slotName() string {
	return fmt.Sprintf("%02d%02d%s", p.t.Hour(), p.t.Minute(), p.data.Extension)
}

// MinuteFilePath returns root/YYYY/MM/DD/HHMM<ext>.
func (p PathFinder) MinuteFilePath() string {
	return filepath.Join(p.DayDirectoryPath(), p.slotName())
}

// DayFilePath returns root/YYYY/MM/DD<ext>.
func (p PathFinder) DayFilePath() string {
	return filepath.Join(p.monthDir(), p.dayName()+p.data.Extension)
}

// DayDirectoryPath returns root/YYYY/MM/DD.
func (p PathFinder) DayDirectoryPath() string {
	return filepath.Join(p.monthDir(), p.dayName())
}

// TemporaryDirectoryPath returns root/YYYY/MM/DD.tmp.
func (p PathFinder) TemporaryDirectoryPath() string {
	return filepath.Join(p.monthDir(), p.dayName()+TmpSuffix)
}

// TemporaryMinuteFilePath returns root/YYYY/MM/DD.tmp/HHMM<ext>.
func (p PathFinder) TemporaryMinuteFilePath() string {
	return filepath.Join(p.TemporaryDirectoryPath(), p.slotName())
}

// TemporaryDayFilePath returns root/YYYY/MM/DD.tmp<ext>.
func (p PathFinder) TemporaryDayFilePath() string {
	return filepath.Join(p.monthDir(), p.dayName()+TmpSuffix+p.data.Extension)
}

// String returns "YYYY-MM-DD HH:MM".
func (p PathFinder) String() string {
	return p.t.Format("2006-01-02 15:04")
}

// MinutesOfDay yields one PathFinder per slot of the day, ascending.
// The sequence is finite and may be ranged over any number of times.
func (p PathFinder) MinutesOfDay() iter.Seq[PathFinder] {
	day := p.Day()
	gmin := int(p.data.Granularity / time.Minute)
	if gmin <= 0 {
		gmin = 1
	}
	return func(yield func(PathFinder) bool) {
		for m := 0; m < 24*60; m += gmin {
			t := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, day.Location())
			if !yield(PathFinder{data: p.data, t: t}) {
				return
			}
		}
	}
}

// NextDay returns the PathFinder for the following day.
func (p PathFinder) NextDay() PathFinder {
	d := p.Day()
	return PathFinder{
		data: p.data,
		t:    time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, d.Location()),
	}
}

// Days yields day PathFinders ascending from the day containing from.
// The sequence is unbounded; callers stop by comparing Day().
func Days(data types.BucketData, from time.Time) iter.Seq[PathFinder] {
	return func(yield func(PathFinder) bool) {
		for p := ForDay(data, from); ; p = p.NextDay() {
			if !yield(p) {
				return
			}
		}
	}
}

// DaysBetween yields day PathFinders from the day containing from up to,
// but excluding, the day containing until.
func DaysBetween(data types.BucketData, from, until time.Time) iter.Seq[PathFinder] {
	return func(yield func(PathFinder) bool) {
		for p := range Days(data, from) {
			if !p.Before(until) {
				return
			}
			if !yield(p) {
				return
			}
		}
	}
}

// ParseDay maps the year, month and day path components back to a day
// PathFinder. It reports false for names that are not part of the layout.
func ParseDay(data types.BucketData, year, month, day string) (PathFinder, bool) {
	if len(year) != 4 || len(month) != 2 || len(day) != 2 {
		return PathFinder{}, false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return PathFinder{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return PathFinder{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return PathFinder{}, false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, data.Loc())
	if t.Day() != d {
		// Feb 30 and similar normalize into the next month.
		return PathFinder{}, false
	}
	return PathFinder{data: data, t: t}, true
}

// ParseDate parses "YYYY-MM-DD" as a day of the bucket.
func ParseDate(data types.BucketData, s string) (PathFinder, error) {
	t, err := time.ParseInLocation("2006-01-02", s, data.Loc())
	if err != nil {
		return PathFinder{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return ForDay(data, t), nil
}
