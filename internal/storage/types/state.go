package types

import "fmt"

// DayState describes which representation a day has on disk.
type DayState int

const (
	// DayAbsent means neither a day directory nor an archive exists.
	DayAbsent DayState = iota

	// DayLive means the day is stored as per-minute files only.
	DayLive

	// DayCompacted means the day is stored as a single archive only.
	DayCompacted

	// DayBoth means an archive and a day directory coexist. This is left
	// behind when cleanup after a rename fails.
	DayBoth
)

// String returns the string representation of the state.
func (s DayState) String() string {
	switch s {
	case DayAbsent:
		return "absent"
	case DayLive:
		return "live"
	case DayCompacted:
		return "compacted"
	case DayBoth:
		return "both"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// HasArchive reports whether the day archive exists.
func (s DayState) HasArchive() bool {
	return s == DayCompacted || s == DayBoth
}

// HasDirectory reports whether the live day directory exists.
func (s DayState) HasDirectory() bool {
	return s == DayLive || s == DayBoth
}

// StateOf builds a DayState from the two existence checks.
func StateOf(archive, directory bool) DayState {
	switch {
	case archive && directory:
		return DayBoth
	case archive:
		return DayCompacted
	case directory:
		return DayLive
	default:
		return DayAbsent
	}
}
