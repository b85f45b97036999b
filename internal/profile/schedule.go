// Package profile provides the scheduled basal rate profile.
package profile

import (
	"fmt"
	"sort"
)

const minutesPerDay = 1440

// Entry is one basal profile segment. Its interval runs from StartMinutes to
// the next entry's start; the last entry wraps to midnight.
type Entry struct {
	StartMinutes int     `koanf:"start_minutes" json:"start_minutes"`
	Rate         float64 `koanf:"rate" json:"rate"`
}

// Schedule is an ordered set of entries partitioning the 24h day with no
// gaps. A single-entry schedule is a flat 24h rate.
type Schedule struct {
	entries []Entry
}

// NewSchedule validates entries and returns a Schedule.
func NewSchedule(entries []Entry) (Schedule, error) {
	if len(entries) == 0 {
		return Schedule{}, fmt.Errorf("schedule must have at least one entry")
	}
	if !sort.SliceIsSorted(entries, func(i, j int) bool {
		return entries[i].StartMinutes < entries[j].StartMinutes
	}) {
		return Schedule{}, fmt.Errorf("schedule entries must be ordered by start time")
	}
	if entries[0].StartMinutes != 0 {
		return Schedule{}, fmt.Errorf("first entry must start at minute 0, got %d", entries[0].StartMinutes)
	}
	for i, e := range entries {
		if e.StartMinutes < 0 || e.StartMinutes >= minutesPerDay {
			return Schedule{}, fmt.Errorf("entry %d start %d outside [0, %d)", i, e.StartMinutes, minutesPerDay)
		}
		if i > 0 && e.StartMinutes == entries[i-1].StartMinutes {
			return Schedule{}, fmt.Errorf("duplicate entry start %d", e.StartMinutes)
		}
		if e.Rate < 0 {
			return Schedule{}, fmt.Errorf("entry %d has negative rate %v", i, e.Rate)
		}
	}

	out := make([]Entry, len(entries))
	copy(out, entries)
	return Schedule{entries: out}, nil
}

// Entries returns a copy of the schedule entries.
func (s Schedule) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s Schedule) Len() int {
	return len(s.entries)
}

// RateAt returns the scheduled rate for a minute of day. The minute is
// normalized into [0, 1440).
func (s Schedule) RateAt(minuteOfDay int) float64 {
	minute := ((minuteOfDay % minutesPerDay) + minutesPerDay) % minutesPerDay

	if len(s.entries) == 1 {
		return s.entries[0].Rate
	}

	// Binary search for the entry whose [start, nextStart) contains minute.
	left, right := 0, len(s.entries)-1
	for left <= right {
		mid := (left + right) / 2
		start := s.entries[mid].StartMinutes
		next := minutesPerDay
		if mid+1 < len(s.entries) {
			next = s.entries[mid+1].StartMinutes
		}
		switch {
		case minute >= start && minute < next:
			return s.entries[mid].Rate
		case minute < start:
			right = mid - 1
		default:
			left = mid + 1
		}
	}
	// Unreachable for a validated schedule.
	return s.entries[0].Rate
}

// NextSwitch returns the first entry start strictly after minuteOfDay, or
// false if no switch remains before midnight.
func (s Schedule) NextSwitch(minuteOfDay int) (int, bool) {
	for _, e := range s.entries {
		if e.StartMinutes > minuteOfDay {
			return e.StartMinutes, true
		}
	}
	return 0, false
}
