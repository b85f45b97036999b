// Package stats aggregates loop cycle records into summary statistics:
// success rate, loops per day, and duration/interval distributions.
package stats

import (
	"sort"
	"time"

	"github.com/aidkit/loopcore/internal/loop"
)

// Aggregate summarizes one numeric series.
type Aggregate struct {
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summary describes a window of completed loop cycles.
type Summary struct {
	Cycles    int `json:"cycles"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`

	// SuccessRate is the share of completed cycles that succeeded, in
	// percent. Zero when no cycle completed.
	SuccessRate float64 `json:"success_rate"`

	// LoopsPerDay scales the completed-cycle count to a 24h rate over the
	// observed span.
	LoopsPerDay float64 `json:"loops_per_day"`

	DurationMinutes Aggregate `json:"duration_minutes"`
	IntervalMinutes Aggregate `json:"interval_minutes"`
}

// Compute summarizes records; open records are ignored. Order does not
// matter.
func Compute(records []loop.CycleRecord) Summary {
	var (
		s         Summary
		durations []float64
		intervals []float64
		first     time.Time
		last      time.Time
	)

	for _, r := range records {
		if !r.Completed() {
			continue
		}
		s.Cycles++
		if r.Succeeded() {
			s.Successes++
		} else {
			s.Failures++
		}
		if first.IsZero() || r.Start.Before(first) {
			first = r.Start
		}
		if r.End.After(last) {
			last = *r.End
		}
		if r.DurationMinutes != nil {
			durations = append(durations, *r.DurationMinutes)
		}
		if r.IntervalMinutes != nil {
			intervals = append(intervals, *r.IntervalMinutes)
		}
	}

	if s.Cycles == 0 {
		return s
	}

	s.SuccessRate = float64(s.Successes) / float64(s.Cycles) * 100

	if span := last.Sub(first); span > 0 {
		s.LoopsPerDay = float64(s.Cycles) / span.Hours() * 24
	}

	s.DurationMinutes = aggregate(durations)
	s.IntervalMinutes = aggregate(intervals)
	return s
}

func aggregate(values []float64) Aggregate {
	if len(values) == 0 {
		return Aggregate{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return Aggregate{
		Average: sum / float64(len(sorted)),
		Median:  median(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
	}
}

// median expects values sorted ascending.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
