package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aidkit/loopcore/internal/loop"
)

func fp(v float64) *float64 { return &v }

func completed(start time.Time, status loop.CycleStatus, duration, interval *float64) loop.CycleRecord {
	end := start.Add(30 * time.Second)
	return loop.CycleRecord{
		ID:              start.String(),
		Start:           start,
		End:             &end,
		Status:          status,
		DurationMinutes: duration,
		IntervalMinutes: interval,
	}
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil)
	assert.Equal(t, 0, s.Cycles)
	assert.Equal(t, 0.0, s.SuccessRate)
	assert.Equal(t, 0.0, s.LoopsPerDay)
}

func TestComputeIgnoresOpenRecords(t *testing.T) {
	now := time.Now()
	records := []loop.CycleRecord{
		{ID: "open", Start: now, Status: loop.StatusStarting},
		completed(now.Add(-5*time.Minute), loop.StatusSuccess, fp(0.5), nil),
	}

	s := Compute(records)
	assert.Equal(t, 1, s.Cycles)
	assert.Equal(t, 1, s.Successes)
	assert.Equal(t, 100.0, s.SuccessRate)
}

func TestComputeSuccessRateAndAggregates(t *testing.T) {
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	records := []loop.CycleRecord{
		completed(base, loop.StatusSuccess, fp(0.4), nil),
		completed(base.Add(5*time.Minute), loop.StatusSuccess, fp(0.6), fp(5.0)),
		completed(base.Add(10*time.Minute), loop.StatusFailed, fp(1.0), fp(4.0)),
		completed(base.Add(15*time.Minute), loop.StatusSuccess, fp(0.2), fp(6.0)),
	}

	s := Compute(records)
	assert.Equal(t, 4, s.Cycles)
	assert.Equal(t, 3, s.Successes)
	assert.Equal(t, 1, s.Failures)
	assert.InDelta(t, 75.0, s.SuccessRate, 1e-9)

	assert.InDelta(t, 0.55, s.DurationMinutes.Average, 1e-9)
	assert.InDelta(t, 0.5, s.DurationMinutes.Median, 1e-9)
	assert.InDelta(t, 0.2, s.DurationMinutes.Min, 1e-9)
	assert.InDelta(t, 1.0, s.DurationMinutes.Max, 1e-9)

	assert.InDelta(t, 5.0, s.IntervalMinutes.Average, 1e-9)
	assert.InDelta(t, 5.0, s.IntervalMinutes.Median, 1e-9)
	assert.InDelta(t, 4.0, s.IntervalMinutes.Min, 1e-9)
	assert.InDelta(t, 6.0, s.IntervalMinutes.Max, 1e-9)
}

func TestComputeLoopsPerDay(t *testing.T) {
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	var records []loop.CycleRecord
	// Twelve cycles over one hour should extrapolate to 288/day.
	for i := 0; i < 12; i++ {
		records = append(records, completed(base.Add(time.Duration(i)*5*time.Minute), loop.StatusSuccess, fp(0.5), nil))
	}

	s := Compute(records)
	assert.InDelta(t, 288.0, s.LoopsPerDay, 30.0)
}

func TestMedianEvenCount(t *testing.T) {
	assert.InDelta(t, 2.5, median([]float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, 3.0, median([]float64{1, 3, 5}), 1e-9)
	assert.Equal(t, 0.0, median(nil))
}
