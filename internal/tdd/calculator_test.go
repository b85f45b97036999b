package tdd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidkit/loopcore/internal/profile"
	"github.com/aidkit/loopcore/internal/pump"
)

func ptr[T any](v T) *T { return &v }

func flatSchedule(t *testing.T, rate float64) profile.Schedule {
	t.Helper()
	s, err := profile.NewSchedule([]profile.Entry{{StartMinutes: 0, Rate: rate}})
	require.NoError(t, err)
	return s
}

func bolusEvent(ts time.Time, units float64) pump.HistoryEvent {
	return pump.HistoryEvent{Kind: pump.EventBolus, Timestamp: ts, Amount: ptr(units)}
}

// tempBasalPair returns the rate event and its duration marker in
// newest-first order (rate first, marker immediately after).
func tempBasalPair(ts time.Time, rate float64, durationMinutes int) []pump.HistoryEvent {
	return []pump.HistoryEvent{
		{Kind: pump.EventTempBasalRate, Timestamp: ts, Rate: ptr(rate)},
		{Kind: pump.EventTempBasalDuration, Timestamp: ts, DurationMinutes: ptr(durationMinutes)},
	}
}

func TestComputePortions(t *testing.T) {
	now := time.Now()
	calc := &Calculator{}

	// One bolus of 2.0U plus one temp basal pair at 1.0U/hr for 120min
	// with a 0.05U increment.
	events := []pump.HistoryEvent{bolusEvent(now, 2.0)}
	events = append(events, tempBasalPair(now.Add(-2*time.Hour), 1.0, 120)...)
	events = append(events, bolusEvent(now.Add(-4*time.Hour), 0)) // oldest anchor

	result, err := calc.Compute(context.Background(), events, flatSchedule(t, 1.0), 0.05, now)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, result.BolusPortion, 0.01)
	assert.InDelta(t, 2.0, result.TempBasalPortion, 0.01)
	assert.InDelta(t, 4.0, result.Total, 0.01)
	assert.Equal(t, 0.0, result.ScheduledBasalPortion)
}

func TestComputeGapFill(t *testing.T) {
	calc := &Calculator{}
	now := time.Now()

	t.Run("22h coverage fills 2h from schedule", func(t *testing.T) {
		events := []pump.HistoryEvent{
			bolusEvent(now, 0),
			bolusEvent(now.Add(-22*time.Hour), 0),
		}
		result, err := calc.Compute(context.Background(), events, flatSchedule(t, 1.0), 0.05, now)
		require.NoError(t, err)
		assert.InDelta(t, 22.0, result.HoursOfDataUsed, 0.01)
		assert.InDelta(t, 2.0, result.ScheduledBasalPortion, 0.01)
	})

	t.Run("20h coverage gets no fill", func(t *testing.T) {
		events := []pump.HistoryEvent{
			bolusEvent(now, 0),
			bolusEvent(now.Add(-20*time.Hour), 0),
		}
		result, err := calc.Compute(context.Background(), events, flatSchedule(t, 1.0), 0.05, now)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.ScheduledBasalPortion)
	})

	t.Run("full 24h coverage gets no fill", func(t *testing.T) {
		events := []pump.HistoryEvent{
			bolusEvent(now, 0),
			bolusEvent(now.Add(-24*time.Hour), 0),
		}
		result, err := calc.Compute(context.Background(), events, flatSchedule(t, 1.0), 0.05, now)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.ScheduledBasalPortion)
	})

	t.Run("fill honors profile segments", func(t *testing.T) {
		// 2h gap ending at the oldest event; the schedule rate differs
		// across the gap, so the integral is segment-aware.
		s, err := profile.NewSchedule([]profile.Entry{
			{StartMinutes: 0, Rate: 1.0},
			{StartMinutes: 720, Rate: 2.0},
		})
		require.NoError(t, err)

		// Oldest event at 13:00 local: gap spans 11:00-13:00, one hour
		// at 1.0 and one at 2.0.
		day := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
		events := []pump.HistoryEvent{
			bolusEvent(day.Add(22*time.Hour), 0),
			bolusEvent(day, 0),
		}
		result, err := calc.Compute(context.Background(), events, s, 0.05, day.Add(22*time.Hour))
		require.NoError(t, err)
		assert.InDelta(t, 3.0, result.ScheduledBasalPortion, 0.01)
	})
}

func TestHoursOfData(t *testing.T) {
	now := time.Now()

	t.Run("empty history", func(t *testing.T) {
		assert.Equal(t, 0.0, hoursOfData(nil, now))
	})

	t.Run("single event", func(t *testing.T) {
		assert.Equal(t, 0.0, hoursOfData([]pump.HistoryEvent{bolusEvent(now, 1)}, now))
	})

	t.Run("open-ended duration marker extends to now", func(t *testing.T) {
		events := []pump.HistoryEvent{
			{Kind: pump.EventTempBasalDuration, Timestamp: now.Add(-10 * time.Minute), DurationMinutes: ptr(30)},
			bolusEvent(now.Add(-6*time.Hour), 1),
		}
		assert.InDelta(t, 6.0, hoursOfData(events, now), 0.01)
	})

	t.Run("expired duration marker keeps its own timestamp", func(t *testing.T) {
		events := []pump.HistoryEvent{
			{Kind: pump.EventTempBasalDuration, Timestamp: now.Add(-2 * time.Hour), DurationMinutes: ptr(30)},
			bolusEvent(now.Add(-6*time.Hour), 1),
		}
		assert.InDelta(t, 4.0, hoursOfData(events, now), 0.01)
	})
}

func TestTempBasalPairing(t *testing.T) {
	now := time.Now()

	t.Run("rate event without adjacent marker contributes nothing", func(t *testing.T) {
		events := []pump.HistoryEvent{
			{Kind: pump.EventTempBasalRate, Timestamp: now, Rate: ptr(1.0)},
			bolusEvent(now.Add(-time.Hour), 1.0),
		}
		assert.Equal(t, 0.0, tempBasalInsulin(events, 0.05))
	})

	t.Run("pairing is positional not temporal", func(t *testing.T) {
		// The marker's timestamp disagrees with the rate event's; the
		// adjacent position still pairs them.
		events := []pump.HistoryEvent{
			{Kind: pump.EventTempBasalRate, Timestamp: now, Rate: ptr(2.0)},
			{Kind: pump.EventTempBasalDuration, Timestamp: now.Add(-3 * time.Hour), DurationMinutes: ptr(30)},
		}
		assert.InDelta(t, 1.0, tempBasalInsulin(events, 0.05), 1e-9)
	})

	t.Run("below one increment rounds to exactly zero", func(t *testing.T) {
		events := tempBasalPair(now, 0.5, 5) // 0.0417U < 0.05U
		assert.Equal(t, 0.0, tempBasalInsulin(events, 0.05))
	})

	t.Run("insulin floors to increment multiple", func(t *testing.T) {
		events := tempBasalPair(now, 0.7, 60) // 0.7U -> floor to 0.70
		assert.InDelta(t, 0.70, tempBasalInsulin(events, 0.05), 1e-9)

		events = tempBasalPair(now, 0.72, 60) // 0.72U -> 0.70
		assert.InDelta(t, 0.70, tempBasalInsulin(events, 0.05), 1e-9)
	})

	t.Run("multiple pairs accumulate", func(t *testing.T) {
		events := append(tempBasalPair(now, 1.0, 60), tempBasalPair(now.Add(-2*time.Hour), 2.0, 30)...)
		assert.InDelta(t, 2.0, tempBasalInsulin(events, 0.05), 1e-9)
	})
}

func TestPercentages(t *testing.T) {
	t.Run("zero total is guarded", func(t *testing.T) {
		b, tb, sb := Result{}.Percentages()
		assert.Equal(t, 0.0, b)
		assert.Equal(t, 0.0, tb)
		assert.Equal(t, 0.0, sb)
	})

	t.Run("shares sum to 100", func(t *testing.T) {
		r := Result{Total: 4, BolusPortion: 2, TempBasalPortion: 1, ScheduledBasalPortion: 1}
		b, tb, sb := r.Percentages()
		assert.InDelta(t, 50, b, 1e-9)
		assert.InDelta(t, 25, tb, 1e-9)
		assert.InDelta(t, 25, sb, 1e-9)
	})
}

type fakeHistoryStore struct {
	records []HistoryRecord
}

func (f *fakeHistoryStore) TDDResultsSince(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	var out []HistoryRecord
	for _, r := range f.records {
		if r.Date.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestWeightedAverage(t *testing.T) {
	now := time.Now()

	t.Run("no store means no weighted average", func(t *testing.T) {
		calc := &Calculator{}
		result, err := calc.Compute(context.Background(), nil, flatSchedule(t, 1.0), 0.05, now)
		require.NoError(t, err)
		assert.Nil(t, result.WeightedAverage)
	})

	t.Run("empty store means no weighted average", func(t *testing.T) {
		calc := &Calculator{Store: &fakeHistoryStore{}, WeightPercentage: 0.65}
		result, err := calc.Compute(context.Background(), nil, flatSchedule(t, 1.0), 0.05, now)
		require.NoError(t, err)
		assert.Nil(t, result.WeightedAverage)
	})

	t.Run("blends recent and historical averages", func(t *testing.T) {
		store := &fakeHistoryStore{records: []HistoryRecord{
			{Date: now.Add(-time.Hour), Total: 40},        // recent
			{Date: now.Add(-30 * time.Minute), Total: 44}, // recent
			{Date: now.Add(-3 * 24 * time.Hour), Total: 30},
			{Date: now.Add(-5 * 24 * time.Hour), Total: 34},
		}}
		calc := &Calculator{Store: store, WeightPercentage: 0.65}

		result, err := calc.Compute(context.Background(), nil, flatSchedule(t, 1.0), 0.05, now)
		require.NoError(t, err)
		require.NotNil(t, result.WeightedAverage)

		recentAvg := (40.0 + 44.0) / 2
		historyAvg := (40.0 + 44.0 + 30.0 + 34.0) / 4
		want := 0.65*recentAvg + 0.35*historyAvg
		assert.InDelta(t, want, *result.WeightedAverage, 1e-9)
	})
}
