package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidkit/loopcore/internal/glucose"
	"github.com/aidkit/loopcore/internal/loop"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/tdd"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestPumpEventsDeduplicateByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := pump.HistoryEvent{
		ID:        "ev-1",
		Kind:      pump.EventBolus,
		Timestamp: now,
		Amount:    fp(2.0),
	}
	require.NoError(t, s.AppendPumpEvents(ctx, []pump.HistoryEvent{first}))

	// A replayed event with the same id must not overwrite the original.
	replay := first
	replay.Amount = fp(99.0)
	require.NoError(t, s.AppendPumpEvents(ctx, []pump.HistoryEvent{replay}))

	events, err := s.PumpEventsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2.0, *events[0].Amount)
}

func TestPumpEventsSinceOrderingAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	events := []pump.HistoryEvent{
		{ID: "old", Kind: pump.EventBolus, Timestamp: now.Add(-25 * time.Hour), Amount: fp(1)},
		{ID: "mid", Kind: pump.EventTempBasalDuration, Timestamp: now.Add(-2 * time.Hour), DurationMinutes: ip(30)},
		{ID: "new", Kind: pump.EventTempBasalRate, Timestamp: now.Add(-time.Hour), Rate: fp(1.5)},
	}
	require.NoError(t, s.AppendPumpEvents(ctx, events))

	got, err := s.PumpEventsSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, 1.5, *got[0].Rate)
	assert.Equal(t, 30, *got[1].DurationMinutes)
}

func TestCycleRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 8, 29, 10, 0, 0, 123456789, time.UTC)
	end := start.Add(42 * time.Second)

	rec := loop.CycleRecord{
		ID:              "cycle-1",
		Start:           start,
		End:             &end,
		Status:          loop.StatusFailed,
		Reason:          "pump error: timeout",
		DurationMinutes: fp(0.7),
		IntervalMinutes: fp(5.2),
	}
	require.NoError(t, s.SaveCycleRecord(ctx, rec))

	records, err := s.CycleRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.Start.Equal(rec.Start))
	require.NotNil(t, got.End)
	assert.True(t, got.End.Equal(end))
	assert.Equal(t, loop.StatusFailed, got.Status)
	assert.Equal(t, rec.Reason, got.Reason)
	assert.Equal(t, 0.7, *got.DurationMinutes)
	assert.Equal(t, 5.2, *got.IntervalMinutes)
}

func TestCycleRecordNilIntervalPreserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	end := time.Now()
	rec := loop.CycleRecord{
		ID:     "cycle-first",
		Start:  end.Add(-30 * time.Second),
		End:    &end,
		Status: loop.StatusSuccess,
	}
	require.NoError(t, s.SaveCycleRecord(ctx, rec))

	records, err := s.CycleRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].IntervalMinutes)
	assert.Nil(t, records[0].DurationMinutes)
}

func TestSaveCycleRecordFinalizesOpenRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now()
	open := loop.CycleRecord{ID: "cycle-2", Start: start, Status: loop.StatusStarting}
	require.NoError(t, s.SaveCycleRecord(ctx, open))

	end := start.Add(20 * time.Second)
	final := open
	final.End = &end
	final.Status = loop.StatusSuccess
	final.DurationMinutes = fp(0.33)
	require.NoError(t, s.SaveCycleRecord(ctx, final))

	records, err := s.CycleRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, loop.StatusSuccess, records[0].Status)
	require.NotNil(t, records[0].End)
}

func TestLatestCompletedCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LatestCompletedCycle(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty store has no completed cycle")

	now := time.Now()
	earlierEnd := now.Add(-10 * time.Minute)
	laterEnd := now.Add(-5 * time.Minute)
	require.NoError(t, s.SaveCycleRecord(ctx, loop.CycleRecord{
		ID: "a", Start: earlierEnd.Add(-time.Minute), End: &earlierEnd, Status: loop.StatusSuccess,
	}))
	require.NoError(t, s.SaveCycleRecord(ctx, loop.CycleRecord{
		ID: "b", Start: laterEnd.Add(-time.Minute), End: &laterEnd, Status: loop.StatusFailed, Reason: "invalid glucose",
	}))
	require.NoError(t, s.SaveCycleRecord(ctx, loop.CycleRecord{
		ID: "open", Start: now, Status: loop.StatusStarting,
	}))

	got, err = s.LatestCompletedCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}

func TestGlucoseSamplesRecentWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	samples := []glucose.Sample{
		{ID: "g1", Value: 120, Timestamp: now.Add(-5 * time.Minute)},
		{ID: "g2", Value: 118, Timestamp: now.Add(-10 * time.Minute)},
		{ID: "g3", Value: 110, Timestamp: now.Add(-45 * time.Minute)},
	}
	require.NoError(t, s.AddGlucoseSamples(ctx, samples))
	// Duplicate insert is a no-op.
	require.NoError(t, s.AddGlucoseSamples(ctx, samples[:1]))

	got, err := s.RecentSamples(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "g1", got[0].ID)
	assert.Equal(t, "g2", got[1].ID)
}

func TestTDDResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveTDDResult(ctx, now.Add(-48*time.Hour), tdd.Result{Total: 38}))
	require.NoError(t, s.SaveTDDResult(ctx, now.Add(-time.Hour), tdd.Result{
		Total:           41.5,
		BolusPortion:    20,
		WeightedAverage: fp(40.0),
		HoursOfDataUsed: 24,
	}))

	got, err := s.TDDResultsSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 41.5, got[0].Total)

	got, err = s.TDDResultsSince(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 41.5, got[0].Total, "newest first")
}

func TestCurrentTempBasalSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.CurrentTempBasal(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	first := pump.TempBasal{Rate: 1.2, DurationMinutes: 30, IssuedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.SetCurrentTempBasal(ctx, first))

	// A new command supersedes the previous one.
	second := pump.TempBasal{Rate: 0.8, DurationMinutes: 60, IssuedAt: time.Now()}
	require.NoError(t, s.SetCurrentTempBasal(ctx, second))

	got, err = s.CurrentTempBasal(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.8, got.Rate)
	assert.Equal(t, 60, got.DurationMinutes)
	assert.True(t, got.IssuedAt.Equal(second.IssuedAt))
}
