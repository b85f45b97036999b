// Package tdd computes the total daily insulin dose from pump history and
// the scheduled basal profile. The result is recomputed fresh every cycle
// and never maintained incrementally.
package tdd

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aidkit/loopcore/internal/logging"
	"github.com/aidkit/loopcore/internal/profile"
	"github.com/aidkit/loopcore/internal/pump"
)

const (
	// Gap-fill applies only in a narrow "almost complete" band of history
	// coverage. Shorter coverage means data is too sparse to extrapolate;
	// longer coverage needs no fill.
	gapFillMinHours = 21.0
	gapFillMaxHours = 23.9

	fullWindowHours = 24.0

	// floatSlack absorbs float artifacts when flooring to an increment.
	floatSlack = 1e-9

	weightedAverageRecentWindow  = 2 * time.Hour
	weightedAverageHistoryWindow = 10 * 24 * time.Hour
)

// Result holds one TDD computation.
type Result struct {
	Total                 float64  `json:"total"`
	BolusPortion          float64  `json:"bolus"`
	TempBasalPortion      float64  `json:"temp_basal"`
	ScheduledBasalPortion float64  `json:"scheduled_basal"`
	WeightedAverage       *float64 `json:"weighted_average,omitempty"`
	HoursOfDataUsed       float64  `json:"hours_of_data"`
}

// Percentages reports each portion's share of the total, guarded against a
// zero total.
func (r Result) Percentages() (bolus, tempBasal, scheduledBasal float64) {
	if r.Total == 0 {
		return 0, 0, 0
	}
	return r.BolusPortion / r.Total * 100,
		r.TempBasalPortion / r.Total * 100,
		r.ScheduledBasalPortion / r.Total * 100
}

// HistoryRecord is a previously stored TDD total, used for the weighted
// average.
type HistoryRecord struct {
	Date  time.Time `json:"date"`
	Total float64   `json:"total"`
}

// HistoryStore reads stored TDD totals, newest first.
type HistoryStore interface {
	TDDResultsSince(ctx context.Context, since time.Time) ([]HistoryRecord, error)
}

// Calculator derives TDD results. Store may be nil, in which case no
// weighted average is produced.
type Calculator struct {
	Store            HistoryStore
	WeightPercentage float64
	Logger           *logging.Logger
}

// Compute derives a TDD result from a descending (newest first) ~24h pump
// history window, the basal schedule, and the pump's basal increment.
func (c *Calculator) Compute(
	ctx context.Context,
	events []pump.HistoryEvent,
	schedule profile.Schedule,
	basalIncrement float64,
	now time.Time,
) (Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	hours := hoursOfData(events, now)
	bolus := bolusInsulin(events)
	tempBasal := tempBasalInsulin(events, basalIncrement)

	var scheduled float64
	if hours >= gapFillMinHours && hours < gapFillMaxHours {
		scheduled = scheduledBasalFill(events, schedule, hours, now)
	}

	result := Result{
		Total:                 bolus + tempBasal + scheduled,
		BolusPortion:          bolus,
		TempBasalPortion:      tempBasal,
		ScheduledBasalPortion: scheduled,
		HoursOfDataUsed:       hours,
	}

	if c.Store != nil {
		weighted, err := c.weightedAverage(ctx, now)
		if err != nil {
			return Result{}, err
		}
		result.WeightedAverage = weighted
	}

	bolusPct, tempPct, scheduledPct := result.Percentages()
	logger.Debug(ctx, "tdd computed",
		zap.Float64("total", result.Total),
		zap.Float64("bolus", bolus),
		zap.Float64("bolus_pct", bolusPct),
		zap.Float64("temp_basal", tempBasal),
		zap.Float64("temp_basal_pct", tempPct),
		zap.Float64("scheduled_basal", scheduled),
		zap.Float64("scheduled_basal_pct", scheduledPct),
		zap.Float64("hours_of_data", hours),
	)

	return result, nil
}

// hoursOfData is the span between the oldest and newest usable event. An
// open-ended temp-basal duration marker at the head of the log is still
// running, so its end is treated as now.
func hoursOfData(events []pump.HistoryEvent, now time.Time) float64 {
	if len(events) == 0 {
		return 0
	}

	newest := events[0]
	oldest := events[len(events)-1]

	end := newest.Timestamp
	if newest.Kind == pump.EventTempBasalDuration && newest.DurationMinutes != nil {
		markerEnd := newest.Timestamp.Add(time.Duration(*newest.DurationMinutes) * time.Minute)
		if markerEnd.After(now) {
			end = now
		}
	}

	hours := end.Sub(oldest.Timestamp).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// bolusInsulin sums bolus-event amounts in the window.
func bolusInsulin(events []pump.HistoryEvent) float64 {
	var total float64
	for _, e := range events {
		if e.Kind == pump.EventBolus && e.Amount != nil {
			total += *e.Amount
		}
	}
	return total
}

// tempBasalInsulin pairs each temp-basal-rate event with its duration
// marker by adjacent list position: the marker is always logged immediately
// before its rate event, so in a newest-first window it sits at the next
// index. Pairing is positional, never by timestamp; changing this rule
// changes historical TDD values.
func tempBasalInsulin(events []pump.HistoryEvent, basalIncrement float64) float64 {
	var total float64
	for i, e := range events {
		if e.Kind != pump.EventTempBasalRate {
			continue
		}
		rate := eventRate(e)
		if rate == nil || i+1 >= len(events) {
			continue
		}
		marker := events[i+1]
		if marker.Kind != pump.EventTempBasalDuration || marker.DurationMinutes == nil {
			continue
		}

		insulin := *rate * float64(*marker.DurationMinutes) / 60
		total += floorToIncrement(insulin, basalIncrement)
	}
	return total
}

// eventRate reads the temp basal rate, tolerating history sources that
// populate Amount instead of Rate.
func eventRate(e pump.HistoryEvent) *float64 {
	if e.Rate != nil {
		return e.Rate
	}
	return e.Amount
}

// floorToIncrement rounds insulin down to a multiple of the basal
// increment; amounts below one increment become exactly 0.
func floorToIncrement(units, increment float64) float64 {
	if increment <= 0 {
		return units
	}
	steps := math.Floor(units/increment + floatSlack)
	if steps <= 0 {
		return 0
	}
	return steps * increment
}

// scheduledBasalFill integrates the scheduled rate over the missing leading
// hours of the window: coverage of hoursUsed out of 24 leaves a gap of
// 24-hoursUsed hours before the oldest event.
func scheduledBasalFill(events []pump.HistoryEvent, schedule profile.Schedule, hoursUsed float64, now time.Time) float64 {
	if schedule.Len() == 0 {
		return 0
	}

	gapHours := fullWindowHours - hoursUsed
	if gapHours <= 0 {
		return 0
	}

	gapEnd := now
	if len(events) > 0 {
		gapEnd = events[len(events)-1].Timestamp
	}
	gapStart := gapEnd.Add(-time.Duration(gapHours * float64(time.Hour)))

	return integrateSchedule(schedule, gapStart, gapEnd)
}

// integrateSchedule accumulates rate×time over [from, to), splitting at
// profile switch boundaries.
func integrateSchedule(schedule profile.Schedule, from, to time.Time) float64 {
	var total float64
	cur := from
	for cur.Before(to) {
		minute := cur.Hour()*60 + cur.Minute()
		rate := schedule.RateAt(minute)

		midnight := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, cur.Location())
		segEnd := midnight.Add(24 * time.Hour)
		if next, ok := schedule.NextSwitch(minute); ok {
			segEnd = midnight.Add(time.Duration(next) * time.Minute)
		}
		if segEnd.After(to) {
			segEnd = to
		}

		total += rate * segEnd.Sub(cur).Hours()
		cur = segEnd
	}
	return total
}

// weightedAverage blends the recent (2h) average against the 10-day average
// of stored totals. No stored totals means no weighted average.
func (c *Calculator) weightedAverage(ctx context.Context, now time.Time) (*float64, error) {
	records, err := c.Store.TDDResultsSince(ctx, now.Add(-weightedAverageHistoryWindow))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	twoHoursAgo := now.Add(-weightedAverageRecentWindow)

	var recentSum, totalSum float64
	var recentCount int
	for _, r := range records {
		totalSum += r.Total
		if r.Date.After(twoHoursAgo) {
			recentSum += r.Total
			recentCount++
		}
	}

	recentAvg := recentSum / float64(max(recentCount, 1))
	historyAvg := totalSum / float64(len(records))

	w := c.WeightPercentage
	weighted := w*recentAvg + (1-w)*historyAvg
	return &weighted, nil
}
