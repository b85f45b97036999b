package loop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aidkit/loopcore/internal/algorithm"
	"github.com/aidkit/loopcore/internal/bus"
	"github.com/aidkit/loopcore/internal/glucose"
	"github.com/aidkit/loopcore/internal/logging"
	"github.com/aidkit/loopcore/internal/metrics"
	"github.com/aidkit/loopcore/internal/profile"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/tdd"
)

const (
	// glucoseFetchWindow bounds the sample window handed to the readiness
	// check and the algorithm.
	glucoseFetchWindow = 30 * time.Minute

	// tddWindow is the pump history span behind each TDD computation.
	tddWindow = 24 * time.Hour
)

// Settings is the per-cycle snapshot of orchestrator configuration. The
// orchestrator reads one snapshot at cycle entry and never mutates settings.
type Settings struct {
	Interval                time.Duration
	ClosedLoop              bool
	UnsuspendIfNoTemp       bool
	DeterminationExpiration time.Duration
}

// HistoryStore is the persistence surface the orchestrator needs.
type HistoryStore interface {
	SaveCycleRecord(ctx context.Context, rec CycleRecord) error
	LatestCompletedCycle(ctx context.Context) (*CycleRecord, error)
	PumpEventsSince(ctx context.Context, since time.Time) ([]pump.HistoryEvent, error)
	CurrentTempBasal(ctx context.Context) (*pump.TempBasal, error)
	SaveTDDResult(ctx context.Context, date time.Time, r tdd.Result) error
}

// ProfileSource supplies the basal schedule and the pump's basal increment.
type ProfileSource interface {
	Schedule() profile.Schedule
	BasalIncrement() float64
}

// TDDCalculator computes the total daily dose for one cycle.
type TDDCalculator interface {
	Compute(ctx context.Context, events []pump.HistoryEvent, schedule profile.Schedule, basalIncrement float64, now time.Time) (tdd.Result, error)
}

// Enactor issues physical pump commands.
type Enactor interface {
	Enact(ctx context.Context, d *algorithm.Determination, expiration time.Duration) error
	Bolus(ctx context.Context, units float64, automatic bool) error
	CancelBolus(ctx context.Context) error
	TempBasal(ctx context.Context, rate float64, duration time.Duration) error
	ResumeDelivery(ctx context.Context) error
}

// Deps are the Manager's collaborators. Driver may be nil when no pump is
// paired.
type Deps struct {
	Logger    *logging.Logger
	Driver    pump.Driver
	Glucose   glucose.Source
	Checker   glucose.Checker
	Profiles  ProfileSource
	TDD       TDDCalculator
	Engine    algorithm.Engine
	Enactor   Enactor
	Store     HistoryStore
	Keepalive Keepalive
	Settings  func() Settings
	Now       func() time.Time
}

// Manager runs the loop cycle state machine: entry gate, readiness checks,
// TDD, algorithm call, and enactment. At most one cycle is in flight at a
// time; every started cycle reaches a terminal state and emits exactly one
// finalized CycleRecord.
type Manager struct {
	logger    *logging.Logger
	driver    pump.Driver
	glucose   glucose.Source
	checker   glucose.Checker
	profiles  ProfileSource
	tddCalc   TDDCalculator
	engine    algorithm.Engine
	enactor   Enactor
	store     HistoryStore
	keepalive Keepalive
	settings  func() Settings
	now       func() time.Time

	looping    atomic.Bool
	manualTemp atomic.Bool

	mu          sync.Mutex
	lastStart   time.Time
	lastSuccess time.Time

	// IsLooping mirrors the single-flight flag for observers.
	IsLooping *bus.Value[bool]

	// DeterminationUpdated fires once per successful algorithm call.
	DeterminationUpdated *bus.Topic[algorithm.Determination]

	// CycleCompleted fires once per finalized cycle record.
	CycleCompleted *bus.Topic[CycleRecord]

	// LastError holds the most recent cycle error; nil after a success.
	LastError *bus.Value[error]

	// LastLoopAt holds the end time of the most recent successful cycle.
	LastLoopAt *bus.Value[time.Time]

	// BolusFailed fires when a manual bolus could not be delivered.
	BolusFailed *bus.Topic[struct{}]
}

// NewManager wires a Manager from its collaborators.
func NewManager(deps Deps) (*Manager, error) {
	switch {
	case deps.Glucose == nil:
		return nil, errors.New("glucose source is required")
	case deps.Profiles == nil:
		return nil, errors.New("profile source is required")
	case deps.TDD == nil:
		return nil, errors.New("tdd calculator is required")
	case deps.Engine == nil:
		return nil, errors.New("algorithm engine is required")
	case deps.Enactor == nil:
		return nil, errors.New("enactor is required")
	case deps.Store == nil:
		return nil, errors.New("history store is required")
	case deps.Settings == nil:
		return nil, errors.New("settings provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Keepalive == nil {
		deps.Keepalive = NopKeepalive{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &Manager{
		logger:               deps.Logger.Named("loop"),
		driver:               deps.Driver,
		glucose:              deps.Glucose,
		checker:              deps.Checker,
		profiles:             deps.Profiles,
		tddCalc:              deps.TDD,
		engine:               deps.Engine,
		enactor:              deps.Enactor,
		store:                deps.Store,
		keepalive:            deps.Keepalive,
		settings:             deps.Settings,
		now:                  deps.Now,
		IsLooping:            bus.NewValue[bool](),
		DeterminationUpdated: bus.NewTopic[algorithm.Determination](),
		CycleCompleted:       bus.NewTopic[CycleRecord](),
		LastError:            bus.NewValue[error](),
		LastLoopAt:           bus.NewValue[time.Time](),
		BolusFailed:          bus.NewTopic[struct{}](),
	}
	m.IsLooping.Set(false)

	// Seed the entry gate from the last persisted cycle so a restart does
	// not immediately re-loop.
	if prev, err := m.store.LatestCompletedCycle(context.Background()); err == nil && prev != nil && prev.Succeeded() {
		m.lastStart = prev.Start
		m.lastSuccess = *prev.End
		m.LastLoopAt.Set(*prev.End)
	}
	return m, nil
}

// Tick is the cycle entry point. Gate rejections are silent no-ops; a started
// cycle always reaches a terminal state without propagating errors to the
// caller.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	s := m.settings()

	m.mu.Lock()
	lastStart, lastSuccess := m.lastStart, m.lastSuccess
	m.mu.Unlock()

	// The minimum interval only gates after a completed cycle. A cycle
	// that never completed (failed or aborted) may retry immediately.
	if lastSuccess.After(lastStart) && now.Before(lastStart.Add(s.Interval)) {
		m.logger.Debug(ctx, "too close to previous cycle",
			zap.Time("last_start", lastStart),
			zap.Duration("interval", s.Interval))
		metrics.CyclesSkippedTotal.WithLabelValues("too_soon").Inc()
		return
	}

	if !m.looping.CompareAndSwap(false, true) {
		m.logger.Warn(ctx, "loop already in progress, skipping")
		metrics.CyclesSkippedTotal.WithLabelValues("in_flight").Inc()
		return
	}
	release := m.keepalive.Acquire("loop cycle")
	defer release()

	m.mu.Lock()
	m.lastStart = now
	m.mu.Unlock()
	m.IsLooping.Set(true)

	cycleID := uuid.NewString()
	ctx = logging.WithCycleID(ctx, cycleID)

	rec := CycleRecord{
		ID:              cycleID,
		Start:           now,
		Status:          StatusStarting,
		IntervalMinutes: m.intervalSince(ctx, now),
	}
	if err := m.store.SaveCycleRecord(ctx, rec); err != nil {
		m.logger.Warn(ctx, "failed to open cycle record", zap.Error(err))
	}
	m.logger.Info(ctx, "starting loop cycle")

	m.finalize(ctx, rec, m.runCycle(ctx, now, s))
}

// intervalSince measures from the end of the most recent completed cycle to
// start. Nil when no completed cycle precedes start.
func (m *Manager) intervalSince(ctx context.Context, start time.Time) *float64 {
	prev, err := m.store.LatestCompletedCycle(ctx)
	if err != nil {
		m.logger.Warn(ctx, "failed to read previous cycle", zap.Error(err))
		return nil
	}
	if prev == nil || prev.End == nil || !prev.End.Before(start) {
		return nil
	}
	v := roundTo(start.Sub(*prev.End).Minutes(), 1)
	return &v
}

func (m *Manager) runCycle(ctx context.Context, now time.Time, s Settings) error {
	samples, err := m.glucose.RecentSamples(ctx, glucoseFetchWindow)
	if err != nil {
		return NewGlucoseError(err)
	}
	samples, err = m.checker.Validate(samples, now)
	if err != nil {
		metrics.GlucoseRejectionsTotal.WithLabelValues(rejectionLabel(err)).Inc()
		return NewGlucoseError(err)
	}

	temp := m.currentTemp(ctx, now)

	if temp.DurationMinutes == 0 && s.ClosedLoop && s.UnsuspendIfNoTemp && m.driver != nil {
		status, err := m.driver.Status(ctx)
		if err != nil {
			return NewPumpError(err)
		}
		if status.Suspended {
			m.logger.Info(ctx, "no temp basal running, resuming suspended pump")
			if err := m.enactor.ResumeDelivery(ctx); err != nil {
				metrics.EnactmentsTotal.WithLabelValues("resume", "error").Inc()
				return err
			}
			metrics.EnactmentsTotal.WithLabelValues("resume", "success").Inc()
		}
	}

	schedule := m.profiles.Schedule()
	increment := m.profiles.BasalIncrement()

	events, err := m.store.PumpEventsSince(ctx, now.Add(-tddWindow))
	if err != nil {
		return fmt.Errorf("read pump history: %w", err)
	}
	tddResult, err := m.tddCalc.Compute(ctx, events, schedule, increment, now)
	if err != nil {
		return fmt.Errorf("compute tdd: %w", err)
	}
	if err := m.store.SaveTDDResult(ctx, now, tddResult); err != nil {
		m.logger.Warn(ctx, "failed to store tdd result", zap.Error(err))
	}
	metrics.TDDTotal.Set(tddResult.Total)
	metrics.TDDHoursOfData.Set(tddResult.HoursOfDataUsed)
	if tddResult.WeightedAverage != nil {
		metrics.TDDWeightedAverage.Set(*tddResult.WeightedAverage)
	}

	det, err := m.engine.Determine(ctx, algorithm.Input{
		Samples:     samples,
		Schedule:    schedule,
		TDD:         tddResult,
		CurrentTemp: temp,
		Now:         now,
	})
	if err != nil {
		return NewAlgorithmError("determine basal failed", err)
	}
	if det == nil {
		m.logger.Info(ctx, "no actionable recommendation")
		return nil
	}
	m.DeterminationUpdated.Publish(*det)

	if !s.ClosedLoop {
		m.logger.Info(ctx, "open loop completed")
		return nil
	}
	if m.manualTemp.Load() {
		return NewManualBasalConflictError("loop not possible during the manual basal temp")
	}
	return m.enactor.Enact(ctx, det, s.DeterminationExpiration)
}

// currentTemp derives the running temp basal from the stored command with
// its duration decayed to now. No stored command means no temp is running.
func (m *Manager) currentTemp(ctx context.Context, now time.Time) pump.TempBasal {
	stored, err := m.store.CurrentTempBasal(ctx)
	if err != nil {
		m.logger.Warn(ctx, "failed to read current temp basal", zap.Error(err))
	}
	if stored == nil {
		return pump.TempBasal{IssuedAt: now}
	}
	return stored.Remaining(now)
}

// finalize closes the cycle record exactly once, publishes it, and clears the
// single-flight flag.
func (m *Manager) finalize(ctx context.Context, rec CycleRecord, cycleErr error) {
	end := m.now()
	duration := roundTo(end.Sub(rec.Start).Minutes(), 2)
	rec.End = &end
	rec.DurationMinutes = &duration

	if cycleErr != nil {
		rec.Status = StatusFailed
		rec.Reason = cycleErr.Error()
		m.LastError.Set(cycleErr)
		m.logger.Warn(ctx, "loop failed", zap.Error(cycleErr), zap.String("kind", string(KindOf(cycleErr))))
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
	} else {
		rec.Status = StatusSuccess
		m.mu.Lock()
		m.lastSuccess = end
		m.mu.Unlock()
		m.LastError.Set(nil)
		m.LastLoopAt.Set(end)
		m.logger.Info(ctx, "loop succeeded", zap.Float64("duration_min", duration))
		metrics.CyclesTotal.WithLabelValues("success").Inc()
	}
	metrics.CycleDuration.Observe(end.Sub(rec.Start).Seconds())
	if rec.IntervalMinutes != nil {
		metrics.CycleInterval.Observe(*rec.IntervalMinutes)
	}

	if err := m.store.SaveCycleRecord(ctx, rec); err != nil {
		m.logger.Warn(ctx, "failed to finalize cycle record", zap.Error(err))
	}
	m.CycleCompleted.Publish(rec)
	m.IsLooping.Set(false)
	m.looping.Store(false)
}

// EnactBolus delivers a bolus outside the cycle pipeline. isSMB marks
// algorithm-initiated micro-boluses; manual bolus failures additionally fire
// the BolusFailed topic.
func (m *Manager) EnactBolus(ctx context.Context, amount float64, isSMB bool) error {
	err := m.enactor.Bolus(ctx, amount, isSMB)
	if err != nil {
		m.processError(ctx, err)
		metrics.EnactmentsTotal.WithLabelValues("bolus", "error").Inc()
		if !isSMB || KindOf(err) == KindInvalidPumpState {
			m.BolusFailed.Publish(struct{}{})
		}
		return err
	}
	metrics.EnactmentsTotal.WithLabelValues("bolus", "success").Inc()
	return nil
}

// CancelBolus stops a bolus in progress.
func (m *Manager) CancelBolus(ctx context.Context) error {
	if err := m.enactor.CancelBolus(ctx); err != nil {
		m.processError(ctx, err)
		return err
	}
	return nil
}

// EnactTempBasal issues a user-initiated temp basal. It is refused while a
// manual temp basal from the device is active.
func (m *Manager) EnactTempBasal(ctx context.Context, rate float64, duration time.Duration) error {
	if m.manualTemp.Load() {
		err := NewManualBasalConflictError("loop not possible during the manual basal temp")
		m.processError(ctx, err)
		return err
	}
	err := m.enactor.TempBasal(ctx, rate, duration)
	if err != nil {
		m.processError(ctx, err)
		metrics.EnactmentsTotal.WithLabelValues("temp_basal", "error").Inc()
		return err
	}
	metrics.EnactmentsTotal.WithLabelValues("temp_basal", "success").Inc()
	return nil
}

// MarkManualTempBasal records a device-reported manual temp basal, which
// suspends automatic looping until cleared.
func (m *Manager) MarkManualTempBasal() {
	m.manualTemp.Store(true)
}

// ClearManualBasal clears the manual temp basal flag. If one was active, a
// loop is forced immediately rather than awaiting the next tick.
func (m *Manager) ClearManualBasal(ctx context.Context, now time.Time) {
	if m.manualTemp.CompareAndSwap(true, false) {
		m.logger.Info(ctx, "manual temp basal cleared, forcing loop")
		m.Tick(ctx, now)
	}
}

// ManualTempBasalActive reports whether a manual temp basal blocks looping.
func (m *Manager) ManualTempBasalActive() bool {
	return m.manualTemp.Load()
}

func (m *Manager) processError(ctx context.Context, err error) {
	m.logger.Warn(ctx, "command failed", zap.Error(err))
	m.LastError.Set(err)
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, glucose.ErrInsufficientData):
		return "insufficient"
	case errors.Is(err, glucose.ErrStale):
		return "stale"
	case errors.Is(err, glucose.ErrTooFlat):
		return "flat"
	default:
		return "other"
	}
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
