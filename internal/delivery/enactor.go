// Package delivery issues physical pump commands for a determination. Basal
// and bolus legs run sequentially on the shared device channel, each behind a
// fresh safety gate check. Device errors fail the cycle; the next scheduled
// tick is the retry mechanism, never an in-cycle retry.
package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aidkit/loopcore/internal/algorithm"
	"github.com/aidkit/loopcore/internal/bus"
	"github.com/aidkit/loopcore/internal/logging"
	"github.com/aidkit/loopcore/internal/loop"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/safety"
)

// TempBasalRecorder persists the current temp basal command after a
// successful basal enactment.
type TempBasalRecorder interface {
	SetCurrentTempBasal(ctx context.Context, t pump.TempBasal) error
}

// Enactor drives the pump for one determination at a time.
type Enactor struct {
	driver   pump.Driver
	store    TempBasalRecorder
	logger   *logging.Logger
	maxBolus float64

	// BolusProgress mirrors the device's delivery progress as a fraction
	// in [0, 1]. A zero is published when a bolus command is accepted; nil
	// means no bolus is in flight.
	BolusProgress *bus.Value[*float64]

	now func() time.Time
}

// NewEnactor creates an Enactor. driver may be nil when no pump is paired;
// every command then fails the safety gate.
func NewEnactor(driver pump.Driver, store TempBasalRecorder, maxBolus float64, logger *logging.Logger) *Enactor {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Enactor{
		driver:        driver,
		store:         store,
		logger:        logger.Named("delivery"),
		maxBolus:      maxBolus,
		BolusProgress: bus.NewValue[*float64](),
		now:           time.Now,
	}
	if reporter, ok := driver.(pump.ProgressReporter); ok {
		reporter.BolusProgress(func(percent *float64) {
			e.BolusProgress.Set(percent)
		})
	}
	return e
}

// SetClock overrides the time source. Used by simulations running in
// virtual time.
func (e *Enactor) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Verify re-evaluates the safety gate against live pump state.
func (e *Enactor) Verify(ctx context.Context) error {
	if e.driver == nil {
		return loop.NewInvalidPumpStateError("pump not set")
	}
	status, err := e.driver.Status(ctx)
	if err != nil {
		return loop.NewPumpError(err)
	}
	level, known, err := e.driver.ReservoirLevel(ctx)
	if err != nil {
		return loop.NewPumpError(err)
	}
	if result := safety.Check(&status, safety.Reservoir{Level: level, Known: known}); !result.Passed() {
		return loop.NewInvalidPumpStateError(result.String())
	}
	return nil
}

// Enact consumes one determination: the basal leg first, then the bolus leg.
// Expiration is measured against the determination's deliver-at timestamp.
func (e *Enactor) Enact(ctx context.Context, d *algorithm.Determination, expiration time.Duration) error {
	if d == nil {
		return loop.NewAlgorithmError("determination not found", nil)
	}
	now := e.now()
	if d.Expired(now, expiration) {
		return loop.NewAlgorithmError("determination expired", nil)
	}
	if err := e.enactBasal(ctx, d); err != nil {
		return err
	}
	return e.enactBolus(ctx, d)
}

func (e *Enactor) enactBasal(ctx context.Context, d *algorithm.Determination) error {
	if err := e.Verify(ctx); err != nil {
		return err
	}
	if d.RecommendedBasalRate == nil || d.BasalDurationMinutes == nil {
		e.logger.Debug(ctx, "no temp basal required")
		return nil
	}

	rate := e.driver.RoundToSupportedBasalRate(*d.RecommendedBasalRate)
	duration := time.Duration(*d.BasalDurationMinutes) * time.Minute

	e.logger.Debug(ctx, "enacting temp basal",
		zap.Float64("rate", rate),
		zap.Int("duration_min", *d.BasalDurationMinutes))

	if err := e.driver.EnactTempBasal(ctx, rate, duration); err != nil {
		return loop.NewPumpError(err)
	}

	temp := pump.TempBasal{
		Rate:            rate,
		DurationMinutes: *d.BasalDurationMinutes,
		IssuedAt:        e.now(),
	}
	if err := e.store.SetCurrentTempBasal(ctx, temp); err != nil {
		e.logger.Warn(ctx, "failed to persist temp basal command", zap.Error(err))
	}
	return nil
}

func (e *Enactor) enactBolus(ctx context.Context, d *algorithm.Determination) error {
	if err := e.Verify(ctx); err != nil {
		return err
	}
	if d.RecommendedBolusUnits == nil || *d.RecommendedBolusUnits <= 0 {
		e.logger.Debug(ctx, "no bolus required")
		return nil
	}

	units := e.RoundBolus(*d.RecommendedBolusUnits)
	e.logger.Debug(ctx, "enacting bolus", zap.Float64("units", units))

	if err := e.driver.EnactBolus(ctx, units, true); err != nil {
		return loop.NewPumpError(err)
	}
	zero := 0.0
	e.BolusProgress.Set(&zero)
	return nil
}

// Bolus issues a standalone bolus outside the cycle pipeline. automatic marks
// algorithm-initiated micro-boluses; manual boluses have it false.
func (e *Enactor) Bolus(ctx context.Context, units float64, automatic bool) error {
	if err := e.Verify(ctx); err != nil {
		return err
	}

	rounded := e.driver.RoundToSupportedBolusVolume(units)
	e.logger.Debug(ctx, "enacting standalone bolus",
		zap.Float64("units", rounded),
		zap.Bool("automatic", automatic))

	if err := e.driver.EnactBolus(ctx, rounded, automatic); err != nil {
		return loop.NewPumpError(err)
	}
	zero := 0.0
	e.BolusProgress.Set(&zero)
	return nil
}

// CancelBolus stops a bolus in progress. It is a no-op unless the pump
// reports an active bolus.
func (e *Enactor) CancelBolus(ctx context.Context) error {
	if e.driver == nil {
		return loop.NewInvalidPumpStateError("pump not set")
	}
	status, err := e.driver.Status(ctx)
	if err != nil {
		return loop.NewPumpError(err)
	}
	if !status.Bolusing {
		return nil
	}
	if err := e.driver.CancelBolus(ctx); err != nil {
		return loop.NewPumpError(err)
	}
	e.BolusProgress.Set(nil)
	return nil
}

// TempBasal issues a standalone temp basal outside the cycle pipeline. The
// command supersedes the stored current command on success.
func (e *Enactor) TempBasal(ctx context.Context, rate float64, duration time.Duration) error {
	if err := e.Verify(ctx); err != nil {
		return err
	}

	rounded := e.driver.RoundToSupportedBasalRate(rate)
	e.logger.Debug(ctx, "enacting standalone temp basal",
		zap.Float64("rate", rounded),
		zap.Duration("duration", duration))

	if err := e.driver.EnactTempBasal(ctx, rounded, duration); err != nil {
		return loop.NewPumpError(err)
	}

	temp := pump.TempBasal{
		Rate:            rounded,
		DurationMinutes: int(duration / time.Minute),
		IssuedAt:        e.now(),
	}
	if err := e.store.SetCurrentTempBasal(ctx, temp); err != nil {
		e.logger.Warn(ctx, "failed to persist temp basal command", zap.Error(err))
	}
	return nil
}

// ResumeDelivery resumes a suspended pump.
func (e *Enactor) ResumeDelivery(ctx context.Context) error {
	if e.driver == nil {
		return loop.NewInvalidPumpStateError("pump not set")
	}
	if err := e.driver.ResumeDelivery(ctx); err != nil {
		return loop.NewPumpError(err)
	}
	return nil
}

// RoundBolus rounds units down to a supported volume and caps it at the
// configured max bolus (itself rounded to a supported volume).
func (e *Enactor) RoundBolus(units float64) float64 {
	if e.driver == nil {
		return units
	}
	rounded := e.driver.RoundToSupportedBolusVolume(units)
	capped := e.driver.RoundToSupportedBolusVolume(e.maxBolus)
	if rounded > capped {
		return capped
	}
	return rounded
}
