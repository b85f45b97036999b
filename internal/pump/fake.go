package pump

import (
	"context"
	"math"
	"sync"
	"time"
)

// Fake is an in-memory Driver for tests and the simulator. Command outcomes
// are scripted through the Fail* fields; every issued command is recorded.
type Fake struct {
	mu sync.Mutex

	status         Status
	reservoir      float64
	reservoirKnown bool

	basalIncrement float64
	bolusIncrement float64

	// Scripted failures, returned by the matching command.
	FailStatus    error
	FailTempBasal error
	FailBolus     error
	FailCancel    error
	FailSuspend   error
	FailResume    error

	TempBasals []TempBasal
	Boluses    []FakeBolus
	Resumes    int
	Suspends   int
	Cancels    int
	StatusReqs int

	progress []func(*float64)
}

// FakeBolus records one EnactBolus call.
type FakeBolus struct {
	Units     float64
	Automatic bool
}

// NewFake creates a Fake with a normal (not bolusing, not suspended) status
// and a known full reservoir.
func NewFake() *Fake {
	return &Fake{
		status:         Status{Timestamp: time.Now()},
		reservoir:      200,
		reservoirKnown: true,
		basalIncrement: 0.05,
		bolusIncrement: 0.05,
	}
}

// SetStatus replaces the reported delivery state.
func (f *Fake) SetStatus(bolusing, suspended bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = Status{Bolusing: bolusing, Suspended: suspended, Timestamp: time.Now()}
}

// SetReservoir scripts the reservoir reading.
func (f *Fake) SetReservoir(level float64, known bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reservoir = level
	f.reservoirKnown = known
}

// SetIncrements overrides the hardware granularity.
func (f *Fake) SetIncrements(basal, bolus float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.basalIncrement = basal
	f.bolusIncrement = bolus
}

func (f *Fake) Status(ctx context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusReqs++
	if f.FailStatus != nil {
		return Status{}, f.FailStatus
	}
	return f.status, nil
}

func (f *Fake) ReservoirLevel(ctx context.Context) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reservoir, f.reservoirKnown, nil
}

func (f *Fake) EnactTempBasal(ctx context.Context, rate float64, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTempBasal != nil {
		return f.FailTempBasal
	}
	f.TempBasals = append(f.TempBasals, TempBasal{
		Rate:            rate,
		DurationMinutes: int(duration.Minutes()),
		IssuedAt:        time.Now(),
	})
	return nil
}

func (f *Fake) EnactBolus(ctx context.Context, units float64, automatic bool) error {
	f.mu.Lock()
	if f.FailBolus != nil {
		f.mu.Unlock()
		return f.FailBolus
	}
	f.Boluses = append(f.Boluses, FakeBolus{Units: units, Automatic: automatic})
	subs := make([]func(*float64), len(f.progress))
	copy(subs, f.progress)
	f.mu.Unlock()

	// A real driver streams progress from the device; the fake completes
	// immediately.
	done := 1.0
	for _, fn := range subs {
		fn(&done)
		fn(nil)
	}
	return nil
}

func (f *Fake) CancelBolus(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancels++
	if f.FailCancel != nil {
		return f.FailCancel
	}
	f.status.Bolusing = false
	return nil
}

func (f *Fake) SuspendDelivery(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Suspends++
	if f.FailSuspend != nil {
		return f.FailSuspend
	}
	f.status.Suspended = true
	return nil
}

func (f *Fake) ResumeDelivery(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumes++
	if f.FailResume != nil {
		return f.FailResume
	}
	f.status.Suspended = false
	return nil
}

func (f *Fake) RoundToSupportedBasalRate(rate float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.basalIncrement <= 0 {
		return rate
	}
	return math.Round(rate/f.basalIncrement) * f.basalIncrement
}

func (f *Fake) RoundToSupportedBolusVolume(units float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bolusIncrement <= 0 {
		return units
	}
	return math.Floor(units/f.bolusIncrement) * f.bolusIncrement
}

// BolusProgress implements ProgressReporter.
func (f *Fake) BolusProgress(fn func(percent *float64)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, fn)
	idx := len(f.progress) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if idx < len(f.progress) {
			f.progress[idx] = func(*float64) {}
		}
	}
}

var _ Driver = (*Fake)(nil)
var _ ProgressReporter = (*Fake)(nil)
