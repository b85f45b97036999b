package pump

import (
	"context"
	"time"
)

// Driver abstracts a physical insulin pump. Implementations wrap
// device-specific transports; all blocking calls take a context.
//
// Commands on a shared device channel must not be issued concurrently;
// callers serialize basal and bolus enactment.
type Driver interface {
	// Status reports the current delivery state.
	Status(ctx context.Context) (Status, error)

	// ReservoirLevel reports remaining units. known is false when the
	// device does not expose a reservoir reading.
	ReservoirLevel(ctx context.Context) (level float64, known bool, err error)

	// EnactTempBasal runs rate U/hr for the given duration.
	EnactTempBasal(ctx context.Context, rate float64, duration time.Duration) error

	// EnactBolus delivers units. automatic marks algorithm-initiated
	// boluses as opposed to manual ones.
	EnactBolus(ctx context.Context, units float64, automatic bool) error

	// CancelBolus stops a bolus in progress.
	CancelBolus(ctx context.Context) error

	// SuspendDelivery stops all delivery.
	SuspendDelivery(ctx context.Context) error

	// ResumeDelivery resumes after a suspend.
	ResumeDelivery(ctx context.Context) error

	// RoundToSupportedBasalRate rounds to the nearest rate the hardware
	// can deliver.
	RoundToSupportedBasalRate(rate float64) float64

	// RoundToSupportedBolusVolume rounds down to the nearest volume the
	// hardware can deliver.
	RoundToSupportedBolusVolume(units float64) float64
}

// ProgressReporter is implemented by drivers that report incremental bolus
// delivery progress. Progress values are fractions in [0, 1]; a nil value
// means no bolus is in flight.
type ProgressReporter interface {
	BolusProgress(fn func(percent *float64)) (unsubscribe func())
}
