// Package glucose validates CGM telemetry before it reaches the dosing
// pipeline. A cycle proceeds only when recent samples are sufficient, fresh,
// and not flat-lined.
package glucose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// maxSensorReading is the value a pegged CGM sensor reports. A sensor stuck
// at its ceiling legitimately produces a flat series, so it is exempt from
// the flatness rejection.
const maxSensorReading = 400

// Sample is one CGM reading in mg/dL, as delivered by a GlucoseSource.
type Sample struct {
	ID        string    `json:"id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Typed rejection reasons. Each aborts the cycle before any device call.
var (
	ErrInsufficientData = errors.New("not enough glucose data")
	ErrStale            = errors.New("glucose data is stale")
	ErrTooFlat          = errors.New("glucose data is too flat")
)

// Source supplies recent samples, newest first.
type Source interface {
	RecentSamples(ctx context.Context, window time.Duration) ([]Sample, error)
}

// Checker validates a glucose window for dosing readiness.
type Checker struct {
	// StalenessWindow bounds the age of the newest sample.
	StalenessWindow time.Duration

	// MinSamples is the minimum window size.
	MinSamples int

	// FlatnessBand is the per-delta band in mg/dL; a window whose
	// consecutive deltas all fall within the band is rejected as flat.
	FlatnessBand float64
}

// Validate checks samples (newest first) against now. It returns the samples
// unchanged on success, or a typed rejection wrapped with detail.
func (c Checker) Validate(samples []Sample, now time.Time) ([]Sample, error) {
	if len(samples) < c.MinSamples {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, len(samples), c.MinSamples)
	}

	newest := samples[0]
	if age := now.Sub(newest.Timestamp); age > c.StalenessWindow {
		return nil, fmt.Errorf("%w: newest sample is %s old", ErrStale, age.Round(time.Second))
	}

	// A sensor pegged at its maximum reading is exempt from the flatness
	// rejection.
	if newest.Value != maxSensorReading && c.isFlat(samples) {
		return nil, fmt.Errorf("%w: %d samples within ±%v mg/dL", ErrTooFlat, len(samples), c.FlatnessBand)
	}

	return samples, nil
}

// isFlat reports whether every consecutive delta is within the band.
func (c Checker) isFlat(samples []Sample) bool {
	for i := 0; i+1 < len(samples); i++ {
		if math.Abs(samples[i].Value-samples[i+1].Value) > c.FlatnessBand {
			return false
		}
	}
	return true
}
