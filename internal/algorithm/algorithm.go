// Package algorithm defines the boundary to the external dosing algorithm.
// The algorithm itself is opaque: it consumes one cycle's inputs and either
// produces a Determination or declines to recommend anything.
package algorithm

import (
	"context"
	"time"

	"github.com/aidkit/loopcore/internal/glucose"
	"github.com/aidkit/loopcore/internal/profile"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/tdd"
)

// Determination is one cycle's dosing recommendation. Optional fields are
// nil when the algorithm recommends no change for that channel.
type Determination struct {
	RecommendedBasalRate  *float64  `json:"rate,omitempty"`
	BasalDurationMinutes  *int      `json:"duration,omitempty"`
	RecommendedBolusUnits *float64  `json:"units,omitempty"`
	ComputedAt            time.Time `json:"computed_at"`
	DeliverAt             time.Time `json:"deliver_at"`
}

// Expired reports whether the determination is too old to enact.
func (d Determination) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(d.DeliverAt) >= window
}

// Input is the snapshot handed to the algorithm for one cycle. Samples are
// newest first.
type Input struct {
	Samples     []glucose.Sample
	Schedule    profile.Schedule
	TDD         tdd.Result
	CurrentTemp pump.TempBasal
	Now         time.Time
}

// Engine computes dosing recommendations. A nil Determination with a nil
// error means "no actionable recommendation" and is not a failure.
type Engine interface {
	Determine(ctx context.Context, input Input) (*Determination, error)
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, input Input) (*Determination, error)

func (f Func) Determine(ctx context.Context, input Input) (*Determination, error) {
	return f(ctx, input)
}
