package main

import (
	"context"

	"github.com/aidkit/loopcore/internal/algorithm"
)

const (
	// targetGlucose is the setpoint in mg/dL.
	targetGlucose = 100.0

	// maxRateFactor caps the temp basal at a multiple of the scheduled
	// rate.
	maxRateFactor = 3.0

	// deadband is the setpoint band, in mg/dL, inside which the engine
	// makes no recommendation.
	deadband = 10.0

	tempDurationMinutes = 30
)

// newSetpointEngine returns a conservative proportional dosing engine: it
// scales the scheduled basal rate by the ratio of current glucose to the
// setpoint and never recommends boluses. It is a stand-in boundary for an
// external dosing algorithm, not a medical-grade controller.
func newSetpointEngine() algorithm.Func {
	return func(_ context.Context, in algorithm.Input) (*algorithm.Determination, error) {
		if len(in.Samples) == 0 {
			return nil, nil
		}
		current := in.Samples[0].Value

		// Inside the deadband with no temp running there is nothing to
		// do; with a temp running, recommend returning to schedule.
		minute := in.Now.Hour()*60 + in.Now.Minute()
		scheduled := in.Schedule.RateAt(minute)

		if current > targetGlucose-deadband && current < targetGlucose+deadband {
			if in.CurrentTemp.DurationMinutes == 0 {
				return nil, nil
			}
			duration := 0
			return &algorithm.Determination{
				RecommendedBasalRate: &scheduled,
				BasalDurationMinutes: &duration,
				ComputedAt:           in.Now,
				DeliverAt:            in.Now,
			}, nil
		}

		factor := current / targetGlucose
		if factor > maxRateFactor {
			factor = maxRateFactor
		}
		rate := scheduled * factor
		duration := tempDurationMinutes
		return &algorithm.Determination{
			RecommendedBasalRate: &rate,
			BasalDurationMinutes: &duration,
			ComputedAt:           in.Now,
			DeliverAt:            in.Now,
		}, nil
	}
}
