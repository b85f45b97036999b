// Package loop contains the cycle orchestrator: the state machine that
// decides when to compute a dosing recommendation, validates telemetry,
// delegates to the dosing algorithm, and hands the result to enactment.
package loop

import "time"

// CycleStatus is the lifecycle state of a loop cycle record.
type CycleStatus string

const (
	// StatusStarting marks a record created at cycle entry, not yet
	// finalized.
	StatusStarting CycleStatus = "Starting"

	// StatusSuccess marks a cycle that reached its terminal state
	// without error.
	StatusSuccess CycleStatus = "Success"

	// StatusFailed marks a cycle terminated by an error; Reason carries
	// the verbatim error text.
	StatusFailed CycleStatus = "Failed"
)

// CycleRecord is one loop cycle's audit entry. It is created at cycle start
// and finalized exactly once at a terminal state, then appended to the
// immutable cycle history.
type CycleRecord struct {
	ID     string      `json:"id"`
	Start  time.Time   `json:"start"`
	End    *time.Time  `json:"end,omitempty"`
	Status CycleStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`

	// DurationMinutes is the cycle runtime, set at finalization.
	DurationMinutes *float64 `json:"duration_minutes,omitempty"`

	// IntervalMinutes measures from the end of the previous completed
	// cycle to this cycle's start. Nil when no completed cycle exists.
	IntervalMinutes *float64 `json:"interval_minutes,omitempty"`
}

// Completed reports whether the record reached a terminal state.
func (r CycleRecord) Completed() bool {
	return r.End != nil
}

// Succeeded reports whether the cycle terminated successfully.
func (r CycleRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}
