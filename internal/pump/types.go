// Package pump defines the pump driver boundary and pump history model.
package pump

import "time"

// Status is a snapshot of the pump's delivery state.
type Status struct {
	Bolusing  bool      `json:"bolusing"`
	Suspended bool      `json:"suspended"`
	Timestamp time.Time `json:"timestamp"`
}

// TempBasal is the currently issued temporary basal command. A new command
// supersedes the previous one; commands are never merged.
type TempBasal struct {
	Rate            float64   `json:"rate"`
	DurationMinutes int       `json:"duration_minutes"`
	IssuedAt        time.Time `json:"issued_at"`
}

// Remaining returns the command with its duration decayed to now. A command
// whose duration has fully elapsed reports zero remaining minutes.
func (t TempBasal) Remaining(now time.Time) TempBasal {
	elapsed := int(now.Sub(t.IssuedAt).Minutes())
	remaining := t.DurationMinutes - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return TempBasal{Rate: t.Rate, DurationMinutes: remaining, IssuedAt: now}
}

// EventKind identifies a pump history event type.
type EventKind string

const (
	EventBolus             EventKind = "Bolus"
	EventTempBasalRate     EventKind = "TempBasal"
	EventTempBasalDuration EventKind = "TempBasalDuration"
	EventSuspend           EventKind = "PumpSuspend"
	EventResume            EventKind = "PumpResume"
	EventPrime             EventKind = "Prime"
	EventRewind            EventKind = "Rewind"
	EventAlarm             EventKind = "PumpAlarm"
)

// HistoryEvent is one append-only pump log entry, deduplicated by ID.
// Amount carries bolus units for bolus events and the rate in U/hr for
// temp-basal-rate events; DurationMinutes is set on duration markers.
type HistoryEvent struct {
	ID              string    `json:"id"`
	Kind            EventKind `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	Amount          *float64  `json:"amount,omitempty"`
	Rate            *float64  `json:"rate,omitempty"`
	DurationMinutes *int      `json:"duration,omitempty"`
}
