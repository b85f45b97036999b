// Package safety gates every physical pump command. The check is pure and
// cheap, and is re-evaluated immediately before each command rather than
// cached per cycle: a manual bolus or suspend can land between determination
// and enactment.
package safety

import "github.com/aidkit/loopcore/internal/pump"

// Result is the outcome of a gate check.
type Result int

const (
	Ok Result = iota
	PumpNotConfigured
	PumpBusy
	PumpSuspended
	ReservoirEmpty
)

// String returns a human-readable gate outcome.
func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case PumpNotConfigured:
		return "pump not configured"
	case PumpBusy:
		return "pump is bolusing"
	case PumpSuspended:
		return "pump suspended"
	case ReservoirEmpty:
		return "reservoir is empty"
	default:
		return "unknown"
	}
}

// Passed reports whether commands may be issued.
func (r Result) Passed() bool {
	return r == Ok
}

// Reservoir is a reservoir reading. Pumps that do not report a level leave
// Known false, which passes the gate.
type Reservoir struct {
	Level float64
	Known bool
}

// Check evaluates pump readiness for a physical command. A nil status means
// no pump is paired.
func Check(status *pump.Status, reservoir Reservoir) Result {
	if status == nil {
		return PumpNotConfigured
	}
	if status.Bolusing {
		return PumpBusy
	}
	if status.Suspended {
		return PumpSuspended
	}
	// A reading of exactly zero still passes: pumps report 0 while the
	// final units deliver. Only negative sentinel values fail the gate.
	if reservoir.Known && reservoir.Level < 0 {
		return ReservoirEmpty
	}
	return Ok
}
