package loop

import (
	"errors"
	"fmt"
)

// ErrorKind classifies cycle failures.
type ErrorKind string

const (
	// KindPump marks a device driver failure.
	KindPump ErrorKind = "pump"

	// KindInvalidPumpState marks a safety gate rejection
	// (busy, suspended, empty reservoir, not configured).
	KindInvalidPumpState ErrorKind = "invalid_pump_state"

	// KindGlucose marks a glucose readiness rejection.
	KindGlucose ErrorKind = "glucose"

	// KindAlgorithm marks inconsistent or failed algorithm output.
	KindAlgorithm ErrorKind = "algorithm"

	// KindManualBasalConflict marks a manual temp basal blocking
	// automatic looping.
	KindManualBasalConflict ErrorKind = "manual_basal_conflict"
)

// Error is a classified cycle failure. Message is attached verbatim to the
// terminal CycleRecord.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewPumpError wraps a device driver failure.
func NewPumpError(err error) *Error {
	return &Error{Kind: KindPump, Message: "pump error", Err: err}
}

// NewInvalidPumpStateError reports a safety gate rejection.
func NewInvalidPumpStateError(message string) *Error {
	return &Error{Kind: KindInvalidPumpState, Message: "invalid pump state: " + message}
}

// NewGlucoseError wraps a glucose readiness rejection.
func NewGlucoseError(err error) *Error {
	return &Error{Kind: KindGlucose, Message: "invalid glucose", Err: err}
}

// NewAlgorithmError reports a dosing algorithm failure.
func NewAlgorithmError(message string, err error) *Error {
	return &Error{Kind: KindAlgorithm, Message: message, Err: err}
}

// NewManualBasalConflictError reports a manual temp basal conflict.
func NewManualBasalConflictError(message string) *Error {
	return &Error{Kind: KindManualBasalConflict, Message: message}
}

// KindOf extracts the error kind, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
