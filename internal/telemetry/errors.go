package telemetry

import (
	"errors"
	"fmt"
)

// Validation reason codes. These are stable machine-readable identifiers;
// transport adapters map them to response messages.
const (
	ReasonMalformedPayload   = "malformed_payload"
	ReasonMissingDevice      = "missing_device"
	ReasonMissingSensors     = "missing_sensors"
	ReasonMissingSensorType  = "missing_sensor_type"
	ReasonMissingSensorValue = "missing_sensor_value"
)

// ValidationError describes why a sensor batch was rejected.
//
// Check with errors.As to recover the reason code:
//
//	var verr *telemetry.ValidationError
//	if errors.As(err, &verr) {
//	    respondBadRequest(verr.Message)
//	}
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("telemetry: invalid batch (%s): %s", e.Reason, e.Message)
}

// newValidationError builds a ValidationError with the given reason code.
func newValidationError(reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}

// Sentinel errors for telemetry operations.
var (
	// ErrInvalidCommand is returned when an actuation command is missing a
	// channel or carries a value outside 0/1 (or true/false).
	ErrInvalidCommand = errors.New("telemetry: invalid LED command")

	// ErrForwardingFailed wraps device forwarding failures. It is reported
	// through a server_message event, never as an operation error.
	ErrForwardingFailed = errors.New("telemetry: command forwarding failed")
)
