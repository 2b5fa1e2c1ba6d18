package directory

import "errors"

var (
	// ErrInvalidDevice is returned when a registration is missing the
	// name, address or type.
	ErrInvalidDevice = errors.New("directory: device name, address and type are required")

	// ErrNoTarget is returned when no device of the controller type has
	// registered. Callers fall back to the configured default address.
	ErrNoTarget = errors.New("directory: no target device registered")
)
