package device

import "errors"

// Result taxonomy shared by the store, the profile manager and the template
// registry.
//
// Callers wrap these with fmt.Errorf("...: %w", err) and check them using
// errors.Is():
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // expected in normal operation
//	}
var (
	// ErrInvalidArgument is returned for malformed, missing or oversized input.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrInvalidState is returned when an operation needs a prerequisite
	// (initialisation, an absent duplicate, more than one profile).
	ErrInvalidState = errors.New("device: invalid state")

	// ErrNotFound is returned for unknown devices, profiles or scenarios.
	ErrNotFound = errors.New("device: not found")

	// ErrNoMemory is returned when a fixed-capacity table is full.
	ErrNoMemory = errors.New("device: no memory")

	// ErrStorage is returned when persisted storage cannot be read or written.
	ErrStorage = errors.New("device: storage failure")
)
