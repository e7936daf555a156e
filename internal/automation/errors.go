package automation

import "errors"

// Domain errors for the automation package.
//
// Registry and dispatcher failures otherwise wrap the device sentinels
// (device.ErrInvalidArgument, device.ErrNoMemory, device.ErrNotFound), so
// callers check both with errors.Is.
var (
	// ErrUnknownTemplate is returned when registering a template kind the
	// registry has no runtime for.
	ErrUnknownTemplate = errors.New("template: unknown kind")

	// ErrMQTTUnavailable is returned when a scenario request cannot be
	// forwarded because no MQTT publisher is configured.
	ErrMQTTUnavailable = errors.New("scenario: MQTT unavailable")
)
