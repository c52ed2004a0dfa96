package offline

import "errors"

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("offline: invalid config")

	// ErrInstallIncomplete is returned by Install when some assets could not
	// be stored. The worker still installs; the error is informational.
	ErrInstallIncomplete = errors.New("offline: install incomplete")

	// ErrInvalidState is returned for a lifecycle step that is not allowed
	// from the worker's current state.
	ErrInvalidState = errors.New("offline: invalid state transition")

	// ErrUnknownMessage is returned for control messages with an unknown type.
	ErrUnknownMessage = errors.New("offline: unknown message type")
)
