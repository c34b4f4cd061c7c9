package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrActuationFailed) {
//	    // one device call failed; the execution continues
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidCapability is returned when a capability is not recognised.
	ErrInvalidCapability = errors.New("device: invalid capability")

	// ErrActuationFailed is returned when a single device call fails or
	// times out.
	ErrActuationFailed = errors.New("device: actuation failed")

	// ErrNotConnected is returned when the device bridge is unreachable.
	ErrNotConnected = errors.New("device: bridge not connected")
)
