package bridge

import "errors"

var (
	// ErrInvalidLevels is returned when a level vector is empty or out of [0,1].
	ErrInvalidLevels = errors.New("bridge: invalid levels")

	// ErrInvalidMessage is returned for an announcement or status payload
	// that cannot be decoded.
	ErrInvalidMessage = errors.New("bridge: invalid message")

	// ErrBridgeOffline is returned by health checks when the bridge daemon
	// has not announced itself or has published an offline status.
	ErrBridgeOffline = errors.New("bridge: daemon offline")
)
