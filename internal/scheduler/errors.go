package scheduler

import "errors"

// Domain errors for the scheduler package.
//
// Admission rejections (rate limited, locked, no devices) are reported as
// a Result status rather than an error, because the caller is expected to
// retry later. These errors cover invalid requests, lock misuse and
// internal failures.
var (
	// ErrInvalidRequest is wrapped by every request validation error.
	ErrInvalidRequest = errors.New("scheduler: invalid request")

	// ErrInvalidKind is returned for an unknown command kind.
	ErrInvalidKind = errors.New("scheduler: invalid command kind")

	// ErrInvalidIntensity is returned when intensity is outside the kind's bounds.
	ErrInvalidIntensity = errors.New("scheduler: intensity out of range")

	// ErrInvalidDuration is returned when duration is outside the kind's bounds.
	ErrInvalidDuration = errors.New("scheduler: duration out of range")

	// ErrRateLimited corresponds to the rejected_rate_limited result.
	ErrRateLimited = errors.New("scheduler: rate limited")

	// ErrLocked corresponds to the rejected_locked result.
	ErrLocked = errors.New("scheduler: admissions locked")

	// ErrAlreadyLocked is returned by Lock when the gate is already locked.
	ErrAlreadyLocked = errors.New("scheduler: already locked")

	// ErrNotLocked is returned by Unlock when the gate is not locked.
	ErrNotLocked = errors.New("scheduler: not locked")

	// ErrNoDevices corresponds to the rejected_no_devices result and also
	// marks an execution that found no usable device at dispatch.
	ErrNoDevices = errors.New("scheduler: no devices available")

	// ErrInternal wraps unexpected dispatch failures, including recovered panics.
	ErrInternal = errors.New("scheduler: internal error")
)
