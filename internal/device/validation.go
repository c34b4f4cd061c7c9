package device

import (
	"fmt"
	"regexp"
)

const (
	maxNameLength = 100
	maxIDLength   = 64

	// maxActuators caps the level vector length per capability.
	maxActuators = 16
)

var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateDevice checks an announced device before it enters the registry.
func ValidateDevice(d Device) error {
	if d.ID == "" || len(d.ID) > maxIDLength || !idRegex.MatchString(d.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidDevice, d.ID)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	for _, c := range AllCapabilities() {
		n := d.Capabilities.Count(c)
		if n < 0 || n > maxActuators {
			return fmt.Errorf("%w: %s count %d out of range 0-%d", ErrInvalidDevice, c, n, maxActuators)
		}
	}
	return nil
}

// ParseCapability converts a string to a Capability.
func ParseCapability(s string) (Capability, error) {
	for _, c := range AllCapabilities() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCapability, s)
}
