package device

import "time"

// Capability is a kind of actuator a device exposes.
type Capability string

// Capability constants.
const (
	CapVibrate Capability = "vibrate"
	CapRotate  Capability = "rotate"
	CapLinear  Capability = "linear"
)

// AllCapabilities returns all known capabilities.
func AllCapabilities() []Capability {
	return []Capability{CapVibrate, CapRotate, CapLinear}
}

// Capabilities holds the number of actuators per capability. A device
// with Vibrate == 2 accepts a two element level vector for vibrate.
type Capabilities struct {
	Vibrate int `json:"vibrate"`
	Rotate  int `json:"rotate"`
	Linear  int `json:"linear"`
}

// Count returns the actuator count for a capability.
func (c Capabilities) Count(capability Capability) int {
	switch capability {
	case CapVibrate:
		return c.Vibrate
	case CapRotate:
		return c.Rotate
	case CapLinear:
		return c.Linear
	default:
		return 0
	}
}

// Device is a physical output device known to the bridge.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
}

// Has reports whether the device exposes at least one actuator of the
// given capability.
func (d Device) Has(capability Capability) bool {
	return d.Capabilities.Count(capability) > 0
}

// Levels returns a level vector for the capability with every actuator
// set to level.
func (d Device) Levels(capability Capability, level float64) []float64 {
	n := d.Capabilities.Count(capability)
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = level
	}
	return levels
}

// Summary counts devices per capability, as shown by the device listing.
type Summary struct {
	Total   int `json:"total"`
	Vibrate int `json:"vibrate"`
	Rotate  int `json:"rotate"`
	Linear  int `json:"linear"`
}

// Summarise counts how many devices expose each capability.
func Summarise(devices []Device) Summary {
	s := Summary{Total: len(devices)}
	for _, d := range devices {
		if d.Has(CapVibrate) {
			s.Vibrate++
		}
		if d.Has(CapRotate) {
			s.Rotate++
		}
		if d.Has(CapLinear) {
			s.Linear++
		}
	}
	return s
}

// FilterByCapability returns the devices exposing capability, preserving order.
func FilterByCapability(devices []Device, capability Capability) []Device {
	var out []Device
	for _, d := range devices {
		if d.Has(capability) {
			out = append(out, d)
		}
	}
	return out
}
