package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
)

// Command names understood by the device bridge.
const (
	// CommandScalar sets every actuator of a capability to the given levels.
	CommandScalar = "scalar"

	// CommandStop halts every actuator on the device.
	CommandStop = "stop"
)

// Bridge presence values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// CommandMessage is published to pulsecore/command/{device_id}.
type CommandMessage struct {
	// ID correlates the command in bridge logs.
	ID string `json:"id"`

	DeviceID string `json:"device_id"`

	// Command is CommandScalar or CommandStop.
	Command string `json:"command"`

	// Capability and Levels are set for CommandScalar only.
	Capability device.Capability `json:"capability,omitempty"`
	Levels     []float64         `json:"levels,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Announcement is the retained payload on pulsecore/device/{device_id}.
type Announcement struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Capabilities device.Capabilities `json:"capabilities"`

	// Connected defaults to true when absent. false removes the device.
	Connected *bool `json:"connected,omitempty"`
}

// StatusMessage is the retained payload on pulsecore/bridge/status.
type StatusMessage struct {
	Status string `json:"status"`
}

// ParseAnnouncement decodes an announcement payload. A nil announcement
// with a nil error means the retained message was cleared.
func ParseAnnouncement(payload []byte) (*Announcement, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var a Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("%w: announcement: %w", ErrInvalidMessage, err)
	}
	return &a, nil
}

// IsConnected reports whether the announced device is available.
func (a *Announcement) IsConnected() bool {
	return a.Connected == nil || *a.Connected
}

// ParseStatus decodes a bridge status payload.
func ParseStatus(payload []byte) (StatusMessage, error) {
	var s StatusMessage
	if err := json.Unmarshal(payload, &s); err != nil {
		return StatusMessage{}, fmt.Errorf("%w: status: %w", ErrInvalidMessage, err)
	}
	if s.Status != StatusOnline && s.Status != StatusOffline {
		return StatusMessage{}, fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, s.Status)
	}
	return s, nil
}
