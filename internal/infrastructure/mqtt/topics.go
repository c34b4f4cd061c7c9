package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Pulse Core topic.
const TopicPrefix = "pulsecore"

// Topics provides builders for Pulse Core MQTT topics.
//
// The device bridge owns the physical transport. Core publishes commands
// to it and learns the device inventory from its retained announcements:
//
//	pulsecore/command/{device_id}   core → bridge, not retained
//	pulsecore/device/{device_id}    bridge → core, retained announcement
//	pulsecore/bridge/status         bridge → core, retained presence
//	pulsecore/system/status         core presence (LWT)
type Topics struct{}

// DeviceCommand returns the command topic for one device.
//
// Example: pulsecore/command/dev-1
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceAnnouncement returns the retained announcement topic for one device.
//
// Example: pulsecore/device/dev-1
func (Topics) DeviceAnnouncement(deviceID string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefix, deviceID)
}

// AllDeviceAnnouncements matches every device announcement.
//
// Pattern: pulsecore/device/+
func (Topics) AllDeviceAnnouncements() string {
	return TopicPrefix + "/device/+"
}

// BridgeStatus returns the bridge presence topic.
func (Topics) BridgeStatus() string {
	return TopicPrefix + "/bridge/status"
}

// SystemStatus returns the core presence topic used for the Last Will.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceIDFromAnnouncement extracts the device ID from an announcement
// topic. ok is false for any other topic.
func (Topics) DeviceIDFromAnnouncement(topic string) (deviceID string, ok bool) {
	id, found := strings.CutPrefix(topic, TopicPrefix+"/device/")
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
