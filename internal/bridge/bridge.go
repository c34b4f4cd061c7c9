package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/infrastructure/mqtt"
)

// commandQoS is used for every command. At-least-once is safe because
// scalar and stop commands are idempotent.
const commandQoS byte = 1

// MQTTClient is the subset of the MQTT client the bridge needs.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats are cumulative counters exposed by the metrics endpoint.
type Stats struct {
	CommandsPublished uint64 `json:"commands_published"`
	PublishFailures   uint64 `json:"publish_failures"`
	Announcements     uint64 `json:"announcements"`
	BridgeOnline      bool   `json:"bridge_online"`
}

// Bridge publishes device commands over MQTT and tracks the device
// inventory announced by the bridge process.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	client   MQTTClient
	registry *device.Registry
	topics   mqtt.Topics
	logger   Logger
	now      func() time.Time

	online        atomic.Bool
	published     atomic.Uint64
	failures      atomic.Uint64
	announcements atomic.Uint64
}

// New creates a bridge over an MQTT client and device registry.
// Call Start to subscribe to the inventory topics.
func New(client MQTTClient, registry *device.Registry) *Bridge {
	return &Bridge{
		client:   client,
		registry: registry,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to device announcements and bridge presence. Retained
// messages arrive immediately, so the inventory is populated shortly
// after Start returns.
func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.topics.BridgeStatus(), commandQoS, b.handleStatus); err != nil {
		return fmt.Errorf("subscribing to bridge status: %w", err)
	}
	if err := b.client.Subscribe(b.topics.AllDeviceAnnouncements(), commandQoS, b.handleAnnouncement); err != nil {
		return fmt.Errorf("subscribing to device announcements: %w", err)
	}
	b.logger.Info("device bridge subscriptions active")
	return nil
}

// IsConnected reports whether the broker is reachable and the bridge
// process has announced itself online.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected() && b.online.Load()
}

// ListDevices returns the announced devices, sorted by name.
func (b *Bridge) ListDevices(ctx context.Context) ([]device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.IsConnected() {
		return nil, nil
	}
	return b.registry.List(), nil
}

// Actuate publishes a scalar command setting every actuator of
// capability on deviceID to levels.
//
// Errors wrap device.ErrActuationFailed.
func (b *Bridge) Actuate(ctx context.Context, deviceID string, capability device.Capability, levels []float64) error {
	d, err := b.registry.Get(deviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrActuationFailed, err)
	}
	if err := validateLevels(d, capability, levels); err != nil {
		return fmt.Errorf("%w: %w", device.ErrActuationFailed, err)
	}

	return b.send(ctx, CommandMessage{
		DeviceID:   deviceID,
		Command:    CommandScalar,
		Capability: capability,
		Levels:     levels,
	})
}

// StopDevice publishes a stop command for deviceID. Unknown devices are
// still signalled; the bridge ignores what it does not know.
func (b *Bridge) StopDevice(ctx context.Context, deviceID string) error {
	return b.send(ctx, CommandMessage{DeviceID: deviceID, Command: CommandStop})
}

// Stats returns cumulative bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		CommandsPublished: b.published.Load(),
		PublishFailures:   b.failures.Load(),
		Announcements:     b.announcements.Load(),
		BridgeOnline:      b.online.Load(),
	}
}

// HealthCheck reports whether the bridge daemon is currently announcing
// itself as online.
func (b *Bridge) HealthCheck(_ context.Context) error {
	if !b.online.Load() {
		return ErrBridgeOffline
	}
	return nil
}

func (b *Bridge) send(ctx context.Context, msg CommandMessage) error {
	msg.ID = "cmd-" + uuid.NewString()[:8]
	msg.Timestamp = b.now().UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshalling command: %w", device.ErrActuationFailed, err)
	}

	if err := b.publish(ctx, b.topics.DeviceCommand(msg.DeviceID), payload); err != nil {
		b.failures.Add(1)
		if errors.Is(err, mqtt.ErrNotConnected) {
			err = fmt.Errorf("%w: %w", device.ErrNotConnected, err)
		}
		return fmt.Errorf("%w: %s %s: %w", device.ErrActuationFailed, msg.Command, msg.DeviceID, err)
	}
	b.published.Add(1)
	return nil
}

// publish bounds the broker round trip by ctx.
func (b *Bridge) publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.client.Publish(topic, payload, commandQoS, false)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) handleStatus(_ string, payload []byte) error {
	status, err := ParseStatus(payload)
	if err != nil {
		return err
	}

	online := status.Status == StatusOnline
	if b.online.Swap(online) == online {
		return nil
	}

	if online {
		b.logger.Info("device bridge online")
		return nil
	}

	// Announcements are meaningless while the bridge is down; it
	// re-announces on return.
	b.registry.Clear()
	b.logger.Warn("device bridge offline, inventory cleared")
	return nil
}

func (b *Bridge) handleAnnouncement(topic string, payload []byte) error {
	id, ok := b.topics.DeviceIDFromAnnouncement(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidMessage, topic)
	}
	b.announcements.Add(1)

	a, err := ParseAnnouncement(payload)
	if err != nil {
		return err
	}
	if a == nil || !a.IsConnected() {
		if err := b.registry.Remove(id); err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			return err
		}
		return nil
	}

	if a.ID != "" && a.ID != id {
		return fmt.Errorf("%w: announcement id %q on topic for %q", ErrInvalidMessage, a.ID, id)
	}
	return b.registry.Upsert(device.Device{
		ID:           id,
		Name:         a.Name,
		Capabilities: a.Capabilities,
	})
}

func validateLevels(d device.Device, capability device.Capability, levels []float64) error {
	want := d.Capabilities.Count(capability)
	if want == 0 {
		return fmt.Errorf("%w: device %s has no %s actuator", device.ErrInvalidCapability, d.ID, capability)
	}
	if len(levels) != want {
		return fmt.Errorf("%w: got %d levels for %d actuators", ErrInvalidLevels, len(levels), want)
	}
	for _, l := range levels {
		if l < 0 || l > 1 {
			return fmt.Errorf("%w: level %v outside [0,1]", ErrInvalidLevels, l)
		}
	}
	return nil
}
