package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/infrastructure/mqtt"
)

// ─── Mock MQTT client ───────────────────────────────────────────────

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockMQTT struct {
	mu         sync.Mutex
	connected  bool
	handlers   map[string]mqtt.MessageHandler
	messages   []published
	publishErr error
	block      chan struct{}
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, published{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) deliver(t *testing.T, subscription, topic, payload string) error {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[subscription]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %s", subscription)
	}
	return h(topic, []byte(payload))
}

func (m *mockMQTT) last(t *testing.T) (published, CommandMessage) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("nothing published")
	}
	p := m.messages[len(m.messages)-1]
	var cmd CommandMessage
	if err := json.Unmarshal(p.payload, &cmd); err != nil {
		t.Fatalf("published payload is not a command: %v", err)
	}
	return p, cmd
}

var topics mqtt.Topics

func startedBridge(t *testing.T) (*Bridge, *mockMQTT) {
	t.Helper()
	client := newMockMQTT()
	b := New(client, device.NewRegistry())
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := client.deliver(t, topics.BridgeStatus(), topics.BridgeStatus(), `{"status":"online"}`); err != nil {
		t.Fatalf("status delivery error = %v", err)
	}
	return b, client
}

func announce(t *testing.T, client *mockMQTT, id, payload string) error {
	t.Helper()
	return client.deliver(t, topics.AllDeviceAnnouncements(), topics.DeviceAnnouncement(id), payload)
}

// ─── Inventory ──────────────────────────────────────────────────────

func TestBridge_AnnouncementsPopulateInventory(t *testing.T) {
	b, client := startedBridge(t)

	if err := announce(t, client, "d1", `{"id":"d1","name":"Lush","capabilities":{"vibrate":1}}`); err != nil {
		t.Fatalf("announce error = %v", err)
	}
	if err := announce(t, client, "d2", `{"name":"Nora","capabilities":{"vibrate":1,"rotate":1}}`); err != nil {
		t.Fatalf("announce error = %v", err)
	}

	devices, err := b.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 || devices[0].Name != "Lush" || devices[1].Name != "Nora" {
		t.Fatalf("devices = %+v, want Lush and Nora", devices)
	}
	if !devices[1].Has(device.CapRotate) {
		t.Error("Nora should expose rotate")
	}

	// Cleared retained message and connected=false both remove.
	if err := announce(t, client, "d1", ``); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if err := announce(t, client, "d2", `{"name":"Nora","connected":false}`); err != nil {
		t.Fatalf("disconnect error = %v", err)
	}
	if devices, _ := b.ListDevices(context.Background()); len(devices) != 0 {
		t.Errorf("devices after removal = %+v, want none", devices)
	}
	if got := b.Stats().Announcements; got != 4 {
		t.Errorf("Announcements = %d, want 4", got)
	}
}

func TestBridge_InvalidAnnouncements(t *testing.T) {
	_, client := startedBridge(t)

	tests := []struct {
		name    string
		id      string
		payload string
		wantErr error
	}{
		{"malformed json", "d1", `{not json`, ErrInvalidMessage},
		{"mismatched id", "d1", `{"id":"other","capabilities":{"vibrate":1}}`, ErrInvalidMessage},
		{"too many actuators", "d1", `{"id":"d1","capabilities":{"vibrate":17}}`, device.ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := announce(t, client, tt.id, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := client.deliver(t, topics.AllDeviceAnnouncements(), "pulsecore/device/a/b", `{}`); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("nested topic error = %v, want ErrInvalidMessage", err)
	}
}

func TestBridge_ConnectivityFollowsBridgeStatus(t *testing.T) {
	b, client := startedBridge(t)
	if err := announce(t, client, "d1", `{"capabilities":{"vibrate":1}}`); err != nil {
		t.Fatalf("announce error = %v", err)
	}

	if !b.IsConnected() {
		t.Fatal("IsConnected() = false with bridge online")
	}

	if err := client.deliver(t, topics.BridgeStatus(), topics.BridgeStatus(), `{"status":"offline"}`); err != nil {
		t.Fatalf("status error = %v", err)
	}
	if b.IsConnected() {
		t.Error("IsConnected() = true with bridge offline")
	}
	if err := b.HealthCheck(context.Background()); !errors.Is(err, ErrBridgeOffline) {
		t.Errorf("HealthCheck() = %v, want ErrBridgeOffline", err)
	}
	if devices, _ := b.ListDevices(context.Background()); len(devices) != 0 {
		t.Errorf("offline bridge listed %d devices", len(devices))
	}

	if err := client.deliver(t, topics.BridgeStatus(), topics.BridgeStatus(), `{"status":"online"}`); err != nil {
		t.Fatalf("status error = %v", err)
	}
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v with bridge online", err)
	}
	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()
	if b.IsConnected() {
		t.Error("IsConnected() = true with broker down")
	}

	if err := client.deliver(t, topics.BridgeStatus(), topics.BridgeStatus(), `{"status":"sleeping"}`); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("unknown status error = %v, want ErrInvalidMessage", err)
	}
}

// ─── Commands ───────────────────────────────────────────────────────

func TestBridge_Actuate(t *testing.T) {
	b, client := startedBridge(t)
	if err := announce(t, client, "d1", `{"capabilities":{"vibrate":2}}`); err != nil {
		t.Fatalf("announce error = %v", err)
	}

	if err := b.Actuate(context.Background(), "d1", device.CapVibrate, []float64{0.5, 0.5}); err != nil {
		t.Fatalf("Actuate() error = %v", err)
	}

	p, cmd := client.last(t)
	if p.topic != "pulsecore/command/d1" {
		t.Errorf("topic = %q, want pulsecore/command/d1", p.topic)
	}
	if p.qos != 1 || p.retained {
		t.Errorf("qos = %d retained = %v, want 1 and false", p.qos, p.retained)
	}
	if cmd.Command != CommandScalar || cmd.Capability != device.CapVibrate || len(cmd.Levels) != 2 {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.ID == "" || cmd.Timestamp.IsZero() {
		t.Errorf("command missing id or timestamp: %+v", cmd)
	}
	if got := b.Stats().CommandsPublished; got != 1 {
		t.Errorf("CommandsPublished = %d, want 1", got)
	}
}

func TestBridge_ActuateErrors(t *testing.T) {
	b, client := startedBridge(t)
	if err := announce(t, client, "d1", `{"capabilities":{"vibrate":1}}`); err != nil {
		t.Fatalf("announce error = %v", err)
	}

	tests := []struct {
		name       string
		deviceID   string
		capability device.Capability
		levels     []float64
		wantErr    error
	}{
		{"unknown device", "nope", device.CapVibrate, []float64{0.5}, device.ErrDeviceNotFound},
		{"missing capability", "d1", device.CapRotate, []float64{0.5}, device.ErrInvalidCapability},
		{"wrong vector length", "d1", device.CapVibrate, []float64{0.5, 0.5}, ErrInvalidLevels},
		{"level above one", "d1", device.CapVibrate, []float64{1.5}, ErrInvalidLevels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Actuate(context.Background(), tt.deviceID, tt.capability, tt.levels)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, device.ErrActuationFailed) {
				t.Errorf("error = %v, want wrapping ErrActuationFailed", err)
			}
		})
	}
}

func TestBridge_PublishFailures(t *testing.T) {
	b, client := startedBridge(t)

	client.mu.Lock()
	client.publishErr = mqtt.ErrNotConnected
	client.mu.Unlock()

	err := b.StopDevice(context.Background(), "d1")
	if !errors.Is(err, device.ErrActuationFailed) || !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("StopDevice() error = %v, want ErrActuationFailed and ErrNotConnected", err)
	}
	if got := b.Stats().PublishFailures; got != 1 {
		t.Errorf("PublishFailures = %d, want 1", got)
	}
}

func TestBridge_PublishHonoursContext(t *testing.T) {
	b, client := startedBridge(t)

	release := make(chan struct{})
	client.mu.Lock()
	client.block = release
	client.mu.Unlock()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.StopDevice(ctx, "d1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("StopDevice() error = %v, want DeadlineExceeded", err)
	}
}

func TestBridge_StopCommand(t *testing.T) {
	b, client := startedBridge(t)

	if err := b.StopDevice(context.Background(), "d9"); err != nil {
		t.Fatalf("StopDevice() error = %v", err)
	}
	p, cmd := client.last(t)
	if p.topic != "pulsecore/command/d9" || cmd.Command != CommandStop || cmd.Levels != nil {
		t.Errorf("stop published %q %+v", p.topic, cmd)
	}
}
