package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Registry is the in-memory device inventory, fed by bridge announcements.
//
// Devices are stored and returned as copies, so callers may modify what
// they receive. All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Device),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Upsert validates and stores a device, stamping LastSeen.
func (r *Registry) Upsert(d Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	d.LastSeen = r.now().UTC()

	r.mu.Lock()
	_, existed := r.devices[d.ID]
	r.devices[d.ID] = d
	r.mu.Unlock()

	if !existed {
		r.logger.Info("device added", "device_id", d.ID, "name", d.Name,
			"vibrate", d.Capabilities.Vibrate, "rotate", d.Capabilities.Rotate, "linear", d.Capabilities.Linear)
	}
	return nil
}

// Remove deletes a device. Returns ErrDeviceNotFound if it is unknown.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	r.logger.Info("device removed", "device_id", id)
	return nil
}

// Get returns a device by ID.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// List returns all devices sorted by name, then ID.
func (r *Registry) List() []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Clear forgets every device, e.g. when the bridge goes offline.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.devices)
	r.devices = make(map[string]Device)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Warn("device inventory cleared", "count", n)
	}
}
