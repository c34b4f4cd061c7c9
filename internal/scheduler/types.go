package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
)

// Kind is the type of actuation a user requests.
type Kind string

// Command kinds.
const (
	// KindVibrate holds a steady level for the whole duration.
	KindVibrate Kind = "vibrate"

	// KindPulse toggles on and off on a fixed cadence.
	KindPulse Kind = "pulse"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{KindVibrate, KindPulse}
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %w: %q", ErrInvalidRequest, ErrInvalidKind, s)
}

// Entry is one queued or executing user request.
//
// An Entry is plain data. What it does is decided when it is dispatched,
// by interpreting Kind; it carries no behaviour of its own.
type Entry struct {
	ID              string
	Kind            Kind
	RequesterID     string
	RequesterLabel  string
	Intensity       int
	DurationSeconds int
	SubmittedAt     time.Time

	// Sink receives progress for this entry. Never nil once admitted.
	Sink Sink
}

// Duration returns the requested duration.
func (e *Entry) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

// Summary returns the observable fields of the entry.
func (e *Entry) Summary() EntrySummary {
	return EntrySummary{
		ID:              e.ID,
		Kind:            e.Kind,
		RequesterID:     e.RequesterID,
		RequesterLabel:  e.RequesterLabel,
		Intensity:       e.Intensity,
		DurationSeconds: e.DurationSeconds,
		SubmittedAt:     e.SubmittedAt,
	}
}

// EntrySummary is a read-only view of an Entry for status reporting.
type EntrySummary struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	RequesterID     string    `json:"requester_id"`
	RequesterLabel  string    `json:"requester_label"`
	Intensity       int       `json:"intensity"`
	DurationSeconds int       `json:"duration_seconds"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Tick is one on/off transition within an execution.
type Tick struct {
	Index    int           `json:"index"`
	On       bool          `json:"on"`
	Level    float64       `json:"level"`
	Offset   time.Duration `json:"offset"`
	Failures int           `json:"failures"`
}

// OutcomeStatus classifies how an execution ended.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeDegraded  OutcomeStatus = "degraded"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeNoDevices OutcomeStatus = "no_devices"
)

// Outcome is reported exactly once per admitted entry that reaches execution.
type Outcome struct {
	Status       OutcomeStatus `json:"status"`
	Devices      int           `json:"devices"`
	Ticks        int           `json:"ticks"`
	TickFailures int           `json:"tick_failures"`
	Elapsed      time.Duration `json:"elapsed"`

	// Err is set for degraded, failed and no_devices outcomes.
	Err error `json:"-"`
}

// Sink receives progress for one entry.
//
// For a given entry the calls are never concurrent and arrive in order:
// Started, zero or more Ticked, then Completed. An entry that fails before
// any device is touched receives Completed only. Entries dropped by an
// emergency stop while still queued receive nothing.
type Sink interface {
	Started(entry EntrySummary)
	Ticked(entry EntrySummary, tick Tick)
	Completed(entry EntrySummary, outcome Outcome)
}

// NopSink discards all progress.
type NopSink struct{}

// Started implements Sink.
func (NopSink) Started(EntrySummary) {}

// Ticked implements Sink.
func (NopSink) Ticked(EntrySummary, Tick) {}

// Completed implements Sink.
func (NopSink) Completed(EntrySummary, Outcome) {}

// Actuator is the device side of the scheduler. The MQTT bridge
// implements it in production.
type Actuator interface {
	// ListDevices returns every currently connected device.
	ListDevices(ctx context.Context) ([]device.Device, error)

	// Actuate sets one device's actuators of a capability to levels in [0,1].
	// Failures wrap device.ErrActuationFailed.
	Actuate(ctx context.Context, deviceID string, capability device.Capability, levels []float64) error

	// StopDevice halts every actuator on a device.
	StopDevice(ctx context.Context, deviceID string) error

	// IsConnected reports whether devices can currently be reached.
	IsConnected() bool
}

// Logger defines the logging interface used by the scheduler.
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
