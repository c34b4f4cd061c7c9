package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
)

// Pattern selects how an execution drives its devices over time.
type Pattern int

const (
	// PatternSteady turns devices on once and holds until the final off.
	PatternSteady Pattern = iota

	// PatternPulse toggles on/off every cadence, starting on.
	PatternPulse
)

// String returns the pattern name used in logs.
func (p Pattern) String() string {
	switch p {
	case PatternSteady:
		return "steady"
	case PatternPulse:
		return "pulse"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

// PulseRequest describes one timed execution.
type PulseRequest struct {
	ExecutionID string
	Devices     []device.Device
	Intensity   int
	Duration    time.Duration
	Pattern     Pattern

	// OnStart is called once before the first tick. Not called when
	// Devices is empty.
	OnStart func()

	// OnTick is called after every tick, outside any engine lock.
	OnTick func(Tick)

	// OnComplete is called exactly once, after the final off.
	OnComplete func(Outcome)
}

// PulseEngine executes timed on/off sequences against an Actuator.
//
// Ticks are computed as offsets from the execution start, so they do not
// drift when individual device calls are slow. Every execution ends with
// exactly one "off" to every targeted device, whether it completes
// naturally or is cancelled.
type PulseEngine struct {
	actuator    Actuator
	clock       Clock
	cadence     time.Duration
	callTimeout time.Duration
	scale       int
	logger      Logger
}

// NewPulseEngine creates an engine.
//
// Parameters:
//   - actuator: Device side used for every tick
//   - clock: Time source for tick scheduling
//   - cadence: Toggle interval for PatternPulse
//   - callTimeout: Upper bound on each device call
//   - scale: Divisor mapping user intensity to a [0,1] level
func NewPulseEngine(actuator Actuator, clock Clock, cadence, callTimeout time.Duration, scale int) *PulseEngine {
	if clock == nil {
		clock = SystemClock()
	}
	if scale <= 0 {
		scale = 100
	}
	return &PulseEngine{
		actuator:    actuator,
		clock:       clock,
		cadence:     cadence,
		callTimeout: callTimeout,
		scale:       scale,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for tick failures.
func (e *PulseEngine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Level converts a user intensity to a device level clamped to [0,1].
func (e *PulseEngine) Level(intensity int) float64 {
	level := float64(intensity) / float64(e.scale)
	switch {
	case level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}

// Run starts an execution in its own goroutine and returns its handle.
func (e *PulseEngine) Run(req PulseRequest) *Handle {
	h := &Handle{
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.run(h, req)
	return h
}

type step struct {
	at time.Duration
	on bool
}

// steps returns the tick offsets for a pattern. A pulse is on at every
// even multiple of cadence and off at every odd one, up to but excluding
// the duration.
func (e *PulseEngine) steps(p Pattern, duration time.Duration) []step {
	if p != PatternPulse || e.cadence <= 0 {
		return []step{{at: 0, on: true}}
	}
	var out []step
	for k := 0; time.Duration(k)*e.cadence < duration; k++ {
		out = append(out, step{at: time.Duration(k) * e.cadence, on: k%2 == 0})
	}
	return out
}

func (e *PulseEngine) run(h *Handle, req PulseRequest) {
	defer close(h.done)

	start := e.clock.Now()
	outcome := Outcome{Status: OutcomeSuccess, Devices: len(req.Devices)}

	if len(req.Devices) == 0 {
		outcome.Status = OutcomeNoDevices
		outcome.Err = ErrNoDevices
		if req.OnComplete != nil {
			req.OnComplete(outcome)
		}
		return
	}

	if req.OnStart != nil {
		req.OnStart()
	}

	level := e.Level(req.Intensity)
	cancelled := false

	for i, st := range e.steps(req.Pattern, req.Duration) {
		if !h.sleepUntil(e.clock, start, st.at) {
			cancelled = true
			break
		}

		target := 0.0
		if st.on {
			target = level
		}
		failures, ok := h.fire(func() int {
			return e.apply(req, target)
		})
		if !ok {
			cancelled = true
			break
		}

		outcome.Ticks++
		outcome.TickFailures += failures
		if req.OnTick != nil {
			req.OnTick(Tick{Index: i, On: st.on, Level: target, Offset: st.at, Failures: failures})
		}
	}

	if !cancelled && !h.sleepUntil(e.clock, start, req.Duration) {
		cancelled = true
	}
	if cancelled {
		outcome.Status = OutcomeCancelled
	}

	if err := e.off(req); err != nil {
		outcome.Err = err
		if outcome.Status == OutcomeSuccess {
			outcome.Status = OutcomeDegraded
		}
	}

	outcome.Elapsed = e.clock.Now().Sub(start)
	if req.OnComplete != nil {
		req.OnComplete(outcome)
	}
}

// apply sets every device to level and returns the number of failed calls.
// A failed call never aborts the execution.
func (e *PulseEngine) apply(req PulseRequest, level float64) int {
	failures := 0
	for _, d := range req.Devices {
		if err := e.actuate(d, level); err != nil {
			failures++
			e.logger.Warn("device tick failed",
				"execution_id", req.ExecutionID,
				"device_id", d.ID,
				"level", level,
				"error", err,
			)
		}
	}
	return failures
}

// off issues the final off to every device.
func (e *PulseEngine) off(req PulseRequest) error {
	var errs []error
	for _, d := range req.Devices {
		if err := e.actuate(d, 0); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	e.logger.Error("final off failed",
		"execution_id", req.ExecutionID,
		"failed_devices", len(errs),
	)
	return fmt.Errorf("final off failed on %d device(s): %w", len(errs), errors.Join(errs...))
}

func (e *PulseEngine) actuate(d device.Device, level float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	return e.actuator.Actuate(ctx, d.ID, device.CapVibrate, d.Levels(device.CapVibrate, level))
}

// Handle controls one running execution.
//
// Thread Safety: Cancel may be called from any goroutine, any number of
// times. Once Cancel returns no further tick is issued; only the final
// off follows.
type Handle struct {
	once      sync.Once
	mu        sync.Mutex
	cancelled bool
	cancelCh  chan struct{}
	done      chan struct{}
}

// Cancel stops the execution at the next tick boundary. If a tick is in
// flight, Cancel waits for it to finish.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.mu.Lock()
		h.cancelled = true
		h.mu.Unlock()
		close(h.cancelCh)
	})
}

// Done is closed after OnComplete has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the execution has completed.
func (h *Handle) Wait() {
	<-h.done
}

// fire runs one tick unless the handle has been cancelled.
func (h *Handle) fire(tick func() int) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return 0, false
	}
	return tick(), true
}

// sleepUntil waits until offset at from start. Returns false if cancelled.
func (h *Handle) sleepUntil(clock Clock, start time.Time, at time.Duration) bool {
	wait := at - clock.Now().Sub(start)
	if wait <= 0 {
		select {
		case <-h.cancelCh:
			return false
		default:
			return true
		}
	}

	timer := clock.NewTimer(wait)
	select {
	case <-timer.C():
		return true
	case <-h.cancelCh:
		timer.Stop()
		return false
	}
}
