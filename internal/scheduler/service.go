package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/infrastructure/config"
)

// DefaultQueuePreview is the number of queued entries Status returns.
const DefaultQueuePreview = 5

// SubmitStatus is the admission decision for a submission.
type SubmitStatus string

// Submission results.
const (
	StatusRunningNow          SubmitStatus = "running_now"
	StatusQueued              SubmitStatus = "queued"
	StatusRejectedRateLimited SubmitStatus = "rejected_rate_limited"
	StatusRejectedLocked      SubmitStatus = "rejected_locked"
	StatusRejectedNoDevices   SubmitStatus = "rejected_no_devices"
)

// Bounds holds inclusive intensity and duration (seconds) limits for a kind.
type Bounds struct {
	MinIntensity int
	MaxIntensity int
	MinDuration  int
	MaxDuration  int
}

// Options configures a Service.
type Options struct {
	RateLimit      int
	RateWindow     time.Duration
	PulseCadence   time.Duration
	Cooldown       time.Duration
	CallTimeout    time.Duration
	IntensityScale int
	Retry          RetryPolicy
	Bounds         map[Kind]Bounds

	// Clock defaults to the system clock.
	Clock Clock
}

// OptionsFromConfig maps the scheduler configuration section to Options.
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	toBounds := func(b config.CommandBounds) Bounds {
		return Bounds{
			MinIntensity: b.MinIntensity,
			MaxIntensity: b.MaxIntensity,
			MinDuration:  b.MinDuration,
			MaxDuration:  b.MaxDuration,
		}
	}
	return Options{
		RateLimit:      cfg.RateLimit.MaxCommands,
		RateWindow:     cfg.RateLimitWindow(),
		PulseCadence:   cfg.PulseCadence(),
		Cooldown:       cfg.Cooldown(),
		CallTimeout:    cfg.CallTimeout(),
		IntensityScale: cfg.IntensityScale,
		Retry: RetryPolicy{
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalMS) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Retry.MaxIntervalMS) * time.Millisecond,
			MaxAttempts:     cfg.Retry.MaxAttempts,
		},
		Bounds: map[Kind]Bounds{
			KindVibrate: toBounds(cfg.Commands.Vibrate),
			KindPulse:   toBounds(cfg.Commands.Pulse),
		},
	}
}

// Request is one user submission.
type Request struct {
	RequesterID     string
	RequesterLabel  string
	Kind            Kind
	Intensity       int
	DurationSeconds int

	// Sink receives progress if the request is admitted. Nil discards it.
	Sink Sink
}

// Result is the admission decision.
type Result struct {
	Status SubmitStatus `json:"status"`

	// Position is the 1-based queue position when Status is queued.
	Position int `json:"position,omitempty"`

	// EntryID is set for admitted requests.
	EntryID string `json:"entry_id,omitempty"`
}

// Admitted reports whether the request was accepted.
func (r Result) Admitted() bool {
	return r.Status == StatusRunningNow || r.Status == StatusQueued
}

// Err returns the sentinel error for a rejection, or nil if admitted.
func (r Result) Err() error {
	switch r.Status {
	case StatusRejectedRateLimited:
		return ErrRateLimited
	case StatusRejectedLocked:
		return ErrLocked
	case StatusRejectedNoDevices:
		return ErrNoDevices
	default:
		return nil
	}
}

// Status is the observable state for one requester.
type Status struct {
	Active      bool           `json:"active"`
	ActiveKind  Kind           `json:"active_kind,omitempty"`
	ActiveEntry *EntrySummary  `json:"active_entry,omitempty"`
	QueueLength int            `json:"queue_length"`
	Queue       []EntrySummary `json:"queue"`
	Remaining   int            `json:"remaining"`
	Limit       int            `json:"limit"`
	ResetIn     time.Duration  `json:"reset_in"`
	Locked      bool           `json:"locked"`
	LockedBy    string         `json:"locked_by,omitempty"`
}

// StopResult describes an emergency stop.
type StopResult struct {
	Devices          int  `json:"devices"`
	Signalled        int  `json:"signalled"`
	DroppedEntries   int  `json:"dropped_entries"`
	CancelledRunning bool `json:"cancelled_running"`
}

// Service is the entry point for submitting and controlling commands.
// It composes the rate limiter, lock gate and scheduler.
//
// Thread Safety: all methods are safe for concurrent use. Admission is
// serialised so concurrent submissions receive positions in the order
// they were admitted.
type Service struct {
	admit sync.Mutex

	limiter  *RateLimiter
	gate     *LockGate
	sched    *Scheduler
	engine   *PulseEngine
	actuator Actuator
	clock    Clock
	bounds   map[Kind]Bounds
	timeout  time.Duration

	metrics  *Metrics
	observer Observer
	logger   Logger
}

// NewService wires a Service around an Actuator.
func NewService(opts Options, actuator Actuator) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}

	engine := NewPulseEngine(actuator, clock, opts.PulseCadence, opts.CallTimeout, opts.IntensityScale)
	return &Service{
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateWindow, clock),
		gate:     NewLockGate(clock),
		sched:    NewScheduler(actuator, engine, clock, opts.Cooldown, opts.CallTimeout, opts.Retry),
		engine:   engine,
		actuator: actuator,
		clock:    clock,
		bounds:   opts.Bounds,
		timeout:  opts.CallTimeout,
		observer: nopObserver{},
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the service and its components.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	s.logger = logger
	s.engine.SetLogger(logger)
	s.sched.SetLogger(logger)
}

// SetMetrics enables Prometheus collectors.
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
	s.sched.SetMetrics(m)
}

// SetObserver registers an observer for audit and telemetry.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
	s.sched.SetObserver(o)
}

// Validate checks a request against the configured bounds.
func (s *Service) Validate(req Request) error {
	if strings.TrimSpace(req.RequesterID) == "" {
		return fmt.Errorf("%w: requester id is required", ErrInvalidRequest)
	}
	b, ok := s.bounds[req.Kind]
	if !ok {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, ErrInvalidKind, req.Kind)
	}
	if req.Intensity < b.MinIntensity || req.Intensity > b.MaxIntensity {
		return fmt.Errorf("%w: %w: %d not in [%d, %d]",
			ErrInvalidRequest, ErrInvalidIntensity, req.Intensity, b.MinIntensity, b.MaxIntensity)
	}
	if req.DurationSeconds < b.MinDuration || req.DurationSeconds > b.MaxDuration {
		return fmt.Errorf("%w: %w: %ds not in [%d, %d]",
			ErrInvalidRequest, ErrInvalidDuration, req.DurationSeconds, b.MinDuration, b.MaxDuration)
	}
	return nil
}

// Submit admits a request.
//
// Admission checks run in order: lock gate, device availability, then
// the requester's rate limit. A rejected request never consumes quota.
// The lock gate is consulted before validation, so while locked every
// request is rejected_locked, malformed or not.
//
// Returns:
//   - Result: running_now, queued (with position) or a rejection
//   - error: ErrInvalidRequest for bad input, ErrInternal if an immediate
//     dispatch failed
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	var (
		result Result
		err    error
	)
	if s.gate.IsLocked() {
		result = Result{Status: StatusRejectedLocked}
	} else {
		if verr := s.Validate(req); verr != nil {
			return Result{}, verr
		}
		s.admit.Lock()
		result, err = s.admitLocked(ctx, req)
		s.admit.Unlock()
	}

	s.metrics.submission(result.Status)
	s.observer.Submitted(req, result)
	s.logger.Info("command submitted",
		"requester_id", req.RequesterID,
		"kind", req.Kind,
		"intensity", req.Intensity,
		"duration_s", req.DurationSeconds,
		"result", result.Status,
		"position", result.Position,
	)
	return result, err
}

func (s *Service) admitLocked(ctx context.Context, req Request) (Result, error) {
	if s.gate.IsLocked() {
		return Result{Status: StatusRejectedLocked}, nil
	}
	if !s.devicesAvailable(ctx) {
		return Result{Status: StatusRejectedNoDevices}, nil
	}
	if !s.limiter.TryAcquire(req.RequesterID) {
		return Result{Status: StatusRejectedRateLimited}, nil
	}

	sink := req.Sink
	if sink == nil {
		sink = NopSink{}
	}
	entry := &Entry{
		ID:              "cmd-" + uuid.NewString()[:8],
		Kind:            req.Kind,
		RequesterID:     req.RequesterID,
		RequesterLabel:  req.RequesterLabel,
		Intensity:       req.Intensity,
		DurationSeconds: req.DurationSeconds,
		SubmittedAt:     s.clock.Now(),
		Sink:            sink,
	}

	pos, err := s.sched.EnqueueOrRun(entry)
	if err != nil {
		return Result{Status: StatusRunningNow, EntryID: entry.ID}, err
	}
	if pos == 0 {
		return Result{Status: StatusRunningNow, EntryID: entry.ID}, nil
	}
	return Result{Status: StatusQueued, Position: pos, EntryID: entry.ID}, nil
}

// devicesAvailable reports whether the actuator is reachable and at
// least one vibrate-capable device is connected.
func (s *Service) devicesAvailable(ctx context.Context) bool {
	if !s.actuator.IsConnected() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	devices, err := s.actuator.ListDevices(ctx)
	if err != nil {
		s.logger.Warn("listing devices for admission failed", "error", err)
		return false
	}
	return len(device.FilterByCapability(devices, device.CapVibrate)) > 0
}

// Status returns the scheduler state and requesterID's quota.
func (s *Service) Status(requesterID string) Status {
	snap := s.sched.Snapshot(DefaultQueuePreview)
	lock := s.gate.State()

	st := Status{
		Active:      snap.Active,
		ActiveEntry: snap.Current,
		QueueLength: snap.QueueLength,
		Queue:       snap.Queue,
		Limit:       s.limiter.Limit(),
		Remaining:   s.limiter.Remaining(requesterID),
		ResetIn:     s.limiter.ResetIn(requesterID),
		Locked:      lock.Locked,
		LockedBy:    lock.LockedBy,
	}
	if snap.Current != nil {
		st.ActiveKind = snap.Current.Kind
	}
	return st
}

// Remaining returns how many more requests requesterID may submit now.
func (s *Service) Remaining(requesterID string) int {
	return s.limiter.Remaining(requesterID)
}

// StopAll halts every known device, cancels the running execution and
// empties the queue. It bypasses the lock gate and rate limiter.
//
// Returns:
//   - int: number of devices successfully signalled
func (s *Service) StopAll(ctx context.Context, operatorID string) int {
	result := StopResult{}

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	devices, err := s.actuator.ListDevices(listCtx)
	cancel()
	if err != nil {
		s.logger.Error("listing devices for stop failed", "error", err)
	}
	result.Devices = len(devices)

	var signalled atomic.Int64
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, d := range devices {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			if err := s.actuator.StopDevice(callCtx, d.ID); err != nil {
				s.logger.Warn("device stop failed", "device_id", d.ID, "error", err)
				return nil
			}
			signalled.Add(1)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Workers never return errors; failures are counted

	result.Signalled = int(signalled.Load())
	result.DroppedEntries, result.CancelledRunning = s.sched.ClearAll()

	s.observer.Stopped(operatorID, result)
	s.logger.Warn("emergency stop",
		"operator_id", operatorID,
		"devices", result.Devices,
		"signalled", result.Signalled,
		"dropped_entries", result.DroppedEntries,
		"cancelled_running", result.CancelledRunning,
	)
	return result.Signalled
}

// Lock blocks new admissions. An execution already running continues.
func (s *Service) Lock(operatorID string) error {
	if err := s.gate.Lock(operatorID); err != nil {
		return err
	}
	s.observer.LockChanged(operatorID, true)
	s.logger.Info("admissions locked", "operator_id", operatorID)
	return nil
}

// Unlock re-opens admissions.
func (s *Service) Unlock(operatorID string) error {
	if err := s.gate.Unlock(operatorID); err != nil {
		return err
	}
	s.observer.LockChanged(operatorID, false)
	s.logger.Info("admissions unlocked", "operator_id", operatorID)
	return nil
}

// IsLocked reports whether admissions are blocked.
func (s *Service) IsLocked() bool {
	return s.gate.IsLocked()
}

// LockState returns who locked admissions and when.
func (s *Service) LockState() LockState {
	return s.gate.State()
}

// Devices returns the actuator's current inventory.
func (s *Service) Devices(ctx context.Context) ([]device.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.actuator.ListDevices(ctx)
}

// Connected reports whether the actuator can reach devices.
func (s *Service) Connected() bool {
	return s.actuator.IsConnected()
}
