package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"

	"github.com/nerrad567/pulse-core/internal/device"
)

// Scheduler states and events.
const (
	StateIdle    = "idle"
	StateRunning = "running"

	eventDispatch = "dispatch"
	eventFinish   = "finish"
)

// RetryPolicy bounds recovery from internal dispatch failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

// Scheduler runs at most one execution at a time and drains a FIFO queue.
//
// State lives in a small idle/running state machine. All transitions
// happen while holding mu, so a submit racing the end of an execution
// either starts immediately or is queued behind work that will be
// drained; it is never stranded.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	state    *fsm.FSM
	queue    CommandQueue
	current  *execution
	execSeq  int
	actuator Actuator
	engine   *PulseEngine
	clock    Clock
	cooldown time.Duration
	timeout  time.Duration

	// pending is the cooldown or retry timer. pendingSeq invalidates a
	// timer that fired after being replaced or stopped.
	pending    Timer
	pendingSeq int

	retry backoff.BackOff

	metrics  *Metrics
	observer Observer
	logger   Logger
}

type execution struct {
	id      string
	entry   *Entry
	handle  *Handle
	started time.Time
}

// NewScheduler creates an idle scheduler.
//
// Parameters:
//   - actuator: Source of devices for each execution
//   - engine: Runs the timed sequences
//   - clock: Time source for cooldown and retry timers
//   - cooldown: Gap between one execution finishing and the next starting
//   - callTimeout: Upper bound on ListDevices during dispatch
//   - retry: Backoff applied when dispatch fails unexpectedly
func NewScheduler(actuator Actuator, engine *PulseEngine, clock Clock, cooldown, callTimeout time.Duration, retry RetryPolicy) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	s := &Scheduler{
		actuator: actuator,
		engine:   engine,
		clock:    clock,
		cooldown: cooldown,
		timeout:  callTimeout,
		retry:    newRetryBackOff(retry),
		observer: nopObserver{},
		logger:   noopLogger{},
	}

	s.state = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventDispatch, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventFinish, Src: []string{StateRunning}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.metrics.setActive(e.Dst == StateRunning)
				s.logger.Debug("scheduler state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

func newRetryBackOff(p RetryPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(0, p.MaxAttempts)))
}

// SetLogger sets the logger for state changes and failures.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the collectors updated on every transition.
func (s *Scheduler) SetMetrics(m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// SetObserver sets the observer notified of finished executions.
func (s *Scheduler) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// EnqueueOrRun starts the entry immediately when the scheduler is idle
// and nothing is waiting; otherwise it appends it to the queue.
//
// Returns:
//   - int: 0 if the entry started now, otherwise its 1-based queue position
//   - error: ErrInternal if an immediate dispatch failed; the entry's
//     sink has then received a failed outcome
func (s *Scheduler) EnqueueOrRun(entry *Entry) (int, error) {
	if entry.Sink == nil {
		entry.Sink = NopSink{}
	}

	s.mu.Lock()
	if s.current == nil && s.queue.Len() == 0 {
		if err := s.startLocked(entry); err != nil {
			// The queue is empty, so nothing is abandoned here.
			s.failLocked(entry, err)
			s.mu.Unlock()
			s.reportFailure(entry, err)
			return 0, err
		}
		s.mu.Unlock()
		return 0, nil
	}

	pos := s.queue.Push(entry)
	s.metrics.setQueueLength(s.queue.Len())
	s.mu.Unlock()

	s.logger.Debug("entry queued", "entry_id", entry.ID, "position", pos)
	return pos, nil
}

// IsActive reports whether an execution is running.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Is(StateRunning)
}

// QueueLength returns the number of waiting entries.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Snapshot is a consistent view of the scheduler.
type Snapshot struct {
	Active      bool           `json:"active"`
	Current     *EntrySummary  `json:"current,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	QueueLength int            `json:"queue_length"`
	Queue       []EntrySummary `json:"queue"`
}

// Snapshot returns the current state with up to preview queued entries
// (all of them when preview <= 0).
func (s *Scheduler) Snapshot(preview int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Active:      s.state.Is(StateRunning),
		QueueLength: s.queue.Len(),
		Queue:       s.queue.Peek(preview),
	}
	if s.current != nil {
		summary := s.current.entry.Summary()
		snap.Current = &summary
		snap.StartedAt = s.current.started
	}
	return snap
}

// ClearAll cancels the running execution, drops every queued entry and
// returns to idle. Dropped entries are not notified.
//
// The cancelled execution keeps the slot until it has issued its final
// off and reported a cancelled outcome. A submission arriving meanwhile
// queues behind it and starts after the cooldown, so it can never be
// switched off by the cancelled execution.
//
// Must not be called from a Sink callback.
//
// Returns:
//   - int: number of queued entries dropped
//   - bool: whether a running execution was cancelled
func (s *Scheduler) ClearAll() (int, bool) {
	s.mu.Lock()
	exec := s.current
	dropped := s.queue.Clear()
	s.metrics.setQueueLength(0)
	s.stopPendingLocked()
	s.retry.Reset()
	s.mu.Unlock()

	// complete releases the slot once the final off has been sent.
	if exec != nil {
		exec.handle.Cancel()
		exec.handle.Wait()
	}

	s.logger.Info("scheduler cleared",
		"cancelled_running", exec != nil,
		"dropped_entries", dropped,
	)
	return dropped, exec != nil
}

// startLocked dispatches entry. Panics are converted to ErrInternal.
func (s *Scheduler) startLocked(entry *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: dispatch panic: %v", ErrInternal, r)
		}
	}()

	pattern, err := patternFor(entry.Kind)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	devices, err := s.actuator.ListDevices(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: listing devices: %w", ErrInternal, err)
	}

	if err := s.state.Event(context.Background(), eventDispatch); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}

	s.execSeq++
	exec := &execution{
		id:      "exec-" + strconv.Itoa(s.execSeq),
		entry:   entry,
		started: s.clock.Now(),
	}
	s.current = exec

	summary := entry.Summary()
	exec.handle = s.engine.Run(PulseRequest{
		ExecutionID: exec.id,
		Devices:     device.FilterByCapability(devices, device.CapVibrate),
		Intensity:   entry.Intensity,
		Duration:    entry.Duration(),
		Pattern:     pattern,
		OnStart: func() {
			entry.Sink.Started(summary)
		},
		OnTick: func(t Tick) {
			entry.Sink.Ticked(summary, t)
		},
		OnComplete: func(o Outcome) {
			s.complete(exec, o)
		},
	})

	s.retry.Reset()
	s.logger.Info("execution started",
		"execution_id", exec.id,
		"entry_id", entry.ID,
		"kind", entry.Kind,
		"requester_id", entry.RequesterID,
		"pattern", pattern.String(),
	)
	return nil
}

// complete is the engine's completion callback. It releases the slot and
// starts the cooldown before the sink hears about the outcome.
func (s *Scheduler) complete(exec *execution, outcome Outcome) {
	s.mu.Lock()
	current := s.current == exec
	if current {
		s.current = nil
		s.transitionLocked(eventFinish)
		s.scheduleLocked(s.cooldown)
	}
	metrics := s.metrics
	observer := s.observer
	s.mu.Unlock()

	metrics.executionFinished(exec.entry.Kind, outcome)

	summary := exec.entry.Summary()
	exec.entry.Sink.Completed(summary, outcome)
	observer.ExecutionFinished(summary, outcome)

	s.logger.Info("execution finished",
		"execution_id", exec.id,
		"entry_id", exec.entry.ID,
		"status", outcome.Status,
		"ticks", outcome.Ticks,
		"tick_failures", outcome.TickFailures,
		"elapsed", outcome.Elapsed,
	)
}

// processNext starts the head of the queue if the scheduler is idle.
func (s *Scheduler) processNext(seq int) {
	s.mu.Lock()
	if seq != s.pendingSeq {
		s.mu.Unlock()
		return
	}
	s.pending = nil

	if s.current != nil {
		s.mu.Unlock()
		return
	}
	entry, ok := s.queue.Pop()
	if !ok {
		s.mu.Unlock()
		return
	}
	s.metrics.setQueueLength(s.queue.Len())

	err := s.startLocked(entry)
	var abandoned []*Entry
	if err != nil {
		abandoned = s.failLocked(entry, err)
	}
	s.mu.Unlock()

	if err != nil {
		s.reportFailure(entry, err)
	}
	if len(abandoned) > 0 {
		gaveUp := fmt.Errorf("%w: dispatch retries exhausted: %w", ErrInternal, err)
		for _, e := range abandoned {
			s.reportFailure(e, gaveUp)
		}
	}
}

// failLocked resets to idle after a dispatch failure and schedules a
// bounded retry for the rest of the queue. Once the retries are used up
// the queue is emptied and its entries are returned so the caller can
// fail them outside the lock.
func (s *Scheduler) failLocked(entry *Entry, err error) []*Entry {
	s.current = nil
	if s.state.Is(StateRunning) {
		s.transitionLocked(eventFinish)
	}
	s.metrics.internalError()
	s.logger.Error("dispatch failed", "entry_id", entry.ID, "error", err)

	if s.queue.Len() == 0 {
		return nil
	}
	delay := s.retry.NextBackOff()
	if delay != backoff.Stop {
		s.scheduleLocked(delay)
		return nil
	}

	var abandoned []*Entry
	for {
		e, ok := s.queue.Pop()
		if !ok {
			break
		}
		abandoned = append(abandoned, e)
	}
	s.metrics.setQueueLength(0)
	s.retry.Reset()
	s.logger.Error("dispatch retries exhausted, failing queued entries",
		"abandoned", len(abandoned),
	)
	return abandoned
}

func (s *Scheduler) reportFailure(entry *Entry, err error) {
	s.mu.Lock()
	metrics := s.metrics
	observer := s.observer
	s.mu.Unlock()

	outcome := Outcome{Status: OutcomeFailed, Err: err}
	metrics.executionFinished(entry.Kind, outcome)

	summary := entry.Summary()
	entry.Sink.Completed(summary, outcome)
	observer.ExecutionFinished(summary, outcome)
}

func (s *Scheduler) scheduleLocked(delay time.Duration) {
	s.stopPendingLocked()
	seq := s.pendingSeq
	s.pending = s.clock.AfterFunc(delay, func() { s.processNext(seq) })
}

func (s *Scheduler) stopPendingLocked() {
	s.pendingSeq++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Scheduler) transitionLocked(event string) {
	if err := s.state.Event(context.Background(), event); err != nil {
		s.logger.Error("scheduler transition failed", "event", event, "state", s.state.Current(), "error", err)
	}
}

func patternFor(kind Kind) (Pattern, error) {
	switch kind {
	case KindVibrate:
		return PatternSteady, nil
	case KindPulse:
		return PatternPulse, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}
