package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pulse-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pulse-core/internal/scheduler"
)

// Audit actions.
const (
	ActionSubmit  = "submit"
	ActionExecute = "execute"
	ActionLock    = "lock"
	ActionUnlock  = "unlock"
	ActionStopAll = "stop_all"
)

// Entity types.
const (
	EntityCommand   = "command"
	EntityScheduler = "scheduler"
)

const (
	// defaultBufferSize is the number of pending writes held before new
	// events are dropped.
	defaultBufferSize = 256

	// writeTimeout bounds each SQLite insert.
	writeTimeout = 5 * time.Second
)

// TelemetryWriter receives one point per finished execution.
// *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteActuation(p influxdb.ActuationPoint)
}

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder turns scheduler events into audit rows and telemetry points.
//
// Events are queued on a bounded buffer and written by a single worker,
// so Observer methods never block. When the buffer is full the event is
// dropped and counted.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	repo      Repository
	telemetry TelemetryWriter
	logger    Logger
	now       func() time.Time

	// mu guards closing pending against concurrent sends.
	mu      sync.RWMutex
	closed  bool
	pending chan *AuditLog
	wg      sync.WaitGroup
	started atomic.Bool
	dropped atomic.Uint64
}

// NewRecorder creates a recorder. telemetry may be nil.
func NewRecorder(repo Repository, telemetry TelemetryWriter) *Recorder {
	return &Recorder{
		repo:      repo,
		telemetry: telemetry,
		logger:    noopLogger{},
		now:       time.Now,
		pending:   make(chan *AuditLog, defaultBufferSize),
	}
}

// SetLogger sets the logger for write failures.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	if r.started.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.run()
}

// Stop flushes queued events and waits for the writer to exit. Events
// observed after Stop are dropped.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.pending)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Dropped returns the number of events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for log := range r.pending {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Create(ctx, log); err != nil {
			r.logger.Error("writing audit log failed", "action", log.Action, "error", err)
		}
		cancel()
	}
}

func (r *Recorder) enqueue(log *AuditLog) {
	log.CreatedAt = r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.pending <- log:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit buffer full, event dropped", "action", log.Action)
	}
}

// Submitted implements scheduler.Observer.
func (r *Recorder) Submitted(req scheduler.Request, result scheduler.Result) {
	details := map[string]any{
		"kind":             string(req.Kind),
		"intensity":        req.Intensity,
		"duration_seconds": req.DurationSeconds,
	}
	if req.RequesterLabel != "" {
		details["requester_label"] = req.RequesterLabel
	}
	if result.Position > 0 {
		details["position"] = result.Position
	}
	r.enqueue(&AuditLog{
		Action:     ActionSubmit,
		EntityType: EntityCommand,
		EntityID:   result.EntryID,
		ActorID:    req.RequesterID,
		Result:     string(result.Status),
		Details:    details,
	})
}

// ExecutionFinished implements scheduler.Observer.
func (r *Recorder) ExecutionFinished(entry scheduler.EntrySummary, outcome scheduler.Outcome) {
	details := map[string]any{
		"kind":          string(entry.Kind),
		"devices":       outcome.Devices,
		"ticks":         outcome.Ticks,
		"tick_failures": outcome.TickFailures,
		"elapsed_ms":    outcome.Elapsed.Milliseconds(),
	}
	if outcome.Err != nil {
		details["error"] = outcome.Err.Error()
	}
	r.enqueue(&AuditLog{
		Action:     ActionExecute,
		EntityType: EntityCommand,
		EntityID:   entry.ID,
		ActorID:    entry.RequesterID,
		Result:     string(outcome.Status),
		Details:    details,
	})

	if r.telemetry != nil {
		r.telemetry.WriteActuation(influxdb.ActuationPoint{
			Kind:         string(entry.Kind),
			Outcome:      string(outcome.Status),
			RequesterID:  entry.RequesterID,
			Intensity:    entry.Intensity,
			Duration:     time.Duration(entry.DurationSeconds) * time.Second,
			Elapsed:      outcome.Elapsed,
			Devices:      outcome.Devices,
			TickFailures: outcome.TickFailures,
			FinishedAt:   r.now(),
		})
	}
}

// LockChanged implements scheduler.Observer.
func (r *Recorder) LockChanged(operatorID string, locked bool) {
	action := ActionUnlock
	if locked {
		action = ActionLock
	}
	r.enqueue(&AuditLog{
		Action:     action,
		EntityType: EntityScheduler,
		ActorID:    operatorID,
		Result:     "ok",
	})
}

// Stopped implements scheduler.Observer.
func (r *Recorder) Stopped(operatorID string, result scheduler.StopResult) {
	r.enqueue(&AuditLog{
		Action:     ActionStopAll,
		EntityType: EntityScheduler,
		ActorID:    operatorID,
		Result:     "ok",
		Details: map[string]any{
			"devices":           result.Devices,
			"signalled":         result.Signalled,
			"dropped_entries":   result.DroppedEntries,
			"cancelled_running": result.CancelledRunning,
		},
	})
}
