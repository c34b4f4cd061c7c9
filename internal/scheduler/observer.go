package scheduler

// Observer receives scheduler events for persistence and telemetry.
// The audit recorder implements it.
//
// Calls are made outside scheduler locks and may come from any
// goroutine. Implementations must not block for long.
type Observer interface {
	// Submitted is called for every admission decision, including rejections.
	Submitted(req Request, result Result)

	// ExecutionFinished is called once per entry that reached dispatch.
	ExecutionFinished(entry EntrySummary, outcome Outcome)

	// LockChanged is called after a successful lock or unlock.
	LockChanged(operatorID string, locked bool)

	// Stopped is called after an emergency stop.
	Stopped(operatorID string, result StopResult)
}

type nopObserver struct{}

func (nopObserver) Submitted(Request, Result)              {}
func (nopObserver) ExecutionFinished(EntrySummary, Outcome) {}
func (nopObserver) LockChanged(string, bool)                {}
func (nopObserver) Stopped(string, StopResult)              {}
