package scheduler

import (
	"fmt"
	"sync"
	"time"
)

// LockState is a snapshot of the admission lock.
type LockState struct {
	Locked   bool      `json:"locked"`
	LockedBy string    `json:"locked_by,omitempty"`
	LockedAt time.Time `json:"locked_at,omitempty"`
}

// LockGate is a global operator switch that blocks new admissions.
//
// It never expires and never interrupts an execution already running.
type LockGate struct {
	mu    sync.RWMutex
	state LockState
	clock Clock
}

// NewLockGate returns an unlocked gate.
func NewLockGate(clock Clock) *LockGate {
	if clock == nil {
		clock = SystemClock()
	}
	return &LockGate{clock: clock}
}

// IsLocked reports whether admissions are blocked.
func (g *LockGate) IsLocked() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Locked
}

// Lock blocks admissions. Returns ErrAlreadyLocked if already locked.
func (g *LockGate) Lock(operatorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Locked {
		return fmt.Errorf("%w by %s", ErrAlreadyLocked, g.state.LockedBy)
	}
	g.state = LockState{Locked: true, LockedBy: operatorID, LockedAt: g.clock.Now()}
	return nil
}

// Unlock re-opens admissions. Returns ErrNotLocked if not locked. Any
// operator may unlock, not only the one who locked.
func (g *LockGate) Unlock(_ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.Locked {
		return ErrNotLocked
	}
	g.state = LockState{}
	return nil
}

// State returns the current lock state.
func (g *LockGate) State() LockState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}
