package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/pulse-core/internal/scheduler"
)

// schedulerChange is the payload broadcast on scheduler.changed.
type schedulerChange struct {
	Action     string `json:"action"`
	OperatorID string `json:"operator_id"`
	Locked     bool   `json:"locked"`
	Signalled  *int   `json:"signalled,omitempty"`
}

// handleStopAll halts every device and drops the queue.
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	signalled := s.sched.StopAll(r.Context(), identity.ID)

	s.hub.Broadcast(ChannelSchedulerChanged, schedulerChange{
		Action:     "stop_all",
		OperatorID: identity.ID,
		Locked:     s.sched.LockState().Locked,
		Signalled:  &signalled,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"signalled": signalled,
	})
}

// handleLock blocks new admissions.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := s.sched.Lock(identity.ID); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyLocked) {
			writeConflict(w, "already locked by "+s.sched.LockState().LockedBy)
			return
		}
		writeInternalError(w, "lock failed")
		return
	}

	s.hub.Broadcast(ChannelSchedulerChanged, schedulerChange{
		Action:     "lock",
		OperatorID: identity.ID,
		Locked:     true,
	})
	writeJSON(w, http.StatusOK, s.sched.LockState())
}

// handleUnlock re-opens admissions.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := s.sched.Unlock(identity.ID); err != nil {
		if errors.Is(err, scheduler.ErrNotLocked) {
			writeConflict(w, "not locked")
			return
		}
		writeInternalError(w, "unlock failed")
		return
	}

	s.hub.Broadcast(ChannelSchedulerChanged, schedulerChange{
		Action:     "unlock",
		OperatorID: identity.ID,
		Locked:     false,
	})
	writeJSON(w, http.StatusOK, s.sched.LockState())
}
