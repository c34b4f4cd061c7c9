package api

import (
	"math"
	"net/http"

	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/scheduler"
)

// statusResponse is the response body for GET /status.
type statusResponse struct {
	Active         bool                     `json:"active"`
	ActiveKind     scheduler.Kind           `json:"active_kind,omitempty"`
	ActiveEntry    *scheduler.EntrySummary  `json:"active_entry,omitempty"`
	QueueLength    int                      `json:"queue_length"`
	Queue          []scheduler.EntrySummary `json:"queue"`
	Remaining      int                      `json:"remaining"`
	Limit          int                      `json:"limit"`
	ResetInSeconds int                      `json:"reset_in_seconds"`
	Locked         bool                     `json:"locked"`
	LockedBy       string                   `json:"locked_by,omitempty"`
	Connected      bool                     `json:"connected"`
}

// handleStatus returns the scheduler state and the caller's quota.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	st := s.sched.Status(identity.ID)
	queue := st.Queue
	if queue == nil {
		queue = []scheduler.EntrySummary{}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Active:         st.Active,
		ActiveKind:     st.ActiveKind,
		ActiveEntry:    st.ActiveEntry,
		QueueLength:    st.QueueLength,
		Queue:          queue,
		Remaining:      st.Remaining,
		Limit:          st.Limit,
		ResetInSeconds: int(math.Ceil(st.ResetIn.Seconds())),
		Locked:         st.Locked,
		LockedBy:       st.LockedBy,
		Connected:      s.sched.Connected(),
	})
}

// devicesResponse is the response body for GET /devices.
type devicesResponse struct {
	Connected bool            `json:"connected"`
	Devices   []device.Device `json:"devices"`
	Summary   device.Summary  `json:"summary"`
}

// handleListDevices returns the bridge's device inventory with
// per-capability counts.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.sched.Devices(r.Context())
	if err != nil {
		s.logger.Warn("listing devices failed", "error", err)
		writeUnavailable(w, "device inventory unavailable")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}

	writeJSON(w, http.StatusOK, devicesResponse{
		Connected: s.sched.Connected(),
		Devices:   devices,
		Summary:   device.Summarise(devices),
	})
}
