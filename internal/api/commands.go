package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/nerrad567/pulse-core/internal/scheduler"
)

// commandRequest is the request body for POST /commands.
type commandRequest struct {
	Kind            string `json:"kind"`
	Intensity       int    `json:"intensity"`
	DurationSeconds int    `json:"duration_seconds"`
}

// commandResponse is returned for admitted commands.
type commandResponse struct {
	Status    scheduler.SubmitStatus `json:"status"`
	Position  int                    `json:"position,omitempty"`
	EntryID   string                 `json:"entry_id"`
	Remaining int                    `json:"remaining"`
}

// broadcaster is the part of the hub the command sink needs.
type broadcaster interface {
	Broadcast(channel string, payload any)
}

// commandEvent is the WebSocket payload for command progress.
type commandEvent struct {
	Entry   scheduler.EntrySummary `json:"entry"`
	Tick    *tickPayload           `json:"tick,omitempty"`
	Outcome *outcomePayload        `json:"outcome,omitempty"`
}

type tickPayload struct {
	Index    int     `json:"index"`
	On       bool    `json:"on"`
	Level    float64 `json:"level"`
	OffsetMS int64   `json:"offset_ms"`
	Failures int     `json:"failures"`
}

type outcomePayload struct {
	Status       scheduler.OutcomeStatus `json:"status"`
	Devices      int                     `json:"devices"`
	Ticks        int                     `json:"ticks"`
	TickFailures int                     `json:"tick_failures"`
	ElapsedMS    int64                   `json:"elapsed_ms"`
	Error        string                  `json:"error,omitempty"`
}

// hubSink relays one command's progress to WebSocket subscribers.
type hubSink struct {
	hub broadcaster
}

func (s hubSink) Started(entry scheduler.EntrySummary) {
	s.hub.Broadcast(ChannelCommandStarted, commandEvent{Entry: entry})
}

func (s hubSink) Ticked(entry scheduler.EntrySummary, tick scheduler.Tick) {
	s.hub.Broadcast(ChannelCommandTick, commandEvent{
		Entry: entry,
		Tick: &tickPayload{
			Index:    tick.Index,
			On:       tick.On,
			Level:    tick.Level,
			OffsetMS: tick.Offset.Milliseconds(),
			Failures: tick.Failures,
		},
	})
}

func (s hubSink) Completed(entry scheduler.EntrySummary, outcome scheduler.Outcome) {
	p := &outcomePayload{
		Status:       outcome.Status,
		Devices:      outcome.Devices,
		Ticks:        outcome.Ticks,
		TickFailures: outcome.TickFailures,
		ElapsedMS:    outcome.Elapsed.Milliseconds(),
	}
	if outcome.Err != nil {
		p.Error = outcome.Err.Error()
	}
	s.hub.Broadcast(ChannelCommandCompleted, commandEvent{Entry: entry, Outcome: p})
}

// handleSubmitCommand submits a vibrate or pulse command on behalf of the
// authenticated requester.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.sched.Submit(r.Context(), scheduler.Request{
		RequesterID:     identity.ID,
		RequesterLabel:  identity.DisplayName(),
		Kind:            scheduler.Kind(req.Kind),
		Intensity:       req.Intensity,
		DurationSeconds: req.DurationSeconds,
		Sink:            hubSink{hub: s.hub},
	})
	switch {
	case errors.Is(err, scheduler.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Error("command dispatch failed", "requester_id", identity.ID, "error", err)
		writeInternalError(w, "command could not be started")
		return
	}

	switch result.Status {
	case scheduler.StatusRunningNow, scheduler.StatusQueued:
		writeJSON(w, http.StatusAccepted, commandResponse{
			Status:    result.Status,
			Position:  result.Position,
			EntryID:   result.EntryID,
			Remaining: s.sched.Status(identity.ID).Remaining,
		})
	case scheduler.StatusRejectedRateLimited:
		st := s.sched.Status(identity.ID)
		retryAfter := int(math.Ceil(st.ResetIn.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited,
			"rate limit reached, try again in "+strconv.Itoa(retryAfter)+"s")
	case scheduler.StatusRejectedLocked:
		writeError(w, http.StatusLocked, ErrCodeLocked, "commands are locked by an operator")
	case scheduler.StatusRejectedNoDevices:
		writeError(w, http.StatusServiceUnavailable, ErrCodeNoDevices, "no devices connected")
	default:
		writeInternalError(w, "unexpected admission result")
	}
}
