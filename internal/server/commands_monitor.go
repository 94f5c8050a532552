package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-noisemeter/internal/eventlog"
)

// handleStart processes a monitor/start command.
func (h *CommandHandler) handleStart(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	replyTo(send, cmd).async(func() (any, error) {
		defer triggerStatusUpdate()
		if err := h.ctl.Start(); err != nil {
			slog.Error("monitor/start: failed", "error", err)
			return nil, err
		}
		return nil, nil
	})
}

// handleStop processes a monitor/stop command.
func (h *CommandHandler) handleStop(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	replyTo(send, cmd).async(func() (any, error) {
		defer triggerStatusUpdate()
		return nil, h.ctl.Stop()
	})
}

// EventsResult is sent in response to events/list.
type EventsResult struct {
	Type    string           `json:"type"` // "events_result"
	Success bool             `json:"success"`
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
	Error   string           `json:"error,omitempty"`
}

// handleEventsList processes an events/list command.
func (h *CommandHandler) handleEventsList(cmd WSCommand, send chan<- any) {
	req := EventsListRequest{Limit: MaxEventEntries}
	if len(cmd.Data) > 0 && !decode(cmd, send, &req) {
		return
	}

	background(cmd.Type, func() {
		result := EventsResult{Type: "events_result", Success: true}
		events, hasMore, err := eventlog.ReadLast(h.eventsPath, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		} else {
			result.Events = events
			result.HasMore = hasMore
		}
		deliver(send, cmd.Type, result)
	}, nil)
}
