package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-noisemeter/internal/detector"
	"github.com/oszuidwest/zwfm-noisemeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemeter/internal/server"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// queryInt returns the integer query parameter name, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// handleAPIStatus returns the detector status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPILevels returns the latest reading.
// GET /api/levels
func (s *Server) handleAPILevels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.detector.Levels())
}

// handleAPIStart starts a monitoring session.
// POST /api/monitor/start
func (s *Server) handleAPIStart(w http.ResponseWriter, _ *http.Request) {
	if !s.captureAvailable {
		s.writeError(w, http.StatusServiceUnavailable, "capture command not available")
		return
	}
	if err := s.detector.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, detector.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.detector.Status())
}

// handleAPIStop stops the running session.
// POST /api/monitor/stop
func (s *Server) handleAPIStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.detector.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.detector.Status())
}

// handleAPIThreshold changes the live alert threshold. Values outside the
// accepted range are clamped.
// PUT /api/threshold
func (s *Server) handleAPIThreshold(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.ThresholdUpdateRequest](s, w, r)
	if !ok {
		return
	}
	if req.ThresholdDB == nil {
		s.writeError(w, http.StatusBadRequest, "threshold_db is required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"threshold_db": s.detector.SetThreshold(*req.ThresholdDB)})
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=50&offset=0&type=alert
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", server.MaxEventEntries)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("type"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterSession, eventlog.FilterAlert, eventlog.FilterClip:
	default:
		s.writeError(w, http.StatusBadRequest, "type must be one of: session, alert, clip")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventsPath, limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.detector.Devices(),
	})
}
