package monitor

import (
	"errors"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
)

// ErrCaptureUnavailable is returned by a SampleSource that cannot produce a
// sample for the current tick.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// State is the monitoring session state.
type State string

const (
	// StateIdle indicates no session is running.
	StateIdle State = "idle"
	// StateMonitoring indicates a session is polling its sample source.
	StateMonitoring State = "monitoring"
)

// SampleSource yields one peak amplitude per poll. NextSample is called
// without the monitor's lock held; a session stopped while a call is in
// flight discards its result.
type SampleSource interface {
	NextSample() (int, error)
}

// Sink receives the output of each tick.
// Calls are made from the monitoring goroutine without holding monitor locks.
type Sink interface {
	Reading(r Reading)
	Alert(a Alert)
	CaptureFailed(err error)
}

// Reading is the display data produced by a successful tick.
type Reading struct {
	SessionID string     `json:"session_id"`
	Amplitude int        `json:"amplitude"`
	Level     float64    `json:"level_db"`
	HeldLevel float64    `json:"held_level_db"`
	Band      audio.Band `json:"band"`
	Meter     int        `json:"meter"`
	Threshold float64    `json:"threshold_db"`
	Timestamp time.Time  `json:"ts"`
}

// Alert is raised once per excursion above the threshold.
type Alert struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Level     float64   `json:"level_db"`
	Threshold float64   `json:"threshold_db"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// Sinks fans out tick output to several sinks in order.
type Sinks []Sink

// Reading forwards r to every sink.
func (s Sinks) Reading(r Reading) {
	for _, sink := range s {
		sink.Reading(r)
	}
}

// Alert forwards a to every sink.
func (s Sinks) Alert(a Alert) {
	for _, sink := range s {
		sink.Alert(a)
	}
}

// CaptureFailed forwards err to every sink.
func (s Sinks) CaptureFailed(err error) {
	for _, sink := range s {
		sink.CaptureFailed(err)
	}
}
