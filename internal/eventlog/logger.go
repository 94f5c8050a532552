// Package eventlog records monitoring sessions, noise alerts and clips in a
// single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
	CaptureError   EventType = "capture_error"
)

// Alert event types.
const (
	AlertRaised EventType = "alert_raised"
)

// Clip event types.
const (
	ClipSaved  EventType = "clip_saved"
	ClipFailed EventType = "clip_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	Input       string  `json:"input,omitempty"`
	ThresholdDB float64 `json:"threshold_db"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Alerts      int     `json:"alerts,omitempty"`
	ScratchFile string  `json:"scratch_file,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// AlertDetails contains alert-specific event details.
type AlertDetails struct {
	AlertID     string  `json:"alert_id"`
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db"`
}

// ClipDetails contains clip-specific event details.
type ClipDetails struct {
	AlertID    string `json:"alert_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	S3Key      string `json:"s3_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "noisemeter", "logs", fmt.Sprintf("%d", port), "events.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/noisemeter", fmt.Sprintf("%d", port), "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a session lifecycle event.
func (l *Logger) LogSession(eventType EventType, sessionID, message string, details *SessionDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Message:   message,
		Details:   details,
	})
}

// LogAlert logs a raised noise alert.
func (l *Logger) LogAlert(sessionID, alertID, message string, level, threshold float64, at time.Time) error {
	return l.Log(&Event{
		Timestamp: at,
		Type:      AlertRaised,
		SessionID: sessionID,
		Message:   message,
		Details: &AlertDetails{
			AlertID:     alertID,
			LevelDB:     level,
			ThresholdDB: threshold,
		},
	})
}

// LogClip logs the outcome of saving an alert clip.
func (l *Logger) LogClip(sessionID string, details *ClipDetails) error {
	eventType := ClipSaved
	if details.Error != "" {
		eventType = ClipFailed
	}
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterAlert   TypeFilter = "alert"
	FilterClip    TypeFilter = "clip"
)

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterSession:
		return IsSessionEvent(t)
	case FilterAlert:
		return t == AlertRaised
	case FilterClip:
		return IsClipEvent(t)
	default:
		return false
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first,
// and whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	matched := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal(lines[i], &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}

		matched++
		if matched <= offset {
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// IsSessionEvent returns true if the event type is a session event.
func IsSessionEvent(t EventType) bool {
	return t == SessionStarted || t == SessionStopped || t == CaptureError
}

// IsClipEvent returns true if the event type is a clip event.
func IsClipEvent(t EventType) bool {
	return t == ClipSaved || t == ClipFailed
}
