package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// AlertLogEntry is one line in the alert log file.
type AlertLogEntry struct {
	Timestamp   string  `json:"timestamp"`
	Event       string  `json:"event"`
	AlertID     string  `json:"alert_id,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db"`
	Message     string  `json:"message,omitempty"`
}

// LogAlert appends a noise alert to the log file.
func LogAlert(logPath string, a *types.AlertInfo) error {
	return appendLogEntry(logPath, &AlertLogEntry{
		Timestamp:   a.Timestamp.UTC().Format(time.RFC3339),
		Event:       "noise_alert",
		AlertID:     a.ID,
		SessionID:   a.SessionID,
		LevelDB:     a.LevelDB,
		ThresholdDB: a.Threshold,
		Message:     a.Message,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &AlertLogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *AlertLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
