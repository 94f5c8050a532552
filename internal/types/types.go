// Package types provides shared type definitions used across the noise meter.
package types

import (
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
)

// DetectorState represents the state of the noise detector.
type DetectorState string

const (
	// StateStopped indicates no capture or monitoring is running.
	StateStopped DetectorState = "stopped"
	// StateStarting indicates the capture process is being launched.
	StateStarting DetectorState = "starting"
	// StateRunning indicates audio is being captured and monitored.
	StateRunning DetectorState = "running"
	// StateStopping indicates capture is shutting down.
	StateStopping DetectorState = "stopping"
)

const (
	// ShutdownTimeout is the duration to wait for the capture process to exit.
	ShutdownTimeout = 3000 * time.Millisecond
	// AlertDisplayMs is how long the UI shows an alert message.
	AlertDisplayMs = 2750
	// AlertVibrateMs is the haptic pulse length requested with an alert.
	AlertVibrateMs = 300
)

// DetectorStatus summarizes the detector's operational state.
type DetectorStatus struct {
	State     DetectorState `json:"state"`                 // Current detector state
	SessionID string        `json:"session_id,omitzero"`   // Running monitoring session
	Uptime    string        `json:"uptime,omitzero"`       // Time since start
	LastError string        `json:"last_error,omitzero"`   // Most recent capture error
	Threshold float64       `json:"threshold_db"`          // Alert threshold in force
	Alerts    int           `json:"alerts"`                // Alerts raised this session
	Scratch   string        `json:"scratch_file,omitzero"` // Session recording file
}

// NoiseLevels is the latest reading as shown by the UI.
type NoiseLevels struct {
	Active    bool       `json:"active"`       // A session is producing readings
	LevelDB   float64    `json:"level_db"`     // Level in dBFS
	DisplayDB int        `json:"display_db"`   // Level truncated for display
	HeldDB    float64    `json:"held_db"`      // Held peak level in dBFS
	Band      audio.Band `json:"band"`         // low, medium or high
	Label     string     `json:"label"`        // Band label or "Stopped"
	Color     string     `json:"color"`        // Indicator color (#RRGGBB)
	Meter     int        `json:"meter"`        // Meter position 0-100
	Threshold float64    `json:"threshold_db"` // Alert threshold in dBFS
	Timestamp time.Time  `json:"ts,omitzero"`  // Time of the reading
}

// StoppedLevels returns the levels shown while no session runs.
func StoppedLevels(threshold float64) NoiseLevels {
	return NoiseLevels{
		LevelDB:   audio.FloorDB,
		DisplayDB: int(audio.FloorDB),
		HeldDB:    audio.FloorDB,
		Band:      audio.BandLow,
		Label:     "Stopped",
		Color:     audio.ColorGreen,
		Meter:     0,
		Threshold: threshold,
	}
}

// AlertInfo describes a raised noise alert.
type AlertInfo struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Message     string    `json:"message"`
	LevelDB     float64   `json:"level_db"`
	Threshold   float64   `json:"threshold_db"`
	Timestamp   time.Time `json:"ts"`
	ClipPending bool      `json:"clip_pending,omitempty"` // An audio clip is being saved for this alert
}

// WSStatusResponse is sent to clients with the full detector status.
type WSStatusResponse struct {
	Type             string         `json:"type"`              // Message type identifier
	CaptureAvailable bool           `json:"capture_available"` // Capture command is available
	Detector         DetectorStatus `json:"detector"`          // Detector status
	Devices          []audio.Device `json:"devices"`           // Available audio devices
	ThresholdMin     float64        `json:"threshold_min"`     // Lowest accepted threshold
	ThresholdMax     float64        `json:"threshold_max"`     // Highest accepted threshold
	Notifications    NotifySummary  `json:"notifications"`     // Configured channels
	Clips            ClipConfig     `json:"clips"`             // Alert clip settings
	Settings         WSSettings     `json:"settings"`          // Current settings
	Version          VersionInfo    `json:"version"`           // Version information
}

// NotifySummary lists configured notification targets without secrets.
type NotifySummary struct {
	WebhookURL       string `json:"webhook_url"`
	LogPath          string `json:"log_path"`
	GraphTenantID    string `json:"graph_tenant_id"`
	GraphClientID    string `json:"graph_client_id"`
	GraphFromAddress string `json:"graph_from_address"`
	GraphRecipients  string `json:"graph_recipients"`
	MQTTBroker       string `json:"mqtt_broker"`
	MQTTTopic        string `json:"mqtt_topic"`
	KafkaBrokers     string `json:"kafka_brokers"`
	KafkaTopic       string `json:"kafka_topic"`
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	AudioInput     string `json:"audio_input"`      // Selected audio input device
	PollIntervalMs int64  `json:"poll_interval_ms"` // Sampling interval
	Platform       string `json:"platform"`         // Operating system platform
}

// WSLevelsResponse is sent to clients once per poll.
type WSLevelsResponse struct {
	Type   string      `json:"type"`   // "levels"
	Levels NoiseLevels `json:"levels"` // Current levels
}

// WSAlertResponse asks clients to show a transient alert message.
type WSAlertResponse struct {
	Type       string    `json:"type"`        // "alert"
	Alert      AlertInfo `json:"alert"`       // Alert details
	DurationMs int       `json:"duration_ms"` // How long to show the message
	Vibrate    bool      `json:"vibrate"`     // Request haptic feedback
	VibrateMs  int       `json:"vibrate_ms"`  // Haptic pulse length
}

// NewWSAlertResponse wraps an alert for delivery to UI clients.
func NewWSAlertResponse(a AlertInfo) WSAlertResponse {
	return WSAlertResponse{
		Type:       "alert",
		Alert:      a,
		DurationMs: AlertDisplayMs,
		Vibrate:    true,
		VibrateMs:  AlertVibrateMs,
	}
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// MQTTConfig contains settings for publishing alerts to an MQTT broker.
type MQTTConfig struct {
	Broker   string `json:"broker,omitempty"`    // tcp://host:1883
	Topic    string `json:"topic,omitempty"`     // Alert topic
	ClientID string `json:"client_id,omitempty"` // MQTT client identifier
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// KafkaConfig contains settings for publishing alerts to Kafka.
type KafkaConfig struct {
	Brokers string `json:"brokers,omitempty"` // Comma-separated host:port list
	Topic   string `json:"topic,omitempty"`   // Alert topic
}

// S3Config contains S3-compatible storage settings for alert clips.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`          // S3-compatible endpoint URL
	Bucket          string `json:"bucket,omitempty"`            // Bucket name
	AccessKeyID     string `json:"access_key_id,omitempty"`     // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty"` // Secret access key
	Prefix          string `json:"prefix,omitempty"`            // Key prefix
}

// IsConfigured reports whether uploads can be attempted.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// ClipConfig contains settings for alert audio clips.
type ClipConfig struct {
	Enabled       bool `json:"enabled"`        // Save a clip on each alert
	Seconds       int  `json:"seconds"`        // Audio kept before the alert
	RetentionDays int  `json:"retention_days"` // Days to keep local clips (0 = forever)
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
