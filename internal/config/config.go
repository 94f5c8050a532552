// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort           = 8080
	DefaultWebUsername       = "admin"
	DefaultWebPassword       = "noisemeter"
	DefaultStationName       = "ZuidWest FM"
	DefaultStationColorLight = "#E6007E"
	DefaultStationColorDark  = "#E6007E"
	DefaultPollIntervalMs    = 250
	DefaultPeakHoldMs        = 3000
	DefaultClipSeconds       = 10
	DefaultClipRetentionDays = 7
	DefaultMQTTTopic         = "noisemeter/alerts"
	DefaultMQTTClientID      = "zwfm-noisemeter"
	DefaultKafkaTopic        = "noisemeter.alerts"

	// MinPollIntervalMs keeps the poll loop from spinning.
	MinPollIntervalMs = 50
)

// Validation patterns define regular expressions for configuration value validation.
var (
	// Station name: any printable characters except control chars (blocks CRLF injection in emails)
	stationNamePattern  = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	stationColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
	Username   string `json:"username"`    // Login username
	Password   string `json:"password"`    // Login password
	APIKey     string `json:"api_key"`     // Key for the REST API
}

// WebConfig holds station branding settings.
type WebConfig struct {
	StationName string `json:"station_name"` // Station display name
	ColorLight  string `json:"color_light"`  // Theme color for light mode (#RRGGBB)
	ColorDark   string `json:"color_dark"`   // Theme color for dark mode (#RRGGBB)
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	Input          string `json:"input"`            // Audio input device identifier
	PollIntervalMs int64  `json:"poll_interval_ms"` // Level sampling interval
	ScratchDir     string `json:"scratch_dir"`      // Directory for session recordings (empty = temp dir)
}

// MonitorConfig holds noise alert settings.
type MonitorConfig struct {
	ThresholdDB float64 `json:"threshold_db"` // Startup alert threshold in dBFS
	PeakHoldMs  int64   `json:"peak_hold_ms"` // Peak hold duration for the meter
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for noise alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for noise alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig = types.GraphConfig

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig     `json:"webhook"` // Webhook settings
	Log     LogConfig         `json:"log"`     // Log file settings
	Email   EmailConfig       `json:"email"`   // Email settings
	MQTT    types.MQTTConfig  `json:"mqtt"`    // MQTT broker settings
	Kafka   types.KafkaConfig `json:"kafka"`   // Kafka settings
}

// ClipsConfig holds alert clip settings.
type ClipsConfig struct {
	Enabled       bool           `json:"enabled"`        // Save a clip on each alert
	Seconds       int            `json:"seconds"`        // Audio kept before the alert
	RetentionDays int            `json:"retention_days"` // Days to keep local clips (0 = forever)
	S3            types.S3Config `json:"s3"`             // Optional upload target
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Monitor       MonitorConfig       `json:"monitor"`
	Notifications NotificationsConfig `json:"notifications"`
	Clips         ClipsConfig         `json:"clips"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Web: WebConfig{
			StationName: DefaultStationName,
			ColorLight:  DefaultStationColorLight,
			ColorDark:   DefaultStationColorDark,
		},
		Audio: AudioConfig{PollIntervalMs: DefaultPollIntervalMs},
		Monitor: MonitorConfig{
			ThresholdDB: audio.DefaultThresholdDB,
			PeakHoldMs:  DefaultPeakHoldMs,
		},
		Clips: ClipsConfig{
			Seconds:       DefaultClipSeconds,
			RetentionDays: DefaultClipRetentionDays,
		},
		filePath: filePath,
	}
}

// Path returns the file the configuration is stored in.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if err := c.ensureAPIKeyLocked(); err != nil {
			return err
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	if c.System.APIKey == "" {
		if err := c.ensureAPIKeyLocked(); err != nil {
			return err
		}
		return c.saveLocked()
	}
	return nil
}

// ensureAPIKeyLocked generates an API key when none is set. Caller must hold c.mu.
func (c *Config) ensureAPIKeyLocked() error {
	if c.System.APIKey != "" {
		return nil
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return util.WrapError("generate API key", err)
	}
	c.System.APIKey = key
	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	// Validate station name
	name := c.Web.StationName
	if name == "" || len(name) > 30 || !stationNamePattern.MatchString(name) {
		return fmt.Errorf("invalid station_name %q: must be 1-30 printable characters", name)
	}
	// Validate station colors
	if !stationColorPattern.MatchString(c.Web.ColorLight) {
		return fmt.Errorf("invalid color_light %q: must be hex format (#RRGGBB)", c.Web.ColorLight)
	}
	if !stationColorPattern.MatchString(c.Web.ColorDark) {
		return fmt.Errorf("invalid color_dark %q: must be hex format (#RRGGBB)", c.Web.ColorDark)
	}
	if c.Audio.PollIntervalMs < MinPollIntervalMs {
		return fmt.Errorf("invalid poll_interval_ms %d: must be at least %d", c.Audio.PollIntervalMs, MinPollIntervalMs)
	}
	if c.Clips.Seconds < 1 || c.Clips.Seconds > 60 {
		return fmt.Errorf("invalid clips.seconds %d: must be 1-60", c.Clips.Seconds)
	}
	if c.Clips.RetentionDays < 0 {
		return fmt.Errorf("invalid clips.retention_days %d: must not be negative", c.Clips.RetentionDays)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields and clamps the
// alert threshold into its accepted range.
func (c *Config) applyDefaults() {
	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	// Web defaults
	if c.Web.StationName == "" {
		c.Web.StationName = DefaultStationName
	}
	if c.Web.ColorLight == "" {
		c.Web.ColorLight = DefaultStationColorLight
	}
	if c.Web.ColorDark == "" {
		c.Web.ColorDark = DefaultStationColorDark
	}
	// Audio and monitor defaults
	if c.Audio.PollIntervalMs == 0 {
		c.Audio.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Monitor.ThresholdDB == 0 {
		c.Monitor.ThresholdDB = audio.DefaultThresholdDB
	}
	c.Monitor.ThresholdDB = audio.ClampThreshold(c.Monitor.ThresholdDB)
	if c.Monitor.PeakHoldMs == 0 {
		c.Monitor.PeakHoldMs = DefaultPeakHoldMs
	}
	// Clip defaults
	if c.Clips.Seconds == 0 {
		c.Clips.Seconds = DefaultClipSeconds
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// APIKey returns the key accepted by the REST API.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetAPIKey replaces the REST API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(cfg types.GraphConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email = cfg
	return c.saveLocked()
}

// SetMQTT updates the MQTT settings and saves the configuration.
func (c *Config) SetMQTT(cfg types.MQTTConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.MQTT = cfg
	return c.saveLocked()
}

// SetKafka updates the Kafka settings and saves the configuration.
func (c *Config) SetKafka(cfg types.KafkaConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Kafka = cfg
	return c.saveLocked()
}

// SetClips updates the alert clip settings and saves the configuration.
func (c *Config) SetClips(clips types.ClipConfig, s3cfg types.S3Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Clips.Enabled = clips.Enabled
	c.Clips.Seconds = cmp.Or(clips.Seconds, DefaultClipSeconds)
	c.Clips.RetentionDays = clips.RetentionDays
	c.Clips.S3 = s3cfg
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	WebUser     string
	WebPassword string
	APIKey      string
	FFmpegPath  string

	// Web/Branding
	StationName       string
	StationColorLight string
	StationColorDark  string

	// Audio
	AudioInput   string
	PollInterval time.Duration
	ScratchDir   string

	// Monitor
	ThresholdDB float64
	PeakHold    time.Duration

	// Notifications
	WebhookURL string
	LogPath    string
	Graph      types.GraphConfig
	MQTT       types.MQTTConfig
	Kafka      types.KafkaConfig

	// Clips
	Clips types.ClipConfig
	S3    types.S3Config
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mqtt := c.Notifications.MQTT
	mqtt.Topic = cmp.Or(mqtt.Topic, DefaultMQTTTopic)
	mqtt.ClientID = cmp.Or(mqtt.ClientID, DefaultMQTTClientID)
	kafka := c.Notifications.Kafka
	kafka.Topic = cmp.Or(kafka.Topic, DefaultKafkaTopic)

	return Snapshot{
		// System
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		APIKey:      c.System.APIKey,
		FFmpegPath:  c.System.FFmpegPath,

		// Web/Branding
		StationName:       c.Web.StationName,
		StationColorLight: c.Web.ColorLight,
		StationColorDark:  c.Web.ColorDark,

		// Audio (with defaults)
		AudioInput:   c.Audio.Input,
		PollInterval: time.Duration(cmp.Or(c.Audio.PollIntervalMs, DefaultPollIntervalMs)) * time.Millisecond,
		ScratchDir:   c.Audio.ScratchDir,

		// Monitor (with defaults)
		ThresholdDB: audio.ClampThreshold(cmp.Or(c.Monitor.ThresholdDB, audio.DefaultThresholdDB)),
		PeakHold:    time.Duration(cmp.Or(c.Monitor.PeakHoldMs, DefaultPeakHoldMs)) * time.Millisecond,

		// Notifications
		WebhookURL: c.Notifications.Webhook.URL,
		LogPath:    c.Notifications.Log.Path,
		Graph:      c.Notifications.Email,
		MQTT:       mqtt,
		Kafka:      kafka,

		// Clips
		Clips: types.ClipConfig{
			Enabled:       c.Clips.Enabled,
			Seconds:       cmp.Or(c.Clips.Seconds, DefaultClipSeconds),
			RetentionDays: c.Clips.RetentionDays,
		},
		S3: c.Clips.S3,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.Graph.TenantID != "" && s.Graph.ClientID != "" && s.Graph.ClientSecret != "" &&
		s.Graph.FromAddress != "" && s.Graph.Recipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasMQTT reports whether an MQTT broker is configured.
func (s *Snapshot) HasMQTT() bool {
	return s.MQTT.Broker != ""
}

// HasKafka reports whether Kafka brokers are configured.
func (s *Snapshot) HasKafka() bool {
	return s.Kafka.Brokers != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
