package server

import (
	"encoding/json"
	"log/slog"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
)

// MaxEventEntries is the default number of events returned by events/list.
const MaxEventEntries = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Controller is the noise detector as seen by the command handler.
type Controller interface {
	Start() error
	Stop() error
	IsRunning() bool
	SetThreshold(db float64) float64
	ApplyClipConfig()
	InvalidateNotifier()
	TriggerTestWebhook() error
	TriggerTestLog() error
	TriggerTestEmail() error
	TriggerTestMQTT() error
	TriggerTestKafka() error
}

// commandFunc handles one command type. refresh pushes a status update to
// the client once the command has taken effect.
type commandFunc func(h *CommandHandler, cmd WSCommand, send chan<- any, refresh func())

// routes maps each command type to its handler.
var routes = map[string]commandFunc{
	"monitor/start": (*CommandHandler).handleStart,
	"monitor/stop":  (*CommandHandler).handleStop,

	"threshold/update": settings((*CommandHandler).handleThresholdUpdate),
	"audio/update":     settings((*CommandHandler).handleAudioUpdate),
	"clips/update":     settings((*CommandHandler).handleClipsUpdate),
	"clips/test-s3":    settings((*CommandHandler).handleTestS3),
	"events/list":      settings((*CommandHandler).handleEventsList),

	"apikey/regenerate": settings((*CommandHandler).handleRegenerateAPIKey),
	"status/get":        func(*CommandHandler, WSCommand, chan<- any, func()) {},

	"notifications/webhook/update": settings((*CommandHandler).handleWebhookUpdate),
	"notifications/log/update":     settings((*CommandHandler).handleLogUpdate),
	"notifications/email/update":   settings((*CommandHandler).handleEmailUpdate),
	"notifications/mqtt/update":    settings((*CommandHandler).handleMQTTUpdate),
	"notifications/kafka/update":   settings((*CommandHandler).handleKafkaUpdate),
	"notifications/webhook/test":   channelTest("webhook"),
	"notifications/log/test":       channelTest("log"),
	"notifications/email/test":     channelTest("email"),
	"notifications/mqtt/test":      channelTest("mqtt"),
	"notifications/kafka/test":     channelTest("kafka"),
}

// settings adapts a handler that does not push its own status update.
func settings(fn func(*CommandHandler, WSCommand, chan<- any)) commandFunc {
	return func(h *CommandHandler, cmd WSCommand, send chan<- any, _ func()) {
		fn(h, cmd, send)
	}
}

func channelTest(channel string) commandFunc {
	return func(h *CommandHandler, _ WSCommand, send chan<- any, _ func()) {
		h.handleTest(send, channel)
	}
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg              *config.Config
	ctl              Controller
	eventsPath       string
	captureAvailable bool
}

// NewCommandHandler creates a new command handler. eventsPath is the event
// log read by events/list.
func NewCommandHandler(cfg *config.Config, ctl Controller, eventsPath string, captureAvailable bool) *CommandHandler {
	return &CommandHandler{
		cfg:              cfg,
		ctl:              ctl,
		eventsPath:       eventsPath,
		captureAvailable: captureAvailable,
	}
}

// Handle runs the command named by cmd.Type ("monitor/start",
// "notifications/mqtt/update", ...) and then refreshes the client status.
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	if fn, ok := routes[cmd.Type]; ok {
		fn(h, cmd, send, triggerStatusUpdate)
	} else {
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}
	triggerStatusUpdate()
}
