package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// Payload is the JSON document sent to webhooks, MQTT and Kafka.
type Payload struct {
	Event       string  `json:"event"`
	AlertID     string  `json:"alert_id,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	Station     string  `json:"station,omitempty"`
	LevelDB     float64 `json:"level_db,omitempty"`
	ThresholdDB float64 `json:"threshold_db,omitempty"`
	Message     string  `json:"message,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// AlertPayload builds the payload for a raised alert.
func AlertPayload(station string, a *types.AlertInfo) *Payload {
	return &Payload{
		Event:       "noise_alert",
		AlertID:     a.ID,
		SessionID:   a.SessionID,
		Station:     station,
		LevelDB:     a.LevelDB,
		ThresholdDB: a.Threshold,
		Message:     a.Message,
		Timestamp:   a.Timestamp.UTC().Format(time.RFC3339),
	}
}

// testPayload builds the payload used by the test senders.
func testPayload(station string) *Payload {
	return &Payload{
		Event:     "test",
		Station:   station,
		Message:   "This is a test notification from " + station,
		Timestamp: timestampUTC(),
	}
}

// SendAlertWebhook notifies the configured webhook of a noise alert.
func SendAlertWebhook(webhookURL, station string, a *types.AlertInfo) error {
	return sendWebhook(webhookURL, AlertPayload(station, a))
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL, stationName string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	return sendWebhook(webhookURL, testPayload(stationName))
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *Payload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10000 * time.Millisecond}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
