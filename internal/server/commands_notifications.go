package server

import (
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// --- Settings ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *LogUpdateRequest) error {
		if req.Path != "" {
			if err := util.ValidatePath("path", req.Path); err != nil {
				return err
			}
		}
		return h.cfg.SetLogPath(req.Path)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
// An empty client secret keeps the stored one.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *EmailUpdateRequest) error {
		secret := req.ClientSecret
		if secret == "" {
			secret = h.cfg.Snapshot().Graph.ClientSecret
		}
		if err := h.cfg.SetGraphConfig(types.GraphConfig{
			TenantID:     req.TenantID,
			ClientID:     req.ClientID,
			ClientSecret: secret,
			FromAddress:  req.FromAddress,
			Recipients:   req.Recipients,
		}); err != nil {
			return err
		}
		h.ctl.InvalidateNotifier()
		return nil
	})
}

// handleMQTTUpdate processes a notifications/mqtt/update command.
// An empty password keeps the stored one.
func (h *CommandHandler) handleMQTTUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *MQTTUpdateRequest) error {
		password := req.Password
		if password == "" {
			password = h.cfg.Snapshot().MQTT.Password
		}
		return h.cfg.SetMQTT(types.MQTTConfig{
			Broker:   req.Broker,
			Topic:    req.Topic,
			ClientID: req.ClientID,
			Username: req.Username,
			Password: password,
		})
	})
}

// handleKafkaUpdate processes a notifications/kafka/update command.
func (h *CommandHandler) handleKafkaUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *KafkaUpdateRequest) error {
		return h.cfg.SetKafka(types.KafkaConfig{
			Brokers: req.Brokers,
			Topic:   req.Topic,
		})
	})
}

// --- Tests ---

// runTest dispatches to the test sender of a notification channel.
func (h *CommandHandler) runTest(channel string) error {
	switch channel {
	case "webhook":
		return h.ctl.TriggerTestWebhook()
	case "log":
		return h.ctl.TriggerTestLog()
	case "email":
		return h.ctl.TriggerTestEmail()
	case "mqtt":
		return h.ctl.TriggerTestMQTT()
	case "kafka":
		return h.ctl.TriggerTestKafka()
	default:
		return fmt.Errorf("unknown test type: %s", channel)
	}
}

// testResult builds the response for a finished test.
func testResult(testType string, err error) types.WSTestResult {
	result := types.WSTestResult{
		Type:     "test_result",
		TestType: testType,
		Success:  err == nil,
	}
	if err != nil {
		slog.Error("test failed", "test", testType, "error", err)
		result.Error = err.Error()
	} else {
		slog.Info("test succeeded", "test", testType)
	}
	return result
}

// handleTest executes a notification test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, channel string) {
	background("notifications/"+channel+"/test", func() {
		deliver(send, "test_"+channel, testResult(channel, h.runTest(channel)))
	}, nil)
}
