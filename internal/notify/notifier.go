// Package notify delivers noise alerts to webhooks, email, a log file and
// message brokers.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// AlertNotifier fans raised alerts out to every configured channel.
type AlertNotifier struct {
	cfg *config.Config

	// mu protects the cached clients below
	mu sync.Mutex

	graphClient *GraphClient
	mqttCfg     types.MQTTConfig
	mqtt        Publisher
	kafkaCfg    types.KafkaConfig
	kafka       Publisher

	// awaitingClip holds alerts whose email waits for the alert clip.
	awaitingClip map[string]types.AlertInfo

	newMQTT  func(*types.MQTTConfig) (Publisher, error)
	newKafka func(*types.KafkaConfig) (Publisher, error)

	wg sync.WaitGroup
}

// NewAlertNotifier returns an AlertNotifier configured with the given config.
func NewAlertNotifier(cfg *config.Config) *AlertNotifier {
	return &AlertNotifier{
		cfg:          cfg,
		awaitingClip: make(map[string]types.AlertInfo),
		newMQTT: func(c *types.MQTTConfig) (Publisher, error) {
			return NewMQTTPublisher(c)
		},
		newKafka: func(c *types.KafkaConfig) (Publisher, error) {
			return NewKafkaPublisher(c)
		},
	}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *AlertNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *AlertNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// mqttPublisher returns a connected publisher for cfg, reconnecting when the
// settings changed since the last alert.
func (n *AlertNotifier) mqttPublisher(cfg types.MQTTConfig) (Publisher, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mqtt != nil && n.mqttCfg == cfg {
		return n.mqtt, nil
	}
	if n.mqtt != nil {
		util.SafeCloseFunc(n.mqtt, "mqtt publisher")()
		n.mqtt = nil
	}
	pub, err := n.newMQTT(&cfg)
	if err != nil {
		return nil, err
	}
	n.mqtt, n.mqttCfg = pub, cfg
	return pub, nil
}

// kafkaPublisher returns the writer for cfg, replacing it when settings changed.
func (n *AlertNotifier) kafkaPublisher(cfg types.KafkaConfig) (Publisher, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.kafka != nil && n.kafkaCfg == cfg {
		return n.kafka, nil
	}
	if n.kafka != nil {
		util.SafeCloseFunc(n.kafka, "kafka publisher")()
		n.kafka = nil
	}
	pub, err := n.newKafka(&cfg)
	if err != nil {
		return nil, err
	}
	n.kafka, n.kafkaCfg = pub, cfg
	return pub, nil
}

// HandleAlert sends a raised alert to all configured channels in the background.
// When a.ClipPending is set the email is held until HandleClip reports the clip.
func (n *AlertNotifier) HandleAlert(a types.AlertInfo) {
	cfg := n.cfg.Snapshot()

	n.dispatch(cfg.HasWebhook(), "Alert webhook", func() error {
		return SendAlertWebhook(cfg.WebhookURL, cfg.StationName, &a)
	}, "alert_id", a.ID)
	if cfg.HasGraph() && a.ClipPending {
		n.mu.Lock()
		n.awaitingClip[a.ID] = a
		n.mu.Unlock()
	} else {
		n.dispatch(cfg.HasGraph(), "Alert email", func() error {
			return n.sendAlertEmail(&cfg.Graph, cfg.StationName, &a, "")
		}, "alert_id", a.ID)
	}
	n.dispatch(cfg.HasLogPath(), "Alert log", func() error {
		return LogAlert(cfg.LogPath, &a)
	}, "alert_id", a.ID)
	n.dispatch(cfg.HasMQTT(), "Alert MQTT", func() error {
		pub, err := n.mqttPublisher(cfg.MQTT)
		if err != nil {
			return err
		}
		return publishPayload(pub, a.ID, AlertPayload(cfg.StationName, &a))
	}, "alert_id", a.ID)
	n.dispatch(cfg.HasKafka(), "Alert Kafka", func() error {
		pub, err := n.kafkaPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		return publishPayload(pub, a.SessionID, AlertPayload(cfg.StationName, &a))
	}, "alert_id", a.ID)
}

// dispatch runs sender in a goroutine when condition holds.
func (n *AlertNotifier) dispatch(condition bool, notifyType string, sender func() error, attrs ...any) {
	if !condition {
		return
	}
	n.wg.Go(func() {
		_ = logNotifyResult(sender, notifyType, attrs...) //nolint:errcheck // Logged by logNotifyResult
	})
}

// HandleClip sends the held email for alertID with the clip at path attached.
// An empty path sends it without a clip.
func (n *AlertNotifier) HandleClip(alertID, path string) {
	n.mu.Lock()
	a, ok := n.awaitingClip[alertID]
	delete(n.awaitingClip, alertID)
	n.mu.Unlock()
	if !ok {
		return
	}

	cfg := n.cfg.Snapshot()
	n.dispatch(cfg.HasGraph(), "Alert email", func() error {
		return n.sendAlertEmail(&cfg.Graph, cfg.StationName, &a, path)
	}, "alert_id", a.ID, "clip", path)
}

// sendAlertEmail sends the alert email using the cached Graph client.
func (n *AlertNotifier) sendAlertEmail(cfg *GraphConfig, stationName string, a *types.AlertInfo, clipPath string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	m := alertMail(stationName, a, clipPath)
	m.To = ParseRecipients(cfg.Recipients)

	ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
	defer cancel()
	if err := client.Send(ctx, m); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// Wait blocks until in-flight notifications finish.
func (n *AlertNotifier) Wait() {
	n.wg.Wait()
}

// Close sends any email still waiting for its clip, waits for pending
// notifications and releases broker connections.
func (n *AlertNotifier) Close() error {
	n.mu.Lock()
	var held []string
	for id := range n.awaitingClip {
		held = append(held, id)
	}
	n.mu.Unlock()
	for _, id := range held {
		n.HandleClip(id, "")
	}
	n.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	if n.mqtt != nil {
		if err := n.mqtt.Close(); err != nil {
			errs = append(errs, err)
		}
		n.mqtt = nil
	}
	if n.kafka != nil {
		if err := n.kafka.Close(); err != nil {
			errs = append(errs, err)
		}
		n.kafka = nil
	}
	return errors.Join(errs...)
}
