package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

const publishTimeout = 10 * time.Second

// Publisher delivers alert payloads to a message broker.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// MQTTPublisher publishes alerts to an MQTT topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg *types.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(publishTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, util.WrapError("connect to MQTT broker", err)
	}

	return &MQTTPublisher{client: client, topic: cfg.Topic}, nil
}

// Publish sends payload with QoS 1. The key is not used by MQTT.
func (p *MQTTPublisher) Publish(ctx context.Context, _ string, payload []byte) error {
	token := p.client.Publish(p.topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// KafkaPublisher writes alerts to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a writer for the configured brokers. Connections
// are made lazily on the first write.
func NewKafkaPublisher(cfg *types.KafkaConfig) (*KafkaPublisher, error) {
	brokers := ParseList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: publishTimeout,
		},
	}, nil
}

// Publish writes a single message keyed by key.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// publishPayload marshals payload and publishes it with a timeout.
func publishPayload(pub Publisher, key string, payload *Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}
	ctx, cancel := context.WithTimeoutCause(context.Background(), publishTimeout, errors.New("publish timeout"))
	defer cancel()
	return pub.Publish(ctx, key, data)
}

// SendTestMQTT connects to the broker and publishes a test payload.
func SendTestMQTT(cfg *types.MQTTConfig, stationName string) error {
	pub, err := NewMQTTPublisher(cfg)
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(pub, "mqtt publisher")()
	return publishPayload(pub, "test", testPayload(stationName))
}

// SendTestKafka publishes a test payload to the configured topic.
func SendTestKafka(cfg *types.KafkaConfig, stationName string) error {
	pub, err := NewKafkaPublisher(cfg)
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(pub, "kafka publisher")()
	return publishPayload(pub, "test", testPayload(stationName))
}

// ParseList splits a comma-separated list, dropping empty entries.
func ParseList(s string) []string {
	var result []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
