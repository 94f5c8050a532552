package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

type mockController struct{ mock.Mock }

func (m *mockController) Start() error { return m.Called().Error(0) }
func (m *mockController) Stop() error { return m.Called().Error(0) }
func (m *mockController) IsRunning() bool { return m.Called().Bool(0) }
func (m *mockController) ApplyClipConfig() { m.Called() }
func (m *mockController) InvalidateNotifier() { m.Called() }

func (m *mockController) SetThreshold(db float64) float64 {
	return audio.ClampThreshold(m.Called(db).Get(0).(float64))
}

func (m *mockController) TriggerTestWebhook() error { return m.Called().Error(0) }
func (m *mockController) TriggerTestLog() error { return m.Called().Error(0) }
func (m *mockController) TriggerTestEmail() error { return m.Called().Error(0) }
func (m *mockController) TriggerTestMQTT() error { return m.Called().Error(0) }
func (m *mockController) TriggerTestKafka() error { return m.Called().Error(0) }

type fixture struct {
	cfg    *config.Config
	ctl    *mockController
	h      *CommandHandler
	send   chan any
	events string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())

	f := &fixture{
		cfg:    cfg,
		ctl:    &mockController{},
		send:   make(chan any, 16),
		events: filepath.Join(dir, "events.jsonl"),
	}
	f.h = NewCommandHandler(cfg, f.ctl, f.events, true)
	return f
}

func (f *fixture) run(t *testing.T, cmdType string, data any) {
	t.Helper()
	cmd := WSCommand{Type: cmdType}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}
	f.h.Handle(cmd, f.send, func() {})
}

func (f *fixture) next(t *testing.T) any {
	t.Helper()
	select {
	case msg := <-f.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func (f *fixture) result(t *testing.T) types.WSCommandResult {
	t.Helper()
	msg := f.next(t)
	res, ok := msg.(types.WSCommandResult)
	require.True(t, ok, "unexpected message %T", msg)
	return res
}

func TestThresholdUpdateClamps(t *testing.T) {
	f := newFixture(t)
	f.ctl.On("SetThreshold", -80.0).Return(-80.0)

	f.run(t, "threshold/update", map[string]float64{"threshold_db": -80})

	res := f.result(t)
	assert.Equal(t, "threshold/update_result", res.Type)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]float64{"threshold_db": -60}, res.Data)
	f.ctl.AssertExpectations(t)
}

func TestThresholdUpdateRequiresValue(t *testing.T) {
	f := newFixture(t)

	f.run(t, "threshold/update", map[string]any{})

	res := f.result(t)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Len(t, res.Error.Errors, 1)
	assert.Equal(t, "threshold_db", res.Error.Errors[0].Field)
	assert.Equal(t, "is required", res.Error.Errors[0].Message)
	f.ctl.AssertNotCalled(t, "SetThreshold", mock.Anything)
}

func TestInvalidJSON(t *testing.T) {
	f := newFixture(t)
	f.h.Handle(WSCommand{Type: "notifications/webhook/update", Data: json.RawMessage(`{`)}, f.send, func() {})

	res := f.result(t)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error.Errors[0].Message, "invalid JSON")
}

func TestWebhookUpdate(t *testing.T) {
	f := newFixture(t)

	f.run(t, "notifications/webhook/update", map[string]string{"url": "not a url"})
	res := f.result(t)
	assert.False(t, res.Success)
	assert.Equal(t, "url", res.Error.Errors[0].Field)

	f.run(t, "notifications/webhook/update", map[string]string{"url": "https://example.com/hook"})
	assert.True(t, f.result(t).Success)
	assert.Equal(t, "https://example.com/hook", f.cfg.Snapshot().WebhookURL)
}

func TestEmailUpdateKeepsSecret(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cfg.SetGraphConfig(types.GraphConfig{ClientSecret: "s3cret"}))
	f.ctl.On("InvalidateNotifier").Return()

	f.run(t, "notifications/email/update", map[string]string{
		"tenant_id":    "tenant",
		"client_id":    "client",
		"from_address": "noise@example.com",
		"recipients":   "a@example.com",
	})

	assert.True(t, f.result(t).Success)
	graph := f.cfg.Snapshot().Graph
	assert.Equal(t, "tenant", graph.TenantID)
	assert.Equal(t, "s3cret", graph.ClientSecret)
	f.ctl.AssertCalled(t, "InvalidateNotifier")
}

func TestMQTTAndKafkaUpdate(t *testing.T) {
	f := newFixture(t)

	f.run(t, "notifications/mqtt/update", map[string]string{"broker": "tcp://broker:1883", "topic": "studio/noise"})
	assert.True(t, f.result(t).Success)
	f.run(t, "notifications/kafka/update", map[string]string{"brokers": "k1:9092,k2:9092"})
	assert.True(t, f.result(t).Success)

	snap := f.cfg.Snapshot()
	assert.Equal(t, "tcp://broker:1883", snap.MQTT.Broker)
	assert.Equal(t, "studio/noise", snap.MQTT.Topic)
	assert.Equal(t, "k1:9092,k2:9092", snap.Kafka.Brokers)
	assert.Equal(t, config.DefaultKafkaTopic, snap.Kafka.Topic)
}

func TestNotificationTest(t *testing.T) {
	f := newFixture(t)
	f.ctl.On("TriggerTestMQTT").Return(errors.New("broker unreachable"))
	f.ctl.On("TriggerTestLog").Return(nil)

	f.run(t, "notifications/mqtt/test", nil)
	res, ok := f.next(t).(types.WSTestResult)
	require.True(t, ok)
	assert.Equal(t, "mqtt", res.TestType)
	assert.False(t, res.Success)
	assert.Equal(t, "broker unreachable", res.Error)

	f.run(t, "notifications/log/test", nil)
	res, ok = f.next(t).(types.WSTestResult)
	require.True(t, ok)
	assert.True(t, res.Success)
}

func TestMonitorStartStop(t *testing.T) {
	f := newFixture(t)
	f.ctl.On("Start").Return(errors.New("no audio device")).Once()
	f.ctl.On("Stop").Return(nil).Once()

	f.run(t, "monitor/start", nil)
	res := f.result(t)
	assert.Equal(t, "monitor/start_result", res.Type)
	assert.False(t, res.Success)
	assert.Equal(t, "no audio device", res.Error.Errors[0].Message)

	f.run(t, "monitor/stop", nil)
	assert.True(t, f.result(t).Success)
	f.ctl.AssertExpectations(t)
}

func TestAudioUpdateRestartsRunningSession(t *testing.T) {
	f := newFixture(t)
	f.ctl.On("IsRunning").Return(true)
	stopped := make(chan struct{})
	f.ctl.On("Stop").Return(nil)
	f.ctl.On("Start").Return(nil).Run(func(mock.Arguments) { close(stopped) })

	f.run(t, "audio/update", map[string]string{"input": "hw:1"})
	assert.True(t, f.result(t).Success)
	assert.Equal(t, "hw:1", f.cfg.AudioInput())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not restarted")
	}
}

func TestClipsUpdate(t *testing.T) {
	f := newFixture(t)
	f.ctl.On("ApplyClipConfig").Return()

	f.run(t, "clips/update", map[string]any{"enabled": true, "seconds": 120})
	assert.False(t, f.result(t).Success)

	f.run(t, "clips/update", map[string]any{"enabled": true, "seconds": 15, "retention_days": 3, "s3_bucket": "clips"})
	assert.True(t, f.result(t).Success)

	snap := f.cfg.Snapshot()
	assert.Equal(t, types.ClipConfig{Enabled: true, Seconds: 15, RetentionDays: 3}, snap.Clips)
	assert.Equal(t, "clips", snap.S3.Bucket)
	f.ctl.AssertNumberOfCalls(t, "ApplyClipConfig", 1)
}

func TestEventsList(t *testing.T) {
	f := newFixture(t)
	logger, err := eventlog.NewLogger(f.events)
	require.NoError(t, err)
	require.NoError(t, logger.LogSession(eventlog.SessionStarted, "s1", "monitoring started", nil))
	require.NoError(t, logger.LogAlert("s1", "a1", "noise", -10, -15, time.Now()))
	require.NoError(t, logger.Close())

	f.run(t, "events/list", map[string]any{"filter": "alert"})
	res, ok := f.next(t).(EventsResult)
	require.True(t, ok)
	assert.True(t, res.Success)
	require.Len(t, res.Events, 1)
	assert.Equal(t, eventlog.AlertRaised, res.Events[0].Type)

	f.run(t, "events/list", nil)
	res, ok = f.next(t).(EventsResult)
	require.True(t, ok)
	assert.Len(t, res.Events, 2)

	f.run(t, "events/list", map[string]any{"filter": "bogus"})
	assert.False(t, f.result(t).Success)
}

func TestRegenerateAPIKey(t *testing.T) {
	f := newFixture(t)
	before := f.cfg.APIKey()

	f.run(t, "apikey/regenerate", nil)
	res := f.result(t)
	require.True(t, res.Success)
	data, ok := res.Data.(map[string]string)
	require.True(t, ok)
	assert.NotEqual(t, before, data["api_key"])
	assert.Equal(t, data["api_key"], f.cfg.APIKey())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://192.168.1.20", true},
		{"http://meter.local:8080", true},
		{"https://evil.example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://meter.local:8080/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}

func TestLogUpdateRejectsTraversal(t *testing.T) {
	f := newFixture(t)

	f.run(t, "notifications/log/update", map[string]string{"path": "/var/log/../../etc/passwd"})
	res := f.result(t)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error.Errors[0].Message, "..")
	assert.Empty(t, f.cfg.Snapshot().LogPath)
}

func TestTestS3RequiresBucket(t *testing.T) {
	f := newFixture(t)

	f.run(t, "clips/test-s3", map[string]string{"s3_access_key_id": "key"})
	res := f.result(t)
	assert.False(t, res.Success)
	assert.Equal(t, "s3_bucket", res.Error.Errors[0].Field)
}

func TestUnknownCommandOnlyRefreshes(t *testing.T) {
	f := newFixture(t)
	refreshed := 0
	f.h.Handle(WSCommand{Type: "monitor/pause"}, f.send, func() { refreshed++ })

	assert.Equal(t, 1, refreshed)
	assert.Empty(t, f.send)
}

func TestEventsListValidationMessage(t *testing.T) {
	f := newFixture(t)

	f.run(t, "events/list", map[string]any{"limit": 1000, "filter": "bogus"})

	res := f.result(t)
	assert.Equal(t, "events/list_result", res.Type)
	require.NotNil(t, res.Error)
	messages := map[string]string{}
	for _, e := range res.Error.Errors {
		messages[e.Field] = e.Message
	}
	assert.Equal(t, "must be less than or equal to 500", messages["limit"])
	assert.Equal(t, "must be one of: session alert clip", messages["filter"])
}
