package detector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/capture"
	"github.com/oszuidwest/zwfm-noisemeter/internal/clip"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemeter/internal/monitor"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

const waitFor = 2 * time.Second

type fakeCapture struct {
	mu       sync.Mutex
	writers  []io.Writer
	onExit   capture.ExitFunc
	startErr error
	started  bool
	stopped  bool
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeCapture) feed(t *testing.T, amplitude int16) {
	t.Helper()
	buf := make([]byte, 2*480)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(amplitude))
	}
	f.mu.Lock()
	writers := f.writers
	f.mu.Unlock()
	for _, w := range writers {
		_, err := w.Write(buf)
		require.NoError(t, err)
	}
}

type mockAlertHandler struct{ mock.Mock }

func (m *mockAlertHandler) HandleAlert(a types.AlertInfo) {
	m.Called(a.SessionID, a.Message, a.ClipPending)
}

func (m *mockAlertHandler) HandleClip(alertID, path string) {
	m.Called(alertID, path)
}

type harness struct {
	det      *Detector
	capture  *fakeCapture
	events   *eventlog.Logger
	notifier *mockAlertHandler
	scratch  string
}

func newHarness(t *testing.T, startErr error, opts ...func(*harness, *Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	scratchDir := filepath.Join(dir, "scratch")
	require.NoError(t, os.MkdirAll(scratchDir, 0o755))

	cfgPath := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{"system":{"api_key":"k"},"audio":{"input":"hw:0","poll_interval_ms":50,"scratch_dir":%q}}`, scratchDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	cfg := config.New(cfgPath)
	require.NoError(t, cfg.Load())

	events, err := eventlog.NewLogger(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	h := &harness{
		capture:  &fakeCapture{startErr: startErr},
		events:   events,
		notifier: &mockAlertHandler{},
		scratch:  scratchDir,
	}
	o := Options{
		Notifier: h.notifier,
		Events:   events,
		NewCapture: func(input string, onExit capture.ExitFunc, writers ...io.Writer) Capture {
			assert.Equal(t, "hw:0", input)
			h.capture.mu.Lock()
			h.capture.writers = writers
			h.capture.onExit = onExit
			h.capture.mu.Unlock()
			return h.capture
		},
	}
	for _, opt := range opts {
		opt(h, &o)
	}
	h.det = New(cfg, "", o)
	t.Cleanup(func() { _ = h.det.Stop() })
	return h
}

func (h *harness) eventTypes(t *testing.T) []eventlog.EventType {
	t.Helper()
	events, _, err := eventlog.ReadLast(h.events.Path(), 100, 0, eventlog.FilterAll)
	require.NoError(t, err)
	out := make([]eventlog.EventType, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e.Type
	}
	return out
}

func scratchFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "noise-*.wav"))
	require.NoError(t, err)
	return matches
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, types.StateStopped, h.det.State())
	assert.Equal(t, "Stopped", h.det.Levels().Label)

	require.NoError(t, h.det.Start())
	assert.True(t, h.det.IsRunning())
	assert.ErrorIs(t, h.det.Start(), ErrAlreadyRunning)

	status := h.det.Status()
	assert.NotEmpty(t, status.SessionID)
	assert.NotEmpty(t, status.Scratch)
	assert.Len(t, scratchFiles(t, h.scratch), 1)

	require.NoError(t, h.det.Stop())
	assert.Equal(t, types.StateStopped, h.det.State())
	assert.True(t, h.capture.stopped)
	assert.Empty(t, scratchFiles(t, h.scratch), "scratch recording is deleted on stop")

	levels := h.det.Levels()
	assert.False(t, levels.Active)
	assert.Equal(t, "Stopped", levels.Label)
	assert.Zero(t, levels.Meter)
	assert.Equal(t, audio.ColorGreen, levels.Color)

	require.NoError(t, h.det.Stop(), "stop while idle is a no-op")
	assert.Equal(t, []eventlog.EventType{eventlog.SessionStarted, eventlog.SessionStopped}, h.eventTypes(t))
}

func TestStartFailure(t *testing.T) {
	h := newHarness(t, errors.New("device busy"))

	err := h.det.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, types.StateStopped, h.det.State())
	assert.Equal(t, "device busy", h.det.Status().LastError)
	assert.Empty(t, scratchFiles(t, h.scratch))
	assert.Equal(t, []eventlog.EventType{eventlog.CaptureError}, h.eventTypes(t))
}

func TestReadingsAndAlert(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.On("HandleAlert", mock.AnythingOfType("string"), mock.AnythingOfType("string"), false).Return()

	alerts, unsubscribe := h.det.SubscribeAlerts()
	defer unsubscribe()

	require.NoError(t, h.det.Start())
	sessionID := h.det.Status().SessionID

	h.capture.feed(t, 100)
	require.Eventually(t, func() bool {
		l := h.det.Levels()
		return l.Active && l.Band == audio.BandLow
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "Low", h.det.Levels().Label)

	h.capture.feed(t, 30000)
	var got types.AlertInfo
	select {
	case got = <-alerts:
	case <-time.After(waitFor):
		t.Fatal("no alert received")
	}
	assert.Equal(t, sessionID, got.SessionID)
	assert.InDelta(t, audio.AmplitudeToDB(30000), got.LevelDB, 1e-9)
	assert.Equal(t, -15.0, got.Threshold)

	levels := h.det.Levels()
	assert.Equal(t, audio.BandHigh, levels.Band)
	assert.Equal(t, audio.ColorRed, levels.Color)
	assert.Equal(t, 1, h.det.Status().Alerts)

	// Still above the threshold: no second alert.
	h.capture.feed(t, 30000)
	select {
	case a := <-alerts:
		t.Fatalf("unexpected second alert %s", a.ID)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, h.det.Stop())
	h.notifier.AssertNumberOfCalls(t, "HandleAlert", 1)
	assert.Contains(t, h.eventTypes(t), eventlog.AlertRaised)
}

func TestCaptureExitStopsSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.det.Start())

	h.capture.onExit(errors.New("capture process exited: device unplugged"))

	require.Eventually(t, func() bool {
		return h.det.State() == types.StateStopped
	}, waitFor, 10*time.Millisecond)
	assert.Contains(t, h.det.Status().LastError, "device unplugged")

	logged := h.eventTypes(t)
	assert.Contains(t, logged, eventlog.CaptureError)
	assert.Equal(t, eventlog.SessionStopped, logged[len(logged)-1])
}

func TestStalledCaptureStopsSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.det.Start())

	for range MaxCaptureMisses {
		h.det.CaptureFailed(monitor.ErrCaptureUnavailable)
	}

	require.Eventually(t, func() bool {
		return h.det.State() == types.StateStopped
	}, waitFor, 10*time.Millisecond)
	assert.Contains(t, h.det.Status().LastError, ErrCaptureStalled.Error())
}

func TestSetThreshold(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, -60.0, h.det.SetThreshold(-100))
	assert.Equal(t, -60.0, h.det.Threshold())
	assert.Equal(t, -60.0, h.det.Levels().Threshold)
	assert.Equal(t, -10.0, h.det.SetThreshold(0))
	assert.Equal(t, -25.0, h.det.SetThreshold(-25))
	assert.Equal(t, -25.0, h.det.Status().Threshold)
}

type countingSink struct {
	mu       sync.Mutex
	readings int
}

func (c *countingSink) Reading(monitor.Reading) {
	c.mu.Lock()
	c.readings++
	c.mu.Unlock()
}
func (c *countingSink) Alert(monitor.Alert)   {}
func (c *countingSink) CaptureFailed(error) {}

func TestAttachSink(t *testing.T) {
	h := newHarness(t, nil)
	sink := &countingSink{}
	h.det.AttachSink(sink)

	require.NoError(t, h.det.Start())
	h.capture.feed(t, 1000)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.readings > 0
	}, waitFor, 10*time.Millisecond)
}

func TestSubscribeAlertsUnsubscribe(t *testing.T) {
	h := newHarness(t, nil)
	_, unsubscribe := h.det.SubscribeAlerts()
	unsubscribe()
	unsubscribe()
	assert.Empty(t, h.det.subscribers)
}

func TestClipSavedLogsEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.On("HandleClip", "a", "").Return().Once()
	h.notifier.On("HandleClip", "b", "").Return().Once()

	h.det.ClipSaved(&clip.Result{AlertID: "a", Filename: "x.wav", FileSize: 10, Duration: time.Second})
	h.det.ClipSaved(&clip.Result{AlertID: "b", Error: errors.New("disk full")})

	assert.Equal(t, []eventlog.EventType{eventlog.ClipSaved, eventlog.ClipFailed}, h.eventTypes(t))
	h.notifier.AssertExpectations(t)
}

func TestAlertEmailFollowsClip(t *testing.T) {
	clipDir := t.TempDir()
	var clips *clip.Manager
	h := newHarness(t, nil, func(h *harness, o *Options) {
		clips = clip.NewManager(clipDir, types.ClipConfig{Enabled: true, Seconds: 1}, types.S3Config{}, func(r *clip.Result) {
			h.det.ClipSaved(r)
		})
		o.Clips = clips
	})

	h.notifier.On("HandleAlert", mock.AnythingOfType("string"), mock.AnythingOfType("string"), true).Return().Once()
	h.notifier.On("HandleClip", mock.AnythingOfType("string"), mock.MatchedBy(func(path string) bool {
		return filepath.Dir(path) == clipDir && filepath.Ext(path) == ".wav"
	})).Return().Once()

	alerts, unsubscribe := h.det.SubscribeAlerts()
	defer unsubscribe()

	require.NoError(t, h.det.Start())
	h.capture.feed(t, 100)
	require.Eventually(t, func() bool { return h.det.Levels().Active }, waitFor, 10*time.Millisecond)
	h.capture.feed(t, 30000)
	var got types.AlertInfo
	select {
	case got = <-alerts:
	case <-time.After(waitFor):
		t.Fatal("no alert received")
	}
	assert.True(t, got.ClipPending)

	require.NoError(t, h.det.Stop())
	clips.Wait()
	h.notifier.AssertExpectations(t)
	h.notifier.AssertCalled(t, "HandleClip", got.ID, mock.AnythingOfType("string"))
}

func TestTestTriggersRequireConfig(t *testing.T) {
	h := newHarness(t, nil)
	assert.Error(t, h.det.TriggerTestWebhook())
	assert.Error(t, h.det.TriggerTestLog())
	assert.Error(t, h.det.TriggerTestEmail())
	assert.Error(t, h.det.TriggerTestMQTT())
	assert.Error(t, h.det.TriggerTestKafka())
}
