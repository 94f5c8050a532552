// Package detector owns a noise monitoring session end to end: the capture
// process, the level monitor, alert clips, notifications and the event log.
package detector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/capture"
	"github.com/oszuidwest/zwfm-noisemeter/internal/clip"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemeter/internal/monitor"
	"github.com/oszuidwest/zwfm-noisemeter/internal/notify"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// MaxCaptureMisses is the number of consecutive ticks without audio after
// which a session is stopped. It covers capture start-up latency.
const MaxCaptureMisses = 40

// Sentinel errors for detector operations.
var (
	ErrAlreadyRunning = errors.New("detector already running")
	ErrCaptureStalled = errors.New("no audio received from capture device")
)

// Capture is a running source of PCM audio.
type Capture interface {
	Start() error
	Stop() error
}

// CaptureFactory creates the capture for a session. The capture must write
// its PCM to every writer and call onExit if it ends on its own.
type CaptureFactory func(input string, onExit capture.ExitFunc, writers ...io.Writer) Capture

// AlertHandler receives raised alerts for delivery outside the process.
// HandleClip follows every alert sent with ClipPending set; path is empty
// when no clip could be saved.
type AlertHandler interface {
	HandleAlert(a types.AlertInfo)
	HandleClip(alertID, path string)
}

// Detector runs noise monitoring sessions. It is safe for concurrent use.
type Detector struct {
	cfg        *config.Config
	mon        *monitor.Monitor
	clips      *clip.Manager
	notifier   AlertHandler
	events     *eventlog.Logger
	newCapture CaptureFactory

	mu        sync.RWMutex
	state     types.DetectorState
	capture   Capture
	tracker   *capture.PeakTracker
	scratch   *capture.ScratchFile
	sessionID string
	startTime time.Time
	lastError string
	alerts    int
	misses    int
	levels    types.NoiseLevels
	sinks     []monitor.Sink

	subMu       sync.Mutex
	subscribers map[chan types.AlertInfo]struct{}
}

// Options carries the optional collaborators of a Detector.
type Options struct {
	Clips    *clip.Manager
	Notifier AlertHandler
	Events   *eventlog.Logger
	// NewCapture overrides the platform capture command.
	NewCapture CaptureFactory
}

// New creates an idle detector. The poll interval, peak hold and startup
// threshold are taken from cfg.
func New(cfg *config.Config, ffmpegPath string, opts Options) *Detector {
	snap := cfg.Snapshot()
	d := &Detector{
		cfg:         cfg,
		clips:       opts.Clips,
		notifier:    opts.Notifier,
		events:      opts.Events,
		newCapture:  opts.NewCapture,
		state:       types.StateStopped,
		levels:      types.StoppedLevels(snap.ThresholdDB),
		subscribers: make(map[chan types.AlertInfo]struct{}),
	}
	if d.newCapture == nil {
		d.newCapture = func(input string, onExit capture.ExitFunc, writers ...io.Writer) Capture {
			return capture.NewRecorder(input, ffmpegPath, onExit, writers...)
		}
	}
	d.mon = monitor.New(d, snap.PollInterval)
	d.mon.SetThreshold(snap.ThresholdDB)
	d.mon.SetPeakHold(snap.PeakHold)
	return d
}

// AttachSink adds a sink that receives every reading and alert.
func (d *Detector) AttachSink(s monitor.Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// State returns the current detector state.
func (d *Detector) State() types.DetectorState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// IsRunning reports whether a session is active.
func (d *Detector) IsRunning() bool {
	return d.State() == types.StateRunning
}

// Start launches capture and begins a monitoring session.
func (d *Detector) Start() error {
	d.mu.Lock()
	if d.state != types.StateStopped {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.state = types.StateStarting
	d.mu.Unlock()

	snap := d.cfg.Snapshot()

	scratch, err := capture.CreateScratchFile(snap.ScratchDir)
	if err != nil {
		d.abortStart(err)
		return err
	}

	tracker := capture.NewPeakTracker()
	writers := []io.Writer{tracker, scratch}
	if d.clips != nil {
		d.clips.Reset()
		writers = append(writers, d.clips)
	}

	c := d.newCapture(snap.AudioInput, d.captureExited, writers...)
	if err := c.Start(); err != nil {
		if rmErr := scratch.Remove(); rmErr != nil {
			slog.Warn("failed to remove scratch file", "error", rmErr)
		}
		d.abortStart(err)
		return fmt.Errorf("start capture: %w", err)
	}

	d.mu.Lock()
	d.capture = c
	d.tracker = tracker
	d.scratch = scratch
	d.startTime = time.Now()
	d.lastError = ""
	d.alerts = 0
	d.misses = 0
	d.state = types.StateRunning
	d.mon.Start(tracker)
	d.sessionID = d.mon.SessionID()
	sessionID := d.sessionID
	d.mu.Unlock()

	d.logSession(eventlog.SessionStarted, sessionID, "monitoring started", &eventlog.SessionDetails{
		Input:       snap.AudioInput,
		ThresholdDB: d.mon.Threshold(),
		ScratchFile: scratch.Path(),
	})
	return nil
}

// abortStart returns the detector to stopped after a failed Start.
func (d *Detector) abortStart(err error) {
	slog.Error("failed to start monitoring", "error", err)
	d.mu.Lock()
	d.state = types.StateStopped
	d.lastError = err.Error()
	d.mu.Unlock()
	d.logSession(eventlog.CaptureError, "", "start failed", &eventlog.SessionDetails{Error: err.Error()})
}

// Stop ends the running session. Stopping an idle detector does nothing.
func (d *Detector) Stop() error {
	return d.stop("")
}

// stop tears a session down. A non-empty reason marks an abnormal end.
func (d *Detector) stop(reason string) error {
	d.mu.Lock()
	if d.state != types.StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = types.StateStopping
	d.mon.Stop()

	c := d.capture
	tracker := d.tracker
	scratch := d.scratch
	sessionID := d.sessionID
	details := &eventlog.SessionDetails{
		DurationMs:  time.Since(d.startTime).Milliseconds(),
		Alerts:      d.alerts,
		ThresholdDB: d.mon.Threshold(),
		Error:       reason,
	}
	if reason != "" {
		d.lastError = reason
	}
	d.mu.Unlock()

	var errs []error
	if c != nil {
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
	}
	if tracker != nil {
		_ = tracker.Close() //nolint:errcheck // Close never fails
	}
	if scratch != nil {
		if err := scratch.Remove(); err != nil {
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	d.state = types.StateStopped
	d.capture = nil
	d.tracker = nil
	d.scratch = nil
	d.sessionID = ""
	d.levels = types.StoppedLevels(d.mon.Threshold())
	d.mu.Unlock()

	d.logSession(eventlog.SessionStopped, sessionID, "monitoring stopped", details)
	return errors.Join(errs...)
}

// fail stops the session because capture broke.
func (d *Detector) fail(err error) {
	d.mu.RLock()
	sessionID := d.sessionID
	d.mu.RUnlock()

	slog.Error("capture failed, stopping monitoring", "error", err)
	d.logSession(eventlog.CaptureError, sessionID, "capture failed", &eventlog.SessionDetails{Error: err.Error()})
	if stopErr := d.stop(err.Error()); stopErr != nil {
		slog.Warn("error while stopping after capture failure", "error", stopErr)
	}
}

// captureExited is called by the capture when its process ends unexpectedly.
func (d *Detector) captureExited(err error) {
	go d.fail(err)
}

// SetThreshold changes the alert threshold of the live monitor and returns
// the clamped value in force.
func (d *Detector) SetThreshold(db float64) float64 {
	v := d.mon.SetThreshold(db)
	d.mu.Lock()
	d.levels.Threshold = v
	d.mu.Unlock()
	slog.Info("alert threshold updated", "threshold_db", v)
	return v
}

// Threshold returns the alert threshold in force.
func (d *Detector) Threshold() float64 {
	return d.mon.Threshold()
}

// Levels returns the latest reading for display.
func (d *Detector) Levels() types.NoiseLevels {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.levels
}

// Status returns the current detector status.
func (d *Detector) Status() types.DetectorStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := types.DetectorStatus{
		State:     d.state,
		SessionID: d.sessionID,
		LastError: d.lastError,
		Threshold: d.mon.Threshold(),
		Alerts:    d.alerts,
	}
	if d.state == types.StateRunning {
		status.Uptime = util.FormatDuration(time.Since(d.startTime).Milliseconds())
	}
	if d.scratch != nil {
		status.Scratch = d.scratch.Path()
	}
	return status
}

// SubscribeAlerts returns a channel receiving every raised alert and a
// function that ends the subscription. Slow subscribers miss alerts.
func (d *Detector) SubscribeAlerts() (<-chan types.AlertInfo, func()) {
	ch := make(chan types.AlertInfo, 8)
	d.subMu.Lock()
	d.subscribers[ch] = struct{}{}
	d.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subMu.Lock()
			delete(d.subscribers, ch)
			d.subMu.Unlock()
		})
	}
}

func (d *Detector) broadcast(a types.AlertInfo) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subscribers {
		select {
		case ch <- a:
		default:
			slog.Warn("alert subscriber is full, dropping alert", "alert_id", a.ID)
		}
	}
}

// --- monitor.Sink ---

// Reading stores the latest reading for the UI and forwards it.
func (d *Detector) Reading(r monitor.Reading) {
	d.mu.Lock()
	if d.state != types.StateRunning || r.SessionID != d.sessionID {
		d.mu.Unlock()
		return
	}
	d.misses = 0
	d.levels = types.NoiseLevels{
		Active:    true,
		LevelDB:   r.Level,
		DisplayDB: int(r.Level),
		HeldDB:    r.HeldLevel,
		Band:      r.Band,
		Label:     r.Band.Label(),
		Color:     r.Band.Color(),
		Meter:     r.Meter,
		Threshold: r.Threshold,
		Timestamp: r.Timestamp,
	}
	sinks := d.sinks
	d.mu.Unlock()

	for _, s := range sinks {
		s.Reading(r)
	}
}

// Alert records, archives and delivers a raised alert.
func (d *Detector) Alert(a monitor.Alert) {
	d.mu.Lock()
	if d.state != types.StateRunning || a.SessionID != d.sessionID {
		d.mu.Unlock()
		return
	}
	d.alerts++
	sinks := d.sinks
	d.mu.Unlock()

	info := types.AlertInfo{
		ID:          a.ID,
		SessionID:   a.SessionID,
		Message:     a.Message,
		LevelDB:     a.Level,
		Threshold:   a.Threshold,
		Timestamp:   a.Timestamp,
		ClipPending: d.clips != nil && d.clips.Enabled(),
	}

	if d.events != nil {
		if err := d.events.LogAlert(a.SessionID, a.ID, a.Message, a.Level, a.Threshold, a.Timestamp); err != nil {
			slog.Warn("failed to log alert event", "error", err)
		}
	}
	if d.notifier != nil {
		d.notifier.HandleAlert(info)
	}
	if d.clips != nil && !d.clips.OnAlert(a.ID, a.Timestamp) && info.ClipPending && d.notifier != nil {
		d.notifier.HandleClip(a.ID, "")
	}
	d.broadcast(info)

	for _, s := range sinks {
		s.Alert(a)
	}
}

// CaptureFailed counts ticks without audio and stops the session once the
// capture has stalled for MaxCaptureMisses ticks in a row.
func (d *Detector) CaptureFailed(err error) {
	d.mu.Lock()
	if d.state != types.StateRunning {
		d.mu.Unlock()
		return
	}
	d.misses++
	misses := d.misses
	sinks := d.sinks
	d.mu.Unlock()

	slog.Debug("no audio for tick", "misses", misses, "error", err)
	for _, s := range sinks {
		s.CaptureFailed(err)
	}
	if misses == MaxCaptureMisses {
		go d.fail(fmt.Errorf("%w: %w", ErrCaptureStalled, err))
	}
}

// ClipSaved hands a finished alert clip to the notifier and records the
// outcome in the event log.
func (d *Detector) ClipSaved(r *clip.Result) {
	if d.notifier != nil {
		path := r.FilePath
		if r.Error != nil {
			path = ""
		}
		d.notifier.HandleClip(r.AlertID, path)
	}
	if d.events == nil {
		return
	}
	details := &eventlog.ClipDetails{
		AlertID:    r.AlertID,
		Filename:   r.Filename,
		SizeBytes:  r.FileSize,
		DurationMs: r.Duration.Milliseconds(),
		S3Key:      r.S3Key,
	}
	if r.Error != nil {
		details.Error = r.Error.Error()
	}
	if err := d.events.LogClip("", details); err != nil {
		slog.Warn("failed to log clip event", "error", err)
	}
}

func (d *Detector) logSession(t eventlog.EventType, sessionID, msg string, details *eventlog.SessionDetails) {
	if d.events == nil {
		return
	}
	if err := d.events.LogSession(t, sessionID, msg, details); err != nil {
		slog.Warn("failed to log session event", "type", t, "error", err)
	}
}

// --- Configuration changes and test notifications ---

// ApplyClipConfig pushes the current clip settings to the clip manager.
func (d *Detector) ApplyClipConfig() {
	if d.clips == nil {
		return
	}
	snap := d.cfg.Snapshot()
	d.clips.Configure(snap.Clips, snap.S3)
}

// InvalidateNotifier drops cached notification clients after a config change.
func (d *Detector) InvalidateNotifier() {
	if n, ok := d.notifier.(*notify.AlertNotifier); ok {
		n.InvalidateGraphClient()
	}
}

// TriggerTestEmail sends a test email to verify configuration.
func (d *Detector) TriggerTestEmail() error {
	cfg := d.cfg.Snapshot()
	return notify.SendTestEmail(&cfg.Graph, cfg.StationName)
}

// TriggerTestWebhook sends a test webhook to verify configuration.
func (d *Detector) TriggerTestWebhook() error {
	cfg := d.cfg.Snapshot()
	return notify.SendTestWebhook(cfg.WebhookURL, cfg.StationName)
}

// TriggerTestLog writes a test entry to verify log file configuration.
func (d *Detector) TriggerTestLog() error {
	return notify.WriteTestLog(d.cfg.Snapshot().LogPath)
}

// TriggerTestMQTT publishes a test message to the MQTT broker.
func (d *Detector) TriggerTestMQTT() error {
	cfg := d.cfg.Snapshot()
	return notify.SendTestMQTT(&cfg.MQTT, cfg.StationName)
}

// TriggerTestKafka publishes a test message to Kafka.
func (d *Detector) TriggerTestKafka() error {
	cfg := d.cfg.Snapshot()
	return notify.SendTestKafka(&cfg.Kafka, cfg.StationName)
}

// Devices lists the capture devices of this platform.
func (d *Detector) Devices() []audio.Device {
	return audio.ListDevices()
}
