// Package monitor runs a noise monitoring session: it polls a sample source
// on a fixed interval, converts each sample to a level, and reports readings
// and threshold alerts to a sink.
package monitor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
)

// DefaultPollInterval is the interval between two samples.
const DefaultPollInterval = 250 * time.Millisecond

// Monitor polls a SampleSource while a session is active.
// It is safe for concurrent use.
type Monitor struct {
	sink     Sink
	interval time.Duration
	peak     *audio.PeakHolder
	now      func() time.Time

	// threshold holds math.Float64bits of the alert threshold.
	threshold atomic.Uint64

	// mu protects the session fields below.
	mu        sync.Mutex
	state     State
	source    SampleSource
	alert     audio.AlertState
	sessionID string
	stopCh    chan struct{}
}

// New creates an idle monitor that reports to sink.
// A non-positive interval selects DefaultPollInterval.
func New(sink Sink, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := &Monitor{
		sink:     sink,
		interval: interval,
		peak:     audio.NewPeakHolder(),
		now:      time.Now,
		state:    StateIdle,
	}
	m.threshold.Store(math.Float64bits(audio.DefaultThresholdDB))
	return m
}

// SetThreshold sets the alert threshold, clamped to the accepted range, and
// returns the value in force. It takes effect on the next tick.
func (m *Monitor) SetThreshold(db float64) float64 {
	db = audio.ClampThreshold(db)
	m.threshold.Store(math.Float64bits(db))
	return db
}

// Threshold returns the alert threshold in dBFS.
func (m *Monitor) Threshold() float64 {
	return math.Float64frombits(m.threshold.Load())
}

// SetPeakHold sets how long the held peak level is kept.
func (m *Monitor) SetPeakHold(d time.Duration) {
	m.peak.SetHoldDuration(d)
}

// State returns the current session state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the ID of the running session, or "" when idle.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Start begins a session that polls src. It reports whether a session was
// started; calling Start while monitoring does nothing.
func (m *Monitor) Start(src SampleSource) bool {
	stopCh, ok := m.begin(src)
	if !ok {
		return false
	}
	go m.run(stopCh)
	return true
}

// begin moves the monitor into a fresh session without starting the poll loop.
func (m *Monitor) begin(src SampleSource) (chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateMonitoring {
		return nil, false
	}

	m.state = StateMonitoring
	m.source = src
	m.alert = audio.AlertState{}
	m.sessionID = uuid.NewString()
	m.stopCh = make(chan struct{})
	m.peak.Reset()

	slog.Info("monitoring started", "session_id", m.sessionID, "interval", m.interval, "threshold_db", m.Threshold())
	return m.stopCh, true
}

// Stop ends the running session. It reports whether a session was stopped;
// calling Stop while idle does nothing.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateMonitoring {
		return false
	}

	close(m.stopCh)
	slog.Info("monitoring stopped", "session_id", m.sessionID)

	m.state = StateIdle
	m.source = nil
	m.sessionID = ""
	m.stopCh = nil
	return true
}

// run drives the session owning stopCh until stopCh is closed. The first
// tick runs immediately.
func (m *Monitor) run(stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in monitor loop", "panic", r)
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		m.tick(stopCh)

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Tick polls the sample source of the running session once and reports the
// result to the sink. It reports whether a reading was produced.
func (m *Monitor) Tick() bool {
	m.mu.Lock()
	stopCh := m.stopCh
	m.mu.Unlock()
	if stopCh == nil {
		return false
	}
	return m.tick(stopCh)
}

// tick runs one poll for the session owning stopCh. It does nothing once that
// session has ended, even if a new one has started since.
func (m *Monitor) tick(stopCh chan struct{}) bool {
	m.mu.Lock()
	if m.stopCh != stopCh || m.state != StateMonitoring || m.source == nil {
		m.mu.Unlock()
		return false
	}
	src := m.source
	m.mu.Unlock()

	// The source is polled unlocked so a slow pull never delays Stop.
	amplitude, err := src.NextSample()

	m.mu.Lock()
	if m.stopCh != stopCh {
		m.mu.Unlock()
		return false
	}
	if err != nil {
		m.mu.Unlock()
		m.sink.CaptureFailed(err)
		return false
	}

	now := m.now()
	threshold := m.Threshold()
	level := audio.AmplitudeToDB(amplitude)

	var fired bool
	m.alert, fired = audio.EvaluateAlert(level, threshold, m.alert)

	reading := Reading{
		SessionID: m.sessionID,
		Amplitude: amplitude,
		Level:     level,
		HeldLevel: m.peak.Update(level, now),
		Band:      audio.Classify(level),
		Meter:     audio.MeterValue(level),
		Threshold: threshold,
		Timestamp: now,
	}

	var alert Alert
	if fired {
		alert = Alert{
			ID:        uuid.NewString(),
			SessionID: m.sessionID,
			Level:     level,
			Threshold: threshold,
			Message:   AlertMessage(level),
			Timestamp: now,
		}
	}
	m.mu.Unlock()

	// Sink calls run unlocked so a sink may call Stop. A Stop that lands
	// after evaluation drops the results.
	if stopped(stopCh) {
		return false
	}
	m.sink.Reading(reading)
	if fired && !stopped(stopCh) {
		slog.Warn("noise threshold exceeded", "level_db", level, "threshold_db", threshold)
		m.sink.Alert(alert)
	}
	return true
}

func stopped(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// AlertMessage returns the user-facing text for an alert at level.
func AlertMessage(level float64) string {
	return fmt.Sprintf("⚠ Noise too high! (%d dBFS)", int(level))
}
