// Package capture turns a running capture process into peak samples for the
// level monitor and into recordings on disk.
package capture

import (
	"sync"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/monitor"
)

// PeakTracker is an io.Writer over S16LE PCM that remembers the highest
// absolute sample seen since the previous NextSample call.
type PeakTracker struct {
	mu      sync.Mutex
	peak    int
	fresh   bool
	closed  bool
	pending []byte // odd trailing byte from the previous Write
}

// NewPeakTracker returns an empty tracker.
func NewPeakTracker() *PeakTracker {
	return &PeakTracker{}
}

// Write consumes PCM bytes. It never fails while the tracker is open.
func (t *PeakTracker) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, monitor.ErrCaptureUnavailable
	}

	buf := p
	if len(t.pending) > 0 && len(p) > 0 {
		buf = append(t.pending, p...)
		t.pending = nil
	}
	if len(buf)%2 == 1 {
		t.pending = []byte{buf[len(buf)-1]}
		buf = buf[:len(buf)-1]
	}
	if len(buf) == 0 {
		return len(p), nil
	}

	t.peak = max(t.peak, audio.PeakAmplitude(buf))
	t.fresh = true
	return len(p), nil
}

// NextSample returns the maximum amplitude since the last call and resets it.
// It returns monitor.ErrCaptureUnavailable when no audio arrived in between
// or the tracker was closed.
func (t *PeakTracker) NextSample() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || !t.fresh {
		return 0, monitor.ErrCaptureUnavailable
	}
	peak := t.peak
	t.peak = 0
	t.fresh = false
	return peak, nil
}

// Close marks the tracker as unavailable. Further writes fail.
func (t *PeakTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	return nil
}
