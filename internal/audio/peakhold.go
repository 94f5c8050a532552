package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak level is held before it decays.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks the held peak level shown next to the live meter.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder at FloorDB with the default duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{
		held:         FloorDB,
		holdDuration: DefaultPeakHoldDuration,
	}
}

// Update feeds a new level and returns the held peak.
func (p *PeakHolder) Update(level float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// SetHoldDuration updates the peak hold duration.
func (p *PeakHolder) SetHoldDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdDuration = d
}

// Reset drops the held peak back to FloorDB.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = FloorDB
	p.heldAt = time.Time{}
}
