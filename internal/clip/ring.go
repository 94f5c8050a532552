// Package clip keeps the most recent audio in memory and saves it as a WAV
// file when a noise alert fires.
package clip

import "sync"

// Ring is a fixed-size ring of 16-bit PCM that always holds the newest
// whole samples. A sample split across two writes is held back until its
// second byte arrives, so the buffered bytes never start mid-sample.
type Ring struct {
	mu           sync.Mutex
	buf          []byte
	writePos     int
	totalWritten int64
	pending      []byte
}

// NewRing allocates a ring holding capacity bytes, rounded up to whole samples.
func NewRing(capacity int) *Ring {
	capacity = max(capacity, 2)
	capacity += capacity % 2
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest samples when full.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if len(r.pending) > 0 && len(p) > 0 {
		r.store(append(r.pending, p[0]))
		r.pending = nil
		p = p[1:]
	}
	if len(p)%2 == 1 {
		r.pending = []byte{p[len(p)-1]}
		p = p[:len(p)-1]
	}
	r.store(p)
	return n, nil
}

// store copies an even number of bytes into the ring.
func (r *Ring) store(p []byte) {
	r.totalWritten += int64(len(p))
	// Only the tail of an oversized write survives.
	if len(p) > len(r.buf) {
		skip := len(p) - len(r.buf)
		r.writePos = (r.writePos + skip) % len(r.buf)
		p = p[skip:]
	}
	for len(p) > 0 {
		c := copy(r.buf[r.writePos:], p)
		r.writePos = (r.writePos + c) % len(r.buf)
		p = p[c:]
	}
}

// Len returns the number of buffered bytes, always a whole number of samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(min(r.totalWritten, int64(len(r.buf))))
}

// Last copies out the newest n bytes (fewer if less is buffered), trimmed
// to whole samples.
func (r *Ring) Last(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = int(min(int64(n), r.totalWritten, int64(len(r.buf))))
	n -= n % 2
	out := make([]byte, n)
	start := (r.writePos - n + len(r.buf)) % len(r.buf)
	c := copy(out, r.buf[start:])
	if c < n {
		copy(out[c:], r.buf[:n-c])
	}
	return out
}

// Reset discards all buffered data.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.totalWritten = 0
	r.pending = nil
}
