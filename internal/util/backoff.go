package util

import (
	"context"
	"time"
)

// Backoff yields doubling retry delays capped at a maximum. It is meant for a
// single retry loop and is not safe for concurrent use.
type Backoff struct {
	initial  time.Duration
	maxDelay time.Duration
	attempt  int
}

// NewBackoff returns a Backoff starting at initial and never exceeding maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{initial: initial, maxDelay: maxDelay}
}

// Next returns the delay for the next retry and counts the attempt.
func (b *Backoff) Next() time.Duration {
	d := b.initial
	for range b.attempt {
		if d >= b.maxDelay {
			break
		}
		d *= 2
	}
	b.attempt++
	return min(d, b.maxDelay)
}

// Attempts returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Wait sleeps for the next delay, or for atLeast when that is longer, such as
// a server-supplied Retry-After. It returns early with ctx's error when ctx
// is done.
func (b *Backoff) Wait(ctx context.Context, atLeast time.Duration) error {
	t := time.NewTimer(max(b.Next(), atLeast))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
