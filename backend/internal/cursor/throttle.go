package cursor

import (
	"sync"
	"time"
)

// Throttle caps cursor_update fan-out per connection. Excess samples are
// dropped, not queued: cursor data is last-write-wins and a dropped sample
// is replaced by the next one within 50ms anyway.
type Throttle struct {
	rate int // allowed updates per second per connection

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewThrottle(ratePerSec int) *Throttle {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	return &Throttle{rate: ratePerSec, buckets: make(map[string]*bucket)}
}

// Allow reports whether a cursor update from this connection may be relayed
// right now. Token bucket with capacity == rate, refilled continuously.
func (t *Throttle) Allow(connectionID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[connectionID]
	if !ok {
		t.buckets[connectionID] = &bucket{tokens: float64(t.rate) - 1, last: now}
		return true
	}
	b.tokens += now.Sub(b.last).Seconds() * float64(t.rate)
	if b.tokens > float64(t.rate) {
		b.tokens = float64(t.rate)
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Forget drops the bucket for a closed connection.
func (t *Throttle) Forget(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, connectionID)
}
