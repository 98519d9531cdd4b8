// Package ratelimit implements a simple token bucket, grounded on
// portal/utils/ratelimit: construct with a rate and burst in bytes/sec,
// then block in Take until enough tokens have accrued.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket rate limiter. A nil *Bucket is a valid no-op
// limiter (Take never blocks), so callers can pass through an optional
// limiter without a nil check at every call site.
type Bucket struct {
	mu         sync.Mutex
	rate       int64 // tokens (bytes) added per second
	burst      int64 // maximum accumulated tokens
	tokens     int64
	lastRefill time.Time
}

// NewBucket returns a bucket that refills at rate bytes/sec up to burst
// bytes. A non-positive rate is invalid and returns nil (no limiting). A
// non-positive burst defaults to rate (one second of headroom).
func NewBucket(rate, burst int64) *Bucket {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &Bucket{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// Take blocks until n bytes' worth of tokens are available, then consumes
// them. A request larger than burst is taken in burst-sized pieces, since
// the bucket never holds more than burst tokens at once. Safe for
// concurrent use.
func (b *Bucket) Take(n int64) {
	if b == nil || n <= 0 {
		return
	}
	for n > b.burst {
		b.Take(b.burst)
		n -= b.burst
	}

	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return
		}
		deficit := n - b.tokens
		wait := time.Duration(float64(deficit) / float64(b.rate) * float64(time.Second))
		b.mu.Unlock()

		if wait > 0 {
			time.Sleep(wait)
		}
	}
}

func (b *Bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	added := int64(elapsed * float64(b.rate))
	if added <= 0 {
		return
	}
	b.tokens += added
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}
