package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/phantomrpc/internal/ratelimit"
)

// Loose thresholds to avoid flakiness under CI scheduling jitter.
func TestSimpleRateAndBurst(t *testing.T) {
	rate := int64(1 * 1024 * 1024) // 1 MiB/s
	burst := rate
	b := ratelimit.NewBucket(rate, burst)
	require.NotNil(t, b)

	start := time.Now()
	b.Take(burst / 2)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "half-burst should be immediate")

	start = time.Now()
	b.Take(2 * rate)
	assert.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond, "over-burst should throttle")
}

func TestNewBucketInvalidRate(t *testing.T) {
	assert.Nil(t, ratelimit.NewBucket(0, 100))
	assert.Nil(t, ratelimit.NewBucket(-1, 100))
}

func TestNilBucketTakeNeverBlocks(t *testing.T) {
	var b *ratelimit.Bucket
	start := time.Now()
	b.Take(1 << 30)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestNewBucketDefaultBurst(t *testing.T) {
	b := ratelimit.NewBucket(1000, 0)
	require.NotNil(t, b)
	start := time.Now()
	b.Take(1000)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
