package client

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// endpointCycle walks ReconnectConfig.Endpoints round-robin, always trying
// the next one after a failed attempt.
type endpointCycle struct {
	endpoints []string
	next      int
}

func newEndpointCycle(endpoints []string) *endpointCycle {
	return &endpointCycle{endpoints: endpoints}
}

func (e *endpointCycle) pick() string {
	addr := e.endpoints[e.next%len(e.endpoints)]
	e.next++
	return addr
}

// reconnect runs spec.md §4.7's backoff+jitter reconnect procedure: try
// each configured endpoint in turn, sleeping
// min(max_delay, base_delay*backoff_factor^attempt)*(1+U(0,jitter)) between
// attempts, until one succeeds, Reconnect.MaxAttempts attempts have failed
// (0 means no cap), or Reconnect.Auto is false / the client has been
// permanently closed.
func (c *Client[P]) reconnect() bool {
	if c.stopped.Load() {
		return false
	}
	if !c.cfg.Reconnect.Auto {
		return false
	}

	rc := c.cfg.Reconnect
	for attempt := 0; rc.MaxAttempts == 0 || attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(rc.BaseDelay, rc.MaxDelay, rc.BackoffFactor, rc.JitterFraction, attempt))
		}
		if c.stopped.Load() {
			return false
		}

		addr := c.ep.pick()
		if err := c.establish(addr); err != nil {
			log.Warn().Err(err).Str("endpoint", addr).Int("attempt", attempt).Msg("phantomrpc/client: reconnect attempt failed")
			continue
		}

		log.Info().Str("endpoint", addr).Int("attempt", attempt).Msg("phantomrpc/client: reconnected")
		return true
	}
	return false
}

// backoffDelay computes the exponential-backoff-with-jitter sleep duration
// for the given attempt number (0-indexed).
func backoffDelay(base, max time.Duration, factor, jitterFraction float64, attempt int) time.Duration {
	scaled := float64(base)
	for i := 0; i < attempt; i++ {
		scaled *= factor
	}
	delay := time.Duration(scaled)
	if delay > max {
		delay = max
	}
	if jitterFraction > 0 {
		jitter := 1 + jitterFraction*rand.Float64()
		delay = time.Duration(float64(delay) * jitter)
	}
	return delay
}
