package client

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/phantomrpc"
)

const keepAliveFailureLimit = 3

// pingProbability is the chance each keep-alive tick also runs the low-
// probability Ping health check (spec.md §4.7).
const pingProbability = 0.1

// startKeepAlive launches the background ticker that stamps and sends a
// KEEPALIVE packet at Config.KeepAliveInterval, marking the loop's first
// successful tick with is_first_keep_alive_packet; the flag is not set
// again after a reconnect. Three
// consecutive failures mark the connection down so SendRecv's reconnect
// path takes over. Each tick additionally has a low-probability Ping
// health check, whose failure counts the same as a failed send.
func (c *Client[P]) startKeepAlive() {
	c.keepAliveStop = make(chan struct{})
	c.keepAliveDone = make(chan struct{})

	go func() {
		defer close(c.keepAliveDone)

		ticker := time.NewTicker(c.cfg.KeepAliveInterval)
		defer ticker.Stop()

		failures := 0
		first := true

		for {
			select {
			case <-c.keepAliveStop:
				return
			case <-ticker.C:
				if c.stopped.Load() {
					return
				}

				ok := true
				if err := c.sendKeepAlive(first); err != nil {
					log.Warn().Err(err).Msg("phantomrpc/client: keep-alive failed")
					ok = false
				}
				if ok && rand.Float64() < pingProbability && !c.Ping() {
					log.Warn().Msg("phantomrpc/client: keep-alive ping health check failed")
					ok = false
				}

				if !ok {
					failures++
					if failures >= keepAliveFailureLimit {
						c.connDown.Store(true)
						failures = 0
					}
					continue
				}
				first = false
				failures = 0
			}
		}
	}()
}

func (c *Client[P]) sendKeepAlive(first bool) error {
	id, ok := c.SessionID()
	if !ok {
		return phantomrpc.ErrKeepAliveNoSessionID
	}

	newKA := c.cfg.NewKeepAlive
	if newKA == nil {
		newKA = c.cfg.NewPacket
	}

	ka := newKA()
	ka.SetSessionID(id)
	ka.Body().IsFirstKeepAlivePacket = first
	return c.Send(ka)
}
