// Package relay implements C9, the transparent "phantom" relay: a single
// handler, registered on an existing listener's front door, that forwards
// an opaque inner payload to a downstream endpoint over its own client
// connection and relays the raw response back.
//
// Grounded on portal/reverse_hub.go's pattern of forwarding a front-door
// stream's bytes to a registered downstream without re-parsing payloads,
// composed from the already-built server/client packages (C9 is pure
// composition — it introduces no transport or protocol of its own).
package relay

import (
	"fmt"

	"github.com/gosuda/phantomrpc"
	"github.com/gosuda/phantomrpc/client"
	"github.com/gosuda/phantomrpc/registry"
	"github.com/gosuda/phantomrpc/server"
)

// Reserved relay headers (spec.md §4.8).
const (
	HeaderRelay         = "relay"
	HeaderRelayResponse = "relay-response"
)

// ClientConfig describes the downstream endpoint a relay request should be
// forwarded to.
type ClientConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (c *ClientConfig) addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Request is the contract a front-door packet type must satisfy to be
// relayable: it carries an opaque inner payload and the downstream config
// describing where to forward it.
type Request interface {
	phantomrpc.Packet
	RelayPayload() string
	SetRelayPayload(payload string)
	DownstreamConfig() *ClientConfig
}

// Config bundles the packet factories and downstream dial options the
// relay handler needs. NewRelayResponse must return a packet stamped with
// header HeaderRelayResponse.
type Config[P Request] struct {
	NewError          func(string) P
	NewRelayResponse  func() P
	DownstreamOptions []client.Option[P]
}

// Register installs the relay handler under HeaderRelay on the process-wide
// registry, for the given packet/session/resource type triple. Call this
// once per (P,S,R) combination before the listener starts serving.
func Register[P Request, S phantomrpc.Session, R phantomrpc.Resource](cfg Config[P]) {
	registry.Register[P, S, R](HeaderRelay, Handler[P, S, R](cfg))
}

// Handler implements the four steps of spec.md §4.8:
//  1. validate the inner payload and downstream config are present,
//  2. dial and finalize a downstream client from the config,
//  3. forward the inner payload raw (no re-parse), await the raw reply,
//  4. wrap the reply in a HeaderRelayResponse packet and send it back.
//
// Failures at any step produce an ERROR reply; nothing is retried here —
// spec.md leaves end-to-end retry to the front-door client.
func Handler[P Request, S phantomrpc.Session, R phantomrpc.Resource](cfg Config[P]) server.HandlerFunc[P, S, R] {
	return func(src server.HandlerSources[P, S, R], p P) {
		payload := p.RelayPayload()
		downstream := p.DownstreamConfig()
		if payload == "" || downstream == nil {
			sendRelayError(src, cfg, "relay: missing inner payload or downstream config")
			return
		}

		dc, err := client.Connect[P](downstream.addr(), cfg.DownstreamOptions...)
		if err != nil {
			sendRelayError(src, cfg, fmt.Sprintf("relay: dial downstream: %v", err))
			return
		}
		defer dc.Close()

		respRaw, err := dc.SendRecvRaw([]byte(payload))
		if err != nil {
			sendRelayError(src, cfg, fmt.Sprintf("relay: downstream exchange: %v", err))
			return
		}

		reply := cfg.NewRelayResponse()
		reply.SetRelayPayload(string(respRaw))
		if id, ok := src.Socket.SessionID(); ok {
			reply.SetSessionID(id)
		}
		_ = src.Socket.Send(reply)
	}
}

func sendRelayError[P Request, S phantomrpc.Session, R phantomrpc.Resource](src server.HandlerSources[P, S, R], cfg Config[P], msg string) {
	errPkt := cfg.NewError(msg)
	if id, ok := src.Socket.SessionID(); ok {
		errPkt.SetSessionID(id)
	}
	_ = src.Socket.Send(errPkt)
}
