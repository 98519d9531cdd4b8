// Package client implements C8: connection establishment, the bounded
// writer/reader task pair, send/recv with timeouts, keep-alive, and
// reconnection with backoff+jitter. Configuration follows sdk/sdk.go's
// RDClientConfig/Option functional-option shape.
package client

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/gosuda/phantomrpc"
)

// EncryptionConfig mirrors server.EncryptionConfig for the client side.
type EncryptionConfig struct {
	Enabled bool
}

// ReconnectConfig mirrors spec.md §3's reconnection config.
type ReconnectConfig struct {
	Endpoints      []string // host:port, first is primary, rest are fallbacks
	Auto           bool
	MaxAttempts    int // 0 means unlimited
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
	Reinitialize   bool
}

// Config[P] bundles everything a Client needs.
type Config[P phantomrpc.Packet] struct {
	NewPacket    func() P
	NewOK        func() P
	NewKeepAlive func() P
	ClonePacket  func(P) P

	Username string
	Password string

	Encryption EncryptionConfig
	Reconnect  ReconnectConfig

	KeepAliveInterval time.Duration // 0 disables the keep-alive loop

	BroadcastHandler func(P)

	WebSocketDialer func(addr string) (*websocket.Conn, error)

	SendTimeout time.Duration
	RecvTimeout time.Duration
}

// Option mutates a Config during construction.
type Option[P phantomrpc.Packet] func(*Config[P])

// WithCredentials stamps every packet lacking a session id with username
// and password.
func WithCredentials[P phantomrpc.Packet](username, password string) Option[P] {
	return func(c *Config[P]) {
		c.Username = username
		c.Password = password
	}
}

// WithEncryption enables the X25519/AES-256-GCM handshake on connect.
func WithEncryption[P phantomrpc.Packet](enabled bool) Option[P] {
	return func(c *Config[P]) { c.Encryption.Enabled = enabled }
}

// WithReconnect configures automatic reconnection (spec.md §4.7).
func WithReconnect[P phantomrpc.Packet](rc ReconnectConfig) Option[P] {
	return func(c *Config[P]) { c.Reconnect = rc }
}

// WithKeepAlive enables the keep-alive loop at the given tick interval.
func WithKeepAlive[P phantomrpc.Packet](interval time.Duration) Option[P] {
	return func(c *Config[P]) { c.KeepAliveInterval = interval }
}

// WithBroadcastHandler installs the hook invoked for packets with
// is_broadcast_packet set, instead of returning them from Recv.
func WithBroadcastHandler[P phantomrpc.Packet](fn func(P)) Option[P] {
	return func(c *Config[P]) { c.BroadcastHandler = fn }
}

// WithWebSocketTransport makes Connect dial over a WebSocket connection
// (via dial) instead of raw TCP, exercising gorilla/websocket as an
// additive transport alongside the default.
func WithWebSocketTransport[P phantomrpc.Packet](dial func(addr string) (*websocket.Conn, error)) Option[P] {
	return func(c *Config[P]) { c.WebSocketDialer = dial }
}

func defaultConfig[P phantomrpc.Packet]() Config[P] {
	return Config[P]{
		SendTimeout: 5 * time.Second,
		RecvTimeout: 10 * time.Second,
		Reconnect: ReconnectConfig{
			BaseDelay:      time.Second,
			MaxDelay:       30 * time.Second,
			BackoffFactor:  2,
			JitterFraction: 0.2,
		},
	}
}
