// Package server implements the listener (C7): the accept loop, the
// handshake/auth driver, the per-connection dispatch loop, and the named
// pool map handlers read and write through HandlerSources.
//
// The functional-option configuration shape is grounded on sdk/sdk.go's
// RDClientConfig/Option pair.
package server

import (
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/gosuda/phantomrpc"
	"github.com/gosuda/phantomrpc/auth"
	"github.com/gosuda/phantomrpc/internal/ratelimit"
)

// EncryptionConfig mirrors spec.md §3's encryption config: whether the
// X25519/AES-256-GCM handshake runs at all, and a PresharedKey field. The
// listener does not read PresharedKey; when Enabled is set the handshake
// always runs.
type EncryptionConfig struct {
	Enabled      bool
	PresharedKey *[32]byte
}

// Config[P, S, R] bundles everything a Listener needs: the packet
// factories an application supplies explicitly (see phantomrpc.Packet's
// doc comment on why these aren't interface methods), the authenticator,
// encryption settings, session lifetime, and the default handlers invoked
// when no registered handler matches a header.
type Config[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource] struct {
	NewPacket func() P
	NewOK     func() P
	NewError  func(msg string) P
	NewKeepAlive func() P
	ClonePacket func(P) P

	Authenticator auth.Authenticator
	Encryption    EncryptionConfig

	SessionLifespan time.Duration
	SweepInterval   time.Duration

	Resource R

	// Pools lists named pools declared up front via WithPool (spec.md §6's
	// `with_pool(name)` builder step), distinguishing "declared but empty"
	// from "never declared" in BroadcastTo.
	Pools []string

	DefaultOKHandler    HandlerFunc[P, S, R]
	DefaultErrorHandler HandlerFunc[P, S, R]

	RateLimit *ratelimit.Bucket

	TLSManager *autocert.Manager
}

// Option mutates a Config during construction.
type Option[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource] func(*Config[P, S, R])

// WithAuthenticator sets the credential check used during the handshake's
// credential-exchange step (spec.md §4.6 step 4).
func WithAuthenticator[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](a auth.Authenticator) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.Authenticator = a }
}

// WithEncryption enables the X25519/AES-256-GCM handshake.
func WithEncryption[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](enabled bool) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.Encryption.Enabled = enabled }
}

// WithSessionLifespan sets how long a minted session remains valid.
func WithSessionLifespan[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](d time.Duration) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.SessionLifespan = d }
}

// WithSweepInterval sets the session store's background eviction period.
func WithSweepInterval[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](d time.Duration) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.SweepInterval = d }
}

// WithResource sets the single shared resource instance handed to every
// handler invocation.
func WithResource[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](r R) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.Resource = r }
}

// WithPool declares a named pool up front (spec.md §6's `with_pool(name)`
// builder step), so BroadcastTo reports InvalidPool only for names that
// were never declared, rather than merely empty ones.
func WithPool[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](name string) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.Pools = append(c.Pools, name) }
}

// WithRateLimit creates one token-bucket limiter (rate/burst in bytes/sec)
// and attaches it to every connection the listener accepts. The bucket is
// shared: it bounds the combined bytes written across all connections, not
// each connection separately.
func WithRateLimit[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](rate, burst int64) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.RateLimit = ratelimit.NewBucket(rate, burst) }
}

// WithAutocert terminates TLS in front of the handshake/auth protocol using
// an ACME-managed certificate, for deployments that front the listener with
// a public hostname.
func WithAutocert[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](mgr *autocert.Manager) Option[P, S, R] {
	return func(c *Config[P, S, R]) { c.TLSManager = mgr }
}

func defaultConfig[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource]() Config[P, S, R] {
	return Config[P, S, R]{
		Authenticator:   auth.None{},
		SessionLifespan: 24 * time.Hour,
		SweepInterval:   30 * time.Second,
	}
}
