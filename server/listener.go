package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/phantomrpc"
	"github.com/gosuda/phantomrpc/auth"
	phcrypto "github.com/gosuda/phantomrpc/crypto"
	"github.com/gosuda/phantomrpc/registry"
	"github.com/gosuda/phantomrpc/session"
	"github.com/gosuda/phantomrpc/socket"
)

// Listener implements C7: it owns the bound TCP socket, the session store,
// the pool map, and runs the accept -> handshake -> auth -> dispatch
// protocol for every connection.
type Listener[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource] struct {
	cfg Config[P, S, R]

	ln    net.Listener
	store *session.Store
	pools *Pools[P]

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds addr and returns a Listener ready for Serve. Options are
// applied over a default Config (auth.None, 24h sessions, 30s sweep).
func Listen[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource](
	addr string, opts ...Option[P, S, R],
) (*Listener[P, S, R], error) {
	cfg := defaultConfig[P, S, R]()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.NewPacket == nil || cfg.NewOK == nil || cfg.NewError == nil || cfg.NewKeepAlive == nil || cfg.ClonePacket == nil {
		return nil, fmt.Errorf("phantomrpc/server: Config is missing a required packet factory")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("phantomrpc/server: listen %s: %w", addr, err)
	}
	if cfg.TLSManager != nil {
		ln = tls.NewListener(ln, cfg.TLSManager.TLSConfig())
	}

	store := session.NewStore(cfg.SweepInterval)
	store.Start()

	l := &Listener[P, S, R]{
		cfg:    cfg,
		ln:     ln,
		store:  store,
		pools:  newPools[P](),
		closed: make(chan struct{}),
	}
	for _, name := range cfg.Pools {
		l.pools.Declare(name)
	}
	return l, nil
}

// Addr returns the listener's bound network address.
func (l *Listener[P, S, R]) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections and halts the session sweep.
func (l *Listener[P, S, R]) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.ln.Close()
		l.store.Stop()
	})
	return err
}

// Wait blocks until every spawned connection goroutine has exited. Intended
// to be called after Close during shutdown.
func (l *Listener[P, S, R]) Wait() { l.wg.Wait() }

// Pools exposes the listener's keep-alive and named pools, e.g. for a
// caller that wants to broadcast without going through a handler.
func (l *Listener[P, S, R]) Pools() *Pools[P] { return l.pools }

// Sessions exposes the listener's session store, e.g. for a caller that
// wants to seed or inspect sessions directly (spec.md §8 scenario 3 seeds
// an already-expired session ahead of a client presenting its id).
func (l *Listener[P, S, R]) Sessions() *session.Store { return l.store }

// Broadcast fans pkt out to every socket in the keep-alive pool.
func (l *Listener[P, S, R]) Broadcast(pkt P) error {
	return l.pools.Broadcast(pkt, l.cfg.ClonePacket)
}

// Serve runs the accept loop until Close is called. Each accepted
// connection is handled in its own goroutine.
func (l *Listener[P, S, R]) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return nil
			default:
				return fmt.Errorf("phantomrpc/server: accept: %w", err)
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

func (l *Listener[P, S, R]) handleConn(conn net.Conn) {
	// Step 1: sweep (spec.md §4.6) — cheap, bounded by store size.
	l.store.SweepExpired()

	var cipher *phcrypto.Cipher
	if l.cfg.Encryption.Enabled {
		c, err := l.serverHandshake(conn)
		if err != nil {
			log.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("phantomrpc: handshake failed")
			conn.Close()
			return
		}
		cipher = c
	}

	s := socket.New[P](conn, l.cfg.NewPacket)
	if cipher != nil {
		s.SetCipher(cipher)
	}
	if l.cfg.RateLimit != nil {
		s.SetRateLimiter(l.cfg.RateLimit)
	}
	defer s.Close()

	if err := l.authenticate(s); err != nil {
		log.Warn().Err(err).Str("peer", s.PeerAddr().String()).Msg("phantomrpc: authentication failed")
		l.defaultError(s, err)
		return
	}

	l.dispatchLoop(s)
}

// serverHandshake runs the server side of §4.1's X25519 key exchange
// directly over the raw connection, before a cipher (and therefore a
// Socket) exists: read the client's length-prefixed public key, generate
// a fresh server keypair, derive the shared secret, and write the server's
// own length-prefixed public key back.
func (l *Listener[P, S, R]) serverHandshake(conn net.Conn) (*phcrypto.Cipher, error) {
	clientPub, err := phcrypto.ReadHandshakeKey(conn)
	if err != nil {
		return nil, &phantomrpc.EncryptionError{Cause: err}
	}

	kp, err := phcrypto.GenerateKeyPair()
	if err != nil {
		return nil, &phantomrpc.EncryptionError{Cause: err}
	}

	secret, err := phcrypto.SharedSecret(kp.Private, clientPub)
	if err != nil {
		return nil, &phantomrpc.EncryptionError{Cause: err}
	}

	cipher, err := phcrypto.NewCipher(secret)
	if err != nil {
		return nil, &phantomrpc.EncryptionError{Cause: err}
	}

	if err := phcrypto.WriteHandshakeKey(conn, kp.Public); err != nil {
		return nil, &phantomrpc.EncryptionError{Cause: err}
	}
	return cipher, nil
}

func (l *Listener[P, S, R]) authenticate(s socket.Socket[P]) error {
	if _, isNone := l.cfg.Authenticator.(auth.None); isNone || l.cfg.Authenticator == nil {
		return l.mintSession(s)
	}

	p, err := s.Recv()
	if err != nil {
		return err
	}

	if sid, ok := p.SessionID(); ok && sid != "" {
		sess, found := l.store.Get(sid)
		if !found {
			return &phantomrpc.InvalidSessionIDError{ID: sid}
		}
		if sess.IsExpired() {
			return &phantomrpc.ExpiredSessionIDError{ID: sid}
		}
		s.SetSessionID(sid)
		l.pools.KeepAlive.Insert(s)
		return s.Send(l.cfg.NewOK())
	}

	username, password := p.Body().Username, p.Body().Password
	if username == "" && password == "" {
		return phantomrpc.ErrInvalidCredentials
	}

	if err := l.cfg.Authenticator.Authenticate(context.Background(), username, password); err != nil {
		return phantomrpc.ErrInvalidCredentials
	}
	return l.mintSession(s)
}

func (l *Listener[P, S, R]) mintSession(s socket.Socket[P]) error {
	id := uuid.New().String()
	l.store.Insert(session.New(id, l.cfg.SessionLifespan))
	s.SetSessionID(id)
	l.pools.KeepAlive.Insert(s)

	ok := l.cfg.NewOK()
	ok.SetSessionID(id)
	return s.Send(ok)
}

func (l *Listener[P, S, R]) dispatchLoop(s socket.Socket[P]) {
	for {
		p, err := s.Recv()
		if err != nil {
			if err == phantomrpc.ErrConnectionClosed {
				return
			}
			l.defaultError(s, err)
			continue
		}

		if p.Header() == phantomrpc.HeaderKeepAlive {
			l.handleKeepAlive(s, p)
			continue
		}

		l.dispatch(s, p)
	}
}

func (l *Listener[P, S, R]) handleKeepAlive(s socket.Socket[P], p P) {
	id, _ := s.SessionID()

	reply := l.cfg.NewKeepAlive()
	reply.SetSessionID(id)
	_ = s.Send(reply)

	if p.Body().IsFirstKeepAlivePacket {
		for _, member := range l.pools.KeepAlive.Snapshot() {
			if mid, ok := member.SessionID(); ok && mid == id {
				return
			}
		}
		l.pools.KeepAlive.Insert(s)
	}
}

func (l *Listener[P, S, R]) dispatch(s socket.Socket[P], p P) {
	handlers := registry.Get[P, S, R](p.Header())
	if len(handlers) == 0 {
		l.invokeDefaultOK(s, p)
		return
	}

	for _, h := range handlers {
		fn, ok := h.(HandlerFunc[P, S, R])
		if !ok {
			continue
		}
		sources := HandlerSources[P, S, R]{
			Socket:   s.Clone(),
			Pools:    l.pools,
			Sessions: l.store,
			Resource: l.cfg.Resource,
		}
		fn(sources, l.cfg.ClonePacket(p))
	}
}

func (l *Listener[P, S, R]) invokeDefaultOK(s socket.Socket[P], p P) {
	if l.cfg.DefaultOKHandler == nil {
		id, _ := s.SessionID()
		ok := l.cfg.NewOK()
		ok.SetSessionID(id)
		_ = s.Send(ok)
		return
	}
	sources := HandlerSources[P, S, R]{
		Socket:   s.Clone(),
		Pools:    l.pools,
		Sessions: l.store,
		Resource: l.cfg.Resource,
	}
	l.cfg.DefaultOKHandler(sources, p)
}

func (l *Listener[P, S, R]) defaultError(s socket.Socket[P], cause error) {
	if l.cfg.DefaultErrorHandler != nil {
		sources := HandlerSources[P, S, R]{
			Socket:   s.Clone(),
			Pools:    l.pools,
			Sessions: l.store,
			Resource: l.cfg.Resource,
		}
		errPkt := l.cfg.NewError(cause.Error())
		l.cfg.DefaultErrorHandler(sources, errPkt)
		return
	}
	_ = s.Send(l.cfg.NewError(cause.Error()))
}
