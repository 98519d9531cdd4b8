// Package socket implements the per-connection wrapper (C4): independently
// lockable read/write halves over a net.Conn, an optional cipher attached
// once by the handshake, and JSON packet ser/de layered over the raw,
// length-prefixed frame format in internal/wire.
//
// Grounded on portal/reverse_hub.go's ReverseConn (sync.Once-guarded close
// wrapping a net.Conn) and portal/utils/pool (pooled read buffers), with
// the single read/write mutex pair generalized to cover both halves
// independently, per spec.
package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gosuda/phantomrpc"
	"github.com/gosuda/phantomrpc/crypto"
	"github.com/gosuda/phantomrpc/internal/ratelimit"
	"github.com/gosuda/phantomrpc/internal/wire"
)

// RecvTimeout bounds how long Recv/RecvRaw block waiting for a frame, so a
// handler polling a socket that has nothing pending does not hold the read
// lock indefinitely. Elapsing reports phantomrpc.ErrReadTimeout.
const RecvTimeout = time.Second

// core is the state shared by every clone of a Socket. Socket is a thin,
// cheaply-copyable handle around a pointer to core, matching the spec's
// "clones share the underlying halves".
type core struct {
	conn net.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex

	cipherMu sync.RWMutex
	cipher   *crypto.Cipher

	limiterMu sync.RWMutex
	limiter   *ratelimit.Bucket

	sessionMu sync.RWMutex
	sessionID string

	closeOnce sync.Once
	closed    chan struct{}
}

// Socket is a per-connection handle over P, the application's packet type.
// Socket values are cheap to copy: copies share the same core and so the
// same underlying connection, cipher and session id.
type Socket[P phantomrpc.Packet] struct {
	c         *core
	newPacket func() P
}

// New wraps conn. newPacket must return a freshly allocated, zero-value P
// each call; it is used to deserialize inbound frames.
func New[P phantomrpc.Packet](conn net.Conn, newPacket func() P) Socket[P] {
	return Socket[P]{
		c: &core{
			conn:   conn,
			closed: make(chan struct{}),
		},
		newPacket: newPacket,
	}
}

// Clone returns a handle sharing the same underlying connection, cipher and
// session id as s. Safe to hand to multiple handlers/goroutines.
func (s Socket[P]) Clone() Socket[P] {
	return s
}

// SetCipher attaches the cipher derived from the handshake. Once set it is
// immutable for the remainder of the connection, per spec.
func (s Socket[P]) SetCipher(c *crypto.Cipher) {
	s.c.cipherMu.Lock()
	defer s.c.cipherMu.Unlock()
	s.c.cipher = c
}

func (s Socket[P]) cipher() *crypto.Cipher {
	s.c.cipherMu.RLock()
	defer s.c.cipherMu.RUnlock()
	return s.c.cipher
}

// SetRateLimiter attaches a token-bucket limiter that SendRaw draws from
// before writing each frame, bounding how fast this one socket may be
// written to (e.g. during a broadcast storm). A nil limiter disables
// limiting.
func (s Socket[P]) SetRateLimiter(b *ratelimit.Bucket) {
	s.c.limiterMu.Lock()
	defer s.c.limiterMu.Unlock()
	s.c.limiter = b
}

func (s Socket[P]) limiter() *ratelimit.Bucket {
	s.c.limiterMu.RLock()
	defer s.c.limiterMu.RUnlock()
	return s.c.limiter
}

// SessionID returns the session id attached to this socket, if any.
func (s Socket[P]) SessionID() (string, bool) {
	s.c.sessionMu.RLock()
	defer s.c.sessionMu.RUnlock()
	return s.c.sessionID, s.c.sessionID != ""
}

// SetSessionID attaches id to this socket.
func (s Socket[P]) SetSessionID(id string) {
	s.c.sessionMu.Lock()
	defer s.c.sessionMu.Unlock()
	s.c.sessionID = id
}

// PeerAddr returns the remote address of the underlying connection.
func (s Socket[P]) PeerAddr() net.Addr {
	return s.c.conn.RemoteAddr()
}

// Close closes the underlying connection. Safe to call multiple times and
// from multiple clones concurrently.
func (s Socket[P]) Close() error {
	var err error
	s.c.closeOnce.Do(func() {
		close(s.c.closed)
		err = s.c.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called on this socket (or any of
// its clones).
func (s Socket[P]) Closed() bool {
	select {
	case <-s.c.closed:
		return true
	default:
		return false
	}
}

// SendRaw writes payload as a single length-prefixed frame, sealed with the
// attached cipher if one is set. Bypasses packet ser/de; used by the relay
// to forward opaque downstream payloads.
func (s Socket[P]) SendRaw(payload []byte) error {
	s.limiter().Take(int64(len(payload)))

	s.c.writeMu.Lock()
	defer s.c.writeMu.Unlock()

	if err := wire.WriteFrame(s.c.conn, s.cipher(), payload); err != nil {
		return &phantomrpc.IOError{Op: "send", Cause: err}
	}
	return nil
}

// RecvRaw reads one length-prefixed frame, opening it with the attached
// cipher if one is set. Bypasses packet ser/de.
func (s Socket[P]) RecvRaw() ([]byte, error) {
	s.c.readMu.Lock()
	defer s.c.readMu.Unlock()

	if err := s.c.conn.SetReadDeadline(time.Now().Add(RecvTimeout)); err != nil {
		return nil, &phantomrpc.IOError{Op: "recv", Cause: err}
	}

	payload, err := wire.ReadFrame(s.c.conn, s.cipher())
	if err == nil {
		return payload, nil
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil, phantomrpc.ErrReadTimeout
	}
	if isClosed(err) {
		return nil, phantomrpc.ErrConnectionClosed
	}
	return nil, &phantomrpc.IOError{Op: "recv", Cause: err}
}

// Send serializes p as JSON and writes it as a single frame.
func (s Socket[P]) Send(p P) error {
	id, _ := s.SessionID()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("phantomrpc/socket: marshal packet: %w", err)
	}
	if err := s.SendRaw(data); err != nil {
		return &phantomrpc.FailedPacketSendError{SessionID: id, Cause: err}
	}
	return nil
}

// Recv reads and deserializes one packet.
func (s Socket[P]) Recv() (P, error) {
	var zero P

	data, err := s.RecvRaw()
	if err != nil {
		return zero, err
	}

	p := s.newPacket()
	if err := json.Unmarshal(data, p); err != nil {
		id, _ := s.SessionID()
		return zero, &phantomrpc.FailedPacketReadError{SessionID: id, Cause: err}
	}
	return p, nil
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
