package server_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/phantomrpc"
	"github.com/gosuda/phantomrpc/auth"
	"github.com/gosuda/phantomrpc/packet"
	"github.com/gosuda/phantomrpc/server"
	"github.com/gosuda/phantomrpc/session"
	"github.com/gosuda/phantomrpc/socket"
)

type chatPacket struct {
	packet.Base
	Data string `json:"data,omitempty"`
}

func newChatPacket(header string) *chatPacket {
	return &chatPacket{Base: packet.New(header)}
}

func (p *chatPacket) OK() *chatPacket {
	return newChatPacket(phantomrpc.HeaderOK)
}

func (p *chatPacket) MakeError(msg string) *chatPacket {
	e := newChatPacket(phantomrpc.HeaderError)
	e.StampError(msg)
	return e
}

func (p *chatPacket) KeepAlive() *chatPacket {
	return newChatPacket(phantomrpc.HeaderKeepAlive)
}

func (p *chatPacket) Clone() *chatPacket {
	clone := *p
	return &clone
}

type chatResource struct {
	greeting string
}

func chatConfig(opts ...server.Option[*chatPacket, *session.Session, *chatResource]) []server.Option[*chatPacket, *session.Session, *chatResource] {
	base := []server.Option[*chatPacket, *session.Session, *chatResource]{
		withFactories(),
	}
	return append(base, opts...)
}

func withFactories() server.Option[*chatPacket, *session.Session, *chatResource] {
	return func(c *server.Config[*chatPacket, *session.Session, *chatResource]) {
		c.NewPacket = func() *chatPacket { return newChatPacket("") }
		c.NewOK = func() *chatPacket { return newChatPacket("").OK() }
		c.NewError = func(msg string) *chatPacket { return newChatPacket("").MakeError(msg) }
		c.NewKeepAlive = func() *chatPacket { return newChatPacket("").KeepAlive() }
		c.ClonePacket = func(p *chatPacket) *chatPacket { return p.Clone() }
	}
}

func rawSendPacket(t *testing.T, conn net.Conn, p *chatPacket) {
	t.Helper()
	s := socket.New[*chatPacket](conn, func() *chatPacket { return newChatPacket("") })
	require.NoError(t, s.Send(p))
}

func rawRecvPacket(t *testing.T, conn net.Conn) *chatPacket {
	t.Helper()
	s := socket.New[*chatPacket](conn, func() *chatPacket { return newChatPacket("") })
	p, err := s.Recv()
	require.NoError(t, err)
	return p
}

func TestUnencryptedNoAuthRoundTrip(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig(server.WithResource[*chatPacket, *session.Session, *chatResource](&chatResource{greeting: "hi"}))...,
	)
	require.NoError(t, err)
	defer ln.Close()

	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	got := rawRecvPacket(t, conn)
	assert.Equal(t, phantomrpc.HeaderOK, got.Header())
	id, ok := got.SessionID()
	require.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestRootPasswordAuthSucceeds(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig(
			server.WithAuthenticator[*chatPacket, *session.Session, *chatResource](auth.RootPassword{Secret: "hunter2"}),
		)...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cred := newChatPacket("AUTH")
	cred.Body().Username = "root"
	cred.Body().Password = "hunter2"
	rawSendPacket(t, conn, cred)

	got := rawRecvPacket(t, conn)
	assert.Equal(t, phantomrpc.HeaderOK, got.Header())
}

func TestRootPasswordAuthRejectsBadCredentials(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig(
			server.WithAuthenticator[*chatPacket, *session.Session, *chatResource](auth.RootPassword{Secret: "hunter2"}),
		)...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cred := newChatPacket("AUTH")
	cred.Body().Username = "root"
	cred.Body().Password = "wrong"
	rawSendPacket(t, conn, cred)

	got := rawRecvPacket(t, conn)
	assert.Equal(t, phantomrpc.HeaderError, got.Header())
}

func TestInvalidSessionIDIsRejected(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig(
			server.WithAuthenticator[*chatPacket, *session.Session, *chatResource](auth.RootPassword{Secret: "x"}),
			server.WithSweepInterval[*chatPacket, *session.Session, *chatResource](time.Hour),
		)...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cred := newChatPacket("AUTH")
	cred.SetSessionID("nonexistent-session")
	rawSendPacket(t, conn, cred)

	got := rawRecvPacket(t, conn)
	assert.Equal(t, phantomrpc.HeaderError, got.Header())
}

// TestExpiredSessionIDIsRejected implements spec.md §8 scenario 3: a
// session whose created_at lies lifespan+1 seconds in the past is seeded
// directly into the store, and a client presenting that id receives an
// ERROR reply. Only the reply's header is checked here.
func TestExpiredSessionIDIsRejected(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig(
			server.WithAuthenticator[*chatPacket, *session.Session, *chatResource](auth.RootPassword{Secret: "x"}),
			server.WithSweepInterval[*chatPacket, *session.Session, *chatResource](time.Hour),
		)...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Give this connection's own per-accept sweep (listener.go's "Step 1")
	// a chance to run before seeding the already-expired session, so it
	// isn't swept out from under the id we're about to present.
	time.Sleep(20 * time.Millisecond)

	const lifespan = time.Minute
	ln.Sessions().Insert(&session.Session{
		IDField:        "stale-session",
		CreatedAtField: time.Now().Add(-(lifespan + time.Second)).Unix(),
		LifespanField:  lifespan,
	})

	cred := newChatPacket("AUTH")
	cred.SetSessionID("stale-session")
	rawSendPacket(t, conn, cred)

	got := rawRecvPacket(t, conn)
	assert.Equal(t, phantomrpc.HeaderError, got.Header())
}

func TestKeepAliveRepliesAndJoinsPool(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig()...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	okPkt := rawRecvPacket(t, conn)
	id, _ := okPkt.SessionID()

	ka := newChatPacket(phantomrpc.HeaderKeepAlive)
	ka.SetSessionID(id)
	ka.Body().IsFirstKeepAlivePacket = true
	rawSendPacket(t, conn, ka)

	reply := rawRecvPacket(t, conn)
	assert.Equal(t, phantomrpc.HeaderKeepAlive, reply.Header())
	replyID, _ := reply.SessionID()
	assert.Equal(t, id, replyID)
	assert.Equal(t, 1, ln.Pools().KeepAlive.Len())
}

func TestBroadcastReachesKeepAlivePool(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig()...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	rawRecvPacket(t, conn) // initial OK

	require.Eventually(t, func() bool { return ln.Pools().KeepAlive.Len() == 1 }, time.Second, 10*time.Millisecond)

	announce := newChatPacket("ANNOUNCE")
	announce.Data = "hello room"
	require.NoError(t, ln.Broadcast(announce))

	got := rawRecvPacket(t, conn)
	assert.Equal(t, "ANNOUNCE", got.Header())
	assert.Equal(t, "hello room", got.Data)
	assert.True(t, got.IsBroadcasting())
}

func TestWithPoolDeclaresNamedPoolForBroadcastTo(t *testing.T) {
	ln, err := server.Listen[*chatPacket, *session.Session, *chatResource](
		"127.0.0.1:0",
		chatConfig(server.WithPool[*chatPacket, *session.Session, *chatResource]("room-1"))...,
	)
	require.NoError(t, err)
	defer ln.Close()
	go ln.Serve()

	announce := newChatPacket("ANNOUNCE")
	announce.Data = "declared but empty"
	err = ln.Pools().BroadcastTo("room-1", announce, func(p *chatPacket) *chatPacket { return p.Clone() })
	assert.NoError(t, err)

	err = ln.Pools().BroadcastTo("never-declared", announce, func(p *chatPacket) *chatPacket { return p.Clone() })
	var invalid *phantomrpc.InvalidPoolError
	assert.ErrorAs(t, err, &invalid)
}
