package server

import (
	"github.com/gosuda/phantomrpc"
	"github.com/gosuda/phantomrpc/session"
	"github.com/gosuda/phantomrpc/socket"
)

// HandlerFunc is the shape every registered and default handler satisfies:
// given the sources available to this connection and the packet that
// triggered dispatch, do whatever the application needs. Errors are
// reported through sources/logging rather than returned, mirroring the
// spec's "handlers are invoked, awaited, errors are the handler's concern".
type HandlerFunc[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource] func(HandlerSources[P, S, R], P)

// HandlerSources bundles what a handler needs to act: its own socket, a
// reference to the listener's pools, and the shared resource. Cheap to
// clone — Socket already shares its core by reference, and Pools/Resource
// are themselves references.
type HandlerSources[P phantomrpc.Packet, S phantomrpc.Session, R phantomrpc.Resource] struct {
	Socket   socket.Socket[P]
	Pools    *Pools[P]
	Sessions *session.Store
	Resource R
}

// Pools bundles the listener's implicit keep-alive pool and its map of
// user-declared named pools (spec.md §4.4/§4.6).
type Pools[P phantomrpc.Packet] struct {
	KeepAlive *socket.Pool[P]
	Named     *socket.PoolMap[P]
}

// Get returns the named pool, creating it on first use.
func (p *Pools[P]) Get(name string) *socket.Pool[P] {
	return p.Named.Get(name)
}

// Insert adds s to the named pool, creating it on first use.
func (p *Pools[P]) Insert(name string, s socket.Socket[P]) {
	p.Named.Insert(name, s)
}

// Broadcast fans pkt out to every socket in the keep-alive pool.
func (p *Pools[P]) Broadcast(pkt P, clone func(P) P) error {
	return socket.Broadcast(p.KeepAlive, pkt, clone)
}

// BroadcastTo fans pkt out to one named pool, error InvalidPool if the
// name was never declared via WithPool.
func (p *Pools[P]) BroadcastTo(name string, pkt P, clone func(P) P) error {
	return p.Named.BroadcastTo(name, pkt, clone)
}

// Declare marks name as an explicitly-declared pool (spec.md §6's
// `with_pool(name)` builder step).
func (p *Pools[P]) Declare(name string) {
	p.Named.Declare(name)
}

func newPools[P phantomrpc.Packet]() *Pools[P] {
	return &Pools[P]{
		KeepAlive: socket.NewPool[P](),
		Named:     socket.NewPoolMap[P](),
	}
}
