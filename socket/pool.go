package socket

import (
	"sync"

	"github.com/gosuda/phantomrpc"
)

// Pool is a named collection of sockets: the listener's implicit keep-alive
// pool, plus zero or more user-declared pools. Insertion is append, removal
// is by session id, iteration is a snapshot taken under a read lock.
type Pool[P phantomrpc.Packet] struct {
	mu      sync.RWMutex
	sockets []Socket[P]
}

// NewPool returns an empty pool.
func NewPool[P phantomrpc.Packet]() *Pool[P] {
	return &Pool[P]{}
}

// Insert appends s to the pool.
func (p *Pool[P]) Insert(s Socket[P]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sockets = append(p.sockets, s)
}

// Remove deletes every socket in the pool whose session id equals id.
func (p *Pool[P]) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.sockets[:0]
	for _, s := range p.sockets {
		if sid, ok := s.SessionID(); ok && sid == id {
			continue
		}
		kept = append(kept, s)
	}
	p.sockets = kept
}

// Snapshot returns a read-locked, cloned copy of the pool's current sockets.
func (p *Pool[P]) Snapshot() []Socket[P] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Socket[P], len(p.sockets))
	copy(out, p.sockets)
	return out
}

// Len reports the number of sockets currently in the pool.
func (p *Pool[P]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sockets)
}

// Broadcast sends a clone of p, marked broadcasting, to every socket in the
// pool. Send errors are collected and returned as a *phantomrpc.BroadcastError;
// nil is returned if every send succeeded.
func Broadcast[P phantomrpc.Packet](pool *Pool[P], pkt P, clone func(P) P) error {
	return broadcastTo(pool.Snapshot(), pkt, clone)
}

// BroadcastAll fans pkt out to every socket across all given pools.
func BroadcastAll[P phantomrpc.Packet](pools []*Pool[P], pkt P, clone func(P) P) error {
	var all []Socket[P]
	for _, pool := range pools {
		all = append(all, pool.Snapshot()...)
	}
	return broadcastTo(all, pkt, clone)
}

func broadcastTo[P phantomrpc.Packet](sockets []Socket[P], pkt P, clone func(P) P) error {
	var errs []error
	for _, s := range sockets {
		c := clone(pkt)
		c.SetBroadcasting()
		if err := s.Send(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &phantomrpc.BroadcastError{Errors: errs}
}

// PoolMap is the listener's named-pool table: "room" -> *Pool. Safe for
// concurrent use from handlers via HandlerSources. Pools reached through
// Get/Insert are auto-vivified for handler convenience; Declare marks a
// name as an explicitly-declared pool (spec.md §6's `with_pool(name)`
// builder step) so BroadcastTo can tell an undeclared name apart from one
// that's merely empty.
type PoolMap[P phantomrpc.Packet] struct {
	mu       sync.RWMutex
	pools    map[string]*Pool[P]
	declared map[string]struct{}
}

// NewPoolMap returns an empty named-pool map.
func NewPoolMap[P phantomrpc.Packet]() *PoolMap[P] {
	return &PoolMap[P]{
		pools:    make(map[string]*Pool[P]),
		declared: make(map[string]struct{}),
	}
}

// Get returns the named pool, creating it on first use.
func (m *PoolMap[P]) Get(name string) *Pool[P] {
	m.mu.RLock()
	pool, ok := m.pools[name]
	m.mu.RUnlock()
	if ok {
		return pool
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[name]; ok {
		return pool
	}
	pool = NewPool[P]()
	m.pools[name] = pool
	return pool
}

// Insert adds s to the named pool, creating it on first use.
func (m *PoolMap[P]) Insert(name string, s Socket[P]) {
	m.Get(name).Insert(s)
}

// Declare marks name as an explicitly-declared pool, creating it if it
// doesn't already exist. Names declared this way are the only ones
// BroadcastTo will recognize as "exists but empty" rather than
// InvalidPool.
func (m *PoolMap[P]) Declare(name string) {
	m.Get(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declared[name] = struct{}{}
}

// BroadcastTo fans pkt out to the named pool only. Returns
// *phantomrpc.InvalidPoolError if name was never declared via Declare.
func (m *PoolMap[P]) BroadcastTo(name string, pkt P, clone func(P) P) error {
	m.mu.RLock()
	pool, ok := m.pools[name]
	_, declared := m.declared[name]
	m.mu.RUnlock()
	if !ok || !declared {
		return &phantomrpc.InvalidPoolError{Name: name}
	}
	return Broadcast(pool, pkt, clone)
}

// BroadcastAll fans pkt out to every named pool in the map, whether it was
// declared or auto-created by Get/Insert.
func (m *PoolMap[P]) BroadcastAll(pkt P, clone func(P) P) error {
	m.mu.RLock()
	pools := make([]*Pool[P], 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, pool)
	}
	m.mu.RUnlock()
	return BroadcastAll(pools, pkt, clone)
}
