// Package registry implements the process-wide, type-keyed handler table
// (C6): a map from (header, packet type, session type, resource type) to an
// ordered list of handlers. Keying on the full type triple lets independent
// applications built on different Packet/Session/Resource types share one
// process without colliding on header strings alone.
//
// The registry itself stores handlers type-erased as any; callers recover
// the concrete function type with a type assertion at dispatch time (see
// server.HandlerFunc), mirroring how portal's protocol dispatch tables key
// on a string and leave payload decoding to the caller.
package registry

import (
	"reflect"
	"sync"
)

type key struct {
	header   string
	packet   reflect.Type
	session  reflect.Type
	resource reflect.Type
}

var (
	mu    sync.RWMutex
	table = map[key][]any{}
)

// Register appends handler to the list for the key formed by header and
// the type parameters P, S, R. Duplicate registrations are permitted; the
// registry does not deduplicate by handler identity.
func Register[P, S, R any](header string, handler any) {
	k := keyOf[P, S, R](header)

	mu.Lock()
	defer mu.Unlock()
	table[k] = append(table[k], handler)
}

// Get returns a snapshot of the handlers registered for header under the
// type parameters P, S, R, possibly empty. The returned slice is a cloned
// copy safe to range over without holding any lock.
func Get[P, S, R any](header string) []any {
	k := keyOf[P, S, R](header)

	mu.RLock()
	defer mu.RUnlock()
	handlers := table[k]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]any, len(handlers))
	copy(out, handlers)
	return out
}

// Reset clears every registration. Intended for test isolation; the global
// registry is otherwise append-only for the lifetime of a process.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	table = map[key][]any{}
}

func keyOf[P, S, R any](header string) key {
	var p P
	var s S
	var r R
	return key{
		header:   header,
		packet:   reflect.TypeOf(&p).Elem(),
		session:  reflect.TypeOf(&s).Elem(),
		resource: reflect.TypeOf(&r).Elem(),
	}
}
