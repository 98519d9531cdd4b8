// Package bufpool provides a reusable byte-buffer pool for socket read
// buffers, grounded on portal/utils/pool (a sync.Pool of fixed-size byte
// slices keyed by pointer to avoid interface-boxing allocations).
package bufpool

import "sync"

// Size is the read buffer size used by socket recv and client reads
// (spec.md §4.4: "read up to a 4 KiB buffer").
const Size = 4096

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, Size)
		return &b
	},
}

// Get returns a pooled *[]byte of length Size.
func Get() *[]byte {
	return pool.Get().(*[]byte)
}

// Put returns b to the pool.
func Put(b *[]byte) {
	pool.Put(b)
}
