// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
)

// internCacheBytes sizes the fastcache backing store for the intern table.
// fastcache is built to hold large numbers of small entries without
// burdening the host Go GC with a scan-heavy map[string]*String — exactly
// the property we want, since this runtime's whole point is to keep its
// own GC pressure separate from the host's.
const internCacheBytes = 32 * 1024 * 1024

// InternTable deduplicates guest strings by content: two byte sequences
// with equal bytes resolve to the same *String object (spec.md §3 "string
// interning pool contains each byte sequence at most once").
//
// The authoritative store is a fastcache.Cache keyed by content bytes,
// whose value is the 8-byte address of the canonical *String. Looking up
// an existing string therefore never allocates a Go map entry; only a
// previously-unseen byte sequence allocates a new String object (added to
// the Heap's object list, which is what keeps it alive for the host GC —
// see the package doc).
type InternTable struct {
	mu    sync.Mutex
	cache *fastcache.Cache
	count int
}

// NewInternTable creates an empty intern table.
func NewInternTable() *InternTable {
	return &InternTable{cache: fastcache.New(internCacheBytes)}
}

// Lookup returns the canonical String for bytes if one has already been
// interned, without allocating.
func (t *InternTable) Lookup(bytes []byte) (*String, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(bytes)
}

func (t *InternTable) lookupLocked(bytes []byte) (*String, bool) {
	buf, ok := t.cache.HasGet(nil, bytes)
	if !ok {
		return nil, false
	}
	addr := binary.LittleEndian.Uint64(buf)
	return (*String)(unsafe.Pointer(uintptr(addr))), true
}

// Intern returns the canonical String for bytes, allocating and registering
// a new one if this is the first time these bytes have been seen. The
// caller is responsible for linking newly-created strings onto the heap's
// object list (see Heap.NewString).
func (t *InternTable) Intern(bytes []byte, alloc func([]byte, uint64) *String) *String {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.lookupLocked(bytes); ok {
		return s
	}
	h := xxhash.Sum64(bytes)
	s := alloc(bytes, h)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(uintptr(unsafe.Pointer(s))))
	t.cache.Set(bytes, buf[:])
	t.count++
	return s
}

// Forget removes bytes from the intern table. Called by the collector when
// an interned string is swept (spec.md §4.2 roots: "the string-intern
// table (weakly; dead interned strings are reclaimed like any other
// object)").
func (t *InternTable) Forget(bytes []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Del(bytes)
	t.count--
}

// Count returns the number of currently-interned strings.
func (t *InternTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
