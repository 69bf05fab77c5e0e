// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import "github.com/probelang/corevm/internal/value"

// NewArray allocates an array with the given initial elements (copied).
func NewArray(elems []Value) *Array {
	buf := make([]Value, len(elems), cap(elems))
	copy(buf, elems)
	return &Array{Header: Header{Kind: KindArray}, Elems: buf}
}

// Len returns the array's current length.
func (a *Array) Len() int { return len(a.Elems) }

// Get returns the element at idx. Out-of-range reads return nil per
// spec.md §7 "Index error".
func (a *Array) Get(idx int) Value {
	if idx < 0 || idx >= len(a.Elems) {
		return value.Nil
	}
	return a.Elems[idx]
}

// Set writes the element at idx. Out-of-range writes are an error.
func (a *Array) Set(idx int, v Value) error {
	if idx < 0 || idx >= len(a.Elems) {
		return ErrIndexOutOfRange
	}
	a.Elems[idx] = v
	return nil
}

// Push appends v, growing the backing buffer as needed.
func (a *Array) Push(v Value) {
	a.Elems = append(a.Elems, v)
}

// Pop removes and returns the last element. Popping an empty array returns
// nil (callers that need strict emptiness should check Len first).
func (a *Array) Pop() Value {
	n := len(a.Elems)
	if n == 0 {
		return value.Nil
	}
	v := a.Elems[n-1]
	a.Elems = a.Elems[:n-1]
	return v
}

// ErrIndexOutOfRange is returned by Array.Set for an out-of-bounds index.
var ErrIndexOutOfRange = indexErr("heap: array index out of range")

type indexErr string

func (e indexErr) Error() string { return string(e) }

// ---- Map --------------------------------------------------------------

const mapInitialBuckets = 8

// NewMap allocates an empty map.
func NewMap() *Map {
	return &Map{Header: Header{Kind: KindMap}, buckets: make([]*mapEntry, mapInitialBuckets)}
}

func (m *Map) bucketFor(hashed uint64) int {
	return int(hashed % uint64(len(m.buckets)))
}

func hashInt(k int32) uint64 {
	// Fibonacci hashing of the zero-extended key; cheap and sufficient for
	// a chained bucket table of modest size.
	return uint64(uint32(k)) * 2654435761
}

// GetString looks up a string-keyed entry by content. Two interned strings
// with equal bytes are the same object, so identity comparison suffices.
func (m *Map) GetString(key *String) (Value, bool) {
	b := m.bucketFor(key.Hash)
	for e := m.buckets[b]; e != nil; e = e.next {
		if e.isInt {
			continue
		}
		if e.strKey == key {
			return e.value, true
		}
	}
	return value.Nil, false
}

// SetString inserts or updates a string-keyed entry.
func (m *Map) SetString(key *String, v Value) {
	b := m.bucketFor(key.Hash)
	for e := m.buckets[b]; e != nil; e = e.next {
		if !e.isInt && e.strKey == key {
			e.value = v
			return
		}
	}
	m.buckets[b] = &mapEntry{strKey: key, value: v, next: m.buckets[b]}
	m.count++
}

// GetInt looks up an integer-keyed entry.
func (m *Map) GetInt(key int32) (Value, bool) {
	b := m.bucketFor(hashInt(key))
	for e := m.buckets[b]; e != nil; e = e.next {
		if e.isInt && e.intKey == key {
			return e.value, true
		}
	}
	return value.Nil, false
}

// SetInt inserts or updates an integer-keyed entry.
func (m *Map) SetInt(key int32, v Value) {
	b := m.bucketFor(hashInt(key))
	for e := m.buckets[b]; e != nil; e = e.next {
		if e.isInt && e.intKey == key {
			e.value = v
			return
		}
	}
	m.buckets[b] = &mapEntry{intKey: key, isInt: true, value: v, next: m.buckets[b]}
	m.count++
}

// Len returns the number of entries.
func (m *Map) Len() int { return m.count }

// Each calls fn for every entry in bucket-traversal order, which is
// unspecified but stable for a given map instance (spec.md §4.4 "Foreach").
func (m *Map) Each(fn func(strKey *String, intKey int32, isInt bool, v Value)) {
	for _, head := range m.buckets {
		for e := head; e != nil; e = e.next {
			fn(e.strKey, e.intKey, e.isInt, e.value)
		}
	}
}
