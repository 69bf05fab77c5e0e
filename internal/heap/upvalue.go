// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

// NewOpenUpvalue creates an upvalue that indirects through a live stack
// slot. It is closed when the owning frame returns (spec.md §9
// "Upvalues / closed-over locals").
func NewOpenUpvalue(slot *Value) *Upvalue {
	return &Upvalue{Header: Header{Kind: KindUpvalue}, open: true, slot: slot}
}

// Get reads the current value, whether open or closed.
func (u *Upvalue) Get() Value {
	if u.open {
		return *u.slot
	}
	return u.closed
}

// Set writes the current value, whether open or closed.
func (u *Upvalue) Set(v Value) {
	if u.open {
		*u.slot = v
		return
	}
	u.closed = v
}

// Close copies the current stack-slot value into the upvalue itself and
// redirects future reads/writes there. Idempotent.
func (u *Upvalue) Close() {
	if !u.open {
		return
	}
	u.closed = *u.slot
	u.open = false
	u.slot = nil
}

// IsOpen reports whether the upvalue still indirects through a stack slot.
func (u *Upvalue) IsOpen() bool { return u.open }
