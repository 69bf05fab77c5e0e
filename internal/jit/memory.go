// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package jit implements the PROBE VM's template-based native compiler
// (spec.md §4.5): page-aligned, write-then-execute (W⊕X) memory, one
// bytecode instruction translated at a time with a fixed register
// assignment, and a bailout to the interpreter for any opcode the
// template compiler does not support.
package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ExecPage is one page-aligned region of native code, writable during
// emission and flipped to read+execute before first invocation.
type ExecPage struct {
	mem      []byte
	reqSize  int // page-aligned length of the mapping
	executed bool
}

// AllocPage reserves a page-aligned, initially writable (not yet
// executable) region of at least size bytes.
func AllocPage(size int) (*ExecPage, error) {
	pageSize := unix.Getpagesize()
	aligned := ((size + pageSize - 1) / pageSize) * pageSize
	mem, err := unix.Mmap(-1, 0, aligned, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	return &ExecPage{mem: mem, reqSize: aligned}, nil
}

// Write copies code into the page. Must be called before MakeExecutable.
func (p *ExecPage) Write(code []byte) error {
	if p.executed {
		return fmt.Errorf("jit: cannot write to a page already made executable")
	}
	if len(code) > len(p.mem) {
		return fmt.Errorf("jit: code (%d bytes) exceeds page size (%d bytes)", len(code), len(p.mem))
	}
	copy(p.mem, code)
	return nil
}

// MakeExecutable flips the page from writable to read+execute, completing
// the W⊕X lifecycle (spec.md §4.5 "Executable memory").
func (p *ExecPage) MakeExecutable() error {
	if err := unix.Mprotect(p.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect: %w", err)
	}
	p.executed = true
	return nil
}

// Entry returns the page's base address as a native entry point.
func (p *ExecPage) Entry() uintptr {
	return uintptr(unsafe.Pointer(&p.mem[0]))
}

// Unmap releases the whole page-aligned mapping that AllocPage created.
func (p *ExecPage) Unmap() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
