// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/probelang/corevm/internal/value"
)

// UpvalDesc tells the interpreter how to populate one slot of a closure's
// Upvalues array when executing OpClosure: either capture the enclosing
// frame's register Index as a fresh open upvalue, or inherit the enclosing
// closure's own upvalue at Index.
type UpvalDesc struct {
	FromParentLocal bool
	Index           uint8
}

// NativeEntry is a compiled chunk's native entry point, per spec.md §4.5
// "Calling convention": it takes the VM pointer as its first argument and
// returns the chunk's result plus whether native execution actually ran
// to completion. A false second result means the current call's register
// window held something the template compiler's integer-only fast path
// can't represent (spec.md §4.5 "Supported operations"); the caller falls
// back to the bytecode loop for that one call without unmarking the chunk
// as compiled — a later call whose registers are all ints still takes the
// fast path.
type NativeEntry func(vm unsafe.Pointer) (value.Value, bool)

// Chunk is an append-only (during compilation) instruction stream plus the
// constant pool, line map, and JIT bookkeeping described in spec.md §4.3.
// Everything but the hot counters and the compiled-entry slot is read-only
// once execution begins.
type Chunk struct {
	name         string
	Instructions []Instruction
	Constants    []value.Value
	Lines        []int32
	UpvalDescs   []UpvalDesc

	// hotCounts is indexed by instruction PC and incremented on backward
	// branches targeting that PC (OpLoopJump), driving JIT triggering.
	hotCounts []uint32

	compiled    atomic.Value // holds NativeEntry once JIT-compiled
	uncompilable bool
}

// NewChunk creates an empty, named chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{name: name}
}

// Name returns the chunk's name (satisfies heap.Chunk).
func (c *Chunk) Name() string { return c.name }

// Emit appends one instruction with its source line, growing the hot-count
// table in lockstep.
func (c *Chunk) Emit(instr Instruction, line int32) int {
	c.Instructions = append(c.Instructions, instr)
	c.Lines = append(c.Lines, line)
	c.hotCounts = append(c.hotCounts, 0)
	return len(c.Instructions) - 1
}

// AddConstant appends v to the constant pool and returns its index. Callers
// that want deduplication (e.g. for interned strings) must check the pool
// themselves; Chunk does not deduplicate on their behalf.
func (c *Chunk) AddConstant(v value.Value) uint16 {
	c.Constants = append(c.Constants, v)
	return uint16(len(c.Constants) - 1)
}

// Len returns the number of instructions currently in the chunk.
func (c *Chunk) Len() int { return len(c.Instructions) }

// LineAt returns the source line recorded for instruction pc.
func (c *Chunk) LineAt(pc int) int32 {
	if pc < 0 || pc >= len(c.Lines) {
		return -1
	}
	return c.Lines[pc]
}

// IncHot bumps the hot counter for pc and returns its new value, used by
// the interpreter on every OpLoopJump to decide when to invoke the JIT
// (spec.md §4.5 "Triggering").
func (c *Chunk) IncHot(pc int) uint32 {
	if pc < 0 || pc >= len(c.hotCounts) {
		return 0
	}
	c.hotCounts[pc]++
	return c.hotCounts[pc]
}

// HotCount reads the current counter for pc without incrementing it.
func (c *Chunk) HotCount(pc int) uint32 {
	if pc < 0 || pc >= len(c.hotCounts) {
		return 0
	}
	return c.hotCounts[pc]
}

// SetCompiled installs a native entry point, making the chunk JIT-callable.
func (c *Chunk) SetCompiled(entry NativeEntry) {
	c.compiled.Store(entry)
}

// Compiled returns the chunk's native entry point, if one has been
// installed.
func (c *Chunk) Compiled() (NativeEntry, bool) {
	v := c.compiled.Load()
	if v == nil {
		return nil, false
	}
	return v.(NativeEntry), true
}

// MarkUncompilable records that the JIT gave up on this chunk (it contains
// an opcode the template compiler does not support), so the trigger logic
// stops retrying it every time the hot counter crosses threshold.
func (c *Chunk) MarkUncompilable() { c.uncompilable = true }

// Uncompilable reports whether the JIT has already abandoned this chunk.
func (c *Chunk) Uncompilable() bool { return c.uncompilable }

// Disassemble renders a human-readable listing, grounded on the teacher's
// vm.Disassemble helper.
func (c *Chunk) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chunk %q (%d instrs, %d consts)\n", c.name, len(c.Instructions), len(c.Constants))
	for pc, instr := range c.Instructions {
		op := instr.Op()
		switch op.FormatOf() {
		case FormatABC:
			fmt.Fprintf(&b, "%04d  line %-4d  %-12s a=%d b=%d c=%d\n", pc, c.Lines[pc], op, instr.A(), instr.B(), instr.C())
		case FormatABx:
			fmt.Fprintf(&b, "%04d  line %-4d  %-12s a=%d bx=%d\n", pc, c.Lines[pc], op, instr.A(), instr.Bx())
		case FormatSBx:
			fmt.Fprintf(&b, "%04d  line %-4d  %-12s sbx=%d\n", pc, c.Lines[pc], op, instr.SBx())
		}
	}
	return b.String()
}
