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

// Package vmcore holds the VM's mutable execution state: the operand
// stack, the call-frame stack, the global environment, the module
// registry, and the scheduler's task queue reference. It implements
// heap.RootProvider so the collector can enumerate every live root
// (spec.md §4.2 "Roots") without the heap package needing to know about
// frames or stacks.
package vmcore

import (
	"fmt"

	"github.com/probelang/corevm/internal/bytecode"
	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
)

// Default capacities recommended by spec.md §4.4.
const (
	DefaultStackSize = 65536
	DefaultMaxFrames = 1024
)

// Frame records one call-frame's saved state (spec.md §4.4 "Call stack").
type Frame struct {
	PrevEnv    *heap.Environment
	StackBase  int
	CallerTop  int
	ReturnPC   int
	ResultReg  uint8
	Chunk      *bytecode.Chunk
	Function   *heap.Function
	OpenUpvals map[uint8]*heap.Upvalue
}

// RegisterWindow is the fixed number of stack cells reserved per call
// frame for its register file, matching the teacher's 256 general-purpose
// registers.
const RegisterWindow = 256

// VM is one PROBE runtime instance. A VM is not safe for concurrent use by
// more than one host thread (spec.md §5 "Mutator threading").
type VM struct {
	Heap *heap.Heap

	Stack    []value.Value
	StackTop int

	Frames    []Frame
	FrameTop  int
	maxFrames int

	Globals *heap.Environment
	Modules map[string]*heap.Module

	CurrentFunction *heap.Function

	// TaskRoots is set by the embedding driver (to the scheduler's
	// PendingArgs) and yields every pending task's argument values, so they
	// stay reachable across a GC cycle that runs between task dispatches
	// (spec.md §4.2 roots "(f)").
	TaskRoots func() []value.Value

	ErrFlag error // set by a native function to signal an error (spec.md §4.7)
}

// New creates a VM with the recommended default stack and frame-depth
// limits, wires itself as the heap's root provider, and gives every
// allocation a path into the GC.
func New(h *heap.Heap) *VM {
	return NewWithLimits(h, DefaultStackSize, DefaultMaxFrames)
}

// NewWithLimits creates a VM with the given operand-stack capacity and
// call-frame depth limit, both configurable per spec.md §4.4 ("Operand
// stack... recommended 65,536 cells", "Call stack... configurable depth
// limit"). A non-positive value selects the package default.
func NewWithLimits(h *heap.Heap, stackSize, maxFrames int) *VM {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	vm := &VM{
		Heap:      h,
		Stack:     make([]value.Value, stackSize),
		Frames:    make([]Frame, maxFrames),
		maxFrames: maxFrames,
		Modules:   make(map[string]*heap.Module),
	}
	vm.Globals = h.NewEnvironment(nil)
	h.SetRootProvider(vm)
	return vm
}

// ErrStackOverflow and ErrFrameOverflow are resource-exhaustion errors per
// spec.md §7.
var (
	ErrStackOverflow = fmt.Errorf("vmcore: operand stack overflow")
	ErrFrameOverflow = fmt.Errorf("vmcore: call frame overflow")
)

// Push places v on top of the operand stack.
func (vm *VM) Push(v value.Value) error {
	if vm.StackTop >= len(vm.Stack) {
		return ErrStackOverflow
	}
	vm.Stack[vm.StackTop] = v
	vm.StackTop++
	return nil
}

// Pop removes and returns the top of the operand stack.
func (vm *VM) Pop() value.Value {
	vm.StackTop--
	v := vm.Stack[vm.StackTop]
	vm.Stack[vm.StackTop] = value.Nil
	return v
}

// Peek returns the value at depth below the top without removing it.
func (vm *VM) Peek(depth int) value.Value {
	return vm.Stack[vm.StackTop-1-depth]
}

// PushFrame records a new call frame. Returns ErrFrameOverflow if the
// configured depth limit is exceeded.
func (vm *VM) PushFrame(f Frame) error {
	if vm.FrameTop >= vm.maxFrames {
		return ErrFrameOverflow
	}
	vm.Frames[vm.FrameTop] = f
	vm.FrameTop++
	return nil
}

// PopFrame removes and returns the most recently pushed frame.
func (vm *VM) PopFrame() Frame {
	vm.FrameTop--
	return vm.Frames[vm.FrameTop]
}

// CurrentFrame returns the active call frame, or nil if none.
func (vm *VM) CurrentFrame() *Frame {
	if vm.FrameTop == 0 {
		return nil
	}
	return &vm.Frames[vm.FrameTop-1]
}

// GCRoots implements heap.RootProvider: the operand stack up to its
// current top, every live frame's environment, the global environment and
// module registry, the currently executing function, and pending task
// arguments (spec.md §4.2 "Roots" (a)-(d), (f); the intern table itself is
// root (e) and is handled inside the heap package).
func (vm *VM) GCRoots(out []*heap.Header) []*heap.Header {
	for i := 0; i < vm.StackTop; i++ {
		if hdr, ok := headerOf(vm.Stack[i]); ok {
			out = append(out, hdr)
		}
	}
	for i := 0; i < vm.FrameTop; i++ {
		f := vm.Frames[i]
		if f.PrevEnv != nil {
			out = append(out, &f.PrevEnv.Header)
		}
		if f.Function != nil {
			out = append(out, &f.Function.Header)
		}
	}
	if vm.Globals != nil {
		out = append(out, &vm.Globals.Header)
	}
	for _, m := range vm.Modules {
		out = append(out, &m.Header)
	}
	if vm.CurrentFunction != nil {
		out = append(out, &vm.CurrentFunction.Header)
	}
	if vm.TaskRoots != nil {
		for _, v := range vm.TaskRoots() {
			if hdr, ok := headerOf(v); ok {
				out = append(out, hdr)
			}
		}
	}
	return out
}

func headerOf(v value.Value) (*heap.Header, bool) {
	if !value.IsObject(v) {
		return nil, false
	}
	return heap.HeaderAt(value.AsObject(v)), true
}

// Safepoint runs incremental GC work appropriate to the current heap
// pressure. The interpreter calls it at every backward branch (OpLoopJump)
// and whenever its per-frame tick budget runs out.
func (vm *VM) Safepoint() {
	if vm.Heap.ShouldMinorGC() {
		vm.Heap.MinorGC()
	}
	if vm.Heap.ShouldMajorGC() {
		vm.Heap.RunMajorCollapsed()
	}
}
