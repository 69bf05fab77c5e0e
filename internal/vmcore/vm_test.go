// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vmcore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
)

func objValue(h *heap.Header) value.Value {
	return value.Object(uintptr(unsafe.Pointer(h)))
}

func TestPushPopPeek(t *testing.T) {
	vm := New(heap.New(0, 0))

	require.NoError(t, vm.Push(value.Int(1)))
	require.NoError(t, vm.Push(value.Int(2)))
	require.Equal(t, value.Int(1), vm.Peek(1))
	require.Equal(t, value.Int(2), vm.Pop())
	require.Equal(t, value.Int(1), vm.Pop())
}

func TestPushStackOverflow(t *testing.T) {
	vm := New(heap.New(0, 0))
	vm.StackTop = len(vm.Stack)
	require.ErrorIs(t, vm.Push(value.Int(1)), ErrStackOverflow)
}

func TestFrameStack(t *testing.T) {
	vm := New(heap.New(0, 0))
	require.Nil(t, vm.CurrentFrame())

	require.NoError(t, vm.PushFrame(Frame{StackBase: 0}))
	require.NoError(t, vm.PushFrame(Frame{StackBase: RegisterWindow}))
	require.Equal(t, RegisterWindow, vm.CurrentFrame().StackBase)

	popped := vm.PopFrame()
	require.Equal(t, RegisterWindow, popped.StackBase)
	require.Equal(t, 0, vm.CurrentFrame().StackBase)
}

func TestPushFrameOverflow(t *testing.T) {
	vm := New(heap.New(0, 0))
	vm.maxFrames = 1
	vm.Frames = vm.Frames[:1]
	require.NoError(t, vm.PushFrame(Frame{}))
	require.ErrorIs(t, vm.PushFrame(Frame{}), ErrFrameOverflow)
}

func TestGCRootsCoversStackGlobalsAndTasks(t *testing.T) {
	h := heap.New(0, 0)
	vm := New(h)

	s := h.NewString([]byte("on the stack"))
	require.NoError(t, vm.Push(objValue(&s.Header)))

	env := h.NewEnvironment(nil)
	env.Define("x", value.Nil)
	vm.PushFrame(Frame{PrevEnv: env})

	pending := h.NewString([]byte("pending task arg"))
	vm.TaskRoots = func() []value.Value {
		return []value.Value{objValue(&pending.Header)}
	}

	roots := vm.GCRoots(nil)

	want := []*heap.Header{&s.Header, &env.Header, &vm.Globals.Header, &pending.Header}
	for _, w := range want {
		require.Contains(t, roots, w)
	}
}

func TestSafepointIsANoopUnderLowPressure(t *testing.T) {
	vm := New(heap.New(1<<20, 1<<30))
	require.NotPanics(t, func() { vm.Safepoint() })
}
