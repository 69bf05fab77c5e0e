// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package nativeext

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

func TestRegisterReturnsCount(t *testing.T) {
	h := heap.New(0, 0)
	env := h.NewEnvironment(nil)
	n := Register(h, env, Default())
	require.Equal(t, len(Default()), n)
	for _, b := range Default() {
		_, err := env.GetFunction(b.Name)
		require.NoError(t, err)
	}
}

func TestNativeLenOnString(t *testing.T) {
	h := heap.New(0, 0)
	vm := vmcore.New(h)
	s := h.NewString([]byte("hello"))
	result := nativeLen(unsafe.Pointer(vm), []value.Value{value.Object(s.Header.Ptr())}, 1)
	require.Equal(t, value.Int(5), result)
}

func TestNativeTypeofVariants(t *testing.T) {
	h := heap.New(0, 0)
	vm := vmcore.New(h)
	require.Equal(t, "int", readString(h, nativeTypeof(unsafe.Pointer(vm), []value.Value{value.Int(1)}, 1)))
	require.Equal(t, "bool", readString(h, nativeTypeof(unsafe.Pointer(vm), []value.Value{value.True}, 1)))
}

func TestNativeHashIsDeterministic(t *testing.T) {
	h := heap.New(0, 0)
	vm := vmcore.New(h)
	s := h.NewString([]byte("same bytes"))
	a := nativeHash(unsafe.Pointer(vm), []value.Value{value.Object(s.Header.Ptr())}, 1)
	b := nativeHash(unsafe.Pointer(vm), []value.Value{value.Object(s.Header.Ptr())}, 1)
	require.Equal(t, readString(h, a), readString(h, b))
}

func readString(h *heap.Heap, v value.Value) string {
	hdr := heap.HeaderAt(value.AsObject(v))
	return string((*heap.String)(unsafe.Pointer(hdr)).Bytes)
}
