// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
)

func TestAwaitAlreadyResolvedReturnsImmediately(t *testing.T) {
	s := New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		t.Fatal("run should not be invoked for an already-resolved future")
		return value.Nil, nil
	})
	fut := heap.NewFuture()
	fut.Resolve(value.Int(7))
	got := s.Await(fut)
	require.Equal(t, value.Int(7), got)
}

func TestFIFOOrdering(t *testing.T) {
	var order []int
	s := New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		order = append(order, int(value.AsInt(args[0])))
		return args[0], nil
	})
	for i := 0; i < 3; i++ {
		s.Enqueue(nil, []value.Value{value.Int(int32(i))})
	}
	require.NoError(t, s.Drain())
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestAwaitDrainsQueueUntilTargetResolves(t *testing.T) {
	s := New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		return args[0], nil
	})
	fut1 := s.Enqueue(nil, []value.Value{value.Int(1)})
	fut2 := s.Enqueue(nil, []value.Value{value.Int(2)})

	got := s.Await(fut2)
	require.Equal(t, value.Int(2), got)
	require.True(t, fut1.Done, "awaiting a later future must drain earlier ones first")
}

func TestPendingArgsIncludesQueuedAndActive(t *testing.T) {
	s := New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		pending := s.PendingArgs()
		require.NotEmpty(t, pending)
		return value.Nil, nil
	})
	s.Enqueue(nil, []value.Value{value.Int(5)})
	require.NoError(t, s.Drain())
}
