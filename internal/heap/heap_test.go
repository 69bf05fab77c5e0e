// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/value"
)

// fixedRoots is a minimal RootProvider that returns a fixed header list,
// letting tests control reachability directly instead of wiring a full VM.
type fixedRoots struct {
	roots []*Header
}

func (r *fixedRoots) GCRoots(out []*Header) []*Header {
	return append(out, r.roots...)
}

func TestInterningIdentity(t *testing.T) {
	h := New(0, 0)
	s1 := h.NewString([]byte("hello"))
	s2 := h.NewString([]byte("hello"))
	require.Same(t, s1, s2, "equal byte sequences must intern to the same object")
}

func TestArrayLifecycleReclaimsUnreachable(t *testing.T) {
	h := New(0, 0)
	roots := &fixedRoots{}
	h.SetRootProvider(roots)

	before := h.Used()
	for i := 0; i < 50_000; i++ {
		a := h.NewArray([]value.Value{value.Int(1), value.Int(2)})
		_ = a // reference dropped immediately; nothing roots it
	}
	h.MajorGC()
	after := h.Used()
	require.Less(t, after, before+1024, "unreachable arrays must be reclaimed by a major GC")
}

func TestArrayLifecycleKeepsReachable(t *testing.T) {
	h := New(0, 0)
	a := h.NewArray([]value.Value{value.Int(1), value.Int(2)})
	roots := &fixedRoots{roots: []*Header{&a.Header}}
	h.SetRootProvider(roots)

	h.MajorGC()
	require.True(t, a.Header.Marked == false, "mark bit must be cleared after sweep")
	require.Equal(t, 2, a.Len())
}

func TestWriteBarrierMarksDuringMarking(t *testing.T) {
	h := New(0, 0)
	container := h.NewArray([]value.Value{value.Nil})
	child := h.NewArray(nil)

	h.mu.Lock()
	h.phase = PhaseMarking
	h.mu.Unlock()

	h.WriteBarrier(&container.Header, value.Object(child.Header.Ptr()))
	require.True(t, child.Header.Marked, "write barrier must mark an unmarked referent during the marking phase")

	h.mu.Lock()
	h.phase = PhaseIdle
	h.mu.Unlock()
}

func TestMinorGCPromotesSurvivors(t *testing.T) {
	h := New(0, 0)
	a := h.NewArray([]value.Value{value.Int(42)})
	roots := &fixedRoots{roots: []*Header{&a.Header}}
	h.SetRootProvider(roots)

	require.Equal(t, uint8(0), a.Header.Gen)
	h.MinorGC()
	require.Equal(t, uint8(1), a.Header.Gen, "a survivor of a minor cycle must be promoted to the old generation")
}

func TestTwoSuccessiveMajorCyclesAreIdempotent(t *testing.T) {
	h := New(0, 0)
	a := h.NewArray([]value.Value{value.Int(1)})
	roots := &fixedRoots{roots: []*Header{&a.Header}}
	h.SetRootProvider(roots)

	h.MajorGC()
	firstUsed := h.Used()
	h.MajorGC()
	secondUsed := h.Used()
	require.Equal(t, firstUsed, secondUsed, "a second full GC with no mutator work must free nothing new")
}

func TestResourceReleasedExactlyOnceOnSweep(t *testing.T) {
	h := New(0, 0)
	roots := &fixedRoots{}
	h.SetRootProvider(roots)

	released := 0
	h.NewResource(42, func(payload interface{}) {
		released++
	})
	h.MajorGC()
	require.Equal(t, 1, released)
	h.MajorGC()
	require.Equal(t, 1, released, "release must not fire twice")
}

func TestFutureResolveTwicePanics(t *testing.T) {
	f := NewFuture()
	f.Resolve(value.Int(1))
	require.Panics(t, func() { f.Resolve(value.Int(2)) })
}

func TestFutureAwaitAlreadyResolvedReturnsImmediately(t *testing.T) {
	f := NewFuture()
	f.Resolve(value.Int(99))
	got := f.Await()
	require.Equal(t, value.Int(99), got)
}

func TestEnvironmentSetErrorsOnUndefined(t *testing.T) {
	e := NewEnvironment(nil)
	err := e.Set("missing", value.Int(1))
	require.ErrorIs(t, err, ErrUndefinedGlobal)
}

func TestEnvironmentDefineThenSet(t *testing.T) {
	e := NewEnvironment(nil)
	e.Define("x", value.Int(1))
	require.NoError(t, e.Set("x", value.Int(2)))
	v, err := e.Get("x")
	require.NoError(t, err)
	require.Equal(t, value.Int(2), v)
}
