// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNilEquality(t *testing.T) {
	require.True(t, Equal(Nil, Nil))
	require.True(t, IsNil(Nil))
	require.False(t, Truthy(Nil))
}

func TestBoolTruthiness(t *testing.T) {
	require.True(t, Truthy(True))
	require.False(t, Truthy(False))
	require.True(t, IsBool(True))
	require.True(t, IsBool(False))
}

func TestIntFloatDistinguishable(t *testing.T) {
	i := Int(42)
	f := Float(42.0)
	require.True(t, IsInt(i))
	require.False(t, IsFloat(i))
	require.True(t, IsFloat(f))
	require.False(t, IsInt(f))
	require.Equal(t, int32(42), AsInt(i))
	require.Equal(t, 42.0, AsFloat(f))
}

func TestEqualMixedNumeric(t *testing.T) {
	require.True(t, Equal(Int(7), Float(7.0)))
	require.False(t, Equal(Int(7), Float(7.5)))
}

// Every other value — including 0, 0.0, "" and empty arrays — is truthy.
// Strings/arrays are exercised in the heap package; here we only check the
// zero-valued numerics per spec.md §4.1.
func TestZeroValuesAreTruthy(t *testing.T) {
	require.True(t, Truthy(Int(0)))
	require.True(t, Truthy(Float(0.0)))
}

func TestObjectRoundTrip(t *testing.T) {
	var x int
	ptr := uintptr(unsafe.Pointer(&x))
	v := Object(ptr)
	require.True(t, IsObject(v))
	require.Equal(t, ptr, AsObject(v))
}

func TestNaNCanonicalization(t *testing.T) {
	nan := Float(math.NaN())
	require.True(t, IsFloat(nan))
}

func TestNegativeFloatRoundTrip(t *testing.T) {
	f := Float(-5.0)
	require.True(t, IsFloat(f))
	require.Equal(t, -5.0, AsFloat(f))
	require.Equal(t, -5.0, AsFloat64(f))
}
