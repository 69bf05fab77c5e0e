// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/bytecode"
)

func TestTryCompileInstallsNativeEntry(t *testing.T) {
	c := NewCache(8)
	chunk := arithmeticOnlyChunk()

	require.True(t, c.TryCompile(chunk))
	_, ok := chunk.Compiled()
	require.True(t, ok)

	// A second attempt is a cheap no-op, not a recompile.
	require.True(t, c.TryCompile(chunk))
}

func TestTryCompileBlacklistsUnsupportedChunk(t *testing.T) {
	c := NewCache(8)
	chunk := bytecode.NewChunk("print")
	chunk.Emit(bytecode.EncodeABC(bytecode.OpPrint, 0, 0, 0), 1)

	require.False(t, c.TryCompile(chunk))
	require.True(t, chunk.Uncompilable())
	require.True(t, c.blacklist.Contains(chunk))

	// Retrying a blacklisted chunk is a no-op, not another Compile attempt.
	require.False(t, c.TryCompile(chunk))
}

func TestNewCacheDefaultsSizeWhenNonPositive(t *testing.T) {
	c := NewCache(0)
	require.NotNil(t, c.pages)
	require.NotNil(t, c.blacklist)
}
