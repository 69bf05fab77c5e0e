// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/bytecode"
)

func arithmeticOnlyChunk() *bytecode.Chunk {
	c := bytecode.NewChunk("arith")
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 0, 2), 1)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 1, 3), 2)
	c.Emit(bytecode.EncodeABC(bytecode.OpAdd, 0, 0, 1), 3)
	c.Emit(bytecode.EncodeABC(bytecode.OpReturn, 0, 0, 0), 3)
	return c
}

func TestCanCompileAcceptsArithmeticOnlyChunk(t *testing.T) {
	require.True(t, CanCompile(arithmeticOnlyChunk()))
}

func TestCanCompileRejectsCallOpcode(t *testing.T) {
	c := bytecode.NewChunk("call")
	c.Emit(bytecode.EncodeABC(bytecode.OpCall, 0, 0, 0), 1)
	require.False(t, CanCompile(c))
}

func TestCompileUnsupportedOpcodeBails(t *testing.T) {
	c := bytecode.NewChunk("print")
	c.Emit(bytecode.EncodeABC(bytecode.OpPrint, 0, 0, 0), 1)

	page, err := Compile(c)
	require.Nil(t, page)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestCompileSupportedChunkProducesAnExecPage(t *testing.T) {
	page, err := Compile(arithmeticOnlyChunk())
	require.NoError(t, err)
	require.NotNil(t, page)
	defer page.Unmap()

	require.NotZero(t, page.Entry())
}
