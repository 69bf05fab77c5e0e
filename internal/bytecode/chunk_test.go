// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/value"
)

func TestEncodeDecodeABC(t *testing.T) {
	instr := EncodeABC(OpAdd, 1, 2, 3)
	require.Equal(t, OpAdd, instr.Op())
	require.Equal(t, uint8(1), instr.A())
	require.Equal(t, uint8(2), instr.B())
	require.Equal(t, uint8(3), instr.C())
}

func TestEncodeDecodeABx(t *testing.T) {
	instr := EncodeABx(OpLoadConst, 5, 0xBEEF)
	require.Equal(t, OpLoadConst, instr.Op())
	require.Equal(t, uint8(5), instr.A())
	require.Equal(t, uint16(0xBEEF), instr.Bx())
}

func TestEncodeDecodeSBxNegative(t *testing.T) {
	instr := EncodeSBx(OpLoopJump, -42)
	require.Equal(t, OpLoopJump, instr.Op())
	require.Equal(t, int32(-42), instr.SBx())
}

func TestEncodeDecodeSBxPositive(t *testing.T) {
	instr := EncodeSBx(OpJump, 1000)
	require.Equal(t, int32(1000), instr.SBx())
}

func TestChunkEmitAndConstants(t *testing.T) {
	c := NewChunk("main")
	idx := c.AddConstant(value.Int(7))
	pc := c.Emit(EncodeABx(OpLoadConst, 0, idx), 1)
	require.Equal(t, 0, pc)
	require.Equal(t, 1, c.Len())
	require.Equal(t, int32(1), c.LineAt(0))
	require.Equal(t, value.Int(7), c.Constants[idx])
}

func TestChunkHotCounter(t *testing.T) {
	c := NewChunk("loop")
	c.Emit(EncodeSBx(OpLoopJump, -1), 3)
	require.Equal(t, uint32(0), c.HotCount(0))
	for i := 0; i < 5; i++ {
		c.IncHot(0)
	}
	require.Equal(t, uint32(5), c.HotCount(0))
}

func TestChunkCompiledSlot(t *testing.T) {
	c := NewChunk("hot")
	_, ok := c.Compiled()
	require.False(t, ok)

	c.SetCompiled(func(vm unsafe.Pointer) (value.Value, bool) { return value.Nil, true })
	_, ok = c.Compiled()
	require.True(t, ok)
}

func TestChunkUncompilable(t *testing.T) {
	c := NewChunk("bailout")
	require.False(t, c.Uncompilable())
	c.MarkUncompilable()
	require.True(t, c.Uncompilable())
}
