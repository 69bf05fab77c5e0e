// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// CLI/file I/O sit outside spec.md's scope (spec.md §1 "These are external
// collaborators and are out of scope... CLI and module file I/O are not
// covered"): there is no lexer or parser in this tree to turn source text
// into a Chunk. sumLoopChunk instead builds one directly, the way a
// front-end compiler would, so the driver has something concrete to run
// and single-step.
package main

import (
	"github.com/probelang/corevm/internal/bytecode"
)

// Register assignment for sumLoopChunk:
//
//	r0  sum accumulator, returned
//	r1  loop counter i
//	r2  loop bound n
//	r3  scratch: comparison result / per-iteration term
const (
	regSum = iota
	regI
	regN
	regScratch
)

// sumLoopChunk builds a chunk computing sum(1..n) with an explicit counted
// loop, exercising OpLoopJump enough times (at n iterations) to cross the
// JIT's hot-count threshold once n is large, and the bytecode path
// otherwise.
func sumLoopChunk(n int32) *bytecode.Chunk {
	c := bytecode.NewChunk("sum-loop")

	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regSum, 0), 1)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regI, 1), 2)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regN, uint16(n)), 3)

	headerPC := c.Emit(bytecode.EncodeABC(bytecode.OpLoopHeader, 0, 0, 0), 4)

	// scratch = i <= n; exit the loop once it's false.
	c.Emit(bytecode.EncodeABC(bytecode.OpLe, regScratch, regI, regN), 5)
	exitJumpPC := c.Emit(bytecode.EncodeABx(bytecode.OpJumpIfFalse, regScratch, 0), 5)

	// sum += i; i += 1
	c.Emit(bytecode.EncodeABC(bytecode.OpAdd, regSum, regSum, regI), 6)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regScratch, 1), 7)
	c.Emit(bytecode.EncodeABC(bytecode.OpAdd, regI, regI, regScratch), 7)

	loopJumpPC := c.Emit(bytecode.EncodeSBx(bytecode.OpLoopJump, 0), 8)
	c.Instructions[loopJumpPC] = bytecode.EncodeSBx(bytecode.OpLoopJump, int32(headerPC-loopJumpPC))

	returnPC := c.Emit(bytecode.EncodeABC(bytecode.OpReturn, regSum, 0, 0), 9)
	c.Instructions[exitJumpPC] = bytecode.EncodeABx(bytecode.OpJumpIfFalse, regScratch, uint16(returnPC-exitJumpPC))

	return c
}
