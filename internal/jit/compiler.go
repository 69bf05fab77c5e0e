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

package jit

import (
	"fmt"

	"github.com/probelang/corevm/internal/bytecode"
)

// supportedOps is the template compiler's "Supported operations" list from
// spec.md §4.5: arithmetic, comparison, logical negation, local
// load/store, constant (small-immediate) load, and jumps. Anything not in
// this set forces a bailout for the whole chunk — the compiler never
// emits a partial translation.
var supportedOps = map[bytecode.Opcode]bool{
	bytecode.OpMove:         true,
	bytecode.OpLoadImm:      true,
	bytecode.OpAdd:          true,
	bytecode.OpSub:          true,
	bytecode.OpMul:          true,
	bytecode.OpDiv:          true,
	bytecode.OpMod:          true,
	bytecode.OpNeg:          true,
	bytecode.OpLt:           true,
	bytecode.OpLe:           true,
	bytecode.OpGt:           true,
	bytecode.OpGe:           true,
	bytecode.OpEq:           true,
	bytecode.OpNe:           true,
	bytecode.OpNot:          true,
	bytecode.OpJump:         true,
	bytecode.OpJumpIfFalse:  true,
	bytecode.OpJumpIfTrue:   true,
	bytecode.OpLoopJump:     true,
	bytecode.OpLoopHeader:   true,
	bytecode.OpReturn:       true,
	bytecode.OpReturnNil:    true,
	bytecode.OpNop:          true,
}

// ErrUnsupported is returned by Compile when the chunk contains an opcode
// the template compiler cannot translate — calls, allocation, string,
// struct, module, and async operations all fall outside the supported set
// and keep running in the interpreter (spec.md §4.5 "bailout").
var ErrUnsupported = fmt.Errorf("jit: chunk contains an unsupported opcode")

// CanCompile reports whether every instruction in chunk is in the
// supported set, without emitting any code. Compile calls it first, so a
// chunk that will never compile fails before any code is emitted; the
// interpreter reaches both through Cache.TryCompile.
func CanCompile(chunk *bytecode.Chunk) bool {
	for _, instr := range chunk.Instructions {
		if !supportedOps[instr.Op()] {
			return false
		}
	}
	return true
}

// jumpFixup records a reserved relative-jump displacement awaiting its
// target instruction's code offset, discovered once the whole chunk has
// been assembled.
type jumpFixup struct {
	dispPos  int
	targetPC int
}

// Compile translates chunk into a page of native amd64 code implementing
// the fixed register-file ABI described in call_amd64.go: the compiled
// entry point receives a pointer to a flat array of int64 registers (one
// per VM register slot in the frame's window) in RDI and returns the
// value of whichever register the chunk's OpReturn names, or 0 for
// OpReturnNil, in RAX.
//
// Compile never emits a partial translation: it bails with
// ErrUnsupported before writing any machine code if the chunk contains
// anything outside supportedOps.
func Compile(chunk *bytecode.Chunk) (*ExecPage, error) {
	if !CanCompile(chunk) {
		return nil, ErrUnsupported
	}

	a := &asm{}
	pcOffsets := make([]int, chunk.Len())
	var fixups []jumpFixup

	for pc, instr := range chunk.Instructions {
		pcOffsets[pc] = a.pos()
		op := instr.Op()
		switch op {
		case bytecode.OpMove:
			a.loadReg(regRAX, instr.B())
			a.storeReg(instr.A(), regRAX)
		case bytecode.OpLoadImm:
			a.loadImm(regRAX, int32(int16(instr.Bx())))
			a.storeReg(instr.A(), regRAX)
		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
			a.loadReg(regRAX, instr.B())
			a.loadReg(regRCX, instr.C())
			switch op {
			case bytecode.OpAdd:
				a.alu(aluAdd, regRAX, regRCX)
			case bytecode.OpSub:
				a.alu(aluSub, regRAX, regRCX)
			case bytecode.OpMul:
				a.imul(regRAX, regRCX)
			}
			a.storeReg(instr.A(), regRAX)
		case bytecode.OpDiv, bytecode.OpMod:
			a.loadReg(regRAX, instr.B())
			a.loadReg(regRCX, instr.C())
			a.idivSigned(regRCX)
			if op == bytecode.OpDiv {
				a.storeReg(instr.A(), regRAX)
			} else {
				a.storeReg(instr.A(), regRDX)
			}
		case bytecode.OpNeg:
			a.loadReg(regRAX, instr.B())
			a.neg(regRAX)
			a.storeReg(instr.A(), regRAX)
		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe, bytecode.OpEq, bytecode.OpNe:
			a.loadReg(regRAX, instr.B())
			a.loadReg(regRCX, instr.C())
			a.alu(aluCmp, regRAX, regRCX)
			var c cc
			switch op {
			case bytecode.OpLt:
				c = ccL
			case bytecode.OpLe:
				c = ccLE
			case bytecode.OpGt:
				c = ccG
			case bytecode.OpGe:
				c = ccGE
			case bytecode.OpEq:
				c = ccE
			case bytecode.OpNe:
				c = ccNE
			}
			a.setccToReg(c, regRAX)
			a.storeReg(instr.A(), regRAX)
		case bytecode.OpNot:
			a.loadReg(regRAX, instr.B())
			a.test(regRAX)
			a.setccToReg(ccE, regRAX)
			a.storeReg(instr.A(), regRAX)
		case bytecode.OpJump, bytecode.OpLoopJump:
			dispPos := a.jmpRel()
			fixups = append(fixups, jumpFixup{dispPos, pc + int(instr.SBx())})
		case bytecode.OpJumpIfFalse:
			a.loadReg(regRAX, instr.A())
			a.test(regRAX)
			dispPos := a.jccRel(ccE)
			fixups = append(fixups, jumpFixup{dispPos, pc + int(int32(int16(instr.Bx())))})
		case bytecode.OpJumpIfTrue:
			a.loadReg(regRAX, instr.A())
			a.test(regRAX)
			dispPos := a.jccRel(ccNE)
			fixups = append(fixups, jumpFixup{dispPos, pc + int(int32(int16(instr.Bx())))})
		case bytecode.OpLoopHeader, bytecode.OpNop:
			// no-op at the machine level; only meaningful to the interpreter's
			// hot-count bookkeeping.
		case bytecode.OpReturn:
			a.loadReg(regRAX, instr.A())
			a.ret()
		case bytecode.OpReturnNil:
			a.loadImm(regRAX, 0)
			a.ret()
		default:
			// unreachable: CanCompile already rejected anything not above.
			return nil, ErrUnsupported
		}
	}

	for _, fx := range fixups {
		if fx.targetPC < 0 || fx.targetPC > len(pcOffsets) {
			return nil, fmt.Errorf("jit: jump target pc %d out of range", fx.targetPC)
		}
		target := a.pos()
		if fx.targetPC < len(pcOffsets) {
			target = pcOffsets[fx.targetPC]
		}
		a.patch(fx.dispPos, target)
	}

	page, err := AllocPage(len(a.code))
	if err != nil {
		return nil, err
	}
	if err := page.Write(a.code); err != nil {
		page.Unmap()
		return nil, err
	}
	if err := page.MakeExecutable(); err != nil {
		page.Unmap()
		return nil, err
	}
	return page, nil
}
