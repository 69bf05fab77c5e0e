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

import "encoding/binary"

// asm is a tiny x86-64 assembler covering exactly the instruction shapes
// the template compiler needs: loading/storing a System V calling
// convention register-file pointer (kept in RDI for the whole compiled
// unit's lifetime), integer arithmetic, comparisons, and relative jumps.
// This is nowhere near a general assembler; it only ever emits what
// emitInstruction below asks for.
type asm struct {
	code []byte
}

const (
	regRAX = 0
	regRCX = 1
	regRDX = 2
	regRBX = 3
)

func (a *asm) emit(b ...byte) { a.code = append(a.code, b...) }

func (a *asm) imm32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	a.code = append(a.code, buf[:]...)
}

// loadReg emits: mov <dstReg>, [rdi + slot*8]
func (a *asm) loadReg(dstReg byte, slot uint8) {
	modrm := 0x80 | (dstReg << 3) | 0x07 // mod=10, reg=dstReg, rm=RDI(111)
	a.emit(0x48, 0x8B, modrm)
	a.imm32(int32(slot) * 8)
}

// storeReg emits: mov [rdi + slot*8], <srcReg>
func (a *asm) storeReg(slot uint8, srcReg byte) {
	modrm := 0x80 | (srcReg << 3) | 0x07
	a.emit(0x48, 0x89, modrm)
	a.imm32(int32(slot) * 8)
}

// loadImm emits: mov <dstReg>, imm32 (sign-extended to 64 bits)
func (a *asm) loadImm(dstReg byte, v int32) {
	modrm := 0xC0 | dstReg // mod=11, reg=000 (MOV r/m64,imm32 opcode /0), rm=dstReg
	a.emit(0x48, 0xC7, modrm)
	a.imm32(v)
}

// binop emits a two-register ALU instruction dst <- dst OP src.
type aluOp byte

const (
	aluAdd aluOp = 0x01
	aluSub aluOp = 0x29
	aluCmp aluOp = 0x39
)

func (a *asm) alu(op aluOp, dstReg, srcReg byte) {
	modrm := 0xC0 | (srcReg << 3) | dstReg
	a.emit(0x48, byte(op), modrm)
}

// imul emits: imul dstReg, srcReg
func (a *asm) imul(dstReg, srcReg byte) {
	modrm := 0xC0 | (dstReg << 3) | srcReg
	a.emit(0x48, 0x0F, 0xAF, modrm)
}

// idiv emits a signed division of RAX (sign-extended via CQO) by divReg,
// leaving the quotient in RAX and remainder in RDX.
func (a *asm) idivSigned(divReg byte) {
	a.emit(0x48, 0x99) // cqo
	modrm := 0xC0 | (7 << 3) | divReg
	a.emit(0x48, 0xF7, modrm) // idiv divReg
}

// neg emits: neg dstReg
func (a *asm) neg(dstReg byte) {
	modrm := 0xC0 | (3 << 3) | dstReg
	a.emit(0x48, 0xF7, modrm)
}

// test emits: test reg, reg
func (a *asm) test(reg byte) {
	modrm := 0xC0 | (reg << 3) | reg
	a.emit(0x48, 0x85, modrm)
}

type cc byte

const (
	ccL  cc = 0xC // less
	ccLE cc = 0xE // less or equal
	ccG  cc = 0xF // greater
	ccGE cc = 0xD // greater or equal
	ccE  cc = 0x4 // equal
	ccNE cc = 0x5 // not equal
)

// setccToReg emits: setcc al; movzx dstReg, al — producing 0/1 in dstReg.
func (a *asm) setccToReg(c cc, dstReg byte) {
	a.emit(0x0F, 0x90|byte(c), 0xC0) // setcc al
	modrm := 0xC0 | (dstReg << 3)
	a.emit(0x48, 0x0F, 0xB6, modrm) // movzx dstReg, al
}

// jmpRel reserves a 32-bit relative jump and returns the code offset of the
// displacement field, to be patched once the target is known.
func (a *asm) jmpRel() int {
	a.emit(0xE9)
	pos := len(a.code)
	a.imm32(0)
	return pos
}

// jccRel reserves a conditional near jump, same patch protocol as jmpRel.
func (a *asm) jccRel(c cc) int {
	a.emit(0x0F, 0x80|byte(c))
	pos := len(a.code)
	a.imm32(0)
	return pos
}

// patch backfills a previously reserved jump displacement once the target
// offset (relative to the end of the jump instruction) is known.
func (a *asm) patch(dispPos, targetPos int) {
	rel := int32(targetPos - (dispPos + 4))
	binary.LittleEndian.PutUint32(a.code[dispPos:dispPos+4], uint32(rel))
}

func (a *asm) ret() { a.emit(0xC3) }

func (a *asm) pos() int { return len(a.code) }
