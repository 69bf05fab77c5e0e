// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

// Instruction is one fixed-width 32-bit word: [opcode:8][a:8][b:8][c:8] for
// ABC, [opcode:8][a:8][bx:16] for ABx, [opcode:8][sbx:24] for jumps.
type Instruction uint32

// EncodeABC packs a three-register instruction.
func EncodeABC(op Opcode, a, b, c uint8) Instruction {
	return Instruction(op)<<24 | Instruction(a)<<16 | Instruction(b)<<8 | Instruction(c)
}

// EncodeABx packs a register plus 16-bit index instruction.
func EncodeABx(op Opcode, a uint8, bx uint16) Instruction {
	return Instruction(op)<<24 | Instruction(a)<<16 | Instruction(bx)
}

// EncodeSBx packs a signed 24-bit displacement instruction. sbx is stored
// as an unsigned 24-bit two's-complement field in the low 24 bits.
func EncodeSBx(op Opcode, sbx int32) Instruction {
	return Instruction(op)<<24 | Instruction(uint32(sbx)&0x00FFFFFF)
}

// Op extracts the opcode from the high 8 bits.
func (i Instruction) Op() Opcode { return Opcode(i >> 24) }

// A extracts the 8-bit A operand (ABC and ABx forms).
func (i Instruction) A() uint8 { return uint8(i >> 16) }

// B extracts the 8-bit B operand (ABC form only).
func (i Instruction) B() uint8 { return uint8(i >> 8) }

// C extracts the 8-bit C operand (ABC form only).
func (i Instruction) C() uint8 { return uint8(i) }

// Bx extracts the 16-bit unsigned index operand (ABx form).
func (i Instruction) Bx() uint16 { return uint16(i) }

// SBx extracts the signed 24-bit displacement operand (SBx form), sign
// extending from bit 23.
func (i Instruction) SBx() int32 {
	raw := uint32(i) & 0x00FFFFFF
	if raw&0x00800000 != 0 {
		raw |= 0xFF000000
	}
	return int32(raw)
}
