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

// Package bytecode implements the PROBE VM's register-based, 32-bit
// fixed-width instruction encoding: three formats, ABC (three 8-bit
// register operands), ABx (one 8-bit register plus a 16-bit index), and
// sBx (a signed 24-bit displacement used by jumps).
//
// Encoding: [opcode:8][a:8][b:8][c:8] for ABC, [opcode:8][a:8][bx:16] for
// ABx, and [opcode:8][sbx:24] for jumps. The opcode always occupies the
// high 8 bits of the word.
package bytecode

// Opcode is an 8-bit instruction code for the PROBE VM.
type Opcode uint8

const (
	// ---- Data movement ------------------------------------------------

	// OpMove performs R[a] = R[b].
	OpMove Opcode = iota
	// OpLoadConst performs R[a] = Constants[bx].
	OpLoadConst
	// OpLoadImm performs R[a] = int32(bx) (sign-extended small immediate).
	OpLoadImm
	// OpLoadNil performs R[a] = nil.
	OpLoadNil
	// OpLoadTrue performs R[a] = true.
	OpLoadTrue
	// OpLoadFalse performs R[a] = false.
	OpLoadFalse

	// ---- Globals (indirected by constant-pool string) ------------------

	// OpGetGlobal performs R[a] = globals[Constants[bx]], erroring if absent.
	OpGetGlobal
	// OpSetGlobal performs globals[Constants[bx]] = R[a], erroring if absent.
	OpSetGlobal
	// OpDefGlobal inserts globals[Constants[bx]] = R[a], overwriting any
	// existing binding in the current environment.
	OpDefGlobal

	// ---- Arithmetic (generic; the JIT may substitute specialized forms) -

	// OpAdd performs R[a] = R[b] + R[c] per the dispatch rules of spec.md §4.1.
	OpAdd
	// OpSub performs R[a] = R[b] - R[c].
	OpSub
	// OpMul performs R[a] = R[b] * R[c].
	OpMul
	// OpDiv performs R[a] = R[b] / R[c]; traps on integer division by zero.
	OpDiv
	// OpMod performs R[a] = R[b] % R[c]; traps on modulo by zero.
	OpMod
	// OpNeg performs R[a] = -R[b].
	OpNeg

	// ---- Comparison and logic -------------------------------------------

	// OpLt performs R[a] = R[b] < R[c].
	OpLt
	// OpLe performs R[a] = R[b] <= R[c].
	OpLe
	// OpGt performs R[a] = R[b] > R[c].
	OpGt
	// OpGe performs R[a] = R[b] >= R[c].
	OpGe
	// OpEq performs R[a] = equal(R[b], R[c]).
	OpEq
	// OpNe performs R[a] = !equal(R[b], R[c]).
	OpNe
	// OpNot performs R[a] = !truthy(R[b]).
	OpNot

	// ---- Control flow (sBx format unless noted) -------------------------

	// OpJump is an unconditional jump: PC += sbx.
	OpJump
	// OpJumpIfFalse jumps PC += bx if R[a] is falsy (ABx format: bx is an
	// unsigned 16-bit forward displacement).
	OpJumpIfFalse
	// OpJumpIfTrue jumps PC += bx if R[a] is truthy (ABx format, as above).
	OpJumpIfTrue
	// OpLoopJump is a backward jump: PC += sbx, with sbx negative. Increments the chunk's hot
	// counter for the target loop header (spec.md §4.5 "Triggering").
	OpLoopJump
	// OpLoopHeader marks a loop header so the interpreter can attribute hot
	// counts and the JIT can find a resumable entry point.
	OpLoopHeader

	// ---- Calls -----------------------------------------------------------

	// OpCall invokes R[a] with the b arguments held in R[a+1]..R[a+b] and
	// stores the result in R[a] (ABC format: a=callee register, b=argc; c
	// is not read).
	OpCall
	// OpReturn returns R[a] from the current frame.
	OpReturn
	// OpReturnNil returns nil from the current frame.
	OpReturnNil

	// ---- Objects -----------------------------------------------------------

	// OpGetProp performs R[a] = R[b].field, where the field name is
	// Constants[c] (c treated as a small 0-255 constant-pool index).
	OpGetProp
	// OpSetProp performs R[a].field = R[b], where the field name is
	// Constants[c].
	OpSetProp
	// OpGetIndex performs R[a] = R[b][R[c]] (array or map indexed read).
	OpGetIndex
	// OpSetIndex performs R[a][R[b]] = R[c].
	OpSetIndex
	// OpNewArray builds a new array of bx nil elements, leaving the array
	// in R[a].
	OpNewArray
	// OpNewMap builds a new empty map in R[a].
	OpNewMap
	// OpDefStruct builds a struct definition named by Constants[bx], with
	// field names read from the array of interned strings stored at
	// Constants[bx+1], and leaves the (heap-allocated) definition in R[a].
	OpDefStruct
	// OpNewInstance constructs a new instance of the struct definition held
	// in R[b], leaving it in R[a]. The definition is itself a first-class
	// Value (as produced by OpDefStruct or a global/upvalue lookup), not a
	// compile-time constant, since struct definitions are allocated on the
	// heap at the point OpDefStruct runs.
	OpNewInstance

	// ---- Arrays ------------------------------------------------------------

	// OpArrayPush appends R[b] to the array in R[a].
	OpArrayPush
	// OpArrayPop pops the last element of the array in R[b] into R[a].
	OpArrayPop
	// OpArrayLen stores the length of the array in R[b] into R[a].
	OpArrayLen

	// ---- Iteration ---------------------------------------------------------

	// OpForPrepare initializes an iterator over R[b] (array or map) into R[a].
	OpForPrepare
	// OpForNext advances the iterator slot a, storing the next element in
	// R[b] and, when the iterator is exhausted, skipping forward c
	// instructions (out of the loop body).
	OpForNext

	// ---- Closures / upvalues --------------------------------------------

	// OpClosure builds a closure from the function prototype stored at
	// Constants[bx], capturing upvalues per the chunk's prototype metadata,
	// and stores the result in R[a].
	OpClosure
	// OpGetUpval performs R[a] = Upvalues[b].
	OpGetUpval
	// OpSetUpval performs Upvalues[a] = R[b].
	OpSetUpval
	// OpCloseUpval closes every open upvalue referring to a stack slot at or
	// above R[a]'s register index, called on scope/frame exit.
	OpCloseUpval

	// ---- Modules / async / print --------------------------------------

	// OpImport loads the module named by Constants[bx] into R[a].
	OpImport
	// OpAsyncCall schedules R[a] as an async task with the b arguments held
	// in R[a+1]..R[a+b], leaving the resulting future in R[a].
	OpAsyncCall
	// OpAwait blocks on the future in R[a] until resolved, replacing R[a]
	// with the resolved value.
	OpAwait
	// OpPrint writes R[a]'s diagnostic form to stdout followed by a newline.
	OpPrint
	// OpHalt stops execution; R[a] is the result/exit value.
	OpHalt
	// OpNop does nothing.
	OpNop
)

var opcodeNames = [...]string{
	OpMove:         "move",
	OpLoadConst:    "loadk",
	OpLoadImm:      "loadimm",
	OpLoadNil:      "loadnil",
	OpLoadTrue:     "loadtrue",
	OpLoadFalse:    "loadfalse",
	OpGetGlobal:    "getglobal",
	OpSetGlobal:    "setglobal",
	OpDefGlobal:    "defglobal",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDiv:          "div",
	OpMod:          "mod",
	OpNeg:          "neg",
	OpLt:           "lt",
	OpLe:           "le",
	OpGt:           "gt",
	OpGe:           "ge",
	OpEq:           "eq",
	OpNe:           "ne",
	OpNot:          "not",
	OpJump:         "jump",
	OpJumpIfFalse:  "jumpiffalse",
	OpJumpIfTrue:   "jumpiftrue",
	OpLoopJump:     "loopjump",
	OpLoopHeader:   "loopheader",
	OpCall:         "call",
	OpReturn:       "return",
	OpReturnNil:    "returnnil",
	OpGetProp:      "getprop",
	OpSetProp:      "setprop",
	OpGetIndex:     "getindex",
	OpSetIndex:     "setindex",
	OpNewArray:     "newarray",
	OpNewMap:       "newmap",
	OpDefStruct:    "defstruct",
	OpNewInstance:  "newinstance",
	OpArrayPush:    "arraypush",
	OpArrayPop:     "arraypop",
	OpArrayLen:     "arraylen",
	OpForPrepare:   "forprepare",
	OpForNext:      "fornext",
	OpClosure:      "closure",
	OpGetUpval:     "getupval",
	OpSetUpval:     "setupval",
	OpCloseUpval:   "closeupval",
	OpImport:       "import",
	OpAsyncCall:    "asynccall",
	OpAwait:        "await",
	OpPrint:        "print",
	OpHalt:         "halt",
	OpNop:          "nop",
}

// String returns the opcode's disassembly mnemonic.
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "unknown"
}

// Format describes which of the three instruction layouts an opcode uses.
type Format uint8

const (
	FormatABC Format = iota
	FormatABx
	FormatSBx
)

var opcodeFormats = [...]Format{
	OpMove:        FormatABC,
	OpLoadConst:   FormatABx,
	OpLoadImm:     FormatABx,
	OpLoadNil:     FormatABC,
	OpLoadTrue:    FormatABC,
	OpLoadFalse:   FormatABC,
	OpGetGlobal:   FormatABx,
	OpSetGlobal:   FormatABx,
	OpDefGlobal:   FormatABx,
	OpAdd:         FormatABC,
	OpSub:         FormatABC,
	OpMul:         FormatABC,
	OpDiv:         FormatABC,
	OpMod:         FormatABC,
	OpNeg:         FormatABC,
	OpLt:          FormatABC,
	OpLe:          FormatABC,
	OpGt:          FormatABC,
	OpGe:          FormatABC,
	OpEq:          FormatABC,
	OpNe:          FormatABC,
	OpNot:         FormatABC,
	OpJump:        FormatSBx,
	OpJumpIfFalse: FormatABx,
	OpJumpIfTrue:  FormatABx,
	OpLoopJump:    FormatSBx,
	OpLoopHeader:  FormatABC,
	OpCall:        FormatABC,
	OpReturn:      FormatABC,
	OpReturnNil:   FormatABC,
	OpGetProp:     FormatABC,
	OpSetProp:     FormatABC,
	OpGetIndex:    FormatABC,
	OpSetIndex:    FormatABC,
	OpNewArray:    FormatABx,
	OpNewMap:      FormatABC,
	OpDefStruct:   FormatABx,
	OpNewInstance: FormatABC,
	OpArrayPush:   FormatABC,
	OpArrayPop:    FormatABC,
	OpArrayLen:    FormatABC,
	OpForPrepare:  FormatABC,
	OpForNext:     FormatABC,
	OpClosure:     FormatABx,
	OpGetUpval:    FormatABC,
	OpSetUpval:    FormatABC,
	OpCloseUpval:  FormatABC,
	OpImport:      FormatABx,
	OpAsyncCall:   FormatABC,
	OpAwait:       FormatABC,
	OpPrint:       FormatABC,
	OpHalt:        FormatABC,
	OpNop:         FormatABC,
}

// FormatOf returns the instruction layout an opcode uses.
func (op Opcode) FormatOf() Format {
	if int(op) < len(opcodeFormats) {
		return opcodeFormats[op]
	}
	return FormatABC
}

// Tick costs per opcode family, carried over from the teacher's gas-cost
// table but repurposed: there is no guest-visible gas limit here (spec.md
// never defines one), only a running total the interpreter uses to decide
// when straight-line execution has gone long enough to justify a GC/
// scheduler safepoint check between backward branches.
const (
	tickTrivial    uint32 = 1
	tickArithmetic uint32 = 3
	tickMul        uint32 = 5
	tickDivMod     uint32 = 10
	tickMemOp      uint32 = 5
	tickJump       uint32 = 3
	tickCall       uint32 = 20
	tickIO         uint32 = 50
)

var tickCosts = [...]uint32{
	OpMove:        tickTrivial,
	OpLoadConst:   tickTrivial,
	OpLoadImm:     tickTrivial,
	OpLoadNil:     tickTrivial,
	OpLoadTrue:    tickTrivial,
	OpLoadFalse:   tickTrivial,
	OpGetGlobal:   tickMemOp,
	OpSetGlobal:   tickMemOp,
	OpDefGlobal:   tickMemOp,
	OpAdd:         tickArithmetic,
	OpSub:         tickArithmetic,
	OpMul:         tickMul,
	OpDiv:         tickDivMod,
	OpMod:         tickDivMod,
	OpNeg:         tickArithmetic,
	OpLt:          tickArithmetic,
	OpLe:          tickArithmetic,
	OpGt:          tickArithmetic,
	OpGe:          tickArithmetic,
	OpEq:          tickArithmetic,
	OpNe:          tickArithmetic,
	OpNot:         tickTrivial,
	OpJump:        tickJump,
	OpJumpIfFalse: tickJump,
	OpJumpIfTrue:  tickJump,
	OpLoopJump:    tickJump,
	OpLoopHeader:  tickTrivial,
	OpCall:        tickCall,
	OpReturn:      tickTrivial,
	OpReturnNil:   tickTrivial,
	OpGetProp:     tickMemOp,
	OpSetProp:     tickMemOp,
	OpGetIndex:    tickMemOp,
	OpSetIndex:    tickMemOp,
	OpNewArray:    tickMemOp,
	OpNewMap:      tickMemOp,
	OpDefStruct:   tickMemOp,
	OpNewInstance: tickMemOp,
	OpArrayPush:   tickMemOp,
	OpArrayPop:    tickMemOp,
	OpArrayLen:    tickTrivial,
	OpForPrepare:  tickMemOp,
	OpForNext:     tickMemOp,
	OpClosure:     tickCall,
	OpGetUpval:    tickTrivial,
	OpSetUpval:    tickTrivial,
	OpCloseUpval:  tickTrivial,
	OpImport:      tickCall,
	OpAsyncCall:   tickCall,
	OpAwait:       tickCall,
	OpPrint:       tickIO,
	OpHalt:        tickTrivial,
	OpNop:         tickTrivial,
}

// TickCost returns op's scheduling-fairness weight (spec.md silence, §4
// supplemented features), used to space out safepoint checks across
// straight-line code that never takes a backward branch.
func (op Opcode) TickCost() uint32 {
	if int(op) < len(tickCosts) && tickCosts[op] != 0 {
		return tickCosts[op]
	}
	return tickTrivial
}
