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

// Package interpreter implements the PROBE VM's threaded-dispatch bytecode
// interpreter (spec.md §4.4): a dense switch over the opcode set, register
// windows carved out of the VM's shared operand stack, and the semantics
// pinned down by the design (foreach ordering, struct field linear scan,
// global lookup, string interning on concatenation, print's diagnostic
// form).
package interpreter

import (
	"fmt"
	"unsafe"

	"github.com/probelang/corevm/internal/bytecode"
	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/jit"
	"github.com/probelang/corevm/internal/scheduler"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

// defaultHotThreshold matches config.Default().JIT.HotThreshold; New sets
// HotThreshold to it, and maybeCompile falls back to it when the field is 0.
const defaultHotThreshold = 4096

// tickSafepointBudget is how many accumulated opcode tick costs a frame
// runs up before it takes a safepoint even without a backward branch.
const tickSafepointBudget = 50000

// Interp ties a VM to a scheduler, matching the cooperative async model of
// spec.md §4.6.
type Interp struct {
	VM           *vmcore.VM
	Scheduler    *scheduler.Scheduler
	Stdout       func(string)
	JIT          *jit.Cache
	HotThreshold uint32
}

// New creates an interpreter bound to vm and sched. stdout receives each
// print opcode's rendered line without a trailing newline (adding one is
// up to the callback); passing nil writes to nothing (tests can inspect captured
// output by supplying a closure).
func New(vm *vmcore.VM, sched *scheduler.Scheduler, stdout func(string)) *Interp {
	return &Interp{VM: vm, Scheduler: sched, Stdout: stdout, HotThreshold: defaultHotThreshold}
}

// SetJIT attaches a compiled-page cache, enabling the hot-loop fast path.
// A nil interpreter JIT field (the zero value) simply never triggers
// compilation, so tests that don't call SetJIT keep running pure bytecode.
func (it *Interp) SetJIT(c *jit.Cache) {
	it.JIT = c
}

// maybeCompile bumps chunk's hot counter for pc and, once it crosses
// HotThreshold, asks the JIT cache to compile the whole chunk. Compilation
// is attempted at most once per chunk: TryCompile blacklists chunks the
// template compiler can't handle so later calls are a cheap map lookup.
func (it *Interp) maybeCompile(chunk *bytecode.Chunk, pc int) {
	if it.JIT == nil {
		return
	}
	threshold := it.HotThreshold
	if threshold == 0 {
		threshold = defaultHotThreshold
	}
	if chunk.IncHot(pc) < threshold {
		return
	}
	if _, ok := chunk.Compiled(); ok {
		return
	}
	it.JIT.TryCompile(chunk)
}

type iterEntry struct {
	isInt  bool
	intKey int32
	strKey *heap.String
	val    value.Value
}

type iterState struct {
	entries []iterEntry
	idx     int
}

// Run executes fn from its first instruction with the given arguments and
// returns its result, or an *Error.
func (it *Interp) Run(fn *heap.Function, args []value.Value) (value.Value, error) {
	if fn.Native != nil {
		return it.callNative(fn, args)
	}
	return it.runFrame(fn, args)
}

func (it *Interp) callNative(fn *heap.Function, args []value.Value) (value.Value, error) {
	if fn.NativeArity >= 0 && len(args) != fn.NativeArity {
		return value.Nil, newErr(KindArity, 0, "%s: expected %d arguments, got %d", fn.Name, fn.NativeArity, len(args))
	}
	result := fn.Native(unsafe.Pointer(it.VM), args, len(args))
	if it.VM.ErrFlag != nil {
		err := it.VM.ErrFlag
		it.VM.ErrFlag = nil
		return value.Nil, err
	}
	return result, nil
}

func (it *Interp) runFrame(fn *heap.Function, args []value.Value) (value.Value, error) {
	vm := it.VM
	chunk := fn.Chunk.(*bytecode.Chunk)

	if len(args) != len(fn.Params) {
		return value.Nil, newErr(KindArity, 0, "%s: expected %d arguments, got %d", fn.Name, len(fn.Params), len(args))
	}

	callerTop := vm.StackTop
	base := vm.StackTop
	if base+vmcore.RegisterWindow > len(vm.Stack) {
		return value.Nil, newErr(KindResource, 0, "operand stack overflow")
	}
	vm.StackTop = base + vmcore.RegisterWindow
	for i := range args {
		if base+i >= vm.StackTop {
			break
		}
		vm.Stack[base+i] = args[i]
	}

	frame := vmcore.Frame{
		PrevEnv:    vm.Globals,
		StackBase:  base,
		CallerTop:  callerTop,
		Chunk:      chunk,
		Function:   fn,
		OpenUpvals: make(map[uint8]*heap.Upvalue),
	}
	if err := vm.PushFrame(frame); err != nil {
		vm.StackTop = callerTop
		return value.Nil, newErr(KindResource, 0, "%v", err)
	}
	prevFn := vm.CurrentFunction
	vm.CurrentFunction = fn
	defer func() {
		vm.CurrentFunction = prevFn
	}()

	if it.JIT != nil {
		if entry, ok := chunk.Compiled(); ok {
			if result, ran := entry(unsafe.Pointer(vm)); ran {
				vm.PopFrame()
				vm.StackTop = callerTop
				return result, nil
			}
			// Register window held something outside the template
			// compiler's integer-only domain; fall through and run
			// this one call through the bytecode loop instead.
		}
	}

	iterators := make(map[uint8]*iterState)
	pc := 0
	regs := vm.Stack[base : base+vmcore.RegisterWindow]
	var tickBudget uint32

	for {
		if pc < 0 || pc >= chunk.Len() {
			vm.PopFrame()
			vm.StackTop = callerTop
			return value.Nil, newErr(KindInternal, 0, "pc ran off the end of chunk %q", chunk.Name())
		}
		instr := chunk.Instructions[pc]
		op := instr.Op()
		line := chunk.LineAt(pc)

		// Straight-line code that never takes a backward branch still
		// needs a safepoint occasionally; OpLoopJump's own Safepoint
		// call handles loopy code, this handles the rest (spec.md §4
		// supplemented features, "tick cost").
		tickBudget += op.TickCost()
		if tickBudget >= tickSafepointBudget {
			tickBudget = 0
			vm.Safepoint()
		}

		switch op {
		case bytecode.OpMove:
			regs[instr.A()] = regs[instr.B()]
		case bytecode.OpLoadConst:
			regs[instr.A()] = chunk.Constants[instr.Bx()]
		case bytecode.OpLoadImm:
			regs[instr.A()] = value.Int(int32(int16(instr.Bx())))
		case bytecode.OpLoadNil:
			regs[instr.A()] = value.Nil
		case bytecode.OpLoadTrue:
			regs[instr.A()] = value.True
		case bytecode.OpLoadFalse:
			regs[instr.A()] = value.False

		case bytecode.OpGetGlobal:
			name := constString(chunk, instr.Bx())
			v, err := vm.Globals.Get(name)
			if err != nil {
				return it.abort(callerTop, newErr(KindName, line, "undefined global %q", name))
			}
			regs[instr.A()] = v
		case bytecode.OpSetGlobal:
			name := constString(chunk, instr.Bx())
			if err := vm.Globals.Set(name, regs[instr.A()]); err != nil {
				return it.abort(callerTop, newErr(KindName, line, "undefined global %q", name))
			}
			vm.Heap.WriteBarrier(&vm.Globals.Header, regs[instr.A()])
		case bytecode.OpDefGlobal:
			name := constString(chunk, instr.Bx())
			vm.Globals.Define(name, regs[instr.A()])
			vm.Heap.WriteBarrier(&vm.Globals.Header, regs[instr.A()])

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			res, err := it.arith(op, line, regs[instr.B()], regs[instr.C()])
			if err != nil {
				return it.abort(callerTop, err)
			}
			regs[instr.A()] = res
		case bytecode.OpNeg:
			res, err := it.negate(line, regs[instr.B()])
			if err != nil {
				return it.abort(callerTop, err)
			}
			regs[instr.A()] = res

		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			res, err := it.compare(op, line, regs[instr.B()], regs[instr.C()])
			if err != nil {
				return it.abort(callerTop, err)
			}
			regs[instr.A()] = res
		case bytecode.OpEq:
			regs[instr.A()] = value.Bool(value.Equal(regs[instr.B()], regs[instr.C()]))
		case bytecode.OpNe:
			regs[instr.A()] = value.Bool(!value.Equal(regs[instr.B()], regs[instr.C()]))
		case bytecode.OpNot:
			regs[instr.A()] = value.Bool(!value.Truthy(regs[instr.B()]))

		case bytecode.OpJump:
			pc += int(instr.SBx())
			continue
		case bytecode.OpJumpIfFalse:
			if !value.Truthy(regs[instr.A()]) {
				pc += int(instr.Bx())
				continue
			}
		case bytecode.OpJumpIfTrue:
			if value.Truthy(regs[instr.A()]) {
				pc += int(instr.Bx())
				continue
			}
		case bytecode.OpLoopHeader:
			// marker only; no effect.
		case bytecode.OpLoopJump:
			target := pc + int(instr.SBx())
			it.maybeCompile(chunk, target)
			vm.Safepoint()
			pc = target
			continue

		case bytecode.OpCall:
			calleeReg := instr.A()
			argc := int(instr.B())
			calleeVal := regs[calleeReg]
			if !value.IsObject(calleeVal) {
				return it.abort(callerTop, newErr(KindType, line, "call of non-function value"))
			}
			callee := (*heap.Function)(headerPtr(calleeVal))
			callArgs := make([]value.Value, argc)
			copy(callArgs, regs[calleeReg+1:calleeReg+1+uint8(argc)])
			result, err := it.Run(callee, callArgs)
			if err != nil {
				return it.abort(callerTop, err)
			}
			regs[calleeReg] = result

		case bytecode.OpReturn:
			v := regs[instr.A()]
			it.closeUpvalsAtOrAbove(&frame, 0)
			vm.PopFrame()
			vm.StackTop = callerTop
			return v, nil
		case bytecode.OpReturnNil:
			it.closeUpvalsAtOrAbove(&frame, 0)
			vm.PopFrame()
			vm.StackTop = callerTop
			return value.Nil, nil

		case bytecode.OpGetProp:
			name := constStringC(chunk, instr.C())
			inst, err := asStructInstance(regs[instr.B()])
			if err != nil {
				return it.abort(callerTop, newErr(KindType, line, "%v", err))
			}
			v, err2 := inst.Get(name)
			if err2 != nil {
				return it.abort(callerTop, newErr(KindName, line, "%v", err2))
			}
			regs[instr.A()] = v
		case bytecode.OpSetProp:
			name := constStringC(chunk, instr.C())
			inst, err := asStructInstance(regs[instr.A()])
			if err != nil {
				return it.abort(callerTop, newErr(KindType, line, "%v", err))
			}
			if err2 := inst.Set(name, regs[instr.B()]); err2 != nil {
				return it.abort(callerTop, newErr(KindName, line, "%v", err2))
			}
			vm.Heap.WriteBarrier(&inst.Header, regs[instr.B()])

		case bytecode.OpGetIndex:
			regs[instr.A()] = it.getIndex(regs[instr.B()], regs[instr.C()])
		case bytecode.OpSetIndex:
			if err := it.setIndex(vm, regs[instr.A()], regs[instr.B()], regs[instr.C()]); err != nil {
				return it.abort(callerTop, newErr(KindIndex, line, "%v", err))
			}

		case bytecode.OpNewArray:
			n := int(instr.Bx())
			elems := make([]value.Value, n)
			for i := range elems {
				elems[i] = value.Nil
			}
			arr := vm.Heap.NewArray(elems)
			regs[instr.A()] = value.Object(arr.Header.Ptr())
		case bytecode.OpNewMap:
			m := vm.Heap.NewMap()
			regs[instr.A()] = value.Object(m.Header.Ptr())
		case bytecode.OpDefStruct:
			name := constString(chunk, instr.Bx())
			fields, err := fieldNames(chunk, instr.Bx()+1)
			if err != nil {
				return it.abort(callerTop, newErr(KindInternal, line, "%v", err))
			}
			def := vm.Heap.NewStructDef(name, fields)
			regs[instr.A()] = value.Object(def.Header.Ptr())
		case bytecode.OpNewInstance:
			defVal := regs[instr.B()]
			if !value.IsObject(defVal) || asHeader(defVal).Kind != heap.KindStructDef {
				return it.abort(callerTop, newErr(KindType, line, "new-instance of non-struct-definition value"))
			}
			def := (*heap.StructDef)(headerPtr(defVal))
			inst := vm.Heap.NewStructInstance(def)
			regs[instr.A()] = value.Object(inst.Header.Ptr())

		case bytecode.OpArrayPush:
			arr, err := asArray(regs[instr.A()])
			if err != nil {
				return it.abort(callerTop, newErr(KindType, line, "%v", err))
			}
			arr.Push(regs[instr.B()])
			vm.Heap.WriteBarrier(&arr.Header, regs[instr.B()])
		case bytecode.OpArrayPop:
			arr, err := asArray(regs[instr.B()])
			if err != nil {
				return it.abort(callerTop, newErr(KindType, line, "%v", err))
			}
			regs[instr.A()] = arr.Pop()
		case bytecode.OpArrayLen:
			arr, err := asArray(regs[instr.B()])
			if err != nil {
				return it.abort(callerTop, newErr(KindType, line, "%v", err))
			}
			regs[instr.A()] = value.Int(int32(arr.Len()))

		case bytecode.OpForPrepare:
			st, err := it.prepareIter(regs[instr.B()])
			if err != nil {
				return it.abort(callerTop, newErr(KindType, line, "%v", err))
			}
			iterators[instr.A()] = st
		case bytecode.OpForNext:
			st := iterators[instr.A()]
			if st == nil || st.idx >= len(st.entries) {
				pc += int(instr.C())
				continue
			}
			e := st.entries[st.idx]
			st.idx++
			if e.isInt {
				regs[instr.B()] = value.Int(e.intKey)
			} else if e.strKey != nil {
				regs[instr.B()] = value.Object(e.strKey.Header.Ptr())
			} else {
				regs[instr.B()] = e.val
			}

		case bytecode.OpClosure:
			newFn, err := it.makeClosure(&frame, chunk.Constants[instr.Bx()])
			if err != nil {
				return it.abort(callerTop, newErr(KindInternal, line, "%v", err))
			}
			regs[instr.A()] = value.Object(newFn.Header.Ptr())
		case bytecode.OpGetUpval:
			regs[instr.A()] = fn.Upvalues[instr.B()].Get()
		case bytecode.OpSetUpval:
			uv := fn.Upvalues[instr.A()]
			uv.Set(regs[instr.B()])
			vm.Heap.WriteBarrier(&uv.Header, regs[instr.B()])
		case bytecode.OpCloseUpval:
			it.closeUpvalsAtOrAbove(&frame, instr.A())

		case bytecode.OpImport:
			name := constString(chunk, instr.Bx())
			mod, ok := vm.Modules[name]
			if !ok {
				return it.abort(callerTop, newErr(KindName, line, "unknown module %q", name))
			}
			regs[instr.A()] = value.Object(mod.Header.Ptr())
		case bytecode.OpAsyncCall:
			calleeReg := instr.A()
			argc := int(instr.B())
			callee := (*heap.Function)(headerPtr(regs[calleeReg]))
			callArgs := make([]value.Value, argc)
			copy(callArgs, regs[calleeReg+1:calleeReg+1+uint8(argc)])
			future := it.Scheduler.Enqueue(callee, callArgs)
			regs[calleeReg] = value.Object(future.Header.Ptr())
		case bytecode.OpAwait:
			futVal := regs[instr.A()]
			fut := (*heap.Future)(headerPtr(futVal))
			regs[instr.A()] = it.Scheduler.Await(fut)

		case bytecode.OpPrint:
			if it.Stdout != nil {
				it.Stdout(Diagnostic(regs[instr.A()]))
			}
		case bytecode.OpHalt:
			it.closeUpvalsAtOrAbove(&frame, 0)
			vm.PopFrame()
			vm.StackTop = callerTop
			return regs[instr.A()], nil
		case bytecode.OpNop:
			// no-op

		default:
			return it.abort(callerTop, newErr(KindInternal, line, "unsupported opcode %s", op))
		}
		pc++
	}
}

func (it *Interp) abort(callerTop int, err error) (value.Value, error) {
	it.VM.PopFrame()
	it.VM.StackTop = callerTop
	return value.Nil, err
}

func asHeader(v value.Value) *heap.Header {
	return heap.HeaderAt(value.AsObject(v))
}

func headerPtr(v value.Value) unsafe.Pointer {
	return unsafe.Pointer(asHeader(v))
}

func constString(chunk *bytecode.Chunk, idx uint16) string {
	v := chunk.Constants[idx]
	s := (*heap.String)(headerPtr(v))
	return string(s.Bytes)
}

func constStringC(chunk *bytecode.Chunk, idx uint8) string {
	return constString(chunk, uint16(idx))
}

// fieldNames reads the array of interned field-name strings stored in the
// constant pool at idx, for OpDefStruct (spec.md §3 "struct-definition ...
// ordered list of field names").
func fieldNames(chunk *bytecode.Chunk, idx uint16) ([]string, error) {
	if int(idx) >= len(chunk.Constants) {
		return nil, fmt.Errorf("struct definition missing its field-name constant")
	}
	v := chunk.Constants[idx]
	if !value.IsObject(v) || asHeader(v).Kind != heap.KindArray {
		return nil, fmt.Errorf("struct definition's field-name constant is not an array")
	}
	arr := (*heap.Array)(headerPtr(v))
	names := make([]string, arr.Len())
	for i := range names {
		ev := arr.Get(i)
		if !value.IsObject(ev) || asHeader(ev).Kind != heap.KindString {
			return nil, fmt.Errorf("struct field name at index %d is not a string", i)
		}
		names[i] = string((*heap.String)(headerPtr(ev)).Bytes)
	}
	return names, nil
}
