// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package interpreter

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/probelang/corevm/internal/bytecode"
	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/scheduler"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

func newTestInterp() (*Interp, *heap.Heap) {
	h := heap.New(0, 0)
	vm := vmcore.New(h)
	var it *Interp
	sched := scheduler.New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		return it.Run(fn, args)
	})
	it = New(vm, sched, nil)
	return it, h
}

func fn(h *heap.Heap, c *bytecode.Chunk) *heap.Function {
	return h.NewFunction(heap.Function{Name: c.Name(), Chunk: c})
}

func TestRunAddAndReturn(t *testing.T) {
	it, h := newTestInterp()

	c := bytecode.NewChunk("add")
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 0, 2), 1)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 1, 3), 2)
	c.Emit(bytecode.EncodeABC(bytecode.OpAdd, 2, 0, 1), 3)
	c.Emit(bytecode.EncodeABC(bytecode.OpReturn, 2, 0, 0), 3)

	result, err := it.Run(fn(h, c), nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(5), result)
}

func TestRunDivisionByZeroTraps(t *testing.T) {
	it, h := newTestInterp()

	c := bytecode.NewChunk("div0")
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 0, 1), 1)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 1, 0), 2)
	c.Emit(bytecode.EncodeABC(bytecode.OpDiv, 2, 0, 1), 3)
	c.Emit(bytecode.EncodeABC(bytecode.OpReturn, 2, 0, 0), 3)

	_, err := it.Run(fn(h, c), nil)
	require.Error(t, err)
	rerr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindArithmetic, rerr.Kind)
}

func TestRunLoopAccumulatesAndBumpsHotCount(t *testing.T) {
	it, h := newTestInterp()

	const (
		regSum = iota
		regI
		regN
		regScratch
	)
	c := bytecode.NewChunk("sum-loop")
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regSum, 0), 1)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regI, 0), 2)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regN, 5), 3)
	headerPC := c.Emit(bytecode.EncodeABC(bytecode.OpLoopHeader, 0, 0, 0), 4)
	c.Emit(bytecode.EncodeABC(bytecode.OpLt, regScratch, regI, regN), 5)
	exitPC := c.Emit(bytecode.EncodeABx(bytecode.OpJumpIfFalse, regScratch, 0), 5)
	c.Emit(bytecode.EncodeABC(bytecode.OpAdd, regSum, regSum, regI), 6)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regScratch, 1), 7)
	c.Emit(bytecode.EncodeABC(bytecode.OpAdd, regI, regI, regScratch), 7)
	loopPC := c.Emit(bytecode.EncodeSBx(bytecode.OpLoopJump, 0), 8)
	c.Instructions[loopPC] = bytecode.EncodeSBx(bytecode.OpLoopJump, int32(headerPC-loopPC))
	retPC := c.Emit(bytecode.EncodeABC(bytecode.OpReturn, regSum, 0, 0), 9)
	c.Instructions[exitPC] = bytecode.EncodeABx(bytecode.OpJumpIfFalse, regScratch, uint16(retPC-exitPC))

	result, err := it.Run(fn(h, c), nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(0+1+2+3+4), result)
	require.Equal(t, uint32(5), c.HotCount(headerPC))
}

func TestRunPrintWritesToStdout(t *testing.T) {
	h := heap.New(0, 0)
	vm := vmcore.New(h)
	var lines []string
	var it *Interp
	sched := scheduler.New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		return it.Run(fn, args)
	})
	it = New(vm, sched, func(s string) { lines = append(lines, s) })

	c := bytecode.NewChunk("print")
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, 0, 42), 1)
	c.Emit(bytecode.EncodeABC(bytecode.OpPrint, 0, 0, 0), 2)
	c.Emit(bytecode.EncodeABC(bytecode.OpReturnNil, 0, 0, 0), 3)

	_, err := it.Run(fn(h, c), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"42"}, lines)
}

func internedString(h *heap.Heap, s string) value.Value {
	return value.Object(h.NewString([]byte(s)).Header.Ptr())
}

// TestRunStructDefAndInstanceFields exercises OpDefStruct/OpNewInstance/
// OpSetProp/OpGetProp end to end, including the linear field-scan lookup
// spec.md §4.4 calls out.
func TestRunStructDefAndInstanceFields(t *testing.T) {
	it, h := newTestInterp()

	fieldsArr := h.NewArray([]value.Value{internedString(h, "x"), internedString(h, "y")})

	c := bytecode.NewChunk("struct")
	nameIdx := c.AddConstant(internedString(h, "Point"))
	c.AddConstant(value.Object(fieldsArr.Header.Ptr()))
	xFieldIdx := c.AddConstant(internedString(h, "x"))
	yFieldIdx := c.AddConstant(internedString(h, "y"))

	const (
		regDef = iota
		regInst
		regVal
	)
	c.Emit(bytecode.EncodeABx(bytecode.OpDefStruct, regDef, nameIdx), 1)
	c.Emit(bytecode.EncodeABC(bytecode.OpNewInstance, regInst, regDef, 0), 2)

	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regVal, 7), 3)
	c.Emit(bytecode.EncodeABC(bytecode.OpSetProp, regInst, regVal, uint8(xFieldIdx)), 3)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regVal, 9), 4)
	c.Emit(bytecode.EncodeABC(bytecode.OpSetProp, regInst, regVal, uint8(yFieldIdx)), 4)
	c.Emit(bytecode.EncodeABC(bytecode.OpGetProp, regVal, regInst, uint8(xFieldIdx)), 5)
	c.Emit(bytecode.EncodeABC(bytecode.OpReturn, regVal, 0, 0), 5)

	result, err := it.Run(fn(h, c), nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(7), result)
}

// TestRunArrayAndMapIndexing exercises OpNewArray/OpSetIndex/OpGetIndex for
// both array and map containers, including the map-miss-returns-nil rule
// of spec.md §7.
func TestRunArrayAndMapIndexing(t *testing.T) {
	it, h := newTestInterp()

	c := bytecode.NewChunk("containers")
	const (
		regArr = iota
		regMap
		regKey
		regVal
		regOut
	)
	c.Emit(bytecode.EncodeABx(bytecode.OpNewArray, regArr, 3), 1)
	c.Emit(bytecode.EncodeABC(bytecode.OpNewMap, regMap, 0, 0), 2)

	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regKey, 1), 3)
	c.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regVal, 99), 3)
	c.Emit(bytecode.EncodeABC(bytecode.OpSetIndex, regArr, regKey, regVal), 3)
	c.Emit(bytecode.EncodeABC(bytecode.OpGetIndex, regOut, regArr, regKey), 4)
	c.Emit(bytecode.EncodeABC(bytecode.OpReturn, regOut, 0, 0), 4)

	result, err := it.Run(fn(h, c), nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(99), result)

	c2 := bytecode.NewChunk("map-miss")
	c2.Emit(bytecode.EncodeABC(bytecode.OpNewMap, regMap, 0, 0), 1)
	c2.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regKey, 42), 2)
	c2.Emit(bytecode.EncodeABC(bytecode.OpGetIndex, regOut, regMap, regKey), 3)
	c2.Emit(bytecode.EncodeABC(bytecode.OpReturn, regOut, 0, 0), 3)

	result2, err := it.Run(fn(h, c2), nil)
	require.NoError(t, err)
	require.True(t, value.IsNil(result2))
}

// TestRunClosureCounterSurvivesOuterReturn is spec.md §8 end-to-end scenario
// 2: make=λ():{c=0; λ():c=c+1; c}; f=make(); f(); f(); f() returns 3 — the
// captured c is an upvalue that survives the outer frame's return.
func TestRunClosureCounterSurvivesOuterReturn(t *testing.T) {
	it, h := newTestInterp()

	const regC, regResult = 0, 0 // inner chunk's single scratch/result register

	inner := bytecode.NewChunk("increment")
	inner.UpvalDescs = []bytecode.UpvalDesc{{FromParentLocal: true, Index: 0}}
	const regOne = 1
	inner.Emit(bytecode.EncodeABC(bytecode.OpGetUpval, regResult, 0, 0), 1)
	inner.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regOne, 1), 1)
	inner.Emit(bytecode.EncodeABC(bytecode.OpAdd, regResult, regResult, regOne), 1)
	inner.Emit(bytecode.EncodeABC(bytecode.OpSetUpval, 0, regResult, 0), 1)
	inner.Emit(bytecode.EncodeABC(bytecode.OpReturn, regResult, 0, 0), 1)

	protoFn := h.NewFunction(heap.Function{Name: "increment", Chunk: inner})

	outer := bytecode.NewChunk("make")
	const regClosure = 1
	protoIdx := outer.AddConstant(value.Object(protoFn.Header.Ptr()))
	outer.Emit(bytecode.EncodeABx(bytecode.OpLoadImm, regC, 0), 1)
	outer.Emit(bytecode.EncodeABx(bytecode.OpClosure, regClosure, protoIdx), 1)
	outer.Emit(bytecode.EncodeABC(bytecode.OpReturn, regClosure, 0, 0), 1)

	closureVal, err := it.Run(fn(h, outer), nil)
	require.NoError(t, err)
	require.True(t, value.IsObject(closureVal))

	closureFn := (*heap.Function)(unsafe.Pointer(heap.HeaderAt(value.AsObject(closureVal))))

	var last value.Value
	for i := 0; i < 3; i++ {
		last, err = it.Run(closureFn, nil)
		require.NoError(t, err)
	}
	require.Equal(t, value.Int(3), last)
}
