// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package interpreter

import (
	"fmt"
	"math"
	"strconv"
	"unsafe"

	"github.com/probelang/corevm/internal/bytecode"
	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

// arith implements the binary dispatch rules of spec.md §4.1 for add, sub,
// mul, div, and mod.
func (it *Interp) arith(op bytecode.Opcode, line int32, a, b value.Value) (value.Value, error) {
	if op == bytecode.OpAdd && (isString(a) || isString(b)) {
		return it.concat(a, b), nil
	}
	if !value.IsNumber(a) || !value.IsNumber(b) {
		return value.Nil, newErr(KindType, line, "arithmetic on non-numeric operand")
	}
	if value.IsInt(a) && value.IsInt(b) {
		ai, bi := int64(value.AsInt(a)), int64(value.AsInt(b))
		switch op {
		case bytecode.OpAdd:
			r := ai + bi
			if r >= math.MinInt32 && r <= math.MaxInt32 {
				return value.Int(int32(r)), nil
			}
			return value.Float(float64(ai) + float64(bi)), nil
		case bytecode.OpSub:
			r := ai - bi
			if r >= math.MinInt32 && r <= math.MaxInt32 {
				return value.Int(int32(r)), nil
			}
			return value.Float(float64(ai) - float64(bi)), nil
		case bytecode.OpMul:
			r := ai * bi
			if r >= math.MinInt32 && r <= math.MaxInt32 {
				return value.Int(int32(r)), nil
			}
			return value.Float(float64(ai) * float64(bi)), nil
		case bytecode.OpDiv:
			if bi == 0 {
				return value.Nil, newErr(KindArithmetic, line, "integer division by zero")
			}
			return value.Int(int32(ai / bi)), nil
		case bytecode.OpMod:
			if bi == 0 {
				return value.Nil, newErr(KindArithmetic, line, "modulo by zero")
			}
			return value.Int(int32(ai % bi)), nil
		}
	}
	af, bf := value.AsFloat64(a), value.AsFloat64(b)
	switch op {
	case bytecode.OpAdd:
		return value.Float(af + bf), nil
	case bytecode.OpSub:
		return value.Float(af - bf), nil
	case bytecode.OpMul:
		return value.Float(af * bf), nil
	case bytecode.OpDiv:
		return value.Float(af / bf), nil
	case bytecode.OpMod:
		if bf == 0 {
			return value.Nil, newErr(KindArithmetic, line, "modulo by zero")
		}
		return value.Float(math.Mod(af, bf)), nil
	}
	return value.Nil, newErr(KindInternal, line, "unreachable arithmetic opcode")
}

func (it *Interp) negate(line int32, a value.Value) (value.Value, error) {
	if value.IsInt(a) {
		n := value.AsInt(a)
		if n == math.MinInt32 {
			return value.Float(-float64(n)), nil
		}
		return value.Int(-n), nil
	}
	if value.IsFloat(a) {
		return value.Float(-value.AsFloat(a)), nil
	}
	return value.Nil, newErr(KindType, line, "negation of non-numeric operand")
}

func (it *Interp) compare(op bytecode.Opcode, line int32, a, b value.Value) (value.Value, error) {
	if !value.IsNumber(a) || !value.IsNumber(b) {
		return value.Nil, newErr(KindType, line, "comparison of non-numeric operand")
	}
	af, bf := value.AsFloat64(a), value.AsFloat64(b)
	switch op {
	case bytecode.OpLt:
		return value.Bool(af < bf), nil
	case bytecode.OpLe:
		return value.Bool(af <= bf), nil
	case bytecode.OpGt:
		return value.Bool(af > bf), nil
	case bytecode.OpGe:
		return value.Bool(af >= bf), nil
	}
	return value.Nil, newErr(KindInternal, line, "unreachable comparison opcode")
}

func isString(v value.Value) bool {
	if !value.IsObject(v) {
		return false
	}
	return asHeader(v).Kind == heap.KindString
}

// concat produces a new interned string from the diagnostic form of
// whichever operand is not already a string (spec.md §4.1 "string
// concatenation").
func (it *Interp) concat(a, b value.Value) value.Value {
	s := stringForm(a) + stringForm(b)
	str := it.VM.Heap.NewString([]byte(s))
	return value.Object(str.Header.Ptr())
}

func stringForm(v value.Value) string {
	if isString(v) {
		s := (*heap.String)(unsafe.Pointer(asHeader(v)))
		return string(s.Bytes)
	}
	return Diagnostic(v)
}

// Diagnostic renders v's diagnostic form per spec.md §4.4 "Print".
func Diagnostic(v value.Value) string {
	switch {
	case value.IsNil(v):
		return "nil"
	case value.IsBool(v):
		if value.AsBool(v) {
			return "true"
		}
		return "false"
	case value.IsInt(v):
		return strconv.FormatInt(int64(value.AsInt(v)), 10)
	case value.IsFloat(v):
		return strconv.FormatFloat(value.AsFloat(v), 'g', -1, 64)
	case value.IsObject(v):
		return diagnosticObject(asHeader(v))
	}
	return "<?>"
}

func diagnosticObject(hdr *heap.Header) string {
	switch hdr.Kind {
	case heap.KindString:
		s := (*heap.String)(unsafe.Pointer(hdr))
		return string(s.Bytes)
	case heap.KindArray:
		a := (*heap.Array)(unsafe.Pointer(hdr))
		out := "["
		for i := 0; i < a.Len(); i++ {
			if i > 0 {
				out += ", "
			}
			out += Diagnostic(a.Get(i))
		}
		return out + "]"
	case heap.KindMap:
		return "{map}"
	case heap.KindStructInstance:
		inst := (*heap.StructInstance)(unsafe.Pointer(hdr))
		out := inst.Def.Name + "{"
		for i, f := range inst.Def.Fields {
			if i > 0 {
				out += ", "
			}
			out += f + ": " + Diagnostic(inst.Fields[i])
		}
		return out + "}"
	case heap.KindFunction:
		return "<function>"
	case heap.KindFuture:
		return "<future>"
	default:
		return "<object>"
	}
}

func asArray(v value.Value) (*heap.Array, error) {
	if !value.IsObject(v) || asHeader(v).Kind != heap.KindArray {
		return nil, fmt.Errorf("expected array, got %s", Diagnostic(v))
	}
	return (*heap.Array)(unsafe.Pointer(asHeader(v))), nil
}

func asStructInstance(v value.Value) (*heap.StructInstance, error) {
	if !value.IsObject(v) || asHeader(v).Kind != heap.KindStructInstance {
		return nil, fmt.Errorf("expected struct instance, got %s", Diagnostic(v))
	}
	return (*heap.StructInstance)(unsafe.Pointer(asHeader(v))), nil
}

// getIndex implements array and map indexed reads (spec.md §4.3 "Objects").
// A map miss, like an out-of-range array read, yields nil (spec.md §7
// "Index error").
func (it *Interp) getIndex(container, key value.Value) value.Value {
	if !value.IsObject(container) {
		return value.Nil
	}
	switch asHeader(container).Kind {
	case heap.KindArray:
		arr := (*heap.Array)(unsafe.Pointer(asHeader(container)))
		if value.IsInt(key) {
			return arr.Get(int(value.AsInt(key)))
		}
		return value.Nil
	case heap.KindMap:
		m := (*heap.Map)(unsafe.Pointer(asHeader(container)))
		if value.IsInt(key) {
			v, _ := m.GetInt(value.AsInt(key))
			return v
		}
		if isString(key) {
			s := (*heap.String)(unsafe.Pointer(asHeader(key)))
			v, _ := m.GetString(s)
			return v
		}
	}
	return value.Nil
}

// setIndex implements array and map indexed writes.
func (it *Interp) setIndex(vm *vmcore.VM, container, key, v value.Value) error {
	if !value.IsObject(container) {
		return fmt.Errorf("index assignment on non-object value")
	}
	hdr := asHeader(container)
	switch hdr.Kind {
	case heap.KindArray:
		arr := (*heap.Array)(unsafe.Pointer(hdr))
		if !value.IsInt(key) {
			return fmt.Errorf("array index must be an integer")
		}
		if err := arr.Set(int(value.AsInt(key)), v); err != nil {
			return err
		}
		vm.Heap.WriteBarrier(hdr, v)
		return nil
	case heap.KindMap:
		m := (*heap.Map)(unsafe.Pointer(hdr))
		if value.IsInt(key) {
			m.SetInt(value.AsInt(key), v)
		} else if isString(key) {
			m.SetString((*heap.String)(unsafe.Pointer(asHeader(key))), v)
		} else {
			return fmt.Errorf("map key must be an int or a string")
		}
		vm.Heap.WriteBarrier(hdr, v)
		return nil
	}
	return fmt.Errorf("indexing into non-container value")
}

// prepareIter snapshots a container's entries for foreach, per spec.md
// §4.4: arrays in ascending index order, maps in bucket-traversal order.
func (it *Interp) prepareIter(container value.Value) (*iterState, error) {
	if !value.IsObject(container) {
		return nil, fmt.Errorf("foreach over non-container value")
	}
	hdr := asHeader(container)
	st := &iterState{}
	switch hdr.Kind {
	case heap.KindArray:
		arr := (*heap.Array)(unsafe.Pointer(hdr))
		for i := 0; i < arr.Len(); i++ {
			st.entries = append(st.entries, iterEntry{val: arr.Get(i)})
		}
	case heap.KindMap:
		m := (*heap.Map)(unsafe.Pointer(hdr))
		m.Each(func(strKey *heap.String, intKey int32, isInt bool, v value.Value) {
			st.entries = append(st.entries, iterEntry{isInt: isInt, intKey: intKey, strKey: strKey, val: v})
		})
	default:
		return nil, fmt.Errorf("foreach over non-container value")
	}
	return st, nil
}

// makeClosure instantiates a new Function from a prototype constant,
// capturing upvalues per the prototype chunk's descriptors (spec.md §9
// "Upvalues / closed-over locals").
func (it *Interp) makeClosure(frame *vmcore.Frame, protoVal value.Value) (*heap.Function, error) {
	if !value.IsObject(protoVal) || asHeader(protoVal).Kind != heap.KindFunction {
		return nil, fmt.Errorf("closure constant is not a function prototype")
	}
	proto := (*heap.Function)(unsafe.Pointer(asHeader(protoVal)))
	protoChunk, _ := proto.Chunk.(*bytecode.Chunk)

	newFn := it.VM.Heap.NewFunction(*proto)
	if protoChunk == nil {
		return newFn, nil
	}
	newFn.Upvalues = make([]*heap.Upvalue, len(protoChunk.UpvalDescs))
	for i, desc := range protoChunk.UpvalDescs {
		if desc.FromParentLocal {
			newFn.Upvalues[i] = it.openUpvalFor(frame, desc.Index)
		} else if frame.Function != nil {
			newFn.Upvalues[i] = frame.Function.Upvalues[desc.Index]
		}
	}
	return newFn, nil
}

func (it *Interp) openUpvalFor(frame *vmcore.Frame, reg uint8) *heap.Upvalue {
	if uv, ok := frame.OpenUpvals[reg]; ok {
		return uv
	}
	slot := &it.VM.Stack[frame.StackBase+int(reg)]
	uv := it.VM.Heap.NewUpvalue(slot)
	frame.OpenUpvals[reg] = uv
	return uv
}

func (it *Interp) closeUpvalsAtOrAbove(frame *vmcore.Frame, minReg uint8) {
	for reg, uv := range frame.OpenUpvals {
		if reg >= minReg {
			uv.Close()
			delete(frame.OpenUpvals, reg)
		}
	}
}
