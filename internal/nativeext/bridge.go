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

// Package nativeext implements the Native Extension Bridge contract of
// spec.md §4.7: a host function receives the VM pointer, the argument
// Values, and the argument count, and returns a single Value. Registered
// functions become first-class callable values in a given environment.
package nativeext

import (
	"fmt"
	"unsafe"

	"golang.org/x/crypto/sha3"

	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

// Builtin pairs a native function with its fixed arity (-1 for variadic).
type Builtin struct {
	Name  string
	Arity int
	Fn    heap.NativeFunc
}

// Register installs every builtin into env as a first-class function
// value, returning the count of registered names (spec.md §6 "Native
// extension contract").
func Register(h *heap.Heap, env *heap.Environment, builtins []Builtin) int {
	n := 0
	for _, b := range builtins {
		fn := h.NewFunction(heap.Function{
			Name:        b.Name,
			Native:      b.Fn,
			NativeArity: b.Arity,
		})
		env.DefineFunction(b.Name, fn)
		n++
	}
	return n
}

// Default returns the builtin set this runtime ships out of the box.
func Default() []Builtin {
	return []Builtin{
		{Name: "hash", Arity: 1, Fn: nativeHash},
		{Name: "len", Arity: 1, Fn: nativeLen},
		{Name: "typeof", Arity: 1, Fn: nativeTypeof},
	}
}

func asHeader(v value.Value) *heap.Header {
	return heap.HeaderAt(value.AsObject(v))
}

// nativeLen returns the length of an array or string argument, and errors
// (via the VM error flag) for any other variant.
func nativeLen(vm unsafe.Pointer, args []value.Value, argc int) value.Value {
	v := args[0]
	if value.IsObject(v) {
		hdr := asHeader(v)
		switch hdr.Kind {
		case heap.KindArray:
			a := (*heap.Array)(unsafe.Pointer(hdr))
			return value.Int(int32(a.Len()))
		case heap.KindString:
			s := (*heap.String)(unsafe.Pointer(hdr))
			return value.Int(int32(len(s.Bytes)))
		}
	}
	(*vmcore.VM)(vm).ErrFlag = fmt.Errorf("len: argument is not an array or string")
	return value.Nil
}

// nativeTypeof returns an interned string naming v's dynamic kind.
func nativeTypeof(vm unsafe.Pointer, args []value.Value, argc int) value.Value {
	v := args[0]
	h := vmHeap(vm)
	name := "nil"
	switch {
	case value.IsNil(v):
		name = "nil"
	case value.IsBool(v):
		name = "bool"
	case value.IsInt(v):
		name = "int"
	case value.IsFloat(v):
		name = "float"
	case value.IsObject(v):
		name = kindName(asHeader(v).Kind)
	}
	s := h.NewString([]byte(name))
	return value.Object(s.Header.Ptr())
}

func kindName(k heap.Kind) string {
	switch k {
	case heap.KindString:
		return "string"
	case heap.KindArray:
		return "array"
	case heap.KindMap:
		return "map"
	case heap.KindStructDef:
		return "struct-def"
	case heap.KindStructInstance:
		return "struct"
	case heap.KindEnvironment:
		return "environment"
	case heap.KindModule:
		return "module"
	case heap.KindFunction:
		return "function"
	case heap.KindFuture:
		return "future"
	case heap.KindResource:
		return "resource"
	case heap.KindUpvalue:
		return "upvalue"
	}
	return "object"
}

// nativeHash implements an example bridge function: a SHA3-256 digest of a
// string argument's bytes, rendered as a lowercase hex string. It
// demonstrates a native function that allocates (spec.md §4.7: "any
// allocation they perform must follow the barrier").
func nativeHash(vm unsafe.Pointer, args []value.Value, argc int) value.Value {
	h := vmHeap(vm)
	v := args[0]
	if !value.IsObject(v) || asHeader(v).Kind != heap.KindString {
		return value.Nil
	}
	str := (*heap.String)(unsafe.Pointer(asHeader(v)))
	digest := sha3.Sum256(str.Bytes)
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(digest)*2)
	for i, b := range digest {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xF]
	}
	result := h.NewString(out)
	return value.Object(result.Header.Ptr())
}

func vmHeap(vm unsafe.Pointer) *heap.Heap {
	return (*vmcore.VM)(vm).Heap
}
