// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"fmt"

	"github.com/probelang/corevm/internal/value"
)

// NewStructDef allocates an immutable struct shape.
func NewStructDef(name string, fields []string) *StructDef {
	cp := make([]string, len(fields))
	copy(cp, fields)
	return &StructDef{Header: Header{Kind: KindStructDef}, Name: name, Fields: cp}
}

// NewInstance allocates a struct-instance whose field array matches the
// definition's arity, zero-filled with nil.
func (d *StructDef) NewInstance() *StructInstance {
	fields := make([]Value, len(d.Fields))
	for i := range fields {
		fields[i] = value.Nil
	}
	return &StructInstance{Header: Header{Kind: KindStructInstance}, Def: d, Fields: fields}
}

// FieldIndex resolves a field name by linear scan, O(N) in the number of
// fields — acceptable because struct arity is small (spec.md §4.4).
func (d *StructDef) FieldIndex(name string) (int, bool) {
	for i, f := range d.Fields {
		if f == name {
			return i, true
		}
	}
	return 0, false
}

// Get resolves and reads a field by name.
func (s *StructInstance) Get(name string) (Value, error) {
	idx, ok := s.Def.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("heap: struct %q has no field %q", s.Def.Name, name)
	}
	return s.Fields[idx], nil
}

// Set resolves and writes a field by name.
func (s *StructInstance) Set(name string, v Value) error {
	idx, ok := s.Def.FieldIndex(name)
	if !ok {
		return fmt.Errorf("heap: struct %q has no field %q", s.Def.Name, name)
	}
	s.Fields[idx] = v
	return nil
}
