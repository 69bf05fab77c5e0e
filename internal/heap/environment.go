// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import "fmt"

// ErrUndefinedGlobal is returned by Environment.Get when the binding does
// not exist (spec.md §4.4 "Global lookup").
var ErrUndefinedGlobal = fmt.Errorf("heap: undefined global")

// NewEnvironment allocates an environment with the given parent (nil for
// the top-level/global environment).
func NewEnvironment(parent *Environment) *Environment {
	return &Environment{
		Header: Header{Kind: KindEnvironment},
		Parent: parent,
		vars:   make(map[string]Value),
		fns:    make(map[string]*Function),
	}
}

// Define inserts a new variable binding, overwriting any existing one in
// this environment (not the parent chain).
func (e *Environment) Define(name string, v Value) {
	e.vars[name] = v
}

// Set updates an existing binding, searching this environment and then its
// parent chain. It errors if no such binding exists anywhere in the chain,
// matching "set updates an existing binding or errors".
func (e *Environment) Set(name string, v Value) error {
	for env := e; env != nil; env = env.Parent {
		if _, ok := env.vars[name]; ok {
			env.vars[name] = v
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUndefinedGlobal, name)
}

// Get looks up a variable by walking the parent chain, erroring if the
// binding is absent anywhere in the chain.
func (e *Environment) Get(name string) (Value, error) {
	for env := e; env != nil; env = env.Parent {
		if v, ok := env.vars[name]; ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUndefinedGlobal, name)
}

// DefineFunction registers a function binding in this environment.
func (e *Environment) DefineFunction(name string, fn *Function) {
	e.fns[name] = fn
}

// GetFunction looks up a function by walking the parent chain.
func (e *Environment) GetFunction(name string) (*Function, error) {
	for env := e; env != nil; env = env.Parent {
		if fn, ok := env.fns[name]; ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUndefinedGlobal, name)
}

// Bindings returns this environment's own live variable map (not a copy),
// used by the collector to enumerate roots.
func (e *Environment) Bindings() map[string]Value {
	return e.vars
}

// FunctionBindings returns this environment's own live function-binding map
// (not a copy), used the same way as Bindings.
func (e *Environment) FunctionBindings() map[string]*Function {
	return e.fns
}
