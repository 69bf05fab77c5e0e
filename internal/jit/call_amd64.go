// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

//go:build amd64

package jit

// callCompiled invokes a JIT-compiled entry point (a raw amd64 code
// address) with a pointer to its flat int64 register file, returning
// whatever the compiled code left in RAX. Implemented in call_amd64.s: a
// small hand-written trampoline is required here because the compiled
// code follows the System V AMD64 calling convention (argument in RDI)
// rather than Go's own ABI.
func callCompiled(entry uintptr, regs *[256]int64) int64
