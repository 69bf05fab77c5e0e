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

import (
	"math"
	"unsafe"

	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"

	"github.com/probelang/corevm/internal/bytecode"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

// DefaultCacheEntries bounds how many compiled pages stay resident before
// the least-recently-used one is evicted and its executable pages
// unmapped (spec.md §4.5 "a bounded cache of compiled entry points").
const DefaultCacheEntries = 256

// Cache owns every chunk this VM has attempted to JIT-compile: a bounded
// LRU of live *ExecPage, evicted pages unmapped via the eviction callback,
// and a blacklist of chunks the template compiler has already given up on
// so the interpreter's trigger logic never retries them.
type Cache struct {
	pages     *lru.Cache
	blacklist mapset.Set
}

// NewCache creates a cache holding at most size compiled pages.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheEntries
	}
	pages, err := lru.NewWithEvict(size, func(_ interface{}, v interface{}) {
		if page, ok := v.(*ExecPage); ok {
			page.Unmap()
		}
	})
	if err != nil {
		// size is always > 0 here, the only way lru.NewWithEvict errors.
		panic(err)
	}
	return &Cache{pages: pages, blacklist: mapset.NewSet()}
}

// TryCompile attempts to JIT-compile chunk exactly once. On success it
// installs a bytecode.NativeEntry that drives the compiled page from the
// VM's current call frame; on failure (an unsupported opcode, or a
// memory-manager error) it blacklists chunk so the caller never retries.
// Returns whether chunk now has a usable native entry point.
func (c *Cache) TryCompile(chunk *bytecode.Chunk) bool {
	if chunk.Uncompilable() || c.blacklist.Contains(chunk) {
		return false
	}
	if _, ok := chunk.Compiled(); ok {
		return true
	}
	page, err := Compile(chunk)
	if err != nil {
		chunk.MarkUncompilable()
		c.blacklist.Add(chunk)
		return false
	}
	c.pages.Add(chunk, page)
	chunk.SetCompiled(c.nativeEntryFor(page))
	return true
}

// nativeEntryFor builds the closure installed as the chunk's compiled
// entry point. It is called with the owning VM, reads the active frame's
// register window directly off the operand stack (the same window
// interpreter.runFrame carved out for the bytecode path), and bails out
// (returning ok=false) when any register in the window holds something the
// integer-only fast path can't represent.
func (c *Cache) nativeEntryFor(page *ExecPage) bytecode.NativeEntry {
	return func(vmPtr unsafe.Pointer) (value.Value, bool) {
		vm := (*vmcore.VM)(vmPtr)
		f := vm.CurrentFrame()
		if f == nil {
			return value.Nil, false
		}
		regs := vm.Stack[f.StackBase : f.StackBase+vmcore.RegisterWindow]

		var buf [vmcore.RegisterWindow]int64
		for i, v := range regs {
			if !value.IsInt(v) {
				return value.Nil, false
			}
			buf[i] = int64(value.AsInt(v))
		}

		result := callCompiled(page.Entry(), &buf)
		if result < math.MinInt32 || result > math.MaxInt32 {
			// Overflow past the fast path's 32-bit domain: the template
			// compiler never emits the float-widening rule from spec.md
			// §4.1, so this call must be re-run through the bytecode
			// loop instead of returning a truncated result.
			return value.Nil, false
		}
		return value.Int(int32(result)), true
	}
}
