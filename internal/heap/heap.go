// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"fmt"
	"sync"

	"github.com/holiman/bloomfilter/v2"

	"github.com/probelang/corevm/internal/value"
)

// ErrAllocationFailed is returned when the mutator cannot obtain memory even
// after a full major collection (spec.md §7 "Resource exhaustion").
var ErrAllocationFailed = fmt.Errorf("heap: allocation failed after full gc")

// Stats are surfaced for tests and adaptive pacing only, never for
// correctness (spec.md §4.2 "Statistics").
type Stats struct {
	MinorCollections int
	MajorCollections int
	TotalPause       int64 // nanoseconds
	LastPause        int64 // nanoseconds
	PeakRSS          uint64
	BytesFreed       uint64
}

// Phase is the collector's current activity.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMarking
	PhaseSweeping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMarking:
		return "marking"
	case PhaseSweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

// nurseryThresholdDefault and majorWatermarkDefault match spec.md's
// "configurable threshold" language with reasonable starting points.
const (
	nurseryThresholdDefault = 2 * 1024 * 1024 // bytes
	majorWatermarkDefault   = 8 * 1024 * 1024 // bytes
)

// RootProvider is implemented by the VM core: it must enumerate every GC
// root per spec.md §4.2 ("Roots") on demand. The heap package does not
// depend on vmcore to avoid an import cycle; vmcore registers itself here
// instead.
type RootProvider interface {
	// GCRoots appends every currently-reachable object header to roots and
	// returns the extended slice: the operand stack up to the current top,
	// every live call frame's environment, the global environment and
	// module registry, the currently executing function, and pending task
	// queue entries.
	GCRoots(roots []*Header) []*Header
}

// Heap owns the allocator's object list and all live objects' generation
// bookkeeping. A single Heap instance backs exactly one VM, matching
// spec.md §5 ("Shared mutable state ... are per-VM").
type Heap struct {
	mu sync.Mutex // guards young/old lists and phase during incremental work

	young     *Header
	old       *Header
	youngSize uint64
	oldSize   uint64

	nurseryThreshold uint64
	majorWatermark   uint64

	phase Phase
	gray  []*Header

	// remembered is the write barrier's old→young remembered set. The
	// bloom filter gives a fast, usually-exact membership pre-check;
	// exact holds the same entries to eliminate false positives during a
	// minor collection's root scan (spec.md §4.2 "Write barrier").
	remembered      *bloomfilter.Filter
	rememberedExact map[*Header]struct{}

	Intern *InternTable
	roots  RootProvider

	Stats Stats
}

// New creates an empty heap. nurseryThreshold/majorWatermark of 0 select
// the package defaults.
func New(nurseryThreshold, majorWatermark uint64) *Heap {
	if nurseryThreshold == 0 {
		nurseryThreshold = nurseryThresholdDefault
	}
	if majorWatermark == 0 {
		majorWatermark = majorWatermarkDefault
	}
	filter, err := bloomfilter.New(1<<20, 6)
	if err != nil {
		// bloomfilter.New only errors on invalid (m, k); the constants
		// above are always valid, so this path is unreachable in practice.
		panic(err)
	}
	return &Heap{
		nurseryThreshold: nurseryThreshold,
		majorWatermark:   majorWatermark,
		remembered:       filter,
		rememberedExact:  make(map[*Header]struct{}),
		Intern:           NewInternTable(),
	}
}

// SetRootProvider registers the VM core's root enumerator. Must be called
// before the first allocation that can trigger a collection.
func (h *Heap) SetRootProvider(rp RootProvider) {
	h.roots = rp
}

func (h *Heap) link(o *Header) {
	o.next = h.young
	h.young = o
	o.Gen = 0
}

// ---- Allocation ---------------------------------------------------------

// NewString interns bytes, allocating a new String object only if these
// bytes have not been seen before.
func (h *Heap) NewString(bytes []byte) *String {
	return h.Intern.Intern(bytes, func(b []byte, hash uint64) *String {
		cp := make([]byte, len(b))
		copy(cp, b)
		s := &String{Header: Header{Kind: KindString}, Bytes: cp, Hash: hash}
		h.mu.Lock()
		h.link(&s.Header)
		h.youngSize += uint64(len(cp)) + 32
		h.mu.Unlock()
		return s
	})
}

// track links a freshly-allocated non-string object onto the nursery list
// and accounts its approximate size toward the minor-GC threshold.
func (h *Heap) track(hdr *Header, approxSize uint64) {
	h.mu.Lock()
	h.link(hdr)
	h.youngSize += approxSize
	h.mu.Unlock()
}

// NewArray allocates and tracks a new Array.
func (h *Heap) NewArray(elems []value.Value) *Array {
	a := NewArray(elems)
	h.track(&a.Header, uint64(len(elems))*8+24)
	return a
}

// NewMap allocates and tracks a new Map.
func (h *Heap) NewMap() *Map {
	m := NewMap()
	h.track(&m.Header, mapInitialBuckets*8+24)
	return m
}

// NewStructDef allocates and tracks a new struct definition.
func (h *Heap) NewStructDef(name string, fields []string) *StructDef {
	d := NewStructDef(name, fields)
	h.track(&d.Header, uint64(len(fields))*16+32)
	return d
}

// NewStructInstance allocates and tracks a new struct instance.
func (h *Heap) NewStructInstance(def *StructDef) *StructInstance {
	s := def.NewInstance()
	h.track(&s.Header, uint64(len(def.Fields))*8+16)
	return s
}

// NewEnvironment allocates and tracks a new environment.
func (h *Heap) NewEnvironment(parent *Environment) *Environment {
	e := NewEnvironment(parent)
	h.track(&e.Header, 64)
	return e
}

// NewModule allocates and tracks a new module.
func (h *Heap) NewModule(name string, source []byte, top *Environment) *Module {
	m := &Module{Header: Header{Kind: KindModule}, Name: name, Source: source, Top: top}
	h.track(&m.Header, uint64(len(source))+64)
	return m
}

// NewFunction allocates and tracks a new function (bytecode or native).
func (h *Heap) NewFunction(fn Function) *Function {
	f := fn
	f.Header = Header{Kind: KindFunction}
	h.track(&f.Header, 64)
	return &f
}

// NewFuture allocates and tracks a new pending future.
func (h *Heap) NewFuture() *Future {
	f := NewFuture()
	h.track(&f.Header, 48)
	return f
}

// NewResource allocates and tracks a new resource.
func (h *Heap) NewResource(payload interface{}, cleanup func(interface{})) *Resource {
	r := &Resource{Header: Header{Kind: KindResource}, Payload: payload, Cleanup: cleanup}
	h.track(&r.Header, 32)
	return r
}

// NewUpvalue allocates and tracks a new open upvalue.
func (h *Heap) NewUpvalue(slot *value.Value) *Upvalue {
	u := NewOpenUpvalue(slot)
	h.track(&u.Header, 24)
	return u
}

// ShouldMinorGC reports whether nursery occupancy has crossed the
// configured threshold.
func (h *Heap) ShouldMinorGC() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.youngSize >= h.nurseryThreshold
}

// ShouldMajorGC reports whether total heap size has crossed the running
// watermark.
func (h *Heap) ShouldMajorGC() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.youngSize+h.oldSize >= h.majorWatermark
}

// Phase returns the collector's current phase.
func (h *Heap) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Used returns the combined young+old byte accounting, for diagnostics.
func (h *Heap) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.youngSize + h.oldSize
}
