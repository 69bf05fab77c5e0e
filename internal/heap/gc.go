// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"time"
	"unsafe"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/probelang/corevm/internal/value"
)

// markBudgetPerUnit bounds how many objects one marking batch scans.
// MajorGC runs its batches back to back within a single call, under the
// heap lock; control does not return to the mutator between batches.
const markBudgetPerUnit = 256

// majorGroup collapses overlapping "run a full major cycle" requests into a
// single in-flight cycle.
var majorGroup singleflight.Group

// paceLimiter throttles how often the major-GC watermark is recomputed
// under growth pressure, per spec.md §4.2 "Statistics ... adaptive
// pacing". A burst of one keeps pacing decisions cheap without letting a
// tight allocation loop recompute the watermark every single cycle.
var paceLimiter = rate.NewLimiter(rate.Every(50*time.Millisecond), 1)

func headerFromValue(v value.Value) (*Header, bool) {
	if !value.IsObject(v) {
		return nil, false
	}
	return (*Header)(unsafe.Pointer(value.AsObject(v))), true
}

// traceChildren invokes visit for every outgoing object reference held by
// hdr, per the variant table in spec.md §3.
func traceChildren(hdr *Header, visit func(*Header)) {
	visitValue := func(v value.Value) {
		if child, ok := headerFromValue(v); ok {
			visit(child)
		}
	}
	switch hdr.Kind {
	case KindString:
		// no outgoing references
	case KindArray:
		a := (*Array)(unsafe.Pointer(hdr))
		for _, v := range a.Elems {
			visitValue(v)
		}
	case KindMap:
		m := (*Map)(unsafe.Pointer(hdr))
		for _, bucket := range m.buckets {
			for e := bucket; e != nil; e = e.next {
				if e.strKey != nil {
					visit(&e.strKey.Header)
				}
				visitValue(e.value)
			}
		}
	case KindStructDef:
		// field names only; no Value references
	case KindStructInstance:
		s := (*StructInstance)(unsafe.Pointer(hdr))
		if s.Def != nil {
			visit(&s.Def.Header)
		}
		for _, v := range s.Fields {
			visitValue(v)
		}
	case KindEnvironment:
		e := (*Environment)(unsafe.Pointer(hdr))
		if e.Parent != nil {
			visit(&e.Parent.Header)
		}
		for _, v := range e.vars {
			visitValue(v)
		}
		for _, fn := range e.fns {
			visit(&fn.Header)
		}
	case KindModule:
		m := (*Module)(unsafe.Pointer(hdr))
		if m.Top != nil {
			visit(&m.Top.Header)
		}
	case KindFunction:
		f := (*Function)(unsafe.Pointer(hdr))
		if f.Closure != nil {
			visit(&f.Closure.Header)
		}
		if f.DefiningModule != nil {
			visit(&f.DefiningModule.Header)
		}
		for _, uv := range f.Upvalues {
			if uv != nil {
				visit(&uv.Header)
			}
		}
	case KindFuture:
		f := (*Future)(unsafe.Pointer(hdr))
		if f.Done {
			visitValue(f.Resolved)
		}
	case KindResource:
		// opaque host payload; not traced
	case KindUpvalue:
		u := (*Upvalue)(unsafe.Pointer(hdr))
		visitValue(u.Get())
	}
}

// mark sets hdr's mark bit and pushes it onto the gray stack if it was
// previously unmarked. Returns true if this call actually marked it.
func (h *Heap) mark(hdr *Header) bool {
	if hdr == nil || hdr.Marked {
		return false
	}
	hdr.Marked = true
	h.gray = append(h.gray, hdr)
	return true
}

// WriteBarrier is the single centralized helper every reference-field store
// must go through (spec.md §4.2 "Write barrier"): array slots, map entries,
// struct fields, environment bindings, and upvalue cells all call this
// after performing the store. container is the object being written into
// (nil for a root such as the operand stack or a global binding); v is the
// value being stored.
func (h *Heap) WriteBarrier(container *Header, v value.Value) {
	child, ok := headerFromValue(v)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.phase == PhaseMarking && !child.Marked {
		h.mark(child)
	}
	if container != nil && container.Gen > 0 && child.Gen == 0 {
		h.remember(child)
	}
}

func (h *Heap) remember(child *Header) {
	hv := bloomHash(child)
	if !h.remembered.Contains(hv) {
		h.remembered.Add(hv)
	}
	h.rememberedExact[child] = struct{}{}
}

func bloomHash(hdr *Header) uint64 {
	return uint64(uintptr(unsafe.Pointer(hdr)))
}

// ---- Collection cycles ---------------------------------------------------

// MinorGC runs a nursery collection: trace roots plus the remembered set,
// promote survivors to the old generation, then discard the rest of the
// nursery list.
func (h *Heap) MinorGC() {
	start := time.Now().UnixNano()
	h.mu.Lock()
	h.phase = PhaseMarking
	h.gray = h.gray[:0]

	if h.roots != nil {
		roots := h.roots.GCRoots(nil)
		for _, r := range roots {
			h.mark(r)
		}
	}
	for child := range h.rememberedExact {
		h.mark(child)
	}

	for len(h.gray) > 0 {
		obj := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		traceChildren(obj, func(c *Header) { h.mark(c) })
	}

	// Promote every marked young object; drop unmarked young objects.
	var keep *Header
	var promoted uint64
	for o := h.young; o != nil; {
		next := o.next
		if o.Marked {
			o.Gen = 1
			o.next = keep
			keep = o
			o.Marked = false // reset for next cycle
			promoted += 1
		} else {
			h.releaseIfResource(o)
		}
		o = next
	}
	// Splice survivors onto the old generation.
	tail := keep
	for tail != nil && tail.next != nil {
		tail = tail.next
	}
	if tail != nil {
		tail.next = h.old
		h.old = keep
	}

	h.young = nil
	h.oldSize += h.youngSize
	h.youngSize = 0
	h.rememberedExact = make(map[*Header]struct{})
	h.phase = PhaseIdle
	h.Stats.MinorCollections++
	h.recordPause(start)
	h.mu.Unlock()
}

// clearMarks resets the mark bit across both generations. A minor cycle can
// leave old-generation objects marked (a root or a promoted survivor's
// traced children may reach into the old generation, and MinorGC only
// resets marks on the young objects it sweeps), so a major cycle must not
// trust any mark bit it didn't set itself this cycle — otherwise it treats
// a stale-marked old object as already traced and never visits, and so
// never marks, children reachable only through it.
func (h *Heap) clearMarks() {
	for o := h.young; o != nil; o = o.next {
		o.Marked = false
	}
	for o := h.old; o != nil; o = o.next {
		o.Marked = false
	}
}

// MajorGC runs a full heap collection: trace everything reachable from
// roots, sweep every unmarked object from both generations.
func (h *Heap) MajorGC() {
	start := time.Now().UnixNano()
	h.mu.Lock()
	h.phase = PhaseMarking
	h.gray = h.gray[:0]
	h.clearMarks()

	if h.roots != nil {
		roots := h.roots.GCRoots(nil)
		for _, r := range roots {
			h.mark(r)
		}
	}
	for len(h.gray) > 0 {
		budget := markBudgetPerUnit
		for budget > 0 && len(h.gray) > 0 {
			obj := h.gray[len(h.gray)-1]
			h.gray = h.gray[:len(h.gray)-1]
			traceChildren(obj, func(c *Header) { h.mark(c) })
			budget--
		}
	}

	h.phase = PhaseSweeping
	freed := h.sweepList(&h.young, &h.youngSize)
	freed += h.sweepList(&h.old, &h.oldSize)
	h.Stats.BytesFreed += freed
	h.rememberedExact = make(map[*Header]struct{})

	if paceLimiter.Allow() && h.youngSize+h.oldSize > h.majorWatermark/2 {
		h.majorWatermark *= 2
	}

	h.phase = PhaseIdle
	h.Stats.MajorCollections++
	h.recordPause(start)
	h.mu.Unlock()
}

// sweepList walks one generation's object list freeing unmarked objects
// and clearing mark bits on survivors, returning an approximate byte count
// freed.
func (h *Heap) sweepList(list **Header, size *uint64) uint64 {
	var freed uint64
	var keep *Header
	for o := *list; o != nil; {
		next := o.next
		if o.Marked {
			o.Marked = false
			o.next = keep
			keep = o
		} else {
			h.releaseIfResource(o)
			freed += 32
			if *size > 32 {
				*size -= 32
			} else {
				*size = 0
			}
		}
		o = next
	}
	*list = keep
	return freed
}

func (h *Heap) releaseIfResource(o *Header) {
	if o.Kind == KindResource {
		(*Resource)(unsafe.Pointer(o)).Release()
	}
	if o.Kind == KindString {
		s := (*String)(unsafe.Pointer(o))
		h.Intern.Forget(s.Bytes)
	}
}

func (h *Heap) recordPause(start int64) {
	elapsed := time.Now().UnixNano() - start
	h.Stats.TotalPause += elapsed
	h.Stats.LastPause = elapsed
	h.sampleRSS()
}

// sampleRSS refreshes Stats.PeakRSS from the host process's resident set
// size, so a pause-heavy collection run leaves behind a record of how much
// real memory the mutator actually held (spec.md §4.2 "Statistics"). A
// lookup failure (unsupported platform, process already gone) just skips
// the sample rather than disturbing collection.
func (h *Heap) sampleRSS() {
	proc, err := rssProcess()
	if err != nil {
		return
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return
	}
	if mem.RSS > h.Stats.PeakRSS {
		h.Stats.PeakRSS = mem.RSS
	}
}

// RunMajorCollapsed triggers a major cycle through the singleflight group,
// so that overlapping requests perform only one real cycle (spec.md §4.2
// "The collector must not be reentered while active"). VM.Safepoint is its
// caller.
func (h *Heap) RunMajorCollapsed() {
	majorGroup.Do("major", func() (interface{}, error) {
		h.MajorGC()
		return nil, nil
	})
}
