// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import "go.uber.org/atomic"

// releaseAction records what extra work deallocate must do before the
// collector drops its own reference to an allocation's payload. Go's own
// GC reclaims the backing memory once that last reference is gone; these
// actions cover the semantics the host GC doesn't know about.
type releaseAction int

const (
	// releaseNone runs no extra action beyond invalidating handles —
	// the Rust original's "DoNothing", so named because there the
	// backing memory still had to be freed manually; here that step is
	// implicit, so all that's left to do really is nothing extra.
	releaseNone releaseAction = iota
	// releaseDrop calls the payload's GCDrop method.
	releaseDrop
	// releaseFinalizer calls the payload's Finalize method.
	releaseFinalizer
	// releaseBoxed marks an allocation built directly from an
	// already-boxed Scan value (allocateFromBox) rather than from a
	// value copied onto the heap by allocate*. It behaves exactly like
	// releaseNone at deallocation time; the distinction is kept only in
	// the allocation's release field.
	releaseBoxed
)

// allocation is the unit the collector tracks: a type-erased payload plus
// enough bookkeeping (reference count, lockout, deallocated flag, and the
// mark bit used during a collection cycle) to run the mark-sweep
// algorithm without knowing T.
type allocation struct {
	scan     Scan
	finalize Finalize
	dropper  GCDrop
	release  releaseAction

	refs *refCount
	lock *lockout

	deallocated atomic.Bool
	marked      atomic.Bool

	// slot is this allocation's stable location in the chunked list,
	// used to return it to the free list on reuse.
	slot chunkSlot
}

func newAllocation(v Scan, release releaseAction) *allocation {
	a := &allocation{
		scan:    v,
		release: release,
		refs:    newRefCount(1),
		lock:    newLockout(),
	}
	if release == releaseFinalizer {
		if f, ok := v.(Finalize); ok {
			a.finalize = f
		}
	}
	if release == releaseDrop {
		if d, ok := v.(GCDrop); ok {
			a.dropper = d
		}
	}
	return a
}

// allocateWithDrop tracks v and arranges for v's GCDrop method (if it has
// one) to run at deallocation time.
func allocateWithDrop(v Scan) *allocation {
	return newAllocation(v, releaseDrop)
}

// allocateNoDrop tracks v with no extra release action.
func allocateNoDrop(v Scan) *allocation {
	return newAllocation(v, releaseNone)
}

// allocateWithFinalization tracks v and arranges for v's Finalize method
// to run at deallocation time, after v's own handles have already been
// invalidated.
func allocateWithFinalization(v Scan) *allocation {
	return newAllocation(v, releaseFinalizer)
}

// allocateFromBox tracks a Scan value that was already heap-allocated by
// the caller (e.g. behind an existing pointer), rather than one copied in
// by value.
func allocateFromBox(v Scan) *allocation {
	return newAllocation(v, releaseBoxed)
}

// scanEdges walks the allocation's internal Gc/DerefGc/AtomicGc edges,
// invoking visit once per live edge found.
func (a *allocation) scanEdges(visit func(internalRef)) {
	if a.scan == nil {
		return
	}
	scanner := newScanner(visit)
	a.scan.GCScan(scanner)
}

// deallocate invalidates every handle this allocation's payload owns, then
// runs the release action, then drops the collector's own reference to
// the payload so the host Go GC can reclaim it. The caller must guarantee
// no other goroutine still holds a pointer into this allocation — that
// guarantee is the entire point of running this from the mark-sweep
// algorithm's sweep phase, never from a mutator thread.
func (a *allocation) deallocate() {
	a.deallocated.Store(true)

	// Invalidate and release every edge first — even for RunDrop/
	// RunFinalizer, in case a misbehaving GCDrop/Finalize implementation
	// doesn't correctly release its own Gc fields, we don't want to
	// leave a handle pointing at a half-torn-down value. Go has no
	// field-drop glue the way Rust does, so this walk is what stands in
	// for the compiler-generated recursive drop of every embedded
	// Gc/DerefGc/AtomicGc field: each edge held exactly one reference-
	// count share of its target, released here exactly once.
	a.scanEdges(func(ref internalRef) {
		// An edge whose handle was already dropped (or absorbed into an
		// AtomicGc) has already given up its share; only the walk that
		// flips the flag releases it.
		if ref.invalid != nil && !ref.invalid.CompareAndSwap(false, true) {
			return
		}
		ref.alloc.refs.decCount()
	})

	switch a.release {
	case releaseDrop:
		if a.dropper != nil {
			a.dropper.GCDrop()
		}
	case releaseFinalizer:
		if a.finalize != nil {
			a.finalize.Finalize()
		}
	case releaseNone, releaseBoxed:
		// Nothing extra.
	}

	a.scan = nil
	a.finalize = nil
	a.dropper = nil
}

// isDeallocated reports whether deallocate has already run for this
// allocation.
func (a *allocation) isDeallocated() bool {
	return a.deallocated.Load()
}
