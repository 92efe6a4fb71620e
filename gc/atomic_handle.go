// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"runtime"
	atomicstd "sync/atomic"

	"go.uber.org/atomic"
)

// AtomicGc is an atomically-swappable slot holding a managed pointer,
// useful for lock-free algorithms that need to publish a new Gc[T] value
// without a surrounding mutex. Every operation briefly blocks behind the
// atomic-protection spinlock: in the presence of an active collection
// cycle's graph freeze, all operations wait for that freeze to finish.
//
// Ownership: New, Store, Swap and a successful CompareExchange/CompareAndSwap
// all absorb the handle passed in — the slot takes over that handle's
// existing reference-count share directly, with no extra increment, and the
// handle itself is consumed: it is marked invalid and its finalizer is
// cleared, so neither an explicit Drop nor the Go runtime's finalizer can
// release that share a second time once the slot owns it. A failed
// CompareAndSwap/CompareExchange leaves the "new" handle passed in
// completely untouched — it was never stored, so the caller keeps full,
// intact ownership of it and remains responsible for dropping it.
type AtomicGc[T Scan] struct {
	slot    atomicstd.Pointer[allocation]
	lock    *atomicProtectingSpinlock
	invalid atomic.Bool
}

func newAtomicGc[T Scan](lock *atomicProtectingSpinlock, v *Gc[T]) *AtomicGc[T] {
	ag := &AtomicGc[T]{lock: lock}
	lock.withInclusive(func() {
		ag.slot.Store(v.alloc)
	})
	v.consume()
	runtime.SetFinalizer(ag, finalizeAtomicGc[T])
	return ag
}

func finalizeAtomicGc[T Scan](ag *AtomicGc[T]) {
	ag.Drop()
}

// GCScan implements Scan for AtomicGc[T], so a struct with an AtomicGc
// field is automatically discovered during a collection cycle's mark
// pass. The read is taken under the same spinlock, inclusive, that every
// other AtomicGc operation uses.
func (ag *AtomicGc[T]) GCScan(s *Scanner) {
	var target *allocation
	ag.lock.withInclusive(func() {
		target = ag.slot.Load()
	})
	if target == nil {
		return
	}
	s.VisitAtomic(internalRef{alloc: target, invalid: &ag.invalid}, true)
}

// Load returns a new, independently-owned handle to whatever allocation
// is currently in the slot.
func (ag *AtomicGc[T]) Load() *Gc[T] {
	var target *allocation
	ag.lock.withInclusive(func() {
		target = ag.slot.Load()
	})
	target.refs.incCount()
	return newGcHandle[T](target)
}

// Store absorbs v into the slot, releasing the slot's previous content's
// reference-count share. v must not be used after this call.
func (ag *AtomicGc[T]) Store(v *Gc[T]) {
	var old *allocation
	ag.lock.withInclusive(func() {
		old = ag.slot.Swap(v.alloc)
	})
	v.consume()
	if old != nil {
		old.refs.decCount()
	}
}

// Swap absorbs v into the slot and returns the slot's previous content as
// a new, independently-owned handle. v must not be used after this call.
func (ag *AtomicGc[T]) Swap(v *Gc[T]) *Gc[T] {
	var old *allocation
	ag.lock.withInclusive(func() {
		old = ag.slot.Swap(v.alloc)
	})
	v.consume()
	return newGcHandle[T](old)
}

// CompareAndSwap absorbs new into the slot if and only if the slot
// currently holds old's allocation, reporting whether it did. On success,
// new must not be used again; on failure, new is untouched and remains
// the caller's to use or drop.
func (ag *AtomicGc[T]) CompareAndSwap(old, new *Gc[T]) bool {
	var swapped bool
	var evicted *allocation
	ag.lock.withInclusive(func() {
		swapped = ag.slot.CompareAndSwap(old.alloc, new.alloc)
		if swapped {
			evicted = old.alloc
		}
	})
	if swapped {
		new.consume()
		evicted.refs.decCount()
	}
	return swapped
}

// CompareExchange behaves like CompareAndSwap, but on success returns the
// evicted value as a new, independently-owned handle instead of releasing
// it directly.
func (ag *AtomicGc[T]) CompareExchange(old, new *Gc[T]) (*Gc[T], bool) {
	var swapped bool
	var evicted *allocation
	ag.lock.withInclusive(func() {
		swapped = ag.slot.CompareAndSwap(old.alloc, new.alloc)
		if swapped {
			evicted = old.alloc
		}
	})
	if !swapped {
		return nil, false
	}
	new.consume()
	return newGcHandle[T](evicted), true
}

// Drop releases the slot's current content's reference-count share. Like
// Gc[T], AtomicGc registers a finalizer fail-safe, but explicit Drop is
// still recommended. It is safe to call more than once; only the first
// call has any effect — the same guard also protects against a deallocated
// owner's teardown walk and this AtomicGc's own finalizer both releasing
// the slot's content.
func (ag *AtomicGc[T]) Drop() {
	if !ag.invalid.CompareAndSwap(false, true) {
		return
	}
	var target *allocation
	ag.lock.withInclusive(func() {
		target = ag.slot.Swap(nil)
	})
	if target != nil {
		target.refs.decCount()
	}
	runtime.SetFinalizer(ag, nil)
}
