// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"runtime"

	"go.uber.org/atomic"
)

// internalRef is the edge a handle contributes to the collector's graph:
// the allocation it targets, plus that handle's own invalidated flag. It
// is what Scanner.Visit ultimately records, and what propagate walks
// during a collection cycle.
type internalRef struct {
	alloc   *allocation
	invalid *atomic.Bool
}

func (r internalRef) invalidate() {
	if r.invalid != nil {
		r.invalid.Store(true)
	}
}

func (r internalRef) isValid() bool {
	return r.alloc != nil && !r.invalid.Load()
}

// Gc is a handle to data tracked by the collector. It is always used as
// *Gc[T] — never copy the pointee by value, the same way you would never
// copy a sync.Mutex after first use. Cloning a handle onto the same
// allocation requires calling Clone, which increments the allocation's
// reference count; simply assigning one *Gc[T] to another shares the same
// handle and is safe, but does not itself increment anything, since it is
// still exactly one handle.
//
// A Gc[T] registers a runtime finalizer as a fail-safe: if the caller
// never calls Drop, the handle's share of the reference count is still
// released once the handle itself becomes unreachable to the host Go GC.
// Relying on this is not recommended — finalizer timing is not
// guaranteed — call Drop explicitly when you are done with a handle.
type Gc[T Scan] struct {
	alloc   *allocation
	invalid atomic.Bool
}

func newGcHandle[T Scan](a *allocation) *Gc[T] {
	h := &Gc[T]{alloc: a}
	runtime.SetFinalizer(h, finalizeGcHandle[T])
	return h
}

func finalizeGcHandle[T Scan](h *Gc[T]) {
	h.Drop()
}

// isNil reports whether this handle has no backing allocation at all (the
// zero Gc[T]), as opposed to one whose target has already been collected.
func (g *Gc[T]) isNil() bool {
	return g == nil || g.alloc == nil
}

// internal returns the edge Scanner.Visit records for this handle.
func (g *Gc[T]) internal() internalRef {
	return internalRef{alloc: g.alloc, invalid: &g.invalid}
}

// GCScan implements Scan for Gc[T] itself, so that a Gc[T] nested inside
// another tracked value's fields is automatically discovered — this is
// the fundamental mechanism by which internal handles reach the Scanner
// at all.
func (g *Gc[T]) GCScan(s *Scanner) {
	s.Visit(g)
}

// Clone returns a new handle to the same allocation, incrementing its
// reference count. The original handle remains valid and must still be
// dropped independently.
func (g *Gc[T]) Clone() *Gc[T] {
	g.alloc.refs.incCount()
	return newGcHandle[T](g.alloc)
}

// Drop releases this handle's share of the allocation's reference count.
// It is safe to call more than once; only the first call has any effect.
func (g *Gc[T]) Drop() {
	if !g.invalid.CompareAndSwap(false, true) {
		return
	}
	g.alloc.refs.decCount()
	runtime.SetFinalizer(g, nil)
}

// consume invalidates g without releasing its reference-count share: the
// caller is handing that share directly to a new owner (an AtomicGc slot
// absorbing it), which takes over responsibility for eventually calling
// decCount. Unlike Drop, this never decrements. g must not be used again
// after this call.
func (g *Gc[T]) consume() {
	g.invalid.Store(true)
	runtime.SetFinalizer(g, nil)
}

// Get blocks until it can take a shared warrant on the allocation, then
// returns a guard through which the payload can be read. It waits only
// while a collection cycle holds this allocation frozen, which lasts from
// that cycle's freeze step until the cycle ends. Release the guard as soon
// as you're done with it.
func (g *Gc[T]) Get() *GcGuard[T] {
	w := g.alloc.lock.takeWarrant()
	return &GcGuard[T]{g: g, w: w}
}

func (g *Gc[T]) payload() T {
	v, ok := g.alloc.scan.(T)
	if !ok {
		panic("concurrentgc: handle's allocation does not hold a value of the expected type")
	}
	return v
}

// SameAllocation reports whether g and other are handles to the exact
// same tracked allocation.
func (g *Gc[T]) SameAllocation(other *Gc[T]) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.alloc == other.alloc
}

// Downcast attempts to reinterpret g's underlying allocation as holding an
// S instead of a T, returning a new handle to the same allocation on
// success. On failure it returns (nil, false) and leaves g untouched.
func Downcast[S Scan, T Scan](g *Gc[T]) (*Gc[S], bool) {
	guard := g.Get()
	defer guard.Release()

	if _, ok := any(guard.Value()).(S); !ok {
		return nil, false
	}

	g.alloc.refs.incCount()
	return newGcHandle[S](g.alloc), true
}

// GcGuard gives access to the payload of a Gc handle while holding a
// shared warrant, so the collector can't freeze this allocation's graph
// out from under the read.
type GcGuard[T Scan] struct {
	g *Gc[T]
	w *warrant
}

// Value returns the guarded payload.
func (guard *GcGuard[T]) Value() T {
	return guard.g.payload()
}

// Release gives up the warrant. A guard that is never released blocks the
// collector from ever freezing this allocation, so always release
// promptly — typically with defer immediately after Get.
func (guard *GcGuard[T]) Release() {
	guard.w.release()
}
