// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"runtime"

	"go.uber.org/atomic"
)

// GcDeref is an opt-in marker a payload type implements to declare that it
// is safe to read without taking a warrant: the value is interior-immutable
// once constructed, so there is nothing for a concurrent scan to race
// against. This mirrors the original's unsafe marker-trait impl — Go has
// no way to enforce the immutability promise at compile time, so
// implementing this interface is the caller's assertion, not something
// the collector can verify. Its one method is unexported, so only types
// declared in package gc can implement it.
type GcDeref interface {
	gcDerefSafe()
}

// DerefGc is the deref-only counterpart to Gc[T]: since T promises
// interior immutability via GcDeref, DerefGc can hand back the payload
// directly, with no guard and no warrant, at the cost of that promise
// being unenforced.
type DerefGc[T interface {
	Scan
	GcDeref
}] struct {
	alloc   *allocation
	invalid atomic.Bool
}

func newDerefGcHandle[T interface {
	Scan
	GcDeref
}](a *allocation) *DerefGc[T] {
	h := &DerefGc[T]{alloc: a}
	runtime.SetFinalizer(h, finalizeDerefGcHandle[T])
	return h
}

func finalizeDerefGcHandle[T interface {
	Scan
	GcDeref
}](h *DerefGc[T]) {
	h.Drop()
}

func (g *DerefGc[T]) isNil() bool {
	return g == nil || g.alloc == nil
}

func (g *DerefGc[T]) internal() internalRef {
	return internalRef{alloc: g.alloc, invalid: &g.invalid}
}

// GCScan implements Scan for DerefGc[T], same role as Gc[T].GCScan.
func (g *DerefGc[T]) GCScan(s *Scanner) {
	s.Visit(g)
}

// Clone returns a new handle to the same allocation, incrementing its
// reference count.
func (g *DerefGc[T]) Clone() *DerefGc[T] {
	g.alloc.refs.incCount()
	return newDerefGcHandle[T](g.alloc)
}

// Drop releases this handle's share of the allocation's reference count.
func (g *DerefGc[T]) Drop() {
	if !g.invalid.CompareAndSwap(false, true) {
		return
	}
	g.alloc.refs.decCount()
	runtime.SetFinalizer(g, nil)
}

// Value returns the payload directly, with no warrant taken. Safe only
// because T promises never to be mutated after construction.
func (g *DerefGc[T]) Value() T {
	v, ok := g.alloc.scan.(T)
	if !ok {
		panic("concurrentgc: handle's allocation does not hold a value of the expected type")
	}
	return v
}
