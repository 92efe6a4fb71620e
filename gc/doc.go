// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// # Usage
//
// Package gc is a concurrent, tracing garbage collector for Go values that
// form cyclic or otherwise hard-to-scope graphs — the kind of structure a
// plain reference-counted wrapper leaks and the host Go GC can't help with
// because it only sees the handles, never the graph they describe.
//
// A Collector tracks allocations created through one of the Track*
// functions:
//
//	c := gc.NewCollector()
//	h := gc.TrackWithDrop[*myNode](c, &myNode{})
//
// Track returns a *Gc[T], a handle to the tracked value. Cloning a handle
// (Clone) increments a reference count; dropping one (Drop) decrements it.
// A type that itself holds handles to other tracked values must implement
// Scan so the collector can discover those edges:
//
//	func (n *myNode) GCScan(s *gc.Scanner) {
//		s.Visit(n.next)
//	}
//
// Collect runs a full mark-sweep pass: allocations reachable only through
// a cycle, with no outstanding external handle, are reclaimed along with
// everything else unreachable. A Collector also runs its own background
// trigger, calling Collect automatically once tracked allocations grow (or
// live handles shrink) past a configurable threshold; TrackedAllocationCount
// and LiveHandleCount report the current estimates that trigger reads.
//
// AtomicGc[T] is a lock-free, atomically-swappable slot holding a handle,
// for graphs that need to publish a new edge without a surrounding mutex.
// DerefGc[T] is a deref-only handle for payloads that promise interior
// immutability, letting callers read the payload with no warrant taken.
package gc
