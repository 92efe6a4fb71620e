// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

// Scan lets a tracked payload tell the collector which other managed
// handles it owns. Implementations must call Scanner.Visit once for every
// Gc/DerefGc handle and Scanner.VisitAtomic once for every AtomicGc slot
// reachable from the receiver, directly or through unmanaged Go values
// (slices, maps, structs) embedded in it.
//
// There is deliberately no derive/codegen mechanism here, and no attempt
// to cover every stdlib container generically — callers write GCScan by
// hand for their own types, the same way they'd implement any other
// small interface.
type Scan interface {
	GCScan(s *Scanner)
}

// Scanner is the visitor passed to GCScan.
type Scanner struct {
	visit func(internalRef)
}

func newScanner(visit func(internalRef)) *Scanner {
	return &Scanner{visit: visit}
}

// Visit records an owned Gc/DerefGc handle as an internal edge of the
// allocation currently being scanned.
func (s *Scanner) Visit(h handleLike) {
	if h == nil || h.isNil() {
		return
	}
	s.visit(h.internal())
}

// VisitAtomic records a transient, refcount-neutral edge into the
// allocation currently loaded in an AtomicGc slot. The slot's content must
// be read while holding the atomic-protection spinlock inclusively;
// AtomicGc[T].GCScan does that read under the lock and then calls this,
// so a GCScan for a type with an AtomicGc[T] field can simply call the
// field's GCScan.
func (s *Scanner) VisitAtomic(ref internalRef, ok bool) {
	if !ok {
		return
	}
	s.visit(ref)
}

// handleLike is implemented by Gc[T] and DerefGc[T]; it lets Scanner.Visit
// accept either without the Scanner itself being generic.
type handleLike interface {
	isNil() bool
	internal() internalRef
}

// ScanSlice is a representative stdlib-container Scan helper: it visits
// every element of a slice of handle-like values. This is not an
// exhaustive generic-container Scan library (that derivation mechanism is
// out of scope), just the few helpers a hand-written GCScan commonly
// needs.
func ScanSlice[H handleLike](s *Scanner, items []H) {
	for _, item := range items {
		s.Visit(item)
	}
}

// ScanMapValues visits every value of a map whose values are handle-like.
func ScanMapValues[K comparable, H handleLike](s *Scanner, m map[K]H) {
	for _, v := range m {
		s.Visit(v)
	}
}
