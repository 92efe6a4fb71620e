// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import "go.uber.org/atomic"

// rootOverrideValue is stored into foundInternally to force isRooted to
// report true unconditionally until an allocation has first been through
// prepareForCollection. It is chosen far outside the range any real
// found-internally tally could reach.
const rootOverrideValue = -(int64(1) << 60)

// refCount tracks, for a single allocation, how many Gc handles reference
// it and how many internal Scan edges other tracked allocations hold into
// it, discovered fresh on every collection cycle.
//
// positive is always >= the real live handle count. negative is always
// <= 0, and accumulates handle-drop notifications between collection
// cycles; prepareForCollection folds it into positive and resets it,
// batching the correction rather than paying for it on every drop. This
// indirection exists so that incCount and decCount never contend with one
// another or with prepareForCollection's own accounting: handle increment
// only ever touches positive, handle decrement only ever touches negative.
type refCount struct {
	positive        atomic.Int64
	negative        atomic.Int64
	foundInternally atomic.Int64
}

func newRefCount(startingCount int64) *refCount {
	rc := &refCount{}
	rc.positive.Store(startingCount)
	rc.overrideMarkAsRooted()
	return rc
}

// incCount records a new Gc handle being cloned onto this allocation.
//
// Note (Open Question 2): this path does not take the atomic-protection
// spinlock. A clone racing prepareForCollection's negative-swap is only
// ever caught by the conservative nature of the counters here, never by
// mutual exclusion with the collector. That is safe only because the
// marking algorithm tolerates over-counting a root, never under-counting
// one.
func (rc *refCount) incCount() {
	rc.positive.Inc()
}

// decCount records a Gc handle being dropped. It decrements negative, not
// positive — see the type comment for why.
func (rc *refCount) decCount() {
	rc.negative.Dec()
}

// foundOnceInternally records that some other allocation's scan pass
// walked an edge into this allocation during the current collection
// cycle.
func (rc *refCount) foundOnceInternally() {
	rc.foundInternally.Inc()
}

// prepareForCollection folds the accumulated negative (drop) count into
// positive and resets both found-internally and negative ready for a
// fresh mark pass.
func (rc *refCount) prepareForCollection() {
	rc.foundInternally.Store(0)
	negative := rc.negative.Swap(0)
	rc.positive.Add(negative)
}

// isRooted reports whether this allocation should survive the current
// collection cycle as a root: it has more live handles than internal
// edges discovered this cycle found, or it has been explicitly
// overridden as rooted.
//
// positive can only ever be >= the real count, so when positive is no
// bigger than foundInternally, every live handle has been accounted for
// by an edge from within the traced graph and this allocation is not a
// root.
func (rc *refCount) isRooted() bool {
	return rc.positive.Load() > rc.foundInternally.Load()
}

// overrideMarkAsRooted forces isRooted to report true. newRefCount uses it
// to seed a brand-new allocation as rooted before its first collection
// cycle; an allocation a mutator holds a warrant on during a cycle is kept
// by the collector setting its mark bit instead.
func (rc *refCount) overrideMarkAsRooted() {
	rc.foundInternally.Store(rootOverrideValue)
}

func (rc *refCount) wasOverriddenAsRooted() bool {
	return rc.foundInternally.Load() == rootOverrideValue
}

// snapshotRefCount returns an estimate of the live handle count, for
// diagnostics and the Stats surface. It is not synchronized with any
// particular collection cycle.
func (rc *refCount) snapshotRefCount() int64 {
	return rc.positive.Load() + rc.negative.Load()
}
