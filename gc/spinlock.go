// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"runtime"

	"go.uber.org/atomic"
)

// spinlockSentinel is added to the tracker to mark an exclusive hold. It is
// chosen large enough that no realistic number of concurrent inclusive
// holds could ever reach it by simple increments.
const spinlockSentinel = uint64(1) << 60

// atomicProtectingSpinlock is a single, system-wide coarse lock that
// serializes every atomic managed-pointer (AtomicGc) operation (inclusive,
// many concurrent holders) against the collector's graph-freeze phase
// (exclusive, one holder, stop-the-world for atomic slots only).
//
// tracker == 0: nobody holds it.
// 0 < tracker < spinlockSentinel: some number of inclusive holders.
// tracker >= spinlockSentinel: the exclusive holder.
type atomicProtectingSpinlock struct {
	tracker atomic.Uint64
}

// lockExclusive spins until it can take the exclusive hold, yielding the
// OS thread between attempts rather than busy-waiting flat out.
func (s *atomicProtectingSpinlock) lockExclusive() *apsExclusiveGuard {
	for {
		current := s.tracker.Load()
		if current == 0 {
			if s.tracker.CompareAndSwap(0, spinlockSentinel) {
				return &apsExclusiveGuard{parent: s}
			}
		}
		runtime.Gosched()
	}
}

// lockInclusive greedily increments the tracker and reports whether that
// landed it below the exclusive sentinel. It returns (nil, false) if an
// exclusive hold was in effect; callers must retry later rather than block,
// since the inclusive side never waits.
func (s *atomicProtectingSpinlock) lockInclusive() (*apsInclusiveGuard, bool) {
	old := s.tracker.Add(1) - 1
	if old < spinlockSentinel {
		return &apsInclusiveGuard{parent: s}, true
	}
	return nil, false
}

type apsExclusiveGuard struct {
	parent *atomicProtectingSpinlock
}

// release resets the tracker unconditionally to zero. Any inclusive
// attempts that raced the exclusive hold and landed a stray increment
// (see lockInclusive) are wiped out here rather than unwound individually.
func (g *apsExclusiveGuard) release() {
	g.parent.tracker.Store(0)
}

type apsInclusiveGuard struct {
	parent *atomicProtectingSpinlock
}

func (g *apsInclusiveGuard) release() {
	g.parent.tracker.Dec()
}

// withInclusive runs fn while holding the inclusive side of the lock,
// retrying the (non-blocking) acquire until it succeeds. Every AtomicGc
// operation goes through this, which is what makes those operations block
// — briefly — while the collector holds the exclusive side during a
// graph freeze.
func (s *atomicProtectingSpinlock) withInclusive(fn func()) {
	for {
		guard, ok := s.lockInclusive()
		if ok {
			fn()
			guard.release()
			return
		}
		runtime.Gosched()
	}
}
