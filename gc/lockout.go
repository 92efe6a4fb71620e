// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync"

	"go.uber.org/atomic"
)

// unsafeExclusiveSignpost marks the count as held by the collector's
// unsafe try/release pair (see tryTakeExclusiveAccessUnsafe). exclusiveSignpost
// marks it as held by a warrant-guarded exclusive hold (tryTakeExclusiveWarrant).
// Keeping the two distinct lets debug assertions tell which kind of
// exclusive hold is in effect.
const (
	unsafeExclusiveSignpost = ^uint64(0)
	exclusiveSignpost       = unsafeExclusiveSignpost - 1
)

// lockout is a per-allocation multi-reader/single-writer primitive: any
// number of mutator threads can hold a warrant at once, but an exclusive
// warrant (or the collector's unsafe exclusive access) excludes every
// other warrant. Unlike sync.RWMutex, the writer side never blocks — the
// collector only ever tries to acquire exclusive access and moves on if it
// fails.
type lockout struct {
	count atomic.Uint64

	mu   sync.Mutex
	cond *sync.Cond
}

func newLockout() *lockout {
	l := &lockout{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// warrant represents one held read-side (shared) hold on a lockout.
type warrant struct {
	l *lockout
}

// release must be called exactly once per warrant returned by takeWarrant.
func (w *warrant) release() {
	w.l.count.Dec()
}

// exclusiveWarrant represents the held write-side (exclusive) hold on a
// lockout, taken via tryTakeExclusiveWarrant.
type exclusiveWarrant struct {
	l *lockout
}

// release must be called exactly once per exclusiveWarrant returned by
// tryTakeExclusiveWarrant.
func (w *exclusiveWarrant) release() {
	w.l.mu.Lock()
	ok := w.l.count.CompareAndSwap(exclusiveSignpost, 0)
	w.l.mu.Unlock()
	if !ok {
		panic("concurrentgc: released an exclusive warrant that was not held")
	}
	w.l.cond.Broadcast()
}

// takeWarrant blocks until a shared warrant can be taken — that is, until
// no exclusive hold is in effect — and returns it.
func (l *lockout) takeWarrant() *warrant {
	starting := l.count.Load()

	// Fast path: not signposted.
	if starting < exclusiveSignpost {
		if l.count.CompareAndSwap(starting, starting+1) {
			return &warrant{l: l}
		}
	}

	// Slow path: wait out any exclusive hold.
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		value := l.count.Load()
		if value >= exclusiveSignpost {
			l.cond.Wait()
			continue
		}
		if l.count.CompareAndSwap(value, value+1) {
			return &warrant{l: l}
		}
	}
}

// tryTakeExclusiveWarrant attempts to take the exclusive hold without
// blocking, returning nil if any shared warrant (or another exclusive
// hold) is currently outstanding.
func (l *lockout) tryTakeExclusiveWarrant() *exclusiveWarrant {
	if l.count.CompareAndSwap(0, exclusiveSignpost) {
		return &exclusiveWarrant{l: l}
	}
	return nil
}

// tryTakeExclusiveAccessUnsafe is the collector-only non-warrant-guarded
// exclusive acquire. Callers MUST pair every successful call with exactly
// one releaseExclusiveAccessUnsafe; concurrentgc's collector is the only
// caller of this pair, by construction.
func (l *lockout) tryTakeExclusiveAccessUnsafe() bool {
	return l.count.CompareAndSwap(0, unsafeExclusiveSignpost)
}

// releaseExclusiveAccessUnsafe releases a hold taken by
// tryTakeExclusiveAccessUnsafe. It is a no-op if that hold is not
// currently set, so it is safe to call after a failed try.
func (l *lockout) releaseExclusiveAccessUnsafe() {
	l.mu.Lock()
	l.count.CompareAndSwap(unsafeExclusiveSignpost, 0)
	l.mu.Unlock()
	l.cond.Broadcast()
}

// exclusiveAccessTakenUnsafe reports whether the collector currently holds
// the unsafe exclusive access taken by tryTakeExclusiveAccessUnsafe.
func (l *lockout) exclusiveAccessTakenUnsafe() bool {
	return l.count.Load() == unsafeExclusiveSignpost
}
