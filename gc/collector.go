// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Collector is a process-wide tracing collector: a chunked list of tracked
// allocations, a trigger heuristic, a background dropper, and the
// atomic-protection spinlock AtomicGc operations serialize against. Every
// collection cycle runs under collectMu, so at most one cycle is ever in
// flight, matching the "single global collection mutex" the algorithm is
// specified against.
type Collector struct {
	collectMu sync.Mutex

	list    *chunkedList
	trigger *trigger
	dropper *backgroundDropper
	aps     *atomicProtectingSpinlock

	// notifyCh is the bounded-capacity (depth 1) notification channel a
	// Track* call posts to; the notifier goroutine drains it and invokes
	// checkThenCollect, never blocking the allocating mutator on a full
	// channel.
	notifyCh chan struct{}

	collectionsRun   atomic.Int64
	lastSweepDropped atomic.Int64
}

// NewCollector builds an independent collector with its own tracked-data
// list, trigger, and background threads. Most callers want the shared
// Default collector instead; NewCollector exists for tests and for embedders
// that genuinely want isolated heaps.
func NewCollector() *Collector {
	c := &Collector{
		list:     newChunkedList(),
		trigger:  newTrigger(),
		dropper:  newBackgroundDropper(),
		aps:      &atomicProtectingSpinlock{},
		notifyCh: make(chan struct{}, 1),
	}
	go c.runNotifier()
	return c
}

func (c *Collector) runNotifier() {
	pinCurrentGoroutine(1)
	for range c.notifyCh {
		c.checkThenCollect()
	}
}

// signalAllocation wakes the notifier goroutine without blocking; a pending
// signal already queued is enough, so a full channel is simply dropped.
func (c *Collector) signalAllocation() {
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

func (c *Collector) checkThenCollect() {
	data := c.list.estimateLen()
	handles := c.LiveHandleCount()
	if c.trigger.shouldCollect(data, handles) {
		c.Collect()
	}
}

// Collect forces a collection cycle to run to completion, regardless of
// what the trigger heuristic would otherwise decide.
func (c *Collector) Collect() {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()
	c.doCollect()
}

// SynchronizeDestructors blocks until every batch handed to the dropper
// before this call has finished running its release actions.
func (c *Collector) SynchronizeDestructors() {
	c.dropper.synchronizeDestructors()
}

// SetTriggerPercent changes the growth-percent threshold the trigger uses.
func (c *Collector) SetTriggerPercent(p float64) {
	c.trigger.setTriggerPercent(p)
}

// SetHandleDeficitPercent changes the handle-deficit threshold the trigger
// uses.
func (c *Collector) SetHandleDeficitPercent(p float64) {
	c.trigger.setHandleDeficitPercent(p)
}

// TrackedAllocationCount returns the approximate number of allocations
// currently tracked by the collector.
func (c *Collector) TrackedAllocationCount() int64 {
	return c.list.estimateLen()
}

// LiveHandleCount returns an approximate count of outstanding Gc/DerefGc
// handles across every tracked allocation, computed by summing each
// allocation's refcount snapshot. Like TrackedAllocationCount, this is a
// diagnostic estimate, not a value synchronized with any particular
// collection cycle.
func (c *Collector) LiveHandleCount() int64 {
	var total atomic.Int64
	c.list.parIter(func(a *allocation) {
		total.Add(a.refs.snapshotRefCount())
	})
	return total.Load()
}

// Stats is a snapshot of collector bookkeeping, useful for diagnostics and
// tests, not required for correct operation.
type Stats struct {
	TrackedAllocations int64
	LiveHandles        int64
	CollectionsRun     int64
	LastSweepDropped   int64
}

// Stats returns a snapshot of the collector's current bookkeeping.
func (c *Collector) Stats() Stats {
	return Stats{
		TrackedAllocations: c.TrackedAllocationCount(),
		LiveHandles:        c.LiveHandleCount(),
		CollectionsRun:     c.collectionsRun.Load(),
		LastSweepDropped:   c.lastSweepDropped.Load(),
	}
}

// track inserts a into the tracked list, wraps it in a new handle, and
// nudges the background notifier. It is the shared tail end of every
// Track* entrypoint below.
func track[T Scan](c *Collector, a *allocation) *Gc[T] {
	c.list.insert(a)
	h := newGcHandle[T](a)
	c.signalAllocation()
	return h
}

// TrackWithDrop tracks v and arranges for its GCDrop method, if it has one,
// to run once the collector reclaims it.
func TrackWithDrop[T Scan](c *Collector, v T) *Gc[T] {
	return track[T](c, allocateWithDrop(v))
}

// TrackNoDrop tracks v with no release action beyond handle invalidation.
func TrackNoDrop[T Scan](c *Collector, v T) *Gc[T] {
	return track[T](c, allocateNoDrop(v))
}

// TrackWithFinalizer tracks v and arranges for its Finalize method to run,
// after its own handles have been invalidated, once the collector reclaims
// it.
func TrackWithFinalizer[T Scan](c *Collector, v T) *Gc[T] {
	return track[T](c, allocateWithFinalization(v))
}

// TrackBoxed tracks a value that is already heap-allocated behind its own
// pointer, rather than one copied in by value.
func TrackBoxed[T Scan](c *Collector, v T) *Gc[T] {
	return track[T](c, allocateFromBox(v))
}

// TrackWithInitializer tracks a self-referential value: the allocation is
// published into the collector's list and given exclusive lockout before
// init runs, and init receives a handle to the not-yet-initialized
// allocation, so it may install that handle into the value it returns,
// forming a cycle at construction time. If the value init returns
// implements GCDrop, that method runs at deallocation time, matching
// TrackWithDrop.
func TrackWithInitializer[T Scan](c *Collector, init func(h *Gc[T]) T) *Gc[T] {
	a := &allocation{
		release: releaseDrop,
		refs:    newRefCount(1),
		lock:    newLockout(),
	}
	h := newGcHandle[T](a)

	tookExclusive := a.lock.tryTakeExclusiveAccessUnsafe()
	c.list.insert(a)
	c.signalAllocation()

	v := init(h)
	a.scan = v
	if d, ok := any(v).(GCDrop); ok {
		a.dropper = d
	}
	if tookExclusive {
		a.lock.releaseExclusiveAccessUnsafe()
	}

	return h
}

// NewAtomicGc tracks an atomic-pointer slot, registering it with c's
// atomic-protection spinlock, and absorbs v's reference-count share as the
// slot's initial content (see AtomicGc's ownership note).
func NewAtomicGc[T Scan](c *Collector, v *Gc[T]) *AtomicGc[T] {
	return newAtomicGc[T](c.aps, v)
}

// NewDerefGc tracks v and returns a deref-only handle to it. v must
// implement GcDeref, the caller's assertion that its observable content is
// safe to read without a warrant.
func NewDerefGc[T interface {
	Scan
	GcDeref
}](c *Collector, v T) *DerefGc[T] {
	a := allocateWithDrop(v)
	c.list.insert(a)
	h := newDerefGcHandle[T](a)
	c.signalAllocation()
	return h
}

// doCollect runs the ten-step mark-sweep cycle. It must be called with
// collectMu held.
func (c *Collector) doCollect() {
	exclusiveAPS := c.aps.lockExclusive()
	defer exclusiveAPS.release()

	// Step 2: any in-flight destructor must finish before the freeze,
	// since its payload's embedded handles would otherwise look like
	// live roots mid-teardown.
	c.dropper.synchronizeDestructors()

	// Reset the mark bit before this cycle's fresh snapshot; a prior
	// cycle may have left allocations marked from its own root set.
	c.list.parIter(func(a *allocation) {
		a.marked.Store(false)
	})

	// Step 3: freeze.
	var frozenMu sync.Mutex
	var frozen []*allocation
	c.list.parIter(func(a *allocation) {
		if a.lock.tryTakeExclusiveAccessUnsafe() {
			a.refs.prepareForCollection()
			frozenMu.Lock()
			frozen = append(frozen, a)
			frozenMu.Unlock()
			return
		}
		// A mutator holds shared access: conservatively root it.
		a.marked.Store(true)
	})
	defer func() {
		for _, a := range frozen {
			a.lock.releaseExclusiveAccessUnsafe()
		}
	}()

	// Step 4: internal-edge discovery, only across allocations this
	// cycle actually froze.
	var g errgroup.Group
	for _, a := range frozen {
		a := a
		g.Go(func() error {
			a.scanEdges(func(ref internalRef) {
				if !ref.isValid() {
					return
				}
				ref.alloc.refs.foundOnceInternally()
			})
			return nil
		})
	}
	_ = g.Wait()

	// Step 5: root set.
	var roots []*allocation
	var rootsMu sync.Mutex
	c.list.parIter(func(a *allocation) {
		if a.marked.Load() {
			rootsMu.Lock()
			roots = append(roots, a)
			rootsMu.Unlock()
			return
		}
		if a.refs.isRooted() {
			if a.marked.CompareAndSwap(false, true) {
				rootsMu.Lock()
				roots = append(roots, a)
				rootsMu.Unlock()
			}
		}
	})

	// Step 6: propagate.
	c.propagate(roots)

	// Step 7 happens via the deferred release of frozen above.

	// Step 8: sweep.
	var dropped int64
	var sweepMu sync.Mutex
	batch := c.dropper.newBatch()
	c.list.parRetain(
		func(a *allocation) bool {
			// An allocation inserted after step 3's freeze pass never
			// went through prepareForCollection, so its refcount still
			// carries the brand-new-allocation override and isRooted
			// reports true unconditionally — retaining it here rather
			// than sweeping data the mutator is still holding a handle
			// to.
			return a.marked.Load() || a.refs.isRooted()
		},
		func(removed *allocation) {
			sweepMu.Lock()
			batch = append(batch, removed)
			dropped++
			sweepMu.Unlock()
		},
	)
	c.dropper.dropBatch(batch)
	c.lastSweepDropped.Store(dropped)

	// Step 9: update the trigger with the post-sweep count.
	c.trigger.setDataCountAfterCollection(c.list.estimateLen())

	c.collectionsRun.Inc()

	// Step 1 and 10: the exclusive spinlock hold spans the whole cycle,
	// released by the deferred exclusiveAPS.release() above, matching
	// the algorithm's requirement that it be held "for the duration of
	// the graph-freezing step" through the rest of the cycle.
}

// propagate drains the root set in parallel, following scan edges out of
// every allocation this cycle holds exclusive lockout on. A referent is
// enqueued the first time it transitions from unmarked to marked; the CAS
// in the closure below is what prevents it from being enqueued twice.
func (c *Collector) propagate(roots []*allocation) {
	var g errgroup.Group
	var visit func(a *allocation)
	visit = func(a *allocation) {
		g.Go(func() error {
			if !a.lock.exclusiveAccessTakenUnsafe() {
				// Not frozen this cycle: already conservatively
				// rooted in step 3/5, nothing to scan from it.
				return nil
			}
			a.scanEdges(func(ref internalRef) {
				if !ref.isValid() {
					return
				}
				child := ref.alloc
				if child.marked.CompareAndSwap(false, true) {
					visit(child)
				}
			})
			return nil
		})
	}
	for _, r := range roots {
		visit(r)
	}
	_ = g.Wait()
}

var (
	defaultOnce sync.Once
	defaultInst *Collector
)

// Default returns the process-global collector, lazily constructed on
// first use. There is no teardown: at process exit any unreclaimed
// allocations simply leak unless the caller calls Collect and
// SynchronizeDestructors beforehand.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultInst = NewCollector()
	})
	return defaultInst
}
