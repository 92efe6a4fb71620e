// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCollector_AcyclicChain covers scenario 1: A -> B -> C, dropping the
// only external handle (A) should reclaim all three.
func TestCollector_AcyclicChain(t *testing.T) {
	c := NewCollector()

	var drops int32
	cHandle := TrackWithDrop[*node](c, &node{dropped: &drops})
	bHandle := TrackWithDrop[*node](c, &node{next: cHandle, dropped: &drops})
	aHandle := TrackWithDrop[*node](c, &node{next: bHandle, dropped: &drops})

	require.Equal(t, int64(3), c.TrackedAllocationCount())

	aHandle.Drop()
	c.Collect()
	c.SynchronizeDestructors()

	assert.Equal(t, int64(0), c.TrackedAllocationCount())
	assert.Equal(t, int32(3), atomic.LoadInt32(&drops))
}

// TestCollector_Cycle covers scenario 2: P and Q refer to each other; once
// every external handle is dropped, the cycle is still collected.
func TestCollector_Cycle(t *testing.T) {
	c := NewCollector()

	var drops int32
	pHandle := TrackWithDrop[*node](c, &node{dropped: &drops})
	qHandle := TrackWithDrop[*node](c, &node{next: pHandle.Clone(), dropped: &drops})
	pHandle.payload().next = qHandle.Clone()

	pHandle.Drop()
	qHandle.Drop()

	c.Collect()
	c.SynchronizeDestructors()

	assert.Equal(t, int64(0), c.TrackedAllocationCount())
	assert.Equal(t, int32(2), atomic.LoadInt32(&drops))
}

// TestCollector_LiveSubgraphRetention covers scenario 3: a ten-node chain
// with only node 5 externally held; nodes 5..10 survive, 1..4 are
// collected.
func TestCollector_LiveSubgraphRetention(t *testing.T) {
	c := NewCollector()

	var drops int32
	var handles [10]*Gc[*node]
	for i := 9; i >= 0; i-- {
		var next *Gc[*node]
		if i < 9 {
			next = handles[i+1].Clone()
		}
		handles[i] = TrackWithDrop[*node](c, &node{next: next, dropped: &drops})
	}

	kept := handles[4].Clone() // node index 4 is the fifth node

	for i := 0; i < 10; i++ {
		handles[i].Drop()
	}

	c.Collect()
	c.SynchronizeDestructors()

	assert.Equal(t, int64(6), c.TrackedAllocationCount())
	assert.Equal(t, int32(4), atomic.LoadInt32(&drops))

	kept.Drop()
	c.Collect()
	c.SynchronizeDestructors()
	assert.Equal(t, int64(0), c.TrackedAllocationCount())
	assert.Equal(t, int32(10), atomic.LoadInt32(&drops))
}

// TestCollector_AtomicRotation covers scenario 4: a ring of 4 allocations
// linked through AtomicGc slots.
func TestCollector_AtomicRotation(t *testing.T) {
	c := NewCollector()

	var drops int32
	var handles [4]*Gc[*atomicNode]
	for i := range handles {
		handles[i] = TrackWithDrop[*atomicNode](c, &atomicNode{dropped: &drops})
	}
	var atomics [4]*AtomicGc[*atomicNode]
	for i := range handles {
		next := handles[(i+1)%4].Clone()
		atomics[i] = NewAtomicGc[*atomicNode](c, next)
		handles[i].payload().next = atomics[i]
	}

	extra := handles[0].Clone()
	for i := range handles {
		handles[i].Drop()
	}

	c.Collect()
	c.SynchronizeDestructors()
	assert.Equal(t, int64(4), c.TrackedAllocationCount())
	assert.Equal(t, int32(0), atomic.LoadInt32(&drops))

	extra.Drop()
	c.Collect()
	c.SynchronizeDestructors()
	assert.Equal(t, int64(0), c.TrackedAllocationCount())
	assert.Equal(t, int32(4), atomic.LoadInt32(&drops))
}

// TestCollector_ForcedRootingUnderContention covers scenario 5: a live
// Get guard forces its allocation (and transitive successors) to survive a
// concurrent collection, without that collection blocking on the guard.
func TestCollector_ForcedRootingUnderContention(t *testing.T) {
	c := NewCollector()

	var drops int32
	yHandle := TrackWithDrop[*node](c, &node{dropped: &drops})
	xHandle := TrackWithDrop[*node](c, &node{next: yHandle.Clone(), dropped: &drops})

	guard := xHandle.Get()
	xHandle.Drop()
	yHandle.Drop()

	done := make(chan struct{})
	go func() {
		c.Collect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Collect blocked on an outstanding Get guard")
	}

	c.SynchronizeDestructors()
	assert.Equal(t, int64(2), c.TrackedAllocationCount())
	assert.Equal(t, int32(0), atomic.LoadInt32(&drops))

	guard.Release()
}

// TestCollector_CyclicInitializer covers scenario 6: a self-referential
// allocation built via TrackWithInitializer reaches quiescent refcount 2
// (external handle + internal) and is reclaimed once both drop.
func TestCollector_CyclicInitializer(t *testing.T) {
	c := NewCollector()

	var drops int32
	h := TrackWithInitializer[*node](c, func(self *Gc[*node]) *node {
		n := &node{dropped: &drops}
		n.next = self.Clone()
		return n
	})

	assert.Equal(t, int64(2), h.alloc.refs.snapshotRefCount())

	h.Drop()
	c.Collect()
	c.SynchronizeDestructors()
	assert.Equal(t, int64(0), c.TrackedAllocationCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&drops))
}

func TestCollector_FixedPointAfterSynchronize(t *testing.T) {
	c := NewCollector()

	var drops int32
	h := TrackWithDrop[*leaf](c, &leaf{dropped: &drops})
	h.Drop()

	c.Collect()
	c.SynchronizeDestructors()
	before := c.Stats()

	c.Collect()
	after := c.Stats()

	assert.Equal(t, before.TrackedAllocations, after.TrackedAllocations)
	assert.Equal(t, int64(0), after.LastSweepDropped)
}

func TestCollector_CheckThenCollectIsTriggeredByAllocation(t *testing.T) {
	c := NewCollector()
	c.SetTriggerPercent(0.01)

	var drops int32
	var last *Gc[*leaf]
	for i := 0; i < 1000; i++ {
		if last != nil {
			last.Drop()
		}
		last = TrackWithDrop[*leaf](c, &leaf{dropped: &drops})
	}
	last.Drop()

	require.Eventually(t, func() bool {
		c.SynchronizeDestructors()
		return c.TrackedAllocationCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
