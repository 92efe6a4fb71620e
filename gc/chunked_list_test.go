// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestAllocation() *allocation {
	return allocateNoDrop(&leaf{})
}

func TestChunkedList_InsertRemove(t *testing.T) {
	cl := newChunkedListSized(4)
	a := newTestAllocation()
	slot := cl.insert(a)
	assert.Equal(t, int64(1), cl.estimateLen())

	cl.remove(slot)
	assert.Equal(t, int64(0), cl.estimateLen())
}

func TestChunkedList_ExpandsPastOneChunk(t *testing.T) {
	cl := newChunkedListSized(4)
	for i := 0; i < 200; i++ {
		cl.insert(newTestAllocation())
	}
	assert.Equal(t, int64(200), cl.estimateLen())
	assert.Greater(t, cl.numChunks(), 1)
}

func TestChunkedList_FreedSlotsAreReused(t *testing.T) {
	cl := newChunkedListSized(4)
	slot := cl.insert(newTestAllocation())
	cl.remove(slot)
	before := cl.numChunks()

	cl.insert(newTestAllocation())
	assert.Equal(t, before, cl.numChunks())
}

func TestChunkedList_ParIterVisitsEveryLiveAllocation(t *testing.T) {
	cl := newChunkedListSized(4)
	n := 37
	for i := 0; i < n; i++ {
		cl.insert(newTestAllocation())
	}

	var mu sync.Mutex
	seen := 0
	cl.parIter(func(a *allocation) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	assert.Equal(t, n, seen)
}

func TestChunkedList_ParRetainSplitsKeptAndDropped(t *testing.T) {
	cl := newChunkedListSized(4)
	kept := make(map[*allocation]bool)
	for i := 0; i < 20; i++ {
		a := newTestAllocation()
		cl.insert(a)
		if i%2 == 0 {
			kept[a] = true
		}
	}

	var mu sync.Mutex
	removed := 0
	cl.parRetain(
		func(a *allocation) bool { return kept[a] },
		func(a *allocation) {
			mu.Lock()
			removed++
			mu.Unlock()
		},
	)

	assert.Equal(t, 10, removed)
	assert.Equal(t, int64(10), cl.estimateLen())
}
