// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync"
	atomicstd "sync/atomic"

	"github.com/fmstephe/flib/fmath"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// defaultChunkSize is the number of slots each chunk holds. Constructors
// that accept a custom size round it up to the nearest power of two via
// flib's fmath.NxtPowerOfTwo.
const defaultChunkSize = 1024

// chunkSlot is a stable location for one tracked allocation: which chunk,
// and which slot within it. Unlike an index into a growable slice, a
// chunkSlot stays valid forever — chunks are appended, never moved or
// reallocated, so the backing array behind any chunk never changes
// address once published.
type chunkSlot struct {
	chunkIdx uint32
	slotIdx  uint32
}

type chunk struct {
	size  int
	slots []atomicstd.Pointer[allocation]
}

// chunkedList is an append-only, slot-reusing store of tracked
// allocations. Parallel iterate/retain fan out one goroutine per chunk via
// errgroup, playing the role rayon::join/par_iter play in the original.
type chunkedList struct {
	chunkSize int

	chunksMu sync.RWMutex
	chunks   []*chunk

	freeMu sync.Mutex
	free   []chunkSlot

	length atomic.Int64
}

func newChunkedList() *chunkedList {
	return newChunkedListSized(defaultChunkSize)
}

func newChunkedListSized(chunkSize int) *chunkedList {
	size := fmath.NxtPowerOfTwo(int64(chunkSize))
	cl := &chunkedList{chunkSize: int(size)}
	cl.expand()
	return cl
}

func (cl *chunkedList) expand() {
	cl.chunksMu.Lock()
	defer cl.chunksMu.Unlock()

	idx := uint32(len(cl.chunks))
	c := &chunk{size: cl.chunkSize, slots: make([]atomicstd.Pointer[allocation], cl.chunkSize)}
	cl.chunks = append(cl.chunks, c)

	cl.freeMu.Lock()
	for i := 0; i < cl.chunkSize; i++ {
		cl.free = append(cl.free, chunkSlot{chunkIdx: idx, slotIdx: uint32(i)})
	}
	cl.freeMu.Unlock()
}

func (cl *chunkedList) popFree() (chunkSlot, bool) {
	cl.freeMu.Lock()
	defer cl.freeMu.Unlock()
	if len(cl.free) == 0 {
		return chunkSlot{}, false
	}
	n := len(cl.free) - 1
	slot := cl.free[n]
	cl.free = cl.free[:n]
	return slot, true
}

func (cl *chunkedList) pushFree(slot chunkSlot) {
	cl.freeMu.Lock()
	cl.free = append(cl.free, slot)
	cl.freeMu.Unlock()
}

func (cl *chunkedList) chunkAt(idx uint32) *chunk {
	cl.chunksMu.RLock()
	defer cl.chunksMu.RUnlock()
	return cl.chunks[idx]
}

// insert places a into the list and returns its stable slot.
func (cl *chunkedList) insert(a *allocation) chunkSlot {
	for {
		slot, ok := cl.popFree()
		if !ok {
			cl.expand()
			continue
		}
		c := cl.chunkAt(slot.chunkIdx)
		c.slots[slot.slotIdx].Store(a)
		a.slot = slot
		cl.length.Inc()
		return slot
	}
}

// remove clears the allocation at slot and returns it to the free list.
// It is the sweep phase's job to call this once it has decided an
// allocation did not survive collection.
func (cl *chunkedList) remove(slot chunkSlot) {
	c := cl.chunkAt(slot.chunkIdx)
	if c.slots[slot.slotIdx].Swap(nil) != nil {
		cl.length.Dec()
	}
	cl.pushFree(slot)
}

// estimateLen returns an approximate live count; it is never perfectly in
// sync with concurrent inserts/removes, which is fine for trigger
// heuristics and diagnostics, the only places that read it.
func (cl *chunkedList) estimateLen() int64 {
	return cl.length.Load()
}

func (cl *chunkedList) numChunks() int {
	cl.chunksMu.RLock()
	defer cl.chunksMu.RUnlock()
	return len(cl.chunks)
}

// parIter calls visit once for every currently-occupied slot, fanning out
// one goroutine per chunk.
func (cl *chunkedList) parIter(visit func(*allocation)) {
	n := cl.numChunks()
	var g errgroup.Group
	for i := 0; i < n; i++ {
		c := cl.chunkAt(uint32(i))
		g.Go(func() error {
			for j := range c.slots {
				if a := c.slots[j].Load(); a != nil {
					visit(a)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// parRetain calls keep for every occupied slot; slots for which keep
// returns false are atomically cleared and their allocation is passed to
// onRemoved (which may be nil), then the slot is returned to the free
// list.
func (cl *chunkedList) parRetain(keep func(*allocation) bool, onRemoved func(*allocation)) {
	n := cl.numChunks()
	var g errgroup.Group
	for i := 0; i < n; i++ {
		idx := uint32(i)
		c := cl.chunkAt(idx)
		g.Go(func() error {
			for j := range c.slots {
				a := c.slots[j].Load()
				if a == nil {
					continue
				}
				if keep(a) {
					continue
				}
				if c.slots[j].CompareAndSwap(a, nil) {
					cl.length.Dec()
					cl.pushFree(chunkSlot{chunkIdx: idx, slotIdx: uint32(j)})
					if onRemoved != nil {
						onRemoved(a)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
