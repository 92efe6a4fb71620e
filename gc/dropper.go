// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// dropMessage is sent on the background dropper's channel. Exactly one of
// the two fields is meaningful per message.
type dropMessage struct {
	toDrop []*allocation // non-nil for a batch-to-drop message
	syncUp chan struct{} // non-nil for a synchronize-destructors request
}

// backgroundDropper runs every allocation's release action off the
// mutator's critical path, on its own goroutine, so that a slow or
// panicking destructor never blocks a collection cycle or a mutator
// thread.
type backgroundDropper struct {
	msgs chan dropMessage

	// batchPool recycles the []*allocation slices sweep phases hand
	// off here, avoiding a fresh allocation for every collection cycle.
	batchPool sync.Pool
}

func newBackgroundDropper() *backgroundDropper {
	d := &backgroundDropper{
		msgs: make(chan dropMessage, 64),
		batchPool: sync.Pool{
			New: func() any {
				return make([]*allocation, 0, defaultChunkSize)
			},
		},
	}
	go d.run()
	return d
}

// newBatch returns a recycled (or fresh) slice ready to accumulate a
// sweep pass's garbage before handing it to dropBatch.
func (d *backgroundDropper) newBatch() []*allocation {
	return d.batchPool.Get().([]*allocation)[:0]
}

func (d *backgroundDropper) recycleBatch(batch []*allocation) {
	d.batchPool.Put(batch[:0]) //nolint:staticcheck // batch is reused by newBatch
}

// dropBatch hands a batch of no-longer-reachable allocations to the
// background goroutine for two-pass destruction.
func (d *backgroundDropper) dropBatch(batch []*allocation) {
	if len(batch) == 0 {
		d.recycleBatch(batch)
		return
	}
	d.msgs <- dropMessage{toDrop: batch}
}

// synchronizeDestructors blocks until every batch sent to dropBatch before
// this call has finished running its release actions.
func (d *backgroundDropper) synchronizeDestructors() {
	reply := make(chan struct{})
	d.msgs <- dropMessage{syncUp: reply}
	<-reply
}

func (d *backgroundDropper) run() {
	pinCurrentGoroutine(0)
	for msg := range d.msgs {
		switch {
		case msg.toDrop != nil:
			d.processBatch(msg.toDrop)
		case msg.syncUp != nil:
			close(msg.syncUp)
		}
	}
}

// processBatch runs the two-pass discipline: first every allocation in
// the batch is marked deallocated, then (and only then) release actions
// run in parallel, each wrapped in its own panic boundary so one bad
// destructor can't take down the dropper goroutine or the rest of the
// batch.
func (d *backgroundDropper) processBatch(batch []*allocation) {
	defer d.recycleBatch(batch)

	for _, a := range batch {
		a.deallocated.Store(true)
	}

	var g errgroup.Group
	for _, a := range batch {
		a := a
		g.Go(func() error {
			safeRun(a.deallocate)
			return nil
		})
	}
	_ = g.Wait()
}

// safeRun calls fn, converting any panic into a logged error instead of
// letting it propagate — a single misbehaving destructor must not take
// down the collector's background goroutine.
func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("concurrentgc: background drop failed: %v", r)
		}
	}()
	fn()
}
