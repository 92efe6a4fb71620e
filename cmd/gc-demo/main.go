// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Command gc-demo builds a small graph of tracked allocations, drops the
// external handles, and reports what the collector reclaims. It exists to
// exercise the library end to end from outside the gc package, the way
// cmd/parcel_server exercises offheap.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fmstephe/concurrentgc/gc"
)

var (
	chainLenFlag      = flag.Int("chain-len", 8, "number of nodes in the demo chain")
	cyclicFlag        = flag.Bool("cyclic", false, "link the last node back to the first, forming a cycle")
	triggerPercentFlag = flag.Float64("trigger-percent", 0, "override the collector's growth trigger percent (0 keeps the default)")
)

type demoNode struct {
	next *gc.Gc[*demoNode]
	name string
}

func (n *demoNode) GCScan(s *gc.Scanner) {
	s.Visit(n.next)
}

func (n *demoNode) GCDrop() {
	logger.Printf("reclaimed %s", n.name)
}

var logger = log.New(os.Stdout, "gc-demo: ", 0)

func main() {
	flag.Parse()

	if *chainLenFlag < 1 {
		logger.Fatalf("-chain-len must be at least 1, got %d", *chainLenFlag)
	}

	c := gc.NewCollector()
	if *triggerPercentFlag > 0 {
		c.SetTriggerPercent(*triggerPercentFlag)
	}

	handles := make([]*gc.Gc[*demoNode], *chainLenFlag)
	for i := *chainLenFlag - 1; i >= 0; i-- {
		var next *gc.Gc[*demoNode]
		if i < *chainLenFlag-1 {
			next = handles[i+1].Clone()
		}
		handles[i] = gc.TrackWithDrop[*demoNode](c, &demoNode{next: next, name: nodeName(i)})
	}

	if *cyclicFlag && *chainLenFlag > 0 {
		last := handles[*chainLenFlag-1]
		guard := last.Get()
		guard.Value().next = handles[0].Clone()
		guard.Release()
		logger.Printf("closed the chain into a cycle through %s", nodeName(0))
	}

	logger.Printf("tracking %d allocations before any handle is dropped", c.TrackedAllocationCount())

	for _, h := range handles {
		h.Drop()
	}

	c.Collect()
	c.SynchronizeDestructors()

	stats := c.Stats()
	logger.Printf("after collection: tracked=%d live-handles=%d collections-run=%d last-sweep-dropped=%d",
		stats.TrackedAllocations, stats.LiveHandles, stats.CollectionsRun, stats.LastSweepDropped)

	// Give the demo a moment to flush any trailing background-dropper
	// output before exiting.
	time.Sleep(10 * time.Millisecond)
}

func nodeName(i int) string {
	return fmt.Sprintf("node-%d", i)
}
