// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"math"
	"sync"
)

const (
	defaultTriggerPercent       = 0.75
	defaultHandleDeficitPercent = 0.9
	minAllocationsForCollection = 512.0 * 1.3
)

// trigger decides when check-then-collect should actually run a
// collection cycle, using either of two conditions: the tracked
// allocation count has grown by at least growthPercent since the last
// cycle, or the live handle count has fallen to at or below
// handleDeficitPercent of the tracked allocation count (a sign that a
// large internal-only subgraph has likely gone unrooted and is worth
// reclaiming even without much new growth).
type trigger struct {
	mu sync.Mutex

	growthPercent             float64
	handleDeficitPercent      float64
	dataCountAtLastCollection int64
}

func newTrigger() *trigger {
	return &trigger{
		growthPercent:        defaultTriggerPercent,
		handleDeficitPercent: defaultHandleDeficitPercent,
	}
}

// setTriggerPercent changes the growth-percent threshold. It panics on a
// NaN or negative percentage, matching the collector's general contract
// of panicking on caller misuse rather than silently clamping it.
func (t *trigger) setTriggerPercent(p float64) {
	if math.IsNaN(p) || p < 0 {
		panic("concurrentgc: trigger percent must be a non-negative number")
	}
	t.mu.Lock()
	t.growthPercent = p
	t.mu.Unlock()
}

// setHandleDeficitPercent changes the handle-deficit threshold.
func (t *trigger) setHandleDeficitPercent(p float64) {
	if math.IsNaN(p) || p < 0 {
		panic("concurrentgc: handle deficit percent must be a non-negative number")
	}
	t.mu.Lock()
	t.handleDeficitPercent = p
	t.mu.Unlock()
}

// shouldCollect reports whether a collection cycle is warranted given the
// current tracked-allocation count and live-handle count.
func (t *trigger) shouldCollect(currentDataCount, currentHandleCount int64) bool {
	if float64(currentDataCount) < minAllocationsForCollection {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	amountOfNewData := currentDataCount - t.dataCountAtLastCollection
	percentMoreData := float64(amountOfNewData) / float64(t.dataCountAtLastCollection)
	if math.IsNaN(percentMoreData) || math.IsInf(percentMoreData, 0) {
		return true
	}
	if percentMoreData >= t.growthPercent {
		return true
	}

	return float64(currentHandleCount) <= t.handleDeficitPercent*float64(currentDataCount)
}

// setDataCountAfterCollection records the new baseline tracked-allocation
// count once a collection cycle has finished.
func (t *trigger) setDataCountAfterCollection(dataCount int64) {
	t.mu.Lock()
	t.dataCountAtLastCollection = dataCount
	t.mu.Unlock()
}
