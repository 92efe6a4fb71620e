// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinlock_InclusiveHoldersConcurrent(t *testing.T) {
	s := &atomicProtectingSpinlock{}
	g1, ok1 := s.lockInclusive()
	g2, ok2 := s.lockInclusive()
	assert.True(t, ok1)
	assert.True(t, ok2)

	g1.release()
	g2.release()
	assert.Equal(t, uint64(0), s.tracker.Load())
}

func TestSpinlock_ExclusiveExcludesInclusive(t *testing.T) {
	s := &atomicProtectingSpinlock{}
	eg := s.lockExclusive()

	_, ok := s.lockInclusive()
	assert.False(t, ok)

	eg.release()
	g, ok := s.lockInclusive()
	assert.True(t, ok)
	g.release()
}

func TestSpinlock_WithInclusiveRunsFn(t *testing.T) {
	s := &atomicProtectingSpinlock{}
	ran := false
	s.withInclusive(func() {
		ran = true
	})
	assert.True(t, ran)
	assert.Equal(t, uint64(0), s.tracker.Load())
}

func TestSpinlock_WithInclusiveWaitsOutExclusive(t *testing.T) {
	s := &atomicProtectingSpinlock{}
	eg := s.lockExclusive()

	var wg sync.WaitGroup
	wg.Add(1)
	ran := make(chan struct{})
	go func() {
		defer wg.Done()
		s.withInclusive(func() {
			close(ran)
		})
	}()

	select {
	case <-ran:
		t.Fatal("withInclusive proceeded while exclusive hold was active")
	default:
	}

	eg.release()
	wg.Wait()
}
