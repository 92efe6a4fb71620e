// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockout_WarrantsAreShared(t *testing.T) {
	l := newLockout()
	w1 := l.takeWarrant()
	w2 := l.takeWarrant()

	assert.Nil(t, l.tryTakeExclusiveWarrant())

	w1.release()
	w2.release()

	ew := l.tryTakeExclusiveWarrant()
	assert.NotNil(t, ew)
	ew.release()
}

func TestLockout_ExclusiveWarrantExcludesUnsafeExclusive(t *testing.T) {
	l := newLockout()
	ew := l.tryTakeExclusiveWarrant()
	assert.NotNil(t, ew)

	assert.False(t, l.tryTakeExclusiveAccessUnsafe())

	ew.release()
	assert.True(t, l.tryTakeExclusiveAccessUnsafe())
	l.releaseExclusiveAccessUnsafe()
}

func TestLockout_UnsafeExclusiveBlocksSecondUnsafeExclusive(t *testing.T) {
	l := newLockout()
	assert.True(t, l.tryTakeExclusiveAccessUnsafe())
	assert.True(t, l.exclusiveAccessTakenUnsafe())
	assert.False(t, l.tryTakeExclusiveAccessUnsafe())

	l.releaseExclusiveAccessUnsafe()
	assert.False(t, l.exclusiveAccessTakenUnsafe())
}

func TestLockout_ReleaseExclusiveWarrantNotHeldPanics(t *testing.T) {
	l := newLockout()
	ew := &exclusiveWarrant{l: l}
	assert.Panics(t, func() {
		ew.release()
	})
}

func TestLockout_TakeWarrantUnblocksAfterExclusiveRelease(t *testing.T) {
	l := newLockout()
	ew := l.tryTakeExclusiveWarrant()
	assert.NotNil(t, ew)

	done := make(chan struct{})
	go func() {
		w := l.takeWarrant()
		w.release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("takeWarrant returned while exclusive warrant still held")
	default:
	}

	ew.release()
	<-done
}
