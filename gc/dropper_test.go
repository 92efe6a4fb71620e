// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackgroundDropper_DropBatchRunsReleaseActions(t *testing.T) {
	d := newBackgroundDropper()

	var dropped int32
	count := 8
	batch := make([]*allocation, 0, count)
	for i := 0; i < count; i++ {
		batch = append(batch, allocateWithDrop(&leaf{dropped: new(int32)}))
	}
	// Redirect every leaf's counter at the same int32 so one assertion
	// covers the whole batch.
	for _, a := range batch {
		a.scan.(*leaf).dropped = &dropped
	}

	d.dropBatch(batch)
	d.synchronizeDestructors()

	assert.Equal(t, int32(count), atomic.LoadInt32(&dropped))
	for _, a := range batch {
		assert.True(t, a.isDeallocated())
	}
}

func TestBackgroundDropper_PanicInOneDestructorDoesNotStopOthers(t *testing.T) {
	d := newBackgroundDropper()

	var dropped int32
	good := allocateWithDrop(&leaf{dropped: &dropped})
	bad := allocateWithDrop(&panickyDrop{})

	d.dropBatch([]*allocation{bad, good})
	d.synchronizeDestructors()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dropped))
	assert.True(t, good.isDeallocated())
	assert.True(t, bad.isDeallocated())
}

func TestBackgroundDropper_EmptyBatchIsNoop(t *testing.T) {
	d := newBackgroundDropper()
	d.dropBatch(nil)
	d.synchronizeDestructors()
}

type panickyDrop struct{}

func (p *panickyDrop) GCScan(s *Scanner) {}
func (p *panickyDrop) GCDrop()           { panic("boom") }
