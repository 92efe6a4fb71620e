// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package gc

// Finalize is implemented by payloads that need to run cleanup logic
// before the collector drops its last reference to them. Finalize runs on
// the background dropper's goroutine, after every handle into the
// finalized value's own graph has already been invalidated, so Finalize
// must not assume any Gc handle it once held is still live.
type Finalize interface {
	Finalize()
}

// GCDrop is implemented by payloads that need deterministic cleanup
// (closing a file descriptor, releasing an external resource) the moment
// the collector reclaims them. It runs only for allocations tracked with a
// drop action (TrackWithDrop, TrackWithInitializer, NewDerefGc);
// TrackNoDrop, TrackBoxed and TrackWithFinalizer never call it. Most
// payloads need neither this nor
// Finalize — ordinary Go values are reclaimed by the host GC with no
// action required here.
type GCDrop interface {
	GCDrop()
}
