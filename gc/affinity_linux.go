// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

//go:build linux

package gc

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCurrentGoroutine locks the calling goroutine to its current OS thread
// and pins that thread to a single CPU, identified by cpu. The background
// dropper and notifier goroutines call this on startup: both run for the
// lifetime of the process and benefit from predictable scheduling rather
// than migrating between cores on every wakeup.
//
// Failure is non-fatal — a collector running in a container with a
// restricted CPU set, or on a kernel that rejects the affinity call, simply
// keeps the default Go scheduler behavior.
func pinCurrentGoroutine(cpu int) {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	_ = unix.SchedSetaffinity(0, &set)
}
