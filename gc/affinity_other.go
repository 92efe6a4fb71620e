// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

//go:build !linux

package gc

// pinCurrentGoroutine is a no-op outside Linux: golang.org/x/sys/unix's
// SchedSetaffinity has no portable equivalent, and letting the host
// scheduler place these goroutines freely is a correct, if less
// predictable, fallback.
func pinCurrentGoroutine(cpu int) {}
