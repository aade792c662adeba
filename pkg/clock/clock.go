// Package clock supplies the timestamps stamped into accounting records.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns nanoseconds on a monotonic timeline.
type Clock interface {
	Now() int64
}

// Monotonic reads CLOCK_MONOTONIC, the same timeline bpf_ktime_get_ns uses,
// so kernel-supplied event timestamps and locally stamped ones compare directly.
type Monotonic struct{}

// Now returns the current monotonic time in nanoseconds.
func (Monotonic) Now() int64 { return monotonicNow() }

// Manual is a test clock that only moves when told to.
type Manual struct {
	ns atomic.Int64
}

// NewManual starts a manual clock at start nanoseconds.
func NewManual(start int64) *Manual {
	m := &Manual{}
	m.ns.Store(start)
	return m
}

func (m *Manual) Now() int64 { return m.ns.Load() }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) { m.ns.Add(int64(d)) }

// Set jumps the clock to ns.
func (m *Manual) Set(ns int64) { m.ns.Store(ns) }
