//go:build !linux

package memory

import "errors"

var errUnsupported = errors.New("memory collector requires linux")

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns an error because eBPF is only supported on Linux.
func NewCollector(objectPath string, maxPIDs int) (*Collector, error) {
	return nil, errUnsupported
}

// Drain always fails on unsupported platforms.
func (c *Collector) Drain(fn func(Fault)) error {
	return errUnsupported
}

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
