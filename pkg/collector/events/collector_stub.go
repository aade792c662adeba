//go:build !linux

package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/srodi/waitlens/pkg/types"
)

var errUnsupported = errors.New("events collector requires linux")

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns an error because eBPF is only supported on Linux.
func NewCollector(objectPath string, log *slog.Logger) (*Collector, error) {
	return nil, errUnsupported
}

// Run always fails on unsupported platforms.
func (c *Collector) Run(ctx context.Context, submit func(types.Event) bool) error {
	return errUnsupported
}

// DecodeErrors is always zero.
func (c *Collector) DecodeErrors() uint64 { return 0 }

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
