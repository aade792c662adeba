// Package memory charges page-fault activity to subjects as memory wait.
package memory

import (
	"context"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/types"
)

// Fault is one pid's fault count since the previous drain.
type Fault struct {
	PID    uint32
	TGID   uint32
	Faults uint64
	Comm   string
}

// Source yields and clears accumulated fault counts.
type Source interface {
	Drain(fn func(Fault)) error
}

// Poller periodically turns fault counts into page_faults events.
type Poller struct {
	src    Source
	submit func(types.Event) bool
	clock  clock.Clock
}

// NewPoller builds a poller that hands events to submit.
func NewPoller(src Source, submit func(types.Event) bool, clk clock.Clock) *Poller {
	if clk == nil {
		clk = clock.Monotonic{}
	}
	return &Poller{src: src, submit: submit, clock: clk}
}

// Name identifies the poller to the scheduler.
func (p *Poller) Name() string { return "page_faults" }

// Run drains the source once.
func (p *Poller) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.clock.Now()
	return p.src.Drain(func(f Fault) {
		if f.Faults == 0 {
			return
		}
		payload := int64(f.Faults)
		if payload < 0 {
			return
		}
		p.submit(types.Event{
			Kind:      types.KindPageFaults,
			PID:       f.PID,
			GroupID:   f.TGID,
			Timestamp: now,
			Payload:   payload,
			Comm:      f.Comm,
		})
	})
}
