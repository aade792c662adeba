package events

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/srodi/waitlens/pkg/types"
)

// Sink consumes routed events. *ledger.Ledger satisfies it.
type Sink interface {
	Apply(ev types.Event)
}

// Dispatcher fans events out to a fixed set of workers. Events for one pid
// always land on the same worker, so a subject's start and exit are applied
// in the order they were submitted.
type Dispatcher struct {
	sink   Sink
	queues []chan types.Event
	log    *slog.Logger

	submitted atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates workers queues of depth entries each.
func NewDispatcher(sink Sink, workers, depth int, log *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{sink: sink, queues: make([]chan types.Event, workers), log: log}
	for i := range d.queues {
		d.queues[i] = make(chan types.Event, depth)
	}
	return d
}

// Submit queues ev without blocking. A full queue drops the event.
func (d *Dispatcher) Submit(ev types.Event) bool {
	q := d.queues[ev.PID%uint32(len(d.queues))]
	select {
	case q <- ev:
		d.submitted.Add(1)
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Submitted counts events accepted into a queue.
func (d *Dispatcher) Submitted() uint64 { return d.submitted.Load() }

// Dropped counts events rejected because their queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run applies queued events until ctx ends, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range d.queues {
		g.Go(func() error {
			d.log.Debug("dispatcher: worker started", "worker", i)
			for {
				select {
				case ev := <-q:
					d.sink.Apply(ev)
				case <-ctx.Done():
					d.drain(q)
					return nil
				}
			}
		})
	}
	err := g.Wait()
	d.log.Info("dispatcher: stopped", "submitted", d.Submitted(), "dropped", d.Dropped())
	return err
}

func (d *Dispatcher) drain(q chan types.Event) {
	for {
		select {
		case ev := <-q:
			d.sink.Apply(ev)
		default:
			return
		}
	}
}
