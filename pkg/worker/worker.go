// Package worker runs periodic jobs such as unit reductions and ledger sweeps.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker is one periodic job.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a function to Worker.
type Func struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (f Func) Name() string                  { return f.Label }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler runs workers on tickers until their context ends.
type Scheduler struct {
	log *slog.Logger
	wg  sync.WaitGroup
}

// NewScheduler returns a scheduler that reports failures to log.
func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

// RunByDuration runs w every dur in its own goroutine. A failing run is logged
// and the next tick runs again.
func (s *Scheduler) RunByDuration(ctx context.Context, dur time.Duration, w Worker) {
	if dur <= 0 {
		s.log.Warn("worker: not scheduled, non-positive interval", "name", w.Name(), "interval", dur)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(dur)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()

				if err := w.Run(ctx); err != nil && ctx.Err() == nil {
					s.log.Error("worker failed", "name", w.Name(), "error", err)
				}

				s.log.Debug("worker finished", "name", w.Name(), "time", time.Since(start))
			}
		}
	}()
}

// Wait blocks until every scheduled worker has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }
