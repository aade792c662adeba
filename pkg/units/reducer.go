package units

import (
	"context"
	"sync/atomic"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/types"
)

// Reducer folds a Table into one SummaryRecord. It is the only writer of its
// summary; readers get copies.
type Reducer struct {
	table   *Table
	clock   clock.Clock
	summary atomic.Pointer[types.SummaryRecord]
}

// NewReducer builds a reducer over t. A nil clock reads CLOCK_MONOTONIC.
func NewReducer(t *Table, clk clock.Clock) *Reducer {
	if clk == nil {
		clk = clock.Monotonic{}
	}
	return &Reducer{table: t, clock: clk}
}

// Table returns the table being reduced.
func (r *Reducer) Table() *Table { return r.table }

// Summary returns the last summary written, if any reduction found data.
func (r *Reducer) Summary() (types.SummaryRecord, bool) {
	s := r.summary.Load()
	if s == nil {
		return types.SummaryRecord{}, false
	}
	return *s, true
}

// Reduce scans every unit id once. Units that never produced a valid sample
// are skipped. When nothing was observed the previous summary is kept as is,
// since a zeroed summary would read as "all quiet" rather than "no data".
// The scan does not stop writers, so the result is an approximate snapshot.
func (r *Reducer) Reduce() bool {
	var (
		sum      float64
		peak     uint64
		critical uint32
		observed uint32
	)
	for i := range r.table.slots {
		s := &r.table.slots[i]
		if !s.present.Load() {
			continue
		}
		v := s.current.Load()
		sum += float64(v)
		if v > peak {
			peak = v
		}
		if threshold := s.critical.Load(); threshold > 0 && v >= threshold {
			critical++
		}
		observed++
	}
	if observed == 0 {
		return false
	}

	next := &types.SummaryRecord{
		Average:       sum / float64(observed),
		Peak:          peak,
		CriticalCount: critical,
		Observed:      observed,
		Timestamp:     r.clock.Now(),
		SampleCount:   1,
	}
	if prev := r.summary.Load(); prev != nil {
		next.SampleCount = prev.SampleCount + 1
	}
	r.summary.Store(next)
	return true
}

// Name identifies the reducer to the scheduler.
func (r *Reducer) Name() string { return "reduce:" + r.table.name }

// Run performs one reduction; it satisfies worker.Worker.
func (r *Reducer) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Reduce()
	return nil
}
