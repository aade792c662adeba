package report

import "github.com/srodi/waitlens/pkg/types"

// Window turns cumulative ledger snapshots into per-interval deltas.
// It is not safe for concurrent use.
type Window struct {
	prev map[uint32]types.StatsRecord
}

// NewWindow returns a window with no history; the first Advance reports
// everything accumulated so far.
func NewWindow() *Window {
	return &Window{prev: make(map[uint32]types.StatsRecord)}
}

// Advance returns cur minus the previous snapshot of each subject. A subject
// whose generation changed since the previous snapshot starts from zero.
func (w *Window) Advance(cur []types.StatsRecord) []types.StatsRecord {
	next := make(map[uint32]types.StatsRecord, len(cur))
	out := make([]types.StatsRecord, 0, len(cur))
	for _, rec := range cur {
		next[rec.PID] = rec
		prev, ok := w.prev[rec.PID]
		if !ok || prev.Generation != rec.Generation {
			out = append(out, rec)
			continue
		}
		d := rec
		for c := range d.Durations {
			d.Durations[c] = sub(rec.Durations[c], prev.Durations[c])
			d.Counts[c] = sub(rec.Counts[c], prev.Counts[c])
		}
		d.Total = sub(rec.Total, prev.Total)
		out = append(out, d)
	}
	w.prev = next
	return out
}

// sub guards against torn reads where a later field load saw fewer increments.
func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
