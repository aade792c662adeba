// Package units aggregates samples for small, fixed sets of resources such as
// CPU cores or GPU devices, and reduces each set into a single summary.
package units

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/types"
)

// Options configures a unit table.
type Options struct {
	Name string
	// Size bounds the id space to [0, Size).
	Size int
	// Critical is the default per-unit threshold; zero disables it.
	Critical uint64
	// MinValid and MaxValid bound plausible samples. MaxValid zero means no upper bound.
	MinValid uint64
	MaxValid uint64
	// TimestampThrottle skips restamping a unit until this much time has passed.
	TimestampThrottle time.Duration
	Clock             clock.Clock
}

// Table holds one slot per unit id. Slots are allocated up front and a unit
// becomes visible on its first valid sample; nothing is ever removed.
type Table struct {
	name     string
	slots    []slot
	minValid uint64
	maxValid uint64
	throttle int64
	clock    clock.Clock

	outOfRange atomic.Uint64
}

type slot struct {
	present   atomic.Bool
	current   atomic.Uint64
	peak      atomic.Uint64
	critical  atomic.Uint64
	timestamp atomic.Int64
	samples   atomic.Uint64
	errors    atomic.Uint64
}

// NewTable allocates a table for opts.Size units.
func NewTable(opts Options) *Table {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.Monotonic{}
	}
	maxValid := opts.MaxValid
	if maxValid == 0 {
		maxValid = math.MaxUint64
	}
	t := &Table{
		name:     opts.Name,
		slots:    make([]slot, opts.Size),
		minValid: opts.MinValid,
		maxValid: maxValid,
		throttle: int64(opts.TimestampThrottle),
		clock:    opts.Clock,
	}
	for i := range t.slots {
		t.slots[i].critical.Store(opts.Critical)
	}
	return t
}

// Name is the table's configured name.
func (t *Table) Name() string { return t.name }

// Size is the width of the id space.
func (t *Table) Size() int { return len(t.slots) }

// OutOfRange counts samples addressed to ids outside the table.
func (t *Table) OutOfRange() uint64 { return t.outOfRange.Load() }

func (t *Table) slot(id uint32) *slot {
	if int64(id) >= int64(len(t.slots)) {
		t.outOfRange.Add(1)
		return nil
	}
	return &t.slots[id]
}

// RecordSample stores value as the unit's current reading and folds it into
// the peak. Implausible values are counted as errors on the unit and dropped.
func (t *Table) RecordSample(id uint32, value uint64) bool {
	s := t.slot(id)
	if s == nil {
		return false
	}
	if value < t.minValid || value > t.maxValid {
		s.errors.Add(1)
		return false
	}

	s.current.Store(value)
	for {
		peak := s.peak.Load()
		if value <= peak || s.peak.CompareAndSwap(peak, value) {
			break
		}
	}
	s.samples.Add(1)

	now := t.clock.Now()
	if !s.present.Load() && s.present.CompareAndSwap(false, true) {
		s.timestamp.Store(now)
		return true
	}
	last := s.timestamp.Load()
	if now-last > t.throttle {
		s.timestamp.CompareAndSwap(last, now)
	}
	return true
}

// RecordError counts a failed reading for unit id.
func (t *Table) RecordError(id uint32) {
	if s := t.slot(id); s != nil {
		s.errors.Add(1)
	}
}

// Errors returns the failed and rejected readings counted for unit id, whether
// or not the unit has been observed yet.
func (t *Table) Errors(id uint32) uint64 {
	if int64(id) >= int64(len(t.slots)) {
		return 0
	}
	return t.slots[id].errors.Load()
}

// SetCritical overrides the critical threshold for one unit.
func (t *Table) SetCritical(id uint32, threshold uint64) {
	if s := t.slot(id); s != nil {
		s.critical.Store(threshold)
	}
}

// Lookup copies the record of an observed unit. Errors counted before the
// first valid sample are readable through Errors.
func (t *Table) Lookup(id uint32) (types.UnitRecord, bool) {
	if int64(id) >= int64(len(t.slots)) {
		return types.UnitRecord{}, false
	}
	s := &t.slots[id]
	if !s.present.Load() {
		return types.UnitRecord{}, false
	}
	return s.record(id), true
}

// IDs lists the observed unit ids.
func (t *Table) IDs() []uint32 {
	var ids []uint32
	for i := range t.slots {
		if t.slots[i].present.Load() {
			ids = append(ids, uint32(i))
		}
	}
	return ids
}

// Snapshot copies every observed unit in id order.
func (t *Table) Snapshot() []types.UnitRecord {
	var out []types.UnitRecord
	for i := range t.slots {
		if t.slots[i].present.Load() {
			out = append(out, t.slots[i].record(uint32(i)))
		}
	}
	return out
}

func (s *slot) record(id uint32) types.UnitRecord {
	return types.UnitRecord{
		UnitID:      id,
		Current:     s.current.Load(),
		Peak:        s.peak.Load(),
		Critical:    s.critical.Load(),
		Timestamp:   s.timestamp.Load(),
		SampleCount: s.samples.Load(),
		ErrorCount:  s.errors.Load(),
	}
}
