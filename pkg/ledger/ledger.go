// Package ledger accounts how each tracked process spends its time across
// execution and the wait categories. Every operation is fail-open: a full
// table, an untracked subject, or an implausible payload drops the update and
// bumps a counter instead of returning an error to the producer.
package ledger

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/types"
)

const (
	// DefaultMaxSubjects is the default table capacity.
	DefaultMaxSubjects = 10240
	// DefaultShards is the default number of table shards.
	DefaultShards = 64
	// DefaultMaxDelta caps a single measured increment.
	DefaultMaxDelta = 10 * time.Second
)

// Options configures a Ledger. Zero fields take the defaults above.
type Options struct {
	MaxSubjects int
	Shards      int
	MaxDelta    time.Duration
	Policy      *Policy
	Clock       clock.Clock
}

// Ledger is the bounded subject table plus its accumulator.
type Ledger struct {
	table    *table
	policy   Policy
	clock    clock.Clock
	maxDelta uint64

	generation atomic.Uint64

	created          atomic.Uint64
	resets           atomic.Uint64
	removed          atomic.Uint64
	swept            atomic.Uint64
	capacityDrops    atomic.Uint64
	absentDrops      atomic.Uint64
	implausibleDrops atomic.Uint64
	clamped          atomic.Uint64
}

// New builds a ledger from opts.
func New(opts Options) *Ledger {
	if opts.MaxSubjects <= 0 {
		opts.MaxSubjects = DefaultMaxSubjects
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.MaxDelta <= 0 {
		opts.MaxDelta = DefaultMaxDelta
	}
	if opts.Clock == nil {
		opts.Clock = clock.Monotonic{}
	}
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	return &Ledger{
		table:    newTable(opts.MaxSubjects, opts.Shards),
		policy:   policy,
		clock:    opts.Clock,
		maxDelta: uint64(opts.MaxDelta),
	}
}

// Capacity is the maximum number of tracked subjects.
func (l *Ledger) Capacity() int { return int(l.table.capacity) }

// Len is the number of tracked subjects.
func (l *Ledger) Len() int { return l.table.len() }

// EnsureEntry returns the record for id, creating a zeroed one if none exists.
// Concurrent callers for the same unseen id all get the same record. It
// returns false only when the table is full.
func (l *Ledger) EnsureEntry(id uint32) (types.StatsRecord, bool) {
	r := l.ensure(id, id, "", 0)
	if r == nil {
		return types.StatsRecord{}, false
	}
	return r.snapshot(), true
}

func (l *Ledger) ensure(id, groupID uint32, comm string, now int64) *record {
	if groupID == 0 {
		groupID = id
	}
	r, created := l.table.getOrInsert(id, func() *record {
		if now == 0 {
			now = l.clock.Now()
		}
		return newRecord(id, groupID, l.generation.Add(1), comm, now)
	})
	switch {
	case r == nil:
		l.capacityDrops.Add(1)
	case created:
		l.created.Add(1)
	}
	return r
}

// OnStart discards whatever is tracked for id and starts a fresh, zeroed
// generation. It returns false when id is new and the table is full.
func (l *Ledger) OnStart(id, groupID uint32, comm string) bool {
	return l.start(id, groupID, comm, l.clock.Now())
}

func (l *Ledger) start(id, groupID uint32, comm string, now int64) bool {
	if groupID == 0 {
		groupID = id
	}
	r := newRecord(id, groupID, l.generation.Add(1), comm, now)
	if !l.table.replace(id, r) {
		l.capacityDrops.Add(1)
		return false
	}
	l.resets.Add(1)
	return true
}

// OnExit stops tracking id. Removing an untracked id is a no-op.
func (l *Ledger) OnExit(id uint32) {
	if l.table.remove(id) {
		l.removed.Add(1)
	}
}

// Lookup returns a copy of the record for id.
func (l *Ledger) Lookup(id uint32) (types.StatsRecord, bool) {
	r := l.table.get(id)
	if r == nil {
		return types.StatsRecord{}, false
	}
	return r.snapshot(), true
}

// IDs lists the tracked subject ids in ascending order.
func (l *Ledger) IDs() []uint32 {
	ids := make([]uint32, 0, l.table.len())
	l.table.each(func(id uint32, _ *record) {
		ids = append(ids, id)
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot copies every tracked record. The copy is not a consistent cut.
func (l *Ledger) Snapshot() []types.StatsRecord {
	out := make([]types.StatsRecord, 0, l.table.len())
	l.table.each(func(_ uint32, r *record) {
		out = append(out, r.snapshot())
	})
	return out
}

// Sweep removes records that have not been updated for longer than maxAge and
// returns how many it removed. It never runs implicitly.
func (l *Ledger) Sweep(maxAge time.Duration) int {
	return l.SweepFunc(maxAge, nil)
}

// SweepFunc is Sweep with a veto: a stale record is kept when keep reports
// true for its id. A nil keep removes every stale record.
func (l *Ledger) SweepFunc(maxAge time.Duration, keep func(id uint32) bool) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := l.clock.Now() - int64(maxAge)
	n := 0
	l.table.each(func(id uint32, r *record) {
		if r.lastUpdate.Load() >= cutoff || (keep != nil && keep(id)) {
			return
		}
		if l.table.removeIf(id, r) {
			n++
		}
	})
	l.swept.Add(uint64(n))
	return n
}

// Counters returns the drop and lifecycle tallies.
func (l *Ledger) Counters() types.LedgerCounters {
	return types.LedgerCounters{
		Created:          l.created.Load(),
		Resets:           l.resets.Load(),
		Removed:          l.removed.Load(),
		Swept:            l.swept.Load(),
		CapacityDrops:    l.capacityDrops.Load(),
		AbsentDrops:      l.absentDrops.Load(),
		ImplausibleDrops: l.implausibleDrops.Load(),
		Clamped:          l.clamped.Load(),
	}
}
