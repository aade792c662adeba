package ledger

import (
	"sync/atomic"

	"github.com/srodi/waitlens/pkg/types"
)

// record is the live accounting state for one generation of a subject. The
// identity fields are fixed at creation; every counter is an independent atomic.
type record struct {
	pid        uint32
	groupID    uint32
	generation uint64
	comm       string
	created    int64

	durations  [types.NumCategories]atomic.Uint64
	counts     [types.NumCategories]atomic.Uint64
	total      atomic.Uint64
	lastUpdate atomic.Int64
}

func newRecord(pid, groupID uint32, generation uint64, comm string, now int64) *record {
	r := &record{
		pid:        pid,
		groupID:    groupID,
		generation: generation,
		comm:       truncateComm(comm),
		created:    now,
	}
	r.lastUpdate.Store(now)
	return r
}

// add applies one increment standing for n occurrences. The category field and
// the total are two separate atomic adds; readers may observe either one first.
func (r *record) add(c types.Category, amount, n uint64, now int64) {
	r.durations[c].Add(amount)
	r.counts[c].Add(n)
	r.total.Add(amount)
	r.lastUpdate.Store(now)
}

func (r *record) snapshot() types.StatsRecord {
	out := types.StatsRecord{
		PID:        r.pid,
		GroupID:    r.groupID,
		Generation: r.generation,
		Comm:       r.comm,
		CreatedNs:  r.created,
	}
	for i := range r.durations {
		out.Durations[i] = r.durations[i].Load()
		out.Counts[i] = r.counts[i].Load()
	}
	out.Total = r.total.Load()
	out.LastUpdate = r.lastUpdate.Load()
	return out
}

// commLen matches the kernel's TASK_COMM_LEN minus the terminator.
const commLen = 15

func truncateComm(s string) string {
	if len(s) > commLen {
		return s[:commLen]
	}
	return s
}
