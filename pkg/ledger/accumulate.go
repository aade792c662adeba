package ledger

import (
	"math"

	"github.com/srodi/waitlens/pkg/types"
)

// RecordEvent adds amount nanoseconds to category c of subject id and to its
// total. With Strict creation an untracked id is dropped; with Lazy a zeroed
// record is created first. Negative amounts are rejected and amounts above the
// configured ceiling are clamped to it. It reports whether the increment landed.
func (l *Ledger) RecordEvent(id uint32, c types.Category, amount int64, creation Creation) bool {
	return l.accumulate(id, id, "", c, amount, 1, creation, 0)
}

// occurrences is how many events the increment stands for; it feeds the
// category count.
func (l *Ledger) accumulate(id, groupID uint32, comm string, c types.Category, amount int64, occurrences uint64, creation Creation, ts int64) bool {
	if !c.Valid() {
		l.implausibleDrops.Add(1)
		return false
	}
	delta, ok := l.plausible(amount)
	if !ok {
		return false
	}

	r := l.table.get(id)
	if r == nil {
		if creation == Strict {
			l.absentDrops.Add(1)
			return false
		}
		if r = l.ensure(id, groupID, comm, ts); r == nil {
			return false
		}
	}
	if ts == 0 {
		ts = l.clock.Now()
	}
	r.add(c, delta, occurrences, ts)
	return true
}

func (l *Ledger) plausible(amount int64) (uint64, bool) {
	if amount < 0 {
		l.implausibleDrops.Add(1)
		return 0, false
	}
	delta := uint64(amount)
	if delta > l.maxDelta {
		l.clamped.Add(1)
		delta = l.maxDelta
	}
	return delta, true
}

// Apply routes one producer event through the policy.
func (l *Ledger) Apply(ev types.Event) {
	rule, ok := l.policy.Rule(ev.Kind)
	if !ok {
		l.implausibleDrops.Add(1)
		return
	}
	ts := ev.Timestamp
	if ts <= 0 {
		ts = l.clock.Now()
	}

	switch rule.Action {
	case ActionStart:
		l.start(ev.PID, ev.GroupID, ev.Comm, ts)
	case ActionExit:
		l.OnExit(ev.PID)
	case ActionEnsure:
		l.ensure(ev.PID, ev.GroupID, ev.Comm, ts)
	case ActionAccumulate:
		amount, ok := rule.amount(ev.Payload)
		if !ok {
			return
		}
		l.accumulate(ev.PID, ev.GroupID, ev.Comm, rule.Category, amount, rule.occurrences(ev.Payload), rule.Creation, ts)
	}
}

// occurrences is the number of events one payload carries: the count itself
// for PerCount kinds, one otherwise.
func (r Rule) occurrences(payload int64) uint64 {
	if r.Amount == PerCount && payload > 0 {
		return uint64(payload)
	}
	return 1
}

// amount converts an event payload into the increment the rule charges. A
// measured kind with nothing measured and no estimate yields no increment.
func (r Rule) amount(payload int64) (int64, bool) {
	switch r.Amount {
	case Estimated:
		return int64(r.Estimate), true
	case PerCount:
		if payload <= 0 {
			return 0, false
		}
		if r.Estimate > 0 && payload > math.MaxInt64/int64(r.Estimate) {
			return math.MaxInt64, true
		}
		return payload * int64(r.Estimate), true
	default:
		if payload == 0 {
			if r.Estimate > 0 {
				return int64(r.Estimate), true
			}
			return 0, false
		}
		return payload, true
	}
}
