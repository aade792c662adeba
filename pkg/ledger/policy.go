package ledger

import (
	"fmt"
	"time"

	"github.com/srodi/waitlens/pkg/types"
)

// Creation decides what an increment does when the subject has no record.
type Creation uint8

const (
	// Strict drops increments for untracked subjects.
	Strict Creation = iota
	// Lazy creates a zeroed record first.
	Lazy
)

func (c Creation) String() string {
	if c == Lazy {
		return "lazy"
	}
	return "strict"
}

// Action is what an event kind does to the table.
type Action uint8

const (
	ActionAccumulate Action = iota
	ActionStart
	ActionExit
	ActionEnsure
)

// AmountSource says where an increment's size comes from.
type AmountSource uint8

const (
	// Measured uses the event payload as nanoseconds. A zero payload falls back
	// to Estimate when one is set and is skipped otherwise.
	Measured AmountSource = iota
	// Estimated charges Estimate per occurrence and ignores the payload.
	Estimated
	// PerCount charges Estimate for each of the payload's occurrences.
	PerCount
)

// Rule routes one event kind.
type Rule struct {
	Action   Action
	Category types.Category
	Creation Creation
	Amount   AmountSource
	Estimate time.Duration
}

// Policy maps every event kind to its rule.
type Policy struct {
	rules map[types.EventKind]Rule
}

// DefaultPolicy is the fixed routing table. Where a kernel occurrence carries
// no duration, the estimate stands in for the typical cost of one occurrence.
func DefaultPolicy() Policy {
	return Policy{rules: map[types.EventKind]Rule{
		types.KindStart:      {Action: ActionStart},
		types.KindExit:       {Action: ActionExit},
		types.KindSwitchIn:   {Action: ActionEnsure, Creation: Lazy},
		types.KindSwitchOut:  {Category: types.Execution, Amount: Measured, Estimate: time.Millisecond},
		types.KindStatWait:   {Category: types.CPUWait, Amount: Measured},
		types.KindBlockIssue: {Category: types.DiskWait, Amount: Estimated, Estimate: 500 * time.Microsecond},
		types.KindIOSubmit:   {Category: types.IOWait, Amount: Estimated, Estimate: 400 * time.Microsecond},
		types.KindNetQueue:   {Category: types.NetworkWait, Amount: Estimated, Estimate: 300 * time.Microsecond},
		types.KindFutex:      {Category: types.LockWait, Amount: Estimated, Estimate: 200 * time.Microsecond},
		types.KindMmap:       {Category: types.MemoryWait, Amount: Estimated, Estimate: 150 * time.Microsecond},
		types.KindPageFaults: {Category: types.MemoryWait, Amount: PerCount, Estimate: 2 * time.Microsecond},
		types.KindGPUWait:    {Category: types.GPUWait, Creation: Lazy, Amount: Measured},
		types.KindOther:      {Category: types.OtherWait, Amount: Measured},
	}}
}

// Rule returns the rule for kind.
func (p Policy) Rule(kind types.EventKind) (Rule, bool) {
	r, ok := p.rules[kind]
	return r, ok
}

// WithEstimates returns a copy of p with the per-occurrence estimates of the
// named kinds replaced. Only accumulating kinds accept an estimate.
func (p Policy) WithEstimates(estimates map[string]time.Duration) (Policy, error) {
	out := Policy{rules: make(map[types.EventKind]Rule, len(p.rules))}
	for k, r := range p.rules {
		out.rules[k] = r
	}
	for name, d := range estimates {
		kind, err := types.ParseEventKind(name)
		if err != nil {
			return Policy{}, err
		}
		r, ok := out.rules[kind]
		if !ok || r.Action != ActionAccumulate {
			return Policy{}, fmt.Errorf("event kind %s does not take an estimate", kind)
		}
		if d < 0 {
			return Policy{}, fmt.Errorf("estimate for %s must not be negative", kind)
		}
		r.Estimate = d
		out.rules[kind] = r
	}
	return out, nil
}
