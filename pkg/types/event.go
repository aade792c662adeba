package types

import (
	"fmt"
	"strings"
)

// EventKind identifies which occurrence a producer observed.
type EventKind uint32

const (
	KindUnknown EventKind = iota
	KindStart
	KindExit
	KindSwitchIn
	KindSwitchOut
	KindStatWait
	KindBlockIssue
	KindIOSubmit
	KindNetQueue
	KindFutex
	KindMmap
	KindPageFaults
	KindGPUWait
	KindOther

	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:    "unknown",
	KindStart:      "start",
	KindExit:       "exit",
	KindSwitchIn:   "switch_in",
	KindSwitchOut:  "switch_out",
	KindStatWait:   "stat_wait",
	KindBlockIssue: "block_issue",
	KindIOSubmit:   "io_submit",
	KindNetQueue:   "net_queue",
	KindFutex:      "futex",
	KindMmap:       "mmap",
	KindPageFaults: "page_faults",
	KindGPUWait:    "gpu_wait",
	KindOther:      "other",
}

func (k EventKind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Valid reports whether k is a known, routable kind.
func (k EventKind) Valid() bool { return k > KindUnknown && k < numKinds }

// EventKinds lists every routable kind.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, numKinds-1)
	for k := KindStart; k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// ParseEventKind maps a kind name back to its value.
func ParseEventKind(name string) (EventKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k := KindStart; k < numKinds; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown event kind %q", name)
}

// Event is what a producer hands to the ledger. Payload is a duration in
// nanoseconds or an occurrence count depending on Kind, and stays signed so
// that underflowed deltas from producers are visible as negative values.
type Event struct {
	Kind      EventKind
	PID       uint32
	GroupID   uint32
	Timestamp int64
	Payload   int64
	Comm      string
}
