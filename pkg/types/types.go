package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTopK controls how many subjects the view displays.
const DefaultTopK = 5

// Category is one of the mutually exclusive ways a subject's time is accounted.
type Category uint8

const (
	Execution Category = iota
	IOWait
	CPUWait
	LockWait
	NetworkWait
	DiskWait
	MemoryWait
	GPUWait
	OtherWait

	// NumCategories is the number of accounted categories.
	NumCategories = int(OtherWait) + 1
)

var categoryNames = [NumCategories]string{
	Execution:   "execution",
	IOWait:      "io_wait",
	CPUWait:     "cpu_wait",
	LockWait:    "lock_wait",
	NetworkWait: "network_wait",
	DiskWait:    "disk_wait",
	MemoryWait:  "memory_wait",
	GPUWait:     "gpu_wait",
	OtherWait:   "other_wait",
}

func (c Category) String() string {
	if int(c) < NumCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid reports whether c names an accounted category.
func (c Category) Valid() bool { return int(c) < NumCategories }

// Categories returns every category in field order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// ParseCategory maps a category name back to its value.
func ParseCategory(name string) (Category, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", name)
}

// StatsRecord is a point-in-time copy of one subject's accounting record.
// Fields are read individually, so a copy taken during concurrent updates may
// show a category increment without the matching Total increment or vice versa.
type StatsRecord struct {
	PID        uint32
	GroupID    uint32
	Generation uint64
	Comm       string
	Durations  [NumCategories]uint64
	Counts     [NumCategories]uint64
	Total      uint64
	CreatedNs  int64
	LastUpdate int64
}

// Duration returns the accumulated nanoseconds for c.
func (r StatsRecord) Duration(c Category) uint64 {
	if !c.Valid() {
		return 0
	}
	return r.Durations[c]
}

// Count returns the number of occurrences recorded for c. A batched event,
// such as one page-fault poll, counts each occurrence it carries.
func (r StatsRecord) Count(c Category) uint64 {
	if !c.Valid() {
		return 0
	}
	return r.Counts[c]
}

// CategorySum adds up the category durations. It can differ from Total while
// writers are in flight.
func (r StatsRecord) CategorySum() uint64 {
	var sum uint64
	for _, d := range r.Durations {
		sum += d
	}
	return sum
}

type statsRecordJSON struct {
	PID        uint32            `json:"pid"`
	GroupID    uint32            `json:"group_id"`
	Generation uint64            `json:"generation"`
	Comm       string            `json:"comm"`
	Durations  map[string]uint64 `json:"durations_ns"`
	Counts     map[string]uint64 `json:"counts"`
	Total      uint64            `json:"total_ns"`
	CreatedNs  int64             `json:"created_ns"`
	LastUpdate int64             `json:"last_update_ns"`
}

// MarshalJSON keys the category arrays by category name.
func (r StatsRecord) MarshalJSON() ([]byte, error) {
	out := statsRecordJSON{
		PID:        r.PID,
		GroupID:    r.GroupID,
		Generation: r.Generation,
		Comm:       r.Comm,
		Durations:  make(map[string]uint64, NumCategories),
		Counts:     make(map[string]uint64, NumCategories),
		Total:      r.Total,
		CreatedNs:  r.CreatedNs,
		LastUpdate: r.LastUpdate,
	}
	for i, name := range categoryNames {
		out.Durations[name] = r.Durations[i]
		out.Counts[name] = r.Counts[i]
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; unknown category names are ignored.
func (r *StatsRecord) UnmarshalJSON(data []byte) error {
	var in statsRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = StatsRecord{
		PID:        in.PID,
		GroupID:    in.GroupID,
		Generation: in.Generation,
		Comm:       in.Comm,
		Total:      in.Total,
		CreatedNs:  in.CreatedNs,
		LastUpdate: in.LastUpdate,
	}
	for i, name := range categoryNames {
		r.Durations[i] = in.Durations[name]
		r.Counts[i] = in.Counts[name]
	}
	return nil
}

// LedgerCounters tallies the operations the ledger dropped or adjusted.
type LedgerCounters struct {
	Created          uint64 `json:"created"`
	Resets           uint64 `json:"resets"`
	Removed          uint64 `json:"removed"`
	Swept            uint64 `json:"swept"`
	CapacityDrops    uint64 `json:"capacity_drops"`
	AbsentDrops      uint64 `json:"absent_drops"`
	ImplausibleDrops uint64 `json:"implausible_drops"`
	Clamped          uint64 `json:"clamped"`
}

// UnitRecord is a point-in-time copy of one unit's aggregate.
type UnitRecord struct {
	UnitID      uint32 `json:"unit_id"`
	Current     uint64 `json:"current"`
	Peak        uint64 `json:"peak"`
	Critical    uint64 `json:"critical"`
	Timestamp   int64  `json:"timestamp_ns"`
	SampleCount uint64 `json:"sample_count"`
	ErrorCount  uint64 `json:"error_count"`
}

// UnitSample is one reading produced for a unit table.
type UnitSample struct {
	UnitID uint32
	Value  uint64
}

// SummaryRecord folds a whole unit table into one reading.
type SummaryRecord struct {
	Average       float64 `json:"average"`
	Peak          uint64  `json:"peak"`
	CriticalCount uint32  `json:"critical_count"`
	Observed      uint32  `json:"observed"`
	Timestamp     int64   `json:"timestamp_ns"`
	SampleCount   uint64  `json:"sample_count"`
}
