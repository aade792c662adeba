// Package report condenses ledger snapshots into ranked, diagnosed rows.
package report

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/srodi/waitlens/pkg/procfs"
	"github.com/srodi/waitlens/pkg/types"
)

// Seams for tests; both normally hit /proc.
var (
	rssBytesForPIDs = procfs.RSSBytesForPIDs
	commLookup      = func() func(uint32) string { return procfs.NewCommCache().Comm }
)

// SubjectRow condenses one subject's activity during one window.
type SubjectRow struct {
	PID        uint32
	GroupID    uint32
	Comm       string
	TotalNs    uint64
	TotalMs    float64
	Share      [types.NumCategories]float64 // percent of TotalNs per category
	CPUPercent float64                      // execution time over window capacity
	RSSMB      float64
	RSSRatio   float64
	Dominant   types.Category
	Diagnosis  string
}

// WaitShare is the percentage of the window spent in c.
func (r SubjectRow) WaitShare(c types.Category) float64 {
	if !c.Valid() {
		return 0
	}
	return r.Share[c]
}

// FilterConfig controls which subjects appear in tables.
type FilterConfig struct {
	HideKernel *bool // nil defaults to true so kernel threads stay hidden unless explicitly shown
	CommFilter string
}

func (cfg FilterConfig) hideKernelEnabled() bool {
	if cfg.HideKernel == nil {
		return true
	}
	return *cfg.HideKernel
}

// BuildRows derives percentages, the dominant category and a diagnosis for
// every subject with activity in recs.
func BuildRows(recs []types.StatsRecord, interval time.Duration) []SubjectRow {
	totalMemBytes := getTotalMem()
	totalCapacity := float64(interval.Nanoseconds()) * float64(runtime.NumCPU())
	comm := commLookup()

	rows := make([]SubjectRow, 0, len(recs))
	pids := make([]uint32, 0, len(recs))
	for _, rec := range recs {
		if rec.Total == 0 {
			continue
		}
		row := SubjectRow{
			PID:     rec.PID,
			GroupID: rec.GroupID,
			Comm:    rec.Comm,
			TotalNs: rec.Total,
			TotalMs: float64(rec.Total) / 1e6,
		}
		if row.Comm == "" {
			row.Comm = comm(rec.PID)
		}
		// shares are taken over the category sum so they add up to 100 even
		// when Total was read mid-update
		sum := rec.CategorySum()
		if sum == 0 {
			sum = rec.Total
		}
		best := uint64(0)
		for _, c := range types.Categories() {
			d := rec.Duration(c)
			row.Share[c] = 100 * float64(d) / float64(sum)
			if c != types.Execution && d > best {
				best = d
				row.Dominant = c
			}
		}
		if best == 0 {
			row.Dominant = types.Execution
		}
		if totalCapacity > 0 {
			row.CPUPercent = 100 * float64(rec.Duration(types.Execution)) / totalCapacity
		}
		rows = append(rows, row)
		pids = append(pids, rec.PID)
	}

	rss := rssBytesForPIDs(pids)
	for i := range rows {
		if v, ok := rss[rows[i].PID]; ok {
			rows[i].RSSMB = float64(v) / (1024 * 1024)
			rows[i].RSSRatio = float64(v) / float64(totalMemBytes)
		}
		rows[i].Diagnosis = classify(&rows[i])
	}
	return rows
}

// FilterRows applies the kernel and comm filters.
func FilterRows(rows []SubjectRow, cfg FilterConfig) []SubjectRow {
	filtered := make([]SubjectRow, 0, len(rows))
	for _, row := range rows {
		if passesFilters(row, cfg) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// TopRows returns the rows with the largest total up to topK.
func TopRows(rows []SubjectRow, topK int) []SubjectRow {
	candidates := append([]SubjectRow(nil), rows...)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].TotalNs == candidates[j].TotalNs {
			return candidates[i].PID < candidates[j].PID
		}
		return candidates[i].TotalNs > candidates[j].TotalNs
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// TopWaiters returns rows ranked by time spent in c, skipping subjects with none.
func TopWaiters(rows []SubjectRow, c types.Category, topK int) []SubjectRow {
	candidates := make([]SubjectRow, 0, len(rows))
	for _, row := range rows {
		if row.WaitShare(c) > 0 {
			candidates = append(candidates, row)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].WaitShare(c)*candidates[i].TotalMs > candidates[j].WaitShare(c)*candidates[j].TotalMs
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// SelectFocusCandidate picks the most interesting subject to summarize for the operator.
func SelectFocusCandidate(rows []SubjectRow) *SubjectRow {
	if len(rows) == 0 {
		return nil
	}
	var best *SubjectRow
	bestScore := -1.0
	for _, row := range rows {
		severity := diagnosisSeverity(row.Diagnosis)
		if severity == 0 && row.CPUPercent < 1 {
			continue
		}
		score := float64(severity)*1000 + row.TotalMs/1000
		if best == nil || score > bestScore {
			copy := row
			best = &copy
			bestScore = score
		}
	}
	if best != nil {
		return best
	}
	maxIdx := 0
	for i := 1; i < len(rows); i++ {
		if rows[i].TotalNs > rows[maxIdx].TotalNs {
			maxIdx = i
		}
	}
	copy := rows[maxIdx]
	return &copy
}

// FocusSummary returns a short explanation string for the status line.
func FocusSummary(row SubjectRow) string {
	switch row.Diagnosis {
	case "Mem-pressure":
		return fmt.Sprintf("%.0f%% of time in memory wait, %.0f MB RSS",
			row.Share[types.MemoryWait], row.RSSMB)
	case "Starved":
		return fmt.Sprintf("%.0f%% of time runnable but waiting, only %.1f%% CPU",
			row.Share[types.CPUWait], row.CPUPercent)
	case "Lock-contended":
		return fmt.Sprintf("%.0f%% of time in lock wait", row.Share[types.LockWait])
	case "IO-bound":
		return fmt.Sprintf("%.0f%% disk wait, %.0f%% async I/O wait",
			row.Share[types.DiskWait], row.Share[types.IOWait])
	case "Net-bound":
		return fmt.Sprintf("%.0f%% of time in network wait", row.Share[types.NetworkWait])
	case "GPU-bound":
		return fmt.Sprintf("%.0f%% of time waiting on the GPU", row.Share[types.GPUWait])
	case "CPU-bound":
		return fmt.Sprintf("%.1f%% CPU, %.0f%% of time executing",
			row.CPUPercent, row.Share[types.Execution])
	default:
		return fmt.Sprintf("%.1f%% CPU, mostly %s", row.CPUPercent, row.Dominant)
	}
}

var totalMemOnce sync.Once
var totalMem uint64

func getTotalMem() uint64 {
	totalMemOnce.Do(func() {
		if v, err := procfs.TotalMemoryBytes(); err == nil && v > 0 {
			totalMem = v
		} else {
			totalMem = 1 // safe fallback
		}
	})
	return totalMem
}

func classify(row *SubjectRow) string {
	s := row.Share
	memWait := s[types.MemoryWait]

	// --- highest priority: memory pressure ---
	if memWait >= 30 || (row.RSSRatio > 0.3 && memWait >= 10) {
		return "Mem-pressure"
	}
	if s[types.CPUWait] >= 30 {
		return "Starved"
	}
	if s[types.LockWait] >= 30 {
		return "Lock-contended"
	}
	if s[types.DiskWait]+s[types.IOWait] >= 40 {
		return "IO-bound"
	}
	if s[types.NetworkWait] >= 30 {
		return "Net-bound"
	}
	if s[types.GPUWait] >= 30 {
		return "GPU-bound"
	}
	if row.CPUPercent > 50 && s[types.Execution] >= 70 {
		return "CPU-bound"
	}
	return "OK"
}

func passesFilters(row SubjectRow, cfg FilterConfig) bool {
	if cfg.hideKernelEnabled() && isKernelThread(row) {
		return false
	}
	if cfg.CommFilter != "" {
		if !strings.Contains(strings.ToLower(row.Comm), strings.ToLower(cfg.CommFilter)) {
			return false
		}
	}
	return true
}

func isKernelThread(row SubjectRow) bool {
	if row.PID == 0 {
		return true
	}
	name := strings.ToLower(row.Comm)
	switch {
	case strings.HasPrefix(name, "kworker"), strings.HasPrefix(name, "ksoftirqd"), strings.HasPrefix(name, "kthreadd"),
		strings.HasPrefix(name, "migration"), strings.HasPrefix(name, "watchdog"), strings.HasPrefix(name, "rcu"),
		strings.HasPrefix(name, "irq/"):
		return true
	}
	return false
}

func diagnosisSeverity(label string) int {
	switch label {
	case "Mem-pressure":
		return 7
	case "Starved":
		return 6
	case "Lock-contended":
		return 5
	case "IO-bound":
		return 4
	case "Net-bound":
		return 3
	case "GPU-bound":
		return 2
	case "CPU-bound":
		return 1
	default:
		return 0
	}
}
