package ui

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/srodi/waitlens/pkg/report"
	"github.com/srodi/waitlens/pkg/types"
)

// UnitSummary is one unit table's latest reduction.
type UnitSummary struct {
	Table   string
	Scale   string
	Size    int
	Summary types.SummaryRecord
	OK      bool // false until the first reduction found data
}

// View is everything one frame shows.
type View struct {
	Updated    time.Time
	Interval   time.Duration
	TopK       int
	HideKernel bool
	InstanceID string

	Rows  []report.SubjectRow // already filtered
	Focus *report.SubjectRow
	Units []UnitSummary

	Tracked    int
	Capacity   int
	Counters   types.LedgerCounters
	QueueDrops uint64
}

// shown lists the category columns in display order.
var shown = []struct {
	c     types.Category
	label string
}{
	{types.Execution, "EXEC%"},
	{types.CPUWait, "RUNQ%"},
	{types.DiskWait, "DISK%"},
	{types.IOWait, "AIO%"},
	{types.LockWait, "LOCK%"},
	{types.NetworkWait, "NET%"},
	{types.MemoryWait, "MEM%"},
	{types.GPUWait, "GPU%"},
}

// Render writes one full frame to w.
func Render(w io.Writer, v View) error {
	var buf bytes.Buffer
	buf.WriteString(Banner())
	fmt.Fprintf(&buf, "waitlens %s (press Ctrl+C to exit)\n", v.InstanceID)
	fmt.Fprintf(&buf, "Updated: %s | Interval: %v\n\n", v.Updated.Format(time.RFC3339), v.Interval)

	if v.Focus != nil {
		fmt.Fprintf(&buf, "[!] Focus: %s (pid %d)\n", v.Focus.Comm, v.Focus.PID)
		fmt.Fprintf(&buf, "   Reason: %s - %s\n\n", v.Focus.Diagnosis, report.FocusSummary(*v.Focus))
	} else if len(v.Rows) == 0 {
		fmt.Fprintf(&buf, "[!] No subjects matched current filters (topk=%d, hide-kernel=%t)\n\n", v.TopK, v.HideKernel)
	}

	fmt.Fprintf(&buf, "[Top %d subjects, window %v]\n", v.TopK, v.Interval)
	top := report.TopRows(v.Rows, v.TopK)
	if len(top) == 0 {
		fmt.Fprintln(&buf, "No activity recorded in this window")
	} else {
		tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprint(tw, "PID\tCOMM\tTOTAL(ms)\tCPU(%)")
		for _, col := range shown {
			fmt.Fprintf(tw, "\t%s", col.label)
		}
		fmt.Fprintln(tw, "\tDOMINANT\tDiag")
		for _, row := range top {
			fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f", row.PID, row.Comm, row.TotalMs, row.CPUPercent)
			for _, col := range shown {
				fmt.Fprintf(tw, "\t%.1f", row.WaitShare(col.c))
			}
			fmt.Fprintf(tw, "\t%s\t%s\n", row.Dominant, row.Diagnosis)
		}
		tw.Flush()
	}

	// rank everyone by the wait the focus subject is stuck on
	if v.Focus != nil && v.Focus.Dominant != types.Execution {
		c := v.Focus.Dominant
		if waiters := report.TopWaiters(v.Rows, c, v.TopK); len(waiters) > 0 {
			fmt.Fprintf(&buf, "\n[Top %s waiters]\n", c)
			tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PID\tCOMM\tWAIT(ms)\tSHARE(%)")
			for _, row := range waiters {
				fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.1f\n", row.PID, row.Comm,
					row.TotalMs*row.WaitShare(c)/100, row.WaitShare(c))
			}
			tw.Flush()
		}
	}

	if len(v.Units) > 0 {
		fmt.Fprintf(&buf, "\n[Unit summaries]\n")
		tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TABLE\tAVG\tPEAK\tCRITICAL\tUNITS\tREDUCTIONS")
		for _, u := range v.Units {
			if !u.OK {
				fmt.Fprintf(tw, "%s\t-\t-\t-\t0/%d\t0\n", u.Table, u.Size)
				continue
			}
			s := u.Summary
			critical := fmt.Sprintf("%d", s.CriticalCount)
			if s.CriticalCount > 0 {
				critical = red + critical + reset
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\n", u.Table,
				FormatValue(u.Scale, s.Average), FormatValue(u.Scale, float64(s.Peak)),
				critical, s.Observed, u.Size, s.SampleCount)
		}
		tw.Flush()
	}

	c := v.Counters
	fmt.Fprintf(&buf, "\n%sTracked %d/%d | created %d reset %d removed %d swept %d | dropped: capacity %d absent %d implausible %d queue %d | clamped %d%s\n",
		dim, v.Tracked, v.Capacity, c.Created, c.Resets, c.Removed, c.Swept,
		c.CapacityDrops, c.AbsentDrops, c.ImplausibleDrops, v.QueueDrops, c.Clamped, reset)

	_, err := w.Write(buf.Bytes())
	return err
}

// FormatValue renders a unit reading in its configured scale.
func FormatValue(scale string, v float64) string {
	switch scale {
	case "centipercent":
		return fmt.Sprintf("%.1f%%", v/100)
	case "millicelsius":
		return fmt.Sprintf("%.1f°C", v/1000)
	case "percent":
		return fmt.Sprintf("%.0f%%", v)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
