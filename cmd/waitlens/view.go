package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tebeka/atexit"

	"github.com/srodi/waitlens/pkg/config"
	"github.com/srodi/waitlens/pkg/ledger"
	"github.com/srodi/waitlens/pkg/report"
	"github.com/srodi/waitlens/pkg/ui"
)

type viewer struct {
	cfg      config.ViewConfig
	instance string
	ledger   *ledger.Ledger
	units    []unitSet
	drops    func() uint64
	log      *slog.Logger
}

func (v *viewer) run(ctx context.Context) error {
	cleanupTerminal := enableSingleView(v.log)
	// restore the terminal even when something calls atexit.Fatal
	atexit.Register(cleanupTerminal)
	defer cleanupTerminal()

	window := report.NewWindow()
	ticker := time.NewTicker(v.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := v.frame(window, now); err != nil {
				return err
			}
		}
	}
}

func (v *viewer) frame(window *report.Window, now time.Time) error {
	recs := window.Advance(v.ledger.Snapshot())
	hideKernel := v.cfg.HideKernel
	rows := report.FilterRows(report.BuildRows(recs, v.cfg.Interval), report.FilterConfig{
		HideKernel: &hideKernel,
		CommFilter: v.cfg.CommFilter,
	})

	view := ui.View{
		Updated:    now,
		Interval:   v.cfg.Interval,
		TopK:       v.cfg.TopK,
		HideKernel: hideKernel,
		InstanceID: v.instance,
		Rows:       rows,
		Focus:      report.SelectFocusCandidate(rows),
		Tracked:    v.ledger.Len(),
		Capacity:   v.ledger.Capacity(),
		Counters:   v.ledger.Counters(),
		QueueDrops: v.drops(),
	}
	for _, set := range v.units {
		sum, ok := set.reducer.Summary()
		view.Units = append(view.Units, ui.UnitSummary{
			Table:   set.cfg.Name,
			Scale:   set.cfg.Scale,
			Size:    set.reducer.Table().Size(),
			Summary: sum,
			OK:      ok,
		})
	}

	clearScreen()
	return ui.Render(os.Stdout, view)
}

func clearScreen() {
	fmt.Fprint(os.Stdout, clearHome)
}
