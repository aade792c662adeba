package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/srodi/waitlens/pkg/api"
	"github.com/srodi/waitlens/pkg/collector/events"
	"github.com/srodi/waitlens/pkg/collector/memory"
	"github.com/srodi/waitlens/pkg/collector/sensors"
	"github.com/srodi/waitlens/pkg/config"
	"github.com/srodi/waitlens/pkg/ledger"
	"github.com/srodi/waitlens/pkg/procfs"
	"github.com/srodi/waitlens/pkg/units"
	"github.com/srodi/waitlens/pkg/worker"
)

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// unitSet is one configured unit table with its reducer.
type unitSet struct {
	cfg     config.UnitConfig
	reducer *units.Reducer
}

func buildUnits(cfgs []config.UnitConfig) []unitSet {
	out := make([]unitSet, 0, len(cfgs))
	for _, uc := range cfgs {
		tbl := units.NewTable(units.Options{
			Name:              uc.Name,
			Size:              uc.Size,
			Critical:          uc.Critical,
			MinValid:          uc.MinValid,
			MaxValid:          uc.MaxValid,
			TimestampThrottle: uc.TimestampThrottle,
		})
		for id, threshold := range uc.CriticalOverrides {
			tbl.SetCritical(id, threshold)
		}
		out = append(out, unitSet{cfg: uc, reducer: units.NewReducer(tbl, nil)})
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	instance := xid.New().String()
	log = log.With("instance", instance)

	// Raise rlimit for locked memory to allow eBPF programs to load.
	if err := raiseMemlock(); err != nil {
		return fmt.Errorf("failed to raise rlimit memlock: %w", err)
	}

	opts, err := cfg.LedgerOptions()
	if err != nil {
		return err
	}
	l := ledger.New(opts)
	disp := events.NewDispatcher(l, cfg.Collectors.Workers, cfg.Collectors.QueueDepth, log)

	evc, err := events.NewCollector(cfg.Collectors.EventsObject, log)
	if err != nil {
		return fmt.Errorf("initializing events collector: %w", err)
	}
	defer evc.Close()

	memc, err := memory.NewCollector(cfg.Collectors.FaultsObject, cfg.Collectors.MaxFaultPIDs)
	if err != nil {
		// page faults only refine memory wait; run without them
		log.Warn("page fault tracker unavailable", "error", err)
		memc = nil
	} else {
		defer memc.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	sched := worker.NewScheduler(log)
	// cancel runs first so scheduled workers see a closed context before Wait
	defer sched.Wait()
	defer cancel()

	sets := buildUnits(cfg.Units)
	apiUnits := make([]api.Unit, 0, len(sets))
	for _, set := range sets {
		sched.RunByDuration(gctx, set.cfg.ReduceInterval, set.reducer)
		apiUnits = append(apiUnits, api.Unit{Reducer: set.reducer, Scale: set.cfg.Scale})

		sampler, err := sensors.New(set.cfg.Source)
		if err != nil {
			return err
		}
		if sampler != nil {
			sched.RunByDuration(gctx, set.cfg.SampleInterval, sensors.NewPoller(sampler, set.reducer.Table()))
		}
	}

	if memc != nil {
		sched.RunByDuration(gctx, cfg.Collectors.FaultInterval, memory.NewPoller(memc, disp.Submit, nil))
	}

	if stale := cfg.Ledger.StaleAfter; stale > 0 {
		sched.RunByDuration(gctx, cfg.Ledger.SweepInterval, worker.Func{
			Label: "sweep",
			Fn: func(ctx context.Context) error {
				// quiet threads that still exist would never be recreated, since
				// the kernel side reports a thread start only once
				if n := l.SweepFunc(stale, procfs.Alive); n > 0 {
					log.Debug("swept stale subjects", "removed", n, "stale_after", stale)
				}
				return nil
			},
		})
	}

	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return evc.Run(gctx, disp.Submit) })

	if cfg.API.Listen != "" {
		srv := api.NewServer(api.Options{
			InstanceID:     instance,
			Store:          l,
			Units:          apiUnits,
			QueueDrops:     disp.Dropped,
			StreamInterval: cfg.API.StreamInterval,
			Log:            log,
		})
		g.Go(func() error { return srv.Start(gctx, cfg.API.Listen) })
	}

	if !cfg.View.Disabled {
		v := &viewer{
			cfg:      cfg.View,
			instance: instance,
			ledger:   l,
			units:    sets,
			drops:    disp.Dropped,
			log:      log,
		}
		g.Go(func() error { return v.run(gctx) })
	}

	log.Info("waitlens running",
		"max_subjects", l.Capacity(), "workers", cfg.Collectors.Workers,
		"units", len(sets), "api", cfg.API.Listen, "view", !cfg.View.Disabled)

	err = g.Wait()
	log.Info("waitlens stopped", "tracked", l.Len(), "queue_drops", disp.Dropped(), "decode_errors", evc.DecodeErrors())
	return err
}
