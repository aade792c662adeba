package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srodi/waitlens/pkg/config"
	"github.com/srodi/waitlens/pkg/logger"
)

// rootOptions holds global flags and the loaded configuration.
type rootOptions struct {
	configPath string
	envFile    string

	interval   time.Duration
	topK       int
	hideKernel bool
	commFilter string
	listen     string
	noView     bool
	logLevel   string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "waitlens",
		Short: "waitlens - where the time goes",
		Long: "waitlens attaches eBPF probes, charges each process's time to execution or one of\n" +
			"several wait categories, aggregates per-core and per-GPU sensors, and shows the result\n" +
			"in a live terminal view and a read-only HTTP API.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: opts.configPath, EnvFile: opts.envFile})
			if err != nil {
				return err
			}
			if err := opts.applyFlags(cmd, cfg); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(opts.cfg.Log.Level, opts.cfg.Log.Format, os.Stderr)
			ctx, stop := notifyContext(cmd.Context())
			defer stop()
			return run(ctx, opts.cfg, log)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&opts.envFile, "env-file", "", "dotenv file with WAITLENS_* overrides (default ./.env if present)")

	f := cmd.Flags()
	f.DurationVar(&opts.interval, "interval", 5*time.Second, "view refresh interval (e.g. 3s, 1m)")
	f.IntVar(&opts.topK, "topk", 5, "number of subjects to display")
	f.BoolVar(&opts.hideKernel, "hide-kernel", true, "hide kernel threads such as kworker, ksoftirqd, etc")
	f.StringVar(&opts.commFilter, "comm-filter", "", "only show subjects whose command contains this substring (case-insensitive)")
	f.StringVar(&opts.listen, "listen", "", "API listen address; empty string disables the API")
	f.BoolVar(&opts.noView, "no-view", false, "run headless without the terminal view")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newConfigCommand(opts))
	return cmd
}

// applyFlags layers explicitly set flags over the loaded configuration.
func (o *rootOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("interval") {
		cfg.View.Interval = o.interval
	}
	if changed("topk") {
		cfg.View.TopK = o.topK
	}
	if changed("hide-kernel") {
		cfg.View.HideKernel = o.hideKernel
	}
	if changed("comm-filter") {
		cfg.View.CommFilter = strings.TrimSpace(o.commFilter)
	}
	if changed("listen") {
		cfg.API.Listen = o.listen
	}
	if changed("no-view") {
		cfg.View.Disabled = o.noView
	}
	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
