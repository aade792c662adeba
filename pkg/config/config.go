// Package config loads waitlens settings from defaults, an optional YAML file,
// an optional .env file and WAITLENS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/srodi/waitlens/pkg/ledger"
	"github.com/srodi/waitlens/pkg/types"
)

// Config is the full agent configuration.
type Config struct {
	Ledger     LedgerConfig     `yaml:"ledger"`
	Units      []UnitConfig     `yaml:"units" validate:"dive"`
	Collectors CollectorsConfig `yaml:"collectors"`
	API        APIConfig        `yaml:"api"`
	View       ViewConfig       `yaml:"view"`
	Log        LogConfig        `yaml:"log"`
}

// LedgerConfig sizes the subject table.
type LedgerConfig struct {
	MaxSubjects   int                      `yaml:"max_subjects" validate:"min=1,max=1048576"`
	Shards        int                      `yaml:"shards" validate:"min=1,max=4096"`
	MaxDelta      time.Duration            `yaml:"max_delta" validate:"gt=0"`
	StaleAfter    time.Duration            `yaml:"stale_after" validate:"gte=0"`
	SweepInterval time.Duration            `yaml:"sweep_interval" validate:"gte=0"`
	Estimates     map[string]time.Duration `yaml:"estimates,omitempty"`
}

// UnitConfig describes one per-unit table and where its samples come from.
type UnitConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Source   string `yaml:"source" validate:"oneof=cpu_util cpu_temp gpu_busy none"`
	Size     int    `yaml:"size" validate:"min=1,max=4096"`
	Scale    string `yaml:"scale"`
	Critical uint64 `yaml:"critical"`
	// CriticalOverrides replaces Critical for individual unit ids; zero disables one.
	CriticalOverrides map[uint32]uint64 `yaml:"critical_overrides,omitempty"`
	MinValid          uint64            `yaml:"min_valid"`
	MaxValid          uint64            `yaml:"max_valid" validate:"omitempty,gtefield=MinValid"`
	TimestampThrottle time.Duration     `yaml:"timestamp_throttle" validate:"gte=0"`
	SampleInterval    time.Duration     `yaml:"sample_interval" validate:"gt=0"`
	ReduceInterval    time.Duration     `yaml:"reduce_interval" validate:"gt=0"`
}

// CollectorsConfig points at the compiled BPF objects and sizes the dispatcher.
type CollectorsConfig struct {
	EventsObject  string        `yaml:"events_object"`
	FaultsObject  string        `yaml:"faults_object"`
	Workers       int           `yaml:"workers" validate:"min=1,max=256"`
	QueueDepth    int           `yaml:"queue_depth" validate:"min=1"`
	FaultInterval time.Duration `yaml:"fault_interval" validate:"gt=0"`
	MaxFaultPIDs  int           `yaml:"max_fault_pids" validate:"min=1"`
}

// APIConfig controls the read-only HTTP surface. An empty Listen disables it.
type APIConfig struct {
	Listen         string        `yaml:"listen"`
	StreamInterval time.Duration `yaml:"stream_interval" validate:"gt=0"`
}

// ViewConfig controls the terminal view.
type ViewConfig struct {
	Disabled   bool          `yaml:"disabled"`
	Interval   time.Duration `yaml:"interval" validate:"gt=0"`
	TopK       int           `yaml:"topk" validate:"min=1"`
	HideKernel bool          `yaml:"hide_kernel"`
	CommFilter string        `yaml:"comm_filter,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			MaxSubjects: ledger.DefaultMaxSubjects,
			Shards:      ledger.DefaultShards,
			MaxDelta:    ledger.DefaultMaxDelta,
		},
		Units: []UnitConfig{
			{
				Name: "cpu_util", Source: "cpu_util", Size: 256, Scale: "centipercent",
				Critical: 9500, MaxValid: 10000,
				SampleInterval: time.Second, ReduceInterval: 5 * time.Second,
			},
			{
				Name: "cpu_temp", Source: "cpu_temp", Size: 256, Scale: "millicelsius",
				Critical: 95000, MinValid: 1, MaxValid: 149999, TimestampThrottle: time.Millisecond,
				SampleInterval: 2 * time.Second, ReduceInterval: 5 * time.Second,
			},
			{
				Name: "gpu_busy", Source: "gpu_busy", Size: 8, Scale: "percent",
				Critical: 95, MaxValid: 100,
				SampleInterval: time.Second, ReduceInterval: 5 * time.Second,
			},
		},
		Collectors: CollectorsConfig{
			EventsObject:  "/usr/lib/waitlens/events.bpf.o",
			FaultsObject:  "/usr/lib/waitlens/faults.bpf.o",
			Workers:       4,
			QueueDepth:    4096,
			FaultInterval: time.Second,
			MaxFaultPIDs:  ledger.DefaultMaxSubjects,
		},
		API: APIConfig{
			Listen:         "127.0.0.1:9477",
			StreamInterval: 2 * time.Second,
		},
		View: ViewConfig{
			Interval:   5 * time.Second,
			TopK:       types.DefaultTopK,
			HideKernel: true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadOptions names the optional inputs to Load.
type LoadOptions struct {
	// Path is a YAML file; empty skips it.
	Path string
	// EnvFile is a dotenv file; empty tries ./.env and ignores its absence.
	EnvFile string
}

// Load layers the file and environment over the defaults and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", opts.Path, err)
		}
	}

	if err := loadDotenv(opts.EnvFile); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Dump writes cfg as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Policy builds the ledger routing policy with any configured estimates.
func (c *Config) Policy() (ledger.Policy, error) {
	return ledger.DefaultPolicy().WithEstimates(c.Ledger.Estimates)
}

// LedgerOptions maps the ledger section onto ledger.Options.
func (c *Config) LedgerOptions() (ledger.Options, error) {
	policy, err := c.Policy()
	if err != nil {
		return ledger.Options{}, err
	}
	return ledger.Options{
		MaxSubjects: c.Ledger.MaxSubjects,
		Shards:      c.Ledger.Shards,
		MaxDelta:    c.Ledger.MaxDelta,
		Policy:      &policy,
	}, nil
}
