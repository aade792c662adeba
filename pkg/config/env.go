package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupFunc matches os.LookupEnv so tests can pass a map.
type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	num("WAITLENS_MAX_SUBJECTS", &cfg.Ledger.MaxSubjects)
	num("WAITLENS_SHARDS", &cfg.Ledger.Shards)
	dur("WAITLENS_MAX_DELTA", &cfg.Ledger.MaxDelta)
	dur("WAITLENS_STALE_AFTER", &cfg.Ledger.StaleAfter)
	dur("WAITLENS_SWEEP_INTERVAL", &cfg.Ledger.SweepInterval)
	str("WAITLENS_EVENTS_OBJECT", &cfg.Collectors.EventsObject)
	str("WAITLENS_FAULTS_OBJECT", &cfg.Collectors.FaultsObject)
	num("WAITLENS_WORKERS", &cfg.Collectors.Workers)
	num("WAITLENS_QUEUE_DEPTH", &cfg.Collectors.QueueDepth)
	if v, ok := lookup("WAITLENS_LISTEN"); ok {
		// an explicitly empty value turns the API off
		cfg.API.Listen = strings.TrimSpace(v)
	}
	str("WAITLENS_LOG_LEVEL", &cfg.Log.Level)
	str("WAITLENS_LOG_FORMAT", &cfg.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
