package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation range constants.
const (
	minConcurrentRuns = 1
	maxConcurrentRuns = 64
	minRunBudget      = 1 * time.Minute
	minCacheTTL       = 1 * time.Second
	minRequestTimeout = 1 * time.Second
	maxSorRPS         = 50.0
)

// Validate checks all configuration values and returns all errors
// found. It accumulates every error rather than stopping at the first,
// so users see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validatePlans(&cfg.Plans)...)

	return errors.Join(errs...)
}

func validateScheduler(s *SchedulerConfig) []error {
	var errs []error

	if _, err := cron.ParseStandard(s.Cron); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.cron: %w", err))
	}

	if s.MaxConcurrentRuns < minConcurrentRuns || s.MaxConcurrentRuns > maxConcurrentRuns {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrent_runs: must be between %d and %d, got %d",
			minConcurrentRuns, maxConcurrentRuns, s.MaxConcurrentRuns))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if d, err := time.ParseDuration(s.RunBudget); err != nil {
		errs = append(errs, fmt.Errorf("sync.run_budget: %w", err))
	} else if d < minRunBudget {
		errs = append(errs, fmt.Errorf("sync.run_budget: must be at least %s, got %s", minRunBudget, d))
	}

	if s.ValidationMode != "strict" && s.ValidationMode != "lenient" {
		errs = append(errs, fmt.Errorf("sync.validation_mode: must be strict or lenient, got %q", s.ValidationMode))
	}

	if d, err := time.ParseDuration(s.LinkedRecordCacheTTL); err != nil {
		errs = append(errs, fmt.Errorf("sync.linked_record_cache_ttl: %w", err))
	} else if d < minCacheTTL {
		errs = append(errs, fmt.Errorf("sync.linked_record_cache_ttl: must be at least %s, got %s", minCacheTTL, d))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch l.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.log_level: must be debug, info, warn, or error, got %q", l.LogLevel))
	}

	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: must be auto, text, or json, got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.SorBaseURL == "" {
		errs = append(errs, errors.New("network.sor_base_url: must not be empty"))
	}

	if n.GridBaseURL == "" {
		errs = append(errs, errors.New("network.grid_base_url: must not be empty"))
	}

	if n.SorRequestsPerSecond <= 0 || n.SorRequestsPerSecond > maxSorRPS {
		errs = append(errs, fmt.Errorf("network.sor_requests_per_second: must be in (0, %g], got %g",
			maxSorRPS, n.SorRequestsPerSecond))
	}

	if d, err := time.ParseDuration(n.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("network.request_timeout: %w", err))
	} else if d < minRequestTimeout {
		errs = append(errs, fmt.Errorf("network.request_timeout: must be at least %s, got %s", minRequestTimeout, d))
	}

	return errs
}

func validatePlans(p *PlansConfig) []error {
	var errs []error

	if p.TrialDays < 0 {
		errs = append(errs, fmt.Errorf("plans.trial_days: must not be negative, got %d", p.TrialDays))
	}

	if p.MaxRecordsPerSync < 0 {
		errs = append(errs, fmt.Errorf("plans.max_records_per_sync: must not be negative, got %d", p.MaxRecordsPerSync))
	}

	return errs
}
