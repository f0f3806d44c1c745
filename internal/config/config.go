// Package config implements TOML configuration loading, validation, and
// environment-variable secret resolution for gridsync. Configuration
// follows a three-layer override chain (defaults -> config file ->
// environment); secrets such as API credentials and the encryption key
// never live in the config file and are read exclusively from the
// environment.
package config

// Config is the top-level configuration structure parsed from a TOML
// file. Every section has a complete set of defaults so the process can
// start with no config file at all.
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Sync      SyncConfig      `toml:"sync"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
	Plans     PlansConfig     `toml:"plans"`
}

// SchedulerConfig controls the background run loop.
type SchedulerConfig struct {
	// Cron is a standard five-field cron expression.
	Cron string `toml:"cron"`
	// MaxConcurrentRuns caps how many sync configurations execute at
	// once per scheduler tick.
	MaxConcurrentRuns int `toml:"max_concurrent_runs"`
}

// SyncConfig controls pipeline behavior shared by every run.
type SyncConfig struct {
	// RunBudget is the soft wall-clock limit for one pipeline run;
	// when exceeded the run finalizes as PARTIAL.
	RunBudget string `toml:"run_budget"`
	// ValidationMode is the default row validation mode for grid
	// reads: "strict" aborts on the first bad row, "lenient" skips it.
	ValidationMode string `toml:"validation_mode"`
	// LinkedRecordCacheTTL bounds how long resolved linked-record
	// name/ID pairs are trusted.
	LinkedRecordCacheTTL string `toml:"linked_record_cache_ttl"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text", or "json"
}

// NetworkConfig controls the HTTP clients for both external APIs.
type NetworkConfig struct {
	SorBaseURL  string `toml:"sor_base_url"`
	GridBaseURL string `toml:"grid_base_url"`
	// SorRequestsPerSecond feeds the process-wide token-bucket limiter
	// in front of the SOR API.
	SorRequestsPerSecond float64 `toml:"sor_requests_per_second"`
	RequestTimeout       string  `toml:"request_timeout"`
}

// PlansConfig sets subscription limits enforced by the plan guard.
type PlansConfig struct {
	TrialDays int `toml:"trial_days"`
	// MaxRecordsPerSync caps writes in one run; 0 disables the cap.
	MaxRecordsPerSync int `toml:"max_records_per_sync"`
}
