package config

// Default values for configuration options. These are chosen so the
// engine runs safely with no config file at all.
const (
	defaultCron              = "*/5 * * * *"
	defaultMaxConcurrentRuns = 4
	defaultRunBudget         = "15m"
	defaultValidationMode    = "lenient"
	defaultLinkedCacheTTL    = "5m"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultSorBaseURL        = "https://api.airtable.com/v0"
	defaultGridBaseURL       = "https://sheets.googleapis.com/v4"
	defaultSorRPS            = 5.0
	defaultRequestTimeout    = "60s"
	defaultTrialDays         = 14
	defaultMaxRecordsPerSync = 0
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding so unset fields retain
// their defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Cron:              defaultCron,
			MaxConcurrentRuns: defaultMaxConcurrentRuns,
		},
		Sync: SyncConfig{
			RunBudget:            defaultRunBudget,
			ValidationMode:       defaultValidationMode,
			LinkedRecordCacheTTL: defaultLinkedCacheTTL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			SorBaseURL:           defaultSorBaseURL,
			GridBaseURL:          defaultGridBaseURL,
			SorRequestsPerSecond: defaultSorRPS,
			RequestTimeout:       defaultRequestTimeout,
		},
		Plans: PlansConfig{
			TrialDays:         defaultTrialDays,
			MaxRecordsPerSync: defaultMaxRecordsPerSync,
		},
	}
}
