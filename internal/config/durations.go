package config

import "time"

// Duration accessors. Validation guarantees the strings parse; the
// fallbacks only matter for hand-built Config values in tests.

// RunBudgetDuration returns the parsed run budget.
func (s SyncConfig) RunBudgetDuration() time.Duration {
	return parseDurationOr(s.RunBudget, 15*time.Minute)
}

// LinkedRecordCacheTTLDuration returns the parsed linked-record cache
// TTL.
func (s SyncConfig) LinkedRecordCacheTTLDuration() time.Duration {
	return parseDurationOr(s.LinkedRecordCacheTTL, 5*time.Minute)
}

// RequestTimeoutDuration returns the parsed per-request timeout.
func (n NetworkConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(n.RequestTimeout, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}
