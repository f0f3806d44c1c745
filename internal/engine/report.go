package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridsync/gridsync/internal/store"
)

// Caps on how many error entries survive aggregation: the durable run
// log keeps fewer than the synchronous response.
const (
	maxStoredErrors   = 10
	maxReportedErrors = 20
)

// ConflictSummary counts conflict decisions in a bidirectional run.
type ConflictSummary struct {
	Total    int `json:"total"`
	SorWins  int `json:"sorWins"`
	GridWins int `json:"gridWins"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
}

// RunReport is the synchronous result of one pipeline run.
type RunReport struct {
	RunID       string
	Status      store.RunStatus
	Direction   store.Direction
	Added       int
	Updated     int
	Deleted     int
	Failed      int
	Errors      []RunError
	Warnings    []string
	Conflicts   *ConflictSummary
	StartedAt   time.Time
	CompletedAt time.Time
	DryRun      bool
}

// RecordsSynced is the run's added + updated count, the number the
// run log and usage tracker persist.
func (r *RunReport) RecordsSynced() int {
	return r.Added + r.Updated
}

// addError captures a failure; the slice is capped later, the counter
// is not.
func (r *RunReport) addError(kind ErrorKind, recordKey string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RunError{Kind: kind, RecordKey: recordKey, Message: err.Error()})
}

func (r *RunReport) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// truncatedErrors returns at most n error entries.
func (r *RunReport) truncatedErrors(n int) []RunError {
	if len(r.Errors) <= n {
		return r.Errors
	}

	return r.Errors[:n]
}

// errorsJSON renders the compact error list persisted on the run log.
func (r *RunReport) errorsJSON() string {
	errs := r.truncatedErrors(maxStoredErrors)
	if len(errs) == 0 {
		return ""
	}

	b, err := json.Marshal(errs)
	if err != nil {
		return ""
	}

	return string(b)
}

// userMessage derives the single user-facing error line from the
// dominant error kind. OAuth errors supersede everything else.
func (r *RunReport) userMessage() string {
	if len(r.Errors) == 0 {
		return ""
	}

	counts := make(map[ErrorKind]int)
	for _, e := range r.Errors {
		counts[e.Kind]++
	}

	if counts[KindOAuth] > 0 {
		return "authorization expired, please reconnect"
	}

	dominant := KindUnknown
	best := 0

	for kind, n := range counts {
		if n > best {
			dominant, best = kind, n
		}
	}

	switch dominant {
	case KindRateLimit:
		return fmt.Sprintf("%d batches hit provider rate limits", best)
	case KindNetwork:
		return fmt.Sprintf("%d operations failed with network errors", best)
	case KindValidation:
		return fmt.Sprintf("%d records failed validation", best)
	case KindTransform:
		return fmt.Sprintf("%d records could not be converted", best)
	case KindFetch:
		return fmt.Sprintf("%d fetches failed", best)
	case KindWrite:
		return fmt.Sprintf("%d writes failed", best)
	default:
		return r.Errors[0].Message
	}
}

// finalize caps the error list for the synchronous response and stamps
// the completion time.
func (r *RunReport) finalize(completedAt time.Time) {
	r.Errors = r.truncatedErrors(maxReportedErrors)
	r.CompletedAt = completedAt
}

// JobSummary aggregates one scheduler sweep.
type JobSummary struct {
	Started   time.Time
	Completed time.Time
	Total     int
	Succeeded int
	Partial   int
	Failed    int
	Skipped   int
}
