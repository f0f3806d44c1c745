package store

import "time"

// Provider identifies which external service a stored credential
// belongs to.
type Provider string

// Supported providers.
const (
	ProviderSor  Provider = "sor"
	ProviderGrid Provider = "grid"
)

// Direction is the flow of data a sync configuration performs.
type Direction string

// Sync directions.
const (
	DirectionSorToGrid     Direction = "SOR_TO_GRID"
	DirectionGridToSor     Direction = "GRID_TO_SOR"
	DirectionBidirectional Direction = "BIDIRECTIONAL"
)

// ConflictStrategy names a resolution policy for bidirectional runs.
type ConflictStrategy string

// Conflict strategies.
const (
	StrategySorWins    ConflictStrategy = "SOR_WINS"
	StrategyGridWins   ConflictStrategy = "GRID_WINS"
	StrategyNewestWins ConflictStrategy = "NEWEST_WINS"
)

// RunStatus is the final disposition of one pipeline run.
type RunStatus string

// Run statuses. Running marks an open log; the single-flight check
// keys off it.
const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusFailed  RunStatus = "FAILED"
)

// TriggeredBy records what started a run.
type TriggeredBy string

// Run triggers.
const (
	TriggerScheduled TriggeredBy = "scheduled"
	TriggerManual    TriggeredBy = "manual"
	TriggerInitial   TriggeredBy = "initial"
)

// User is an account that owns connections and sync configurations.
type User struct {
	ID                 string
	Email              string
	Plan               string
	SubscriptionStatus string
	TrialStartedAt     *time.Time
	TrialEndsAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Connection is a stored OAuth credential for one provider. Token
// fields hold the encrypted form, never plaintext.
type Connection struct {
	ID                 string
	UserID             string
	Provider           Provider
	AccessToken        string
	RefreshToken       string
	TokenExpiry        time.Time
	NeedsReauth        bool
	LastRefreshError   string
	LastRefreshAttempt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SyncConfig describes one table-to-sheet pairing and how to sync it.
// FieldMappings maps SOR field IDs to zero-based grid column indices.
type SyncConfig struct {
	ID               string
	UserID           string
	Name             string
	SorBaseID        string
	SorTableID       string
	SorViewID        string
	GridWorkbookID   string
	GridSheetID      int64
	FieldMappings    map[string]int
	Direction        Direction
	ConflictStrategy ConflictStrategy
	IsActive         bool
	LastSyncAt       *time.Time
	LastSyncStatus   string
	LastErrorAt      *time.Time
	LastErrorMessage string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RunLog is the durable audit record of one pipeline run. A nil
// CompletedAt means the run is still in flight.
type RunLog struct {
	ID            string
	SyncConfigID  string
	Status        RunStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	RecordsSynced int
	RecordsFailed int
	Errors        string
	TriggeredBy   TriggeredBy
	Direction     Direction
}

// UsageStats accumulates per-user activity for one calendar month.
// Month is always the first day of the month in UTC.
type UsageStats struct {
	UserID             string
	Month              time.Time
	RecordsSynced      int
	SyncConfigsCreated int
}
