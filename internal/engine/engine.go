// Package engine orchestrates sync runs between a SOR table and a grid
// worksheet: fetching both sides, converting values, detecting and
// resolving conflicts, applying batched writes, and recording durable
// run logs and usage.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridsync/gridsync/internal/grid"
	"github.com/gridsync/gridsync/internal/sor"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/gridsync/gridsync/internal/token"
)

// Sentinel errors for run admission.
var (
	// ErrRunInFlight means another run for the same config is active.
	ErrRunInFlight = errors.New("engine: run already in flight")
	// ErrPlanPaused means the user's subscription state blocks syncs.
	ErrPlanPaused = errors.New("engine: syncs paused by subscription state")
)

// DefaultRunBudget is the soft wall-clock limit for one pipeline run.
const DefaultRunBudget = 15 * time.Minute

// singleFlightWindow bounds how old an open run log may be and still
// block a new run. Older open logs are treated as crashed runs.
const singleFlightWindow = 5 * time.Minute

// Options configures an Engine.
type Options struct {
	SorBaseURL           string
	GridBaseURL          string
	SorRequestsPerSecond float64
	HTTPClient           *http.Client
	RunBudget            time.Duration
	ResolverTTL          time.Duration
	MaxRecordsPerSync    int
	MaxConcurrentRuns    int
	StrictValidation     bool
}

// Engine owns all state shared across pipeline runs: the store, the
// token manager, the process-wide SOR rate limiter, the linked-record
// cache, and the per-config run locks. Tests construct a fresh Engine
// per case; there are no package-level singletons.
type Engine struct {
	store    *store.Store
	tokens   *token.Manager
	resolver *Resolver
	logger   *slog.Logger

	sorBaseURL  string
	gridBaseURL string
	httpClient  *http.Client
	limiter     *rate.Limiter

	runBudget         time.Duration
	maxRecordsPerSync int
	maxConcurrent     int
	strictDefault     bool

	// locks serializes runs per sync config in-process. The RunLog
	// single-flight check covers multi-process deployments.
	locks sync.Map // syncConfigID -> *sync.Mutex

	nowFunc func() time.Time
}

// New creates an engine.
func New(st *store.Store, tokens *token.Manager, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.RunBudget <= 0 {
		opts.RunBudget = DefaultRunBudget
	}

	rps := opts.SorRequestsPerSecond
	if rps <= 0 {
		rps = sor.DefaultRequestsPerSecond
	}

	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 4
	}

	return &Engine{
		store:             st,
		tokens:            tokens,
		resolver:          NewResolver(opts.ResolverTTL, logger),
		logger:            logger,
		sorBaseURL:        opts.SorBaseURL,
		gridBaseURL:       opts.GridBaseURL,
		httpClient:        opts.HTTPClient,
		limiter:           rate.NewLimiter(rate.Limit(rps), 1),
		runBudget:         opts.RunBudget,
		maxRecordsPerSync: opts.MaxRecordsPerSync,
		maxConcurrent:     opts.MaxConcurrentRuns,
		strictDefault:     opts.StrictValidation,
		nowFunc:           time.Now,
	}
}

// configLock returns the mutex guarding one config's runs.
func (e *Engine) configLock(syncConfigID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(syncConfigID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// newClients builds per-run API clients bound to the user's tokens.
// The SOR limiter is shared across all runs in the process.
func (e *Engine) newClients(userID string) (*sor.Client, *grid.Client) {
	sorSrc := token.Source{Manager: e.tokens, UserID: userID, Provider: store.ProviderSor}
	gridSrc := token.Source{Manager: e.tokens, UserID: userID, Provider: store.ProviderGrid}

	sorClient := sor.NewClient(e.sorBaseURL, e.httpClient, sorSrc, e.limiter, e.logger)
	gridClient := grid.NewClient(e.gridBaseURL, e.httpClient, gridSrc, e.logger)

	return sorClient, gridClient
}

// ConnStatus describes one provider connection for status displays.
type ConnStatus struct {
	Connected   bool
	NeedsReauth bool
	TokenExpiry time.Time
	LastError   string
}

// ConnectionStatus is the pair of provider statuses for one user.
type ConnectionStatus struct {
	Sor  ConnStatus
	Grid ConnStatus
}

// ResolveConnectionStatus reports both providers' credential health
// for a user. A missing connection is simply not connected.
func (e *Engine) ResolveConnectionStatus(ctx context.Context, userID string) (*ConnectionStatus, error) {
	status := &ConnectionStatus{}

	for _, p := range []struct {
		provider store.Provider
		dest     *ConnStatus
	}{
		{store.ProviderSor, &status.Sor},
		{store.ProviderGrid, &status.Grid},
	} {
		conn, err := e.store.GetConnection(ctx, userID, p.provider)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		*p.dest = ConnStatus{
			Connected:   true,
			NeedsReauth: conn.NeedsReauth,
			TokenExpiry: conn.TokenExpiry,
			LastError:   conn.LastRefreshError,
		}
	}

	return status, nil
}

// MarkReauthRequired flags a provider connection so runs fail fast
// until the user reconnects.
func (e *Engine) MarkReauthRequired(ctx context.Context, userID string, provider store.Provider, reason string) error {
	if err := e.tokens.MarkReauthRequired(ctx, userID, provider, reason); err != nil {
		return fmt.Errorf("engine: marking %s reauth for user %s: %w", provider, userID, err)
	}

	return nil
}
