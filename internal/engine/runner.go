package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gridsync/gridsync/internal/store"
	"github.com/gridsync/gridsync/internal/token"
)

// RunManual executes one sync for a config on behalf of its owner,
// returning the synchronous report. Concurrent runs for the same
// config are rejected with ErrRunInFlight.
func (e *Engine) RunManual(ctx context.Context, syncConfigID, userID string) (*RunReport, error) {
	return e.run(ctx, syncConfigID, userID, runOptions{
		trigger: store.TriggerManual,
		strict:  e.strictDefault,
	})
}

// InitialOptions tunes a first import run.
type InitialOptions struct {
	// DryRun reports what would change without writing either side.
	DryRun bool
	// DeleteExtras removes destination records or rows absent from the
	// source side.
	DeleteExtras bool
}

// RunInitial executes the first import for a config: missing linked
// records are created on demand and, when requested, extra destination
// entries are removed.
func (e *Engine) RunInitial(ctx context.Context, syncConfigID, userID string, opts InitialOptions) (*RunReport, error) {
	return e.run(ctx, syncConfigID, userID, runOptions{
		trigger:             store.TriggerInitial,
		dryRun:              opts.DryRun,
		deleteExtras:        opts.DeleteExtras,
		createMissingLinked: true,
		strict:              e.strictDefault,
	})
}

// run is the shared lifecycle: ownership and plan checks, single-flight
// admission, run logging, pipeline dispatch, and durable bookkeeping.
func (e *Engine) run(ctx context.Context, syncConfigID, userID string, opts runOptions) (*RunReport, error) {
	cfg, err := e.store.GetSyncConfig(ctx, syncConfigID)
	if err != nil {
		return nil, err
	}

	if cfg.UserID != userID {
		return nil, fmt.Errorf("engine: sync config %s does not belong to user %s: %w", syncConfigID, userID, store.ErrNotFound)
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if state := subscriptionState(user, e.nowFunc()); shouldPauseSyncs(state) {
		return nil, fmt.Errorf("%w (%s)", ErrPlanPaused, state)
	}

	mu := e.configLock(cfg.ID)
	if !mu.TryLock() {
		return nil, ErrRunInFlight
	}
	defer mu.Unlock()

	now := e.nowFunc().UTC()

	open, err := e.store.FindOpenRunLog(ctx, cfg.ID, now.Add(-singleFlightWindow))
	if err != nil {
		return nil, err
	}

	if open != nil {
		return nil, fmt.Errorf("%w (run %s)", ErrRunInFlight, open.ID)
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		Direction: cfg.Direction,
		StartedAt: now,
		DryRun:    opts.dryRun,
	}

	if err := e.store.CreateRunLog(ctx, &store.RunLog{
		ID:           report.RunID,
		SyncConfigID: cfg.ID,
		StartedAt:    now,
		TriggeredBy:  opts.trigger,
		Direction:    cfg.Direction,
	}); err != nil {
		return nil, err
	}

	logger := e.logger.With(
		slog.String("run_id", report.RunID),
		slog.String("config_id", cfg.ID),
		slog.String("direction", string(cfg.Direction)),
	)
	logger.Info("sync run started", slog.String("trigger", string(opts.trigger)), slog.Bool("dry_run", opts.dryRun))

	runCtx, cancel := context.WithTimeout(ctx, e.runBudget)
	defer cancel()

	sorClient, gridClient := e.newClients(userID)

	rc := &runContext{
		engine: e,
		cfg:    cfg,
		sor:    sorClient,
		grid:   gridClient,
		report: report,
		opts:   opts,
	}

	pipelineErr := rc.dispatch(runCtx)

	e.settle(ctx, rc, pipelineErr)

	logger.Info("sync run finished",
		slog.String("status", string(report.Status)),
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("deleted", report.Deleted),
		slog.Int("failed", report.Failed),
	)

	return report, nil
}

// dispatch routes to the configured pipeline.
func (rc *runContext) dispatch(ctx context.Context) error {
	switch rc.cfg.Direction {
	case store.DirectionSorToGrid:
		return rc.syncSorToGrid(ctx)
	case store.DirectionGridToSor:
		return rc.syncGridToSor(ctx)
	case store.DirectionBidirectional:
		return rc.syncBidirectional(ctx)
	default:
		return fmt.Errorf("unknown sync direction %q", rc.cfg.Direction)
	}
}

// settle derives the final status and lands every durable side effect:
// the run log, the config's outcome fields, and usage accounting.
// Bookkeeping runs on the parent context so an expired run budget does
// not lose the record of the run itself.
func (e *Engine) settle(ctx context.Context, rc *runContext, pipelineErr error) {
	report := rc.report
	completedAt := e.nowFunc().UTC()

	report.Status = runStatus(report, pipelineErr)

	if pipelineErr != nil {
		report.addError(kindOr(pipelineErr, KindFetch), "", pipelineErr)
		report.Failed-- // phase errors fail the run, not a record

		if errors.Is(pipelineErr, token.ErrReauthRequired) {
			rc.engine.logger.Warn("run aborted by credential failure", slog.String("run_id", report.RunID))
		}
	}

	report.finalize(completedAt)

	if err := e.store.FinalizeRunLog(ctx, report.RunID, report.Status, completedAt,
		report.RecordsSynced(), report.Failed, report.errorsJSON()); err != nil {
		e.logger.Error("finalizing run log", slog.String("run_id", report.RunID), slog.Any("error", err))
	}

	if err := e.store.UpdateSyncOutcome(ctx, rc.cfg.ID, completedAt, report.Status, report.userMessage()); err != nil {
		e.logger.Error("updating sync outcome", slog.String("config_id", rc.cfg.ID), slog.Any("error", err))
	}

	if !report.DryRun && report.RecordsSynced() > 0 {
		if err := e.store.AddUsage(ctx, rc.cfg.UserID, completedAt, report.RecordsSynced(), 0); err != nil {
			e.logger.Error("recording usage", slog.String("user_id", rc.cfg.UserID), slog.Any("error", err))
		}
	}
}

// runStatus folds the pipeline outcome into a final status. A fetch
// phase failure is fatal; record-level failures and a cancelled or
// budget-expired run degrade to partial.
func runStatus(report *RunReport, pipelineErr error) store.RunStatus {
	switch {
	case pipelineErr != nil:
		return store.RunStatusFailed
	case report.Failed > 0:
		return store.RunStatusPartial
	case cancelled(report):
		return store.RunStatusPartial
	default:
		return store.RunStatusSuccess
	}
}

func cancelled(report *RunReport) bool {
	for _, w := range report.Warnings {
		if w == "run cancelled before completion" {
			return true
		}
	}

	return false
}
