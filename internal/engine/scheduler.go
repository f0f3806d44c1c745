package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gridsync/gridsync/internal/store"
)

// RunScheduled sweeps every active sync config once, oldest last sync
// first, with bounded parallelism. Configs already running or paused
// by their owner's plan are skipped, not failed.
func (e *Engine) RunScheduled(ctx context.Context) (*JobSummary, error) {
	started := e.nowFunc().UTC()

	configs, err := e.store.ListActiveSyncConfigs(ctx)
	if err != nil {
		return nil, err
	}

	summary := &JobSummary{Started: started, Total: len(configs)}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)

	for _, cfg := range configs {
		g.Go(func() error {
			report, err := e.run(gctx, cfg.ID, cfg.UserID, runOptions{
				trigger: store.TriggerScheduled,
				strict:  e.strictDefault,
			})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case errors.Is(err, ErrRunInFlight), errors.Is(err, ErrPlanPaused):
				summary.Skipped++
			case err != nil:
				summary.Failed++
				e.logger.Error("scheduled run failed before starting",
					slog.String("config_id", cfg.ID), slog.Any("error", err))
			case report.Status == store.RunStatusSuccess:
				summary.Succeeded++
			case report.Status == store.RunStatusPartial:
				summary.Partial++
			default:
				summary.Failed++
			}

			return nil
		})
	}

	_ = g.Wait()

	summary.Completed = e.nowFunc().UTC()

	e.logger.Info("scheduled sweep finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("partial", summary.Partial),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
	)

	return summary, nil
}

// Scheduler drives periodic sweeps on a cron expression.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	spec   string
	logger *slog.Logger
}

// NewScheduler wires the engine to a cron loop. The expression uses the
// standard five-field syntax.
func NewScheduler(e *Engine, spec string, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("engine: invalid cron expression %q: %w", spec, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{engine: e, cron: cron.New(), spec: spec, logger: logger}, nil
}

// Start begins the cron loop. Sweeps inherit ctx so shutdown cancels
// in-flight runs; each run still finalizes its log on the way out.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.engine.RunScheduled(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("engine: scheduling sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.String("cron", s.spec))

	return nil
}

// Stop halts the cron loop and waits for the running sweep to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
