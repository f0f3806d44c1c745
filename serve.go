package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridsync/gridsync/internal/engine"
)

func newServeCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop",
		Long: `Run the background scheduler: every cron tick sweeps the active sync
configurations, oldest last sync first, with bounded parallelism.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := shutdownContext(cmd.Context(), a.logger)

			sched, err := engine.NewScheduler(a.engine, a.cfg.Scheduler.Cron, a.logger)
			if err != nil {
				return err
			}

			if runNow {
				if _, err := a.engine.RunScheduled(ctx); err != nil {
					a.logger.Error("startup sweep failed", slog.Any("error", err))
				}
			}

			if err := sched.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			sched.Stop()

			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "sweep once at startup before the first tick")

	return cmd
}

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM and force-exits on the second, so a hung run cannot
// block shutdown forever.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
