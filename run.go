package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridsync/gridsync/internal/engine"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <sync-config-id>",
		Short: "Run one sync immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			user, err := a.resolveUser(ctx)
			if err != nil {
				return err
			}

			report, err := a.engine.RunManual(ctx, args[0], user.ID)
			if err != nil {
				return err
			}

			return printReport(report)
		},
	}
}

func newInitialCmd() *cobra.Command {
	var (
		dryRun       bool
		deleteExtras bool
	)

	cmd := &cobra.Command{
		Use:   "initial <sync-config-id>",
		Short: "Run the first import for a sync configuration",
		Long: `Run the initial import: missing linked records are created on demand,
and with --delete-extras the destination is trimmed to match the source.
Use --dry-run to preview the changes without writing either side.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			user, err := a.resolveUser(ctx)
			if err != nil {
				return err
			}

			report, err := a.engine.RunInitial(ctx, args[0], user.ID, engine.InitialOptions{
				DryRun:       dryRun,
				DeleteExtras: deleteExtras,
			})
			if err != nil {
				return err
			}

			return printReport(report)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview changes without writing")
	cmd.Flags().BoolVar(&deleteExtras, "delete-extras", false, "remove destination entries absent from the source")

	return cmd
}

// printReport renders a run report as a summary table or JSON.
func printReport(report *engine.RunReport) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	label := ""
	if report.DryRun {
		label = " (dry run)"
	}

	fmt.Printf("Run %s finished: %s%s\n", report.RunID, report.Status, label)
	fmt.Printf("  added %d, updated %d, deleted %d, failed %d\n",
		report.Added, report.Updated, report.Deleted, report.Failed)

	if report.Conflicts != nil && report.Conflicts.Total > 0 {
		c := report.Conflicts
		fmt.Printf("  conflicts: %d (sor %d, grid %d, deleted %d, skipped %d)\n",
			c.Total, c.SorWins, c.GridWins, c.Deleted, c.Skipped)
	}

	for _, e := range report.Errors {
		fmt.Printf("  error: %s\n", e.Error())
	}

	if !flagQuiet {
		for _, w := range report.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	return nil
}
