package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridsync/gridsync/internal/engine"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider connections and recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			status, err := a.engine.ResolveConnectionStatus(ctx, user.ID)
			if err != nil {
				return err
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(status)
			}

			printConnStatus("database", status.Sor)
			printConnStatus("spreadsheet", status.Grid)

			configs, err := a.store.ListSyncConfigs(ctx, user.ID)
			if err != nil {
				return err
			}

			for _, cfg := range configs {
				last := "never"
				if cfg.LastSyncAt != nil {
					last = formatTime(*cfg.LastSyncAt)
				}

				syncStatus := cfg.LastSyncStatus
				if syncStatus == "" {
					syncStatus = "never run"
				}

				fmt.Printf("%s: %s, last sync %s", cfg.Name, syncStatus, last)

				if cfg.LastErrorMessage != "" {
					fmt.Printf(" (%s)", cfg.LastErrorMessage)
				}

				fmt.Println()
			}

			return nil
		},
	}
}

func printConnStatus(label string, s engine.ConnStatus) {
	switch {
	case !s.Connected:
		fmt.Printf("%s: not connected\n", label)
	case s.NeedsReauth:
		fmt.Printf("%s: reauthorization required (%s)\n", label, s.LastError)
	default:
		fmt.Printf("%s: connected, token valid until %s\n", label, formatTime(s.TokenExpiry))
	}
}
