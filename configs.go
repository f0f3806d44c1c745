package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newConfigsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List sync configurations",
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

			configs, err := a.store.ListSyncConfigs(ctx, user.ID)
			if err != nil {
				return err
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(configs)
			}

			rows := make([][]string, 0, len(configs))

			for _, cfg := range configs {
				active := "yes"
				if !cfg.IsActive {
					active = "no"
				}

				last := "never"
				if cfg.LastSyncAt != nil {
					last = formatTime(*cfg.LastSyncAt)
				}

				rows = append(rows, []string{
					cfg.ID, cfg.Name, string(cfg.Direction), active, last, cfg.LastSyncStatus,
				})
			}

			printTable(os.Stdout,
				[]string{"ID", "NAME", "DIRECTION", "ACTIVE", "LAST SYNC", "STATUS"}, rows)

			return nil
		},
	}
}
