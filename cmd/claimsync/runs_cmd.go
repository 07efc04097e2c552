package main

import (
	"github.com/JonMunkholm/claimsync/internal/core"
	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/spf13/cobra"
)

func newRunsCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded import runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			db, err := store.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			service, err := core.NewService(db, cfg.Import)
			if err != nil {
				return err
			}

			runs, err := service.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			if runs == nil {
				runs = []core.RunSummary{}
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}
