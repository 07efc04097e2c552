package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/claimsync/internal/core"
	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/spf13/cobra"
)

func newSchemaCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List input fields and the header spellings accepted for each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			// The schema needs no database; a throwaway store is enough.
			service, err := core.NewService(store.NewMemoryStore(), cfg.Import)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tREQUIRED\tHEADERS")
			for _, col := range service.Schema().Columns() {
				required := ""
				if col.Required {
					required = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", col.Field, required, strings.Join(col.Aliases, ", "))
			}
			return tw.Flush()
		},
	}
}
