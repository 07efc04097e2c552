package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/claimsync/internal/core"
	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/spf13/cobra"
)

func newImportCmd(flags *globalFlags) *cobra.Command {
	var (
		format      string
		rejectedOut string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import one file and print the run result",
		Long: "Import one CSV, XLSX or JSON file. Use - to read standard input.\n" +
			"The command exits non-zero when the run fails; rejected documents do not fail the run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importFormat, err := core.ParseImportFormat(format)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			req := core.ImportRequest{Format: importFormat}
			if args[0] == "-" {
				req.FileName = "stdin"
				req.Body = cmd.InOrStdin()
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				req.FileName = filepath.Base(args[0])
				req.Body = f
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

			result := service.Import(cmd.Context(), req)

			if rejectedOut != "" && result.Success {
				if err := writeRejected(result, rejectedOut); err != nil {
					return err
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("import failed (code %s): %s", result.Code, result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "auto", "Input format: auto, csv, xlsx or json")
	cmd.Flags().StringVar(&rejectedOut, "rejected-out", "", "Write the rows of rejected documents to this CSV file")
	return cmd
}

// writeRejected saves the rejected-rows extract and drops it from the printed
// result. Nothing is written when no document was rejected.
func writeRejected(result *core.Result, path string) error {
	data, err := result.RejectedExtract()
	if err != nil || data == nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rejected rows: %w", err)
	}
	result.RejectedCSV = ""
	return nil
}
