package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/claimsync/internal/config"
	"github.com/JonMunkholm/claimsync/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalFlags override the matching environment variables.
type globalFlags struct {
	driver string
	dbPath string
	dbURL  string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "claimsync",
		Short:         "Import and reconcile claim communication files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.driver, "driver", "", "Store driver: postgres, sqlite or memory (overrides DB_DRIVER)")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db-path", "", "SQLite database file (overrides DB_PATH)")
	cmd.PersistentFlags().StringVar(&flags.dbURL, "db-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")

	cmd.AddCommand(newImportCmd(&flags))
	cmd.AddCommand(newRunsCmd(&flags))
	cmd.AddCommand(newSchemaCmd(&flags))
	return cmd
}

// loadConfig reads .env and the environment, layers the flag overrides on
// top and sets up logging on stderr.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	_ = godotenv.Overload()

	cfg, err := config.LoadFrom(config.Overlay(os.LookupEnv, map[string]string{
		"DB_DRIVER":    flags.driver,
		"DB_PATH":      flags.dbPath,
		"DATABASE_URL": flags.dbURL,
	}))
	if err != nil {
		return nil, err
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
