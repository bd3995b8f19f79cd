package main

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joernroeder/silverstripe-framework/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "schemactl",
	Short:   "Declarative schema reconciliation for relational databases",
	Long: `schemactl converges a live database's tables, fields, and indexes
toward a declared schema without destroying unmanaged data. It is safe to
re-run on every deployment: converged schemas produce no DDL.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		setupLogging(cfg)

		// One correlation id per invocation, attached to every log line.
		slog.SetDefault(slog.Default().With("run_id", uuid.NewString()))

		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file path(s), merged left to right (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "database type: sqlite, postgres (env: SCHEMACTL_DATABASE_TYPE)")
	rootCmd.PersistentFlags().String("db-host", "", "database host (env: SCHEMACTL_DATABASE_HOST)")
	rootCmd.PersistentFlags().Int("db-port", 0, "database port (env: SCHEMACTL_DATABASE_PORT)")
	rootCmd.PersistentFlags().String("db-user", "", "database user (env: SCHEMACTL_DATABASE_USER)")
	rootCmd.PersistentFlags().String("db-password", "", "database password (env: SCHEMACTL_DATABASE_PASSWORD)")
	rootCmd.PersistentFlags().String("db-name", "", "database name, or file path for sqlite (env: SCHEMACTL_DATABASE_DATABASE)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	files, _ := cmd.Flags().GetStringSlice("config")
	return config.Load(files, cmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
