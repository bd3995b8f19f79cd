package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var retireCmd = &cobra.Command{
	Use:   "retire <table>",
	Short: "Retire a table by renaming it with the obsolete prefix",
	Long: `Rename a table to its obsolete form instead of dropping it, preserving
the data for manual inspection or recovery. Retiring an absent or
already-retired table is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetire,
}

func init() {
	rootCmd.AddCommand(retireCmd)
}

func runRetire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := db.DontRequireTable(ctx, args[0]); err != nil {
		return err
	}

	slog.Info("table retired", "table", args[0])
	return nil
}
