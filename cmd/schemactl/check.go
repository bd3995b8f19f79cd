package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <table>...",
	Short: "Run integrity checks and best-effort repair on tables",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	unhealthy := 0
	for _, table := range args {
		if db.CheckAndRepairTable(ctx, table) {
			slog.Info("table healthy", "table", table)
		} else {
			slog.Warn("table unhealthy", "table", table)
			unhealthy++
		}
	}

	if unhealthy > 0 {
		return fmt.Errorf("%d of %d table(s) failed integrity checks", unhealthy, len(args))
	}
	return nil
}
