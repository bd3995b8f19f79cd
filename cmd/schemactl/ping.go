package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check database connectivity",
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if !db.IsActive(ctx) {
		return errors.New("database is not reachable")
	}

	slog.Info("database is reachable")
	return nil
}
