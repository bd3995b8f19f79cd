package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables in the database",
	RunE:  runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}

func runTables(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	tables, err := db.TableList(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
