package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields <table>",
	Short: "List a table's fields with their specifications",
	Args:  cobra.ExactArgs(1),
	RunE:  runFields,
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}

func runFields(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	fields, err := db.FieldList(ctx, args[0])
	if err != nil {
		return err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, fields[name])
	}
	return nil
}
