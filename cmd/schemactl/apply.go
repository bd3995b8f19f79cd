package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joernroeder/silverstripe-framework/orm"
)

var applyCmd = &cobra.Command{
	Use:   "apply <schema.yaml>",
	Short: "Converge the database toward a declared schema",
	Long: `Apply a YAML schema declaration to the database. Missing tables and
fields are created, differing fields are altered, and differing indexes are
replaced. Tables listed under "retired:" are renamed with the obsolete
prefix instead of being dropped. Applying an already-converged schema
produces no DDL.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sf, err := orm.LoadSchemaFile(args[0])
	if err != nil {
		return err
	}

	db, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	for _, spec := range sf.Tables {
		if err := db.RequireTable(ctx, spec); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}

	for _, table := range sf.Retired {
		if err := db.DontRequireTable(ctx, table); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}

	slog.Info("schema converged", "tables", len(sf.Tables), "retired", len(sf.Retired))
	return nil
}
