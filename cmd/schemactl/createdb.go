package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joernroeder/silverstripe-framework/config"
	"github.com/joernroeder/silverstripe-framework/orm"
)

var createdbCmd = &cobra.Command{
	Use:   "createdb",
	Short: "Create the configured database if it does not exist",
	RunE:  runCreatedb,
}

func init() {
	rootCmd.AddCommand(createdbCmd)
}

func runCreatedb(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	ormCfg := cfg.Database.ORM()
	driver, err := orm.LookupDriver(ormCfg.Type)
	if err != nil {
		return err
	}

	created, err := driver.CreateDatabase(ctx, ormCfg)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	if created {
		slog.Info("database created", "database", ormCfg.Database)
	} else {
		slog.Info("database already exists", "database", ormCfg.Database)
	}
	return nil
}
