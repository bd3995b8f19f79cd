package main

import (
	"context"
	"fmt"

	"github.com/joernroeder/silverstripe-framework/config"
	"github.com/joernroeder/silverstripe-framework/orm"

	_ "github.com/joernroeder/silverstripe-framework/orm/postgres" // postgres driver
	_ "github.com/joernroeder/silverstripe-framework/orm/sqlite"   // sqlite driver
)

// openDB loads the config from context and establishes the database
// connection. The returned cleanup closes it.
func openDB(ctx context.Context) (*orm.DB, func(), error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	db := orm.New()
	if err := db.Connect(ctx, cfg.Database.ORM()); err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	cleanup := func() {
		if conn, err := db.Conn(); err == nil {
			_ = conn.Close()
		}
	}
	return db, cleanup, nil
}
