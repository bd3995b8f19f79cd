// Package orm is the control surface between application code and a
// relational database. It owns the active connection, forwards query and
// manipulation execution to whichever engine driver is registered, and
// drives declarative schema reconciliation: converging a live database's
// tables, fields, and indexes toward a declared schema without destroying
// unmanaged data.
//
// # Key Components
//
//   - DB: connection registry plus execution facade; one per process or
//     worker, passed by reference
//   - Conn / Driver: the capability contract concrete engine adapters
//     satisfy (see orm/sqlite and orm/postgres)
//   - TableSpec / IndexSpec: declarative descriptions of desired schema
//     end state
//   - RequireTable / RequireField / RequireIndex / DontRequireTable:
//     the idempotent reconciliation operations
//
// # Reconciliation Model
//
// Schema declarations live in application code and are re-asserted on every
// boot. The engine is additive-only: it creates missing tables and fields
// and converges differing ones, but never drops anything absent from the
// declared schema. The two deliberate exceptions are indexes, whose absence
// (a nil IndexSpec) is a removal signal, and DontRequireTable, which retires
// a table by renaming it with the obsolete prefix rather than dropping it.
//
// # Example Usage
//
//	db := orm.New()
//	if err := db.Connect(ctx, orm.Config{Type: "sqlite", Database: "app.db"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	err := db.RequireTable(ctx, orm.TableSpec{
//	    Name:      "member",
//	    Fields:    map[string]string{"email": "VARCHAR(255) NOT NULL"},
//	    Indexes:   map[string]*orm.IndexSpec{"email": {Kind: orm.KindUnique}},
//	    AutoIncPK: true,
//	})
//
// Engine drivers register themselves on import:
//
//	import _ "github.com/joernroeder/silverstripe-framework/orm/sqlite"
package orm
