package orm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Conn is the capability contract every engine adapter satisfies. A Conn
// wraps one open database session plus the engine-specific DDL realization
// consumed by the reconciliation engine.
type Conn interface {
	SchemaManager

	// Execute runs a raw SQL statement. At SeverityWarn a driver failure is
	// logged and an empty Rows is returned instead of an error.
	Execute(ctx context.Context, sql string, severity Severity) (Rows, error)

	// Manipulate applies a batch of inserts/updates, preserving per-table
	// order.
	Manipulate(ctx context.Context, batch Manipulation) error

	// AffectedRows reports the row count of the most recent Execute or
	// Manipulate, 0 if nothing has run.
	AffectedRows() int64

	// GeneratedID returns the surrogate key produced by the most recent
	// insert into table.
	GeneratedID(ctx context.Context, table string) (int64, error)

	// NextID predicts the next surrogate key for table. Best-effort: racy
	// under concurrent writers, never a reservation.
	NextID(ctx context.Context, table string) (int64, error)

	// IsActive probes connection liveness. It never fails; probe errors
	// degrade to false.
	IsActive(ctx context.Context) bool

	// Quiet suppresses non-fatal diagnostic output for the rest of the
	// process. There is no way back.
	Quiet()

	Close() error
}

// SchemaManager holds the engine-specific schema primitives. The
// reconciliation engine decides what to do; these realize it as DDL.
type SchemaManager interface {
	// TableList returns the current table names, lower-cased. Never cached:
	// schema state can change between calls within one process.
	TableList(ctx context.Context) (map[string]struct{}, error)

	// FieldList maps field name to canonical specification string for an
	// existing table. Returns ErrNotFound if the table does not exist.
	FieldList(ctx context.Context, table string) (map[string]string, error)

	// IndexList maps index name to its resolved specification for an
	// existing table.
	IndexList(ctx context.Context, table string) (map[string]*IndexSpec, error)

	CreateTable(ctx context.Context, spec TableSpec) error
	CreateField(ctx context.Context, table, field, spec string) error
	AlterField(ctx context.Context, table, field, spec string) error
	CreateIndex(ctx context.Context, table, name string, spec IndexSpec) error
	DropIndex(ctx context.Context, table, name string) error
	RenameTable(ctx context.Context, from, to string) error

	// CheckAndRepair runs an engine integrity check, attempting repair on
	// failure. True means the table is confirmed healthy afterwards.
	CheckAndRepair(ctx context.Context, table string) bool

	// CanonicalFieldSpec normalizes a field specification string into the
	// engine's canonical form. Field comparison during reconciliation is
	// exact string equality of canonical forms.
	CanonicalFieldSpec(spec string) string
}

// Driver constructs connections for one engine. Implementations register
// themselves by name via Register, typically from an init func, so that
// importing an engine package for side effects is enough to enable it.
type Driver interface {
	Name() string
	Open(ctx context.Context, cfg Config) (Conn, error)

	// CreateDatabase ensures the database named in cfg exists, connecting at
	// server level where the engine requires it. Returns true if it was
	// newly created.
	CreateDatabase(ctx context.Context, cfg Config) (bool, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under its name. Registering twice under
// the same name panics, like database/sql.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("orm: Register driver is nil")
	}
	if _, dup := drivers[d.Name()]; dup {
		panic("orm: Register called twice for driver " + d.Name())
	}
	drivers[d.Name()] = d
}

// LookupDriver resolves a registered driver by name, failing with
// ErrConfiguration for unknown names.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver type %q (registered: %v): %w", name, driverNamesLocked(), ErrConfiguration)
	}
	return d, nil
}

// DriverNames lists the registered driver names, sorted.
func DriverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNamesLocked()
}

func driverNamesLocked() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
