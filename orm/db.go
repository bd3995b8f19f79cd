package orm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DB is the single access point between application code and a relational
// database: it owns the active connection, forwards query and manipulation
// execution, and drives schema reconciliation.
//
// Create one DB per process or per worker and pass it by reference; a DB is
// never meant to be shared mutable global state across concurrent workers.
// Connection swaps are guarded so a replacement is a single atomic
// assignment visible to subsequent readers, but reconciliation itself is not
// designed for concurrent invocation against the same table; callers
// serialize that externally.
type DB struct {
	mu       sync.Mutex
	conn     Conn
	override string
	lastStmt string
	quiet    bool
	log      *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for reconciliation and diagnostic output.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

// New returns a DB with no active connection.
func New(opts ...Option) *DB {
	db := &DB{log: slog.Default()}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// SetConn replaces the active connection unconditionally. The prior
// connection is not closed; that stays with the caller.
func (db *DB) SetConn(c Conn) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.conn = c
	if db.quiet && c != nil {
		c.Quiet()
	}
}

// Conn returns the active connection, or ErrNoConnection if none was set.
func (db *DB) Conn() (Conn, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil, ErrNoConnection
	}
	return db.conn, nil
}

// SetSessionOverride stores a session-scoped database-name override,
// consulted by Connect before the configured default. An empty name clears
// it. Set at test or session start, clear at teardown.
func (db *DB) SetSessionOverride(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.override = name
}

// SessionOverride returns the current override, empty when none is active.
func (db *DB) SessionOverride() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.override
}

// Connect resolves the driver named by cfg.Type, opens a connection with the
// session override (if any) replacing cfg.Database, and installs it as the
// active connection. Re-invoking Connect hot-swaps the connection; the prior
// one is not closed.
func (db *DB) Connect(ctx context.Context, cfg Config) error {
	if cfg.Type == "" {
		return fmt.Errorf("connect: missing driver type selector: %w", ErrConfiguration)
	}

	driver, err := LookupDriver(cfg.Type)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if override := db.SessionOverride(); override != "" {
		db.logger().Debug("session override active", "database", override)
		cfg.Database = override
	}

	conn, err := driver.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Type, err)
	}

	db.SetConn(conn)
	db.logger().Info("database connection established", "type", cfg.Type, "database", cfg.Database)
	return nil
}

// IsActive reports whether a live connection is registered. Liveness probing
// never fails; any probe error degrades to false.
func (db *DB) IsActive(ctx context.Context) bool {
	conn, err := db.Conn()
	if err != nil {
		return false
	}
	return conn.IsActive(ctx)
}

// Execute records sql as the last-executed statement and delegates execution
// to the active connection at the requested failure severity.
func (db *DB) Execute(ctx context.Context, sql string, severity Severity) (Rows, error) {
	conn, err := db.Conn()
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	db.recordStatement(sql)
	rows, err := conn.Execute(ctx, sql, severity)
	if err != nil {
		return nil, fmt.Errorf("execute %q: %w", sql, err)
	}
	return rows, nil
}

// Manipulate records the batch as the last operation and delegates to the
// active connection's batched insert/update execution.
func (db *DB) Manipulate(ctx context.Context, batch Manipulation) error {
	conn, err := db.Conn()
	if err != nil {
		return fmt.Errorf("manipulate: %w", err)
	}

	db.recordStatement(fmt.Sprintf("manipulation of %d operation(s)", len(batch)))
	if err := conn.Manipulate(ctx, batch); err != nil {
		return fmt.Errorf("manipulate: %w", err)
	}
	return nil
}

// AffectedRows returns the row count affected by the most recent Execute or
// Manipulate, 0 if no operation has run or no connection is registered.
func (db *DB) AffectedRows() int64 {
	conn, err := db.Conn()
	if err != nil {
		return 0
	}
	return conn.AffectedRows()
}

// LastStatement returns the most recently executed statement, for
// diagnostics and tooling.
func (db *DB) LastStatement() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.lastStmt
}

// logger returns the current logger. Quiet swaps it under the mutex, so
// every read outside the lock goes through here.
func (db *DB) logger() *slog.Logger {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.log
}

func (db *DB) recordStatement(sql string) {
	db.mu.Lock()
	db.lastStmt = sql
	db.mu.Unlock()
}

// Quiet suppresses non-fatal diagnostic output from subsequent operations.
// One-way: there is no un-quiet.
func (db *DB) Quiet() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.quiet = true
	db.log = slog.New(slog.DiscardHandler)
	if db.conn != nil {
		db.conn.Quiet()
	}
}

// TableList returns the current set of table names, lower-cased. Results
// are never cached; schema state can change between calls.
func (db *DB) TableList(ctx context.Context) (map[string]struct{}, error) {
	conn, err := db.Conn()
	if err != nil {
		return nil, fmt.Errorf("table list: %w", err)
	}
	return conn.TableList(ctx)
}

// FieldList maps field name to canonical specification string for an
// existing table, failing with ErrNotFound if the table does not exist.
func (db *DB) FieldList(ctx context.Context, table string) (map[string]string, error) {
	conn, err := db.Conn()
	if err != nil {
		return nil, fmt.Errorf("field list: %w", err)
	}
	return conn.FieldList(ctx, table)
}

// GeneratedID returns the surrogate key produced by the most recent insert
// into table.
func (db *DB) GeneratedID(ctx context.Context, table string) (int64, error) {
	conn, err := db.Conn()
	if err != nil {
		return 0, fmt.Errorf("generated id: %w", err)
	}
	return conn.GeneratedID(ctx, table)
}

// NextID predicts the next surrogate key to be assigned for table. This is
// inherently racy under concurrent writers: best-effort, not a reservation.
func (db *DB) NextID(ctx context.Context, table string) (int64, error) {
	conn, err := db.Conn()
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return conn.NextID(ctx, table)
}
