// Package sqlite implements the orm driver contract using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/joernroeder/silverstripe-framework/orm"
)

// DriverName is the selector registered with the orm driver registry.
const DriverName = "sqlite"

func init() {
	orm.Register(driver{})
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Open(ctx context.Context, cfg orm.Config) (orm.Conn, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("open sqlite: missing database path: %w", orm.ErrConfiguration)
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %v: %w", err, orm.ErrConnection)
	}

	// Every pooled connection to :memory: gets its own database; keep the
	// pool at one connection so schema and data stay visible. The flip side
	// is that an open Rows holds that one connection, so callers must close
	// it before issuing further statements.
	if cfg.Database == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %v: %w", err, orm.ErrConnection)
	}

	return &conn{db: db, log: slog.Default(), lastInsert: make(map[string]int64)}, nil
}

// CreateDatabase ensures the database file exists. SQLite creates the file
// on first open, so this reports whether the path was newly created.
func (d driver) CreateDatabase(ctx context.Context, cfg orm.Config) (bool, error) {
	if cfg.Database == "" {
		return false, fmt.Errorf("create database: missing database path: %w", orm.ErrConfiguration)
	}
	if cfg.Database == ":memory:" {
		return true, nil
	}

	_, statErr := os.Stat(cfg.Database)
	existed := statErr == nil

	c, err := d.Open(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("create database: %w", err)
	}
	defer func() { _ = c.Close() }()

	return !existed, nil
}

func dsn(cfg orm.Config) string {
	if len(cfg.Options) == 0 {
		return cfg.Database
	}

	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, fmt.Sprintf("_pragma=%s(%s)", k, cfg.Options[k]))
	}
	return cfg.Database + "?" + strings.Join(params, "&")
}

// conn wraps one open SQLite session.
type conn struct {
	db  *sql.DB
	log *slog.Logger

	mu         sync.Mutex
	affected   int64
	lastInsert map[string]int64
}

// quoteIdentifier safely quotes a SQLite identifier
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *conn) Execute(ctx context.Context, query string, severity orm.Severity) (orm.Rows, error) {
	rows, err := c.execute(ctx, query)
	if err == nil {
		return rows, nil
	}

	if severity == orm.SeverityWarn {
		c.log.Warn("statement failed", "sql", query, "err", err)
		return orm.EmptyRows(), nil
	}
	return nil, fmt.Errorf("%v: %w", err, orm.ErrExecution)
}

func (c *conn) execute(ctx context.Context, query string) (orm.Rows, error) {
	if returnsRows(query) {
		rows, err := c.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		c.setAffected(0)
		return newRows(rows), nil
	}

	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil {
		c.setAffected(n)
	}
	return orm.EmptyRows(), nil
}

// returnsRows reports whether a statement yields a result set.
func returnsRows(query string) bool {
	switch firstWord(query) {
	case "SELECT", "PRAGMA", "WITH", "EXPLAIN", "VALUES":
		return true
	default:
		return false
	}
}

func firstWord(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func (c *conn) Manipulate(ctx context.Context, batch orm.Manipulation) error {
	var total int64
	for _, op := range batch {
		n, err := c.apply(ctx, op)
		if err != nil {
			return fmt.Errorf("manipulate %s %s: %v: %w", op.Command, op.Table, err, orm.ErrExecution)
		}
		total += n
	}
	c.setAffected(total)
	return nil
}

func (c *conn) apply(ctx context.Context, op orm.WriteOp) (int64, error) {
	if len(op.Fields) == 0 {
		return 0, errors.New("no fields")
	}

	cols := make([]string, 0, len(op.Fields))
	for col := range op.Fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var query string
	switch op.Command {
	case orm.CommandInsert:
		quoted := make([]string, len(cols))
		values := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = quoteIdentifier(col)
			values[i] = op.Fields[col]
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdentifier(op.Table), strings.Join(quoted, ", "), strings.Join(values, ", "))

	case orm.CommandUpdate:
		if op.Where == "" {
			return 0, errors.New("update requires a where condition")
		}
		assigns := make([]string, len(cols))
		for i, col := range cols {
			assigns[i] = quoteIdentifier(col) + " = " + op.Fields[col]
		}
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			quoteIdentifier(op.Table), strings.Join(assigns, ", "), op.Where)

	default:
		return 0, fmt.Errorf("unknown command %q", op.Command)
	}

	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}

	if op.Command == orm.CommandInsert {
		if id, err := res.LastInsertId(); err == nil {
			c.setLastInsert(op.Table, id)
		}
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func (c *conn) AffectedRows() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.affected
}

func (c *conn) setAffected(n int64) {
	c.mu.Lock()
	c.affected = n
	c.mu.Unlock()
}

func (c *conn) setLastInsert(table string, id int64) {
	c.mu.Lock()
	c.lastInsert[strings.ToLower(table)] = id
	c.mu.Unlock()
}

// GeneratedID returns the surrogate key produced by the most recent insert
// into table on this connection, falling back to the sqlite_sequence entry
// for inserts issued elsewhere.
func (c *conn) GeneratedID(ctx context.Context, table string) (int64, error) {
	c.mu.Lock()
	id, ok := c.lastInsert[strings.ToLower(table)]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var seq int64
	err := c.db.QueryRowContext(ctx,
		`SELECT seq FROM sqlite_sequence WHERE lower(name) = lower(?)`, table).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("generated id %s: %v: %w", table, err, orm.ErrExecution)
	}
	return seq, nil
}

// NextID predicts the next surrogate key for table. Best-effort and racy
// under concurrent writers.
func (c *conn) NextID(ctx context.Context, table string) (int64, error) {
	var seq int64
	err := c.db.QueryRowContext(ctx,
		`SELECT seq FROM sqlite_sequence WHERE lower(name) = lower(?)`, table).Scan(&seq)
	if err == nil {
		return seq + 1, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("next id %s: %v: %w", table, err, orm.ErrExecution)
	}

	// No sequence row yet: the table has never seen an autoincrement insert.
	query := fmt.Sprintf(`SELECT COALESCE(MAX("id"), 0) + 1 FROM %s`, quoteIdentifier(table))
	var next int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return 0, fmt.Errorf("next id %s: %v: %w", table, err, orm.ErrExecution)
	}
	return next, nil
}

func (c *conn) IsActive(ctx context.Context) bool {
	return c.db.PingContext(ctx) == nil
}

func (c *conn) Quiet() {
	c.log = slog.New(slog.DiscardHandler)
}

func (c *conn) Close() error {
	return c.db.Close()
}

// rowSeq adapts sql.Rows into the lazy forward-only row mapping sequence.
type rowSeq struct {
	rows    *sql.Rows
	columns []string
	current map[string]any
	err     error
}

func newRows(rows *sql.Rows) *rowSeq {
	cols, err := rows.Columns()
	return &rowSeq{rows: rows, columns: cols, err: err}
}

func (r *rowSeq) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}

	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = err
		return false
	}

	row := make(map[string]any, len(r.columns))
	for i, col := range r.columns {
		row[col] = values[i]
	}
	r.current = row
	return true
}

func (r *rowSeq) Row() map[string]any { return r.current }

func (r *rowSeq) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *rowSeq) Close() error { return r.rows.Close() }
