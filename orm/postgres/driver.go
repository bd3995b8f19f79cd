// Package postgres implements the orm driver contract using PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joernroeder/silverstripe-framework/orm"
)

// DriverName is the selector registered with the orm driver registry.
const DriverName = "postgres"

func init() {
	orm.Register(driver{})
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Open(ctx context.Context, cfg orm.Config) (orm.Conn, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("open postgres: missing database name: %w", orm.ErrConfiguration)
	}

	pool, err := pgxpool.New(ctx, dsn(cfg, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %v: %w", err, orm.ErrConnection)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %v: %w", err, orm.ErrConnection)
	}

	return &conn{pool: pool, log: slog.Default()}, nil
}

// CreateDatabase connects to the maintenance database and creates the
// database named in cfg unless it already exists. Returns true if it was
// newly created.
func (driver) CreateDatabase(ctx context.Context, cfg orm.Config) (bool, error) {
	if cfg.Database == "" {
		return false, fmt.Errorf("create database: missing database name: %w", orm.ErrConfiguration)
	}

	admin, err := pgx.Connect(ctx, dsn(cfg, "postgres"))
	if err != nil {
		return false, fmt.Errorf("create database: %v: %w", err, orm.ErrConnection)
	}
	defer func() { _ = admin.Close(ctx) }()

	var exists bool
	err = admin.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, cfg.Database).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("create database: %v: %w", err, orm.ErrExecution)
	}
	if exists {
		return false, nil
	}

	// CREATE DATABASE cannot be parameterized.
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+quoteIdentifier(cfg.Database)); err != nil {
		return false, fmt.Errorf("create database %s: %v: %w", cfg.Database, err, orm.ErrExecution)
	}
	return true, nil
}

func dsn(cfg orm.Config, database string) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}

	if len(cfg.Options) > 0 {
		q := u.Query()
		keys := make([]string, 0, len(cfg.Options))
		for k := range cfg.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q.Set(k, cfg.Options[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// conn wraps one pgx connection pool.
type conn struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu       sync.Mutex
	affected int64
}

// quoteIdentifier safely quotes a PostgreSQL identifier
func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
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
		rows, err := c.pool.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		c.setAffected(0)
		return newRows(rows), nil
	}

	tag, err := c.pool.Exec(ctx, query)
	if err != nil {
		return nil, err
	}
	c.setAffected(tag.RowsAffected())
	return orm.EmptyRows(), nil
}

func returnsRows(query string) bool {
	switch firstWord(query) {
	case "SELECT", "WITH", "EXPLAIN", "VALUES", "SHOW", "TABLE":
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

	tag, err := c.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
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

// GeneratedID returns the most recently assigned surrogate key for table,
// read from the backing sequence.
func (c *conn) GeneratedID(ctx context.Context, table string) (int64, error) {
	query := `SELECT last_value FROM pg_sequences
		WHERE schemaname = 'public' AND sequencename = $1 AND last_value IS NOT NULL`

	var id int64
	err := c.pool.QueryRow(ctx, query, sequenceName(table)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("generated id %s: %v: %w", table, err, orm.ErrExecution)
	}
	return id, nil
}

// NextID predicts the next surrogate key for table from its sequence,
// falling back to MAX(id)+1 for tables without one. Best-effort and racy
// under concurrent writers.
func (c *conn) NextID(ctx context.Context, table string) (int64, error) {
	query := `SELECT COALESCE(last_value, 0) + 1 FROM pg_sequences
		WHERE schemaname = 'public' AND sequencename = $1`

	var next int64
	err := c.pool.QueryRow(ctx, query, sequenceName(table)).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("next id %s: %v: %w", table, err, orm.ErrExecution)
	}

	fallback := fmt.Sprintf(`SELECT COALESCE(MAX("id"), 0) + 1 FROM %s`, quoteIdentifier(table))
	if err := c.pool.QueryRow(ctx, fallback).Scan(&next); err != nil {
		return 0, fmt.Errorf("next id %s: %v: %w", table, err, orm.ErrExecution)
	}
	return next, nil
}

// sequenceName is the name postgres gives the sequence behind a serial
// primary key column.
func sequenceName(table string) string {
	return strings.ToLower(table) + "_id_seq"
}

func (c *conn) IsActive(ctx context.Context) bool {
	return c.pool.Ping(ctx) == nil
}

func (c *conn) Quiet() {
	c.log = slog.New(slog.DiscardHandler)
}

func (c *conn) Close() error {
	c.pool.Close()
	return nil
}

// rowSeq adapts pgx.Rows into the lazy forward-only row mapping sequence.
type rowSeq struct {
	rows    pgx.Rows
	columns []string
	current map[string]any
	err     error
}

func newRows(rows pgx.Rows) *rowSeq {
	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, d := range descs {
		columns[i] = d.Name
	}
	return &rowSeq{rows: rows, columns: columns}
}

func (r *rowSeq) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}

	values, err := r.rows.Values()
	if err != nil {
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

func (r *rowSeq) Close() error {
	r.rows.Close()
	return nil
}
