package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joernroeder/silverstripe-framework/orm"
)

// CreateTable builds the table in one step from the declared fields, the
// surrogate-key flag, and the options string, then creates its indexes.
func (c *conn) CreateTable(ctx context.Context, spec orm.TableSpec) error {
	createSQL := renderCreateTable(spec)
	if _, err := c.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %v: %w", spec.Name, err, orm.ErrExecution)
	}

	names := make([]string, 0, len(spec.Indexes))
	for name := range spec.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		idx := spec.Indexes[name]
		if idx == nil {
			continue
		}
		if err := c.CreateIndex(ctx, spec.Name, name, idx.Resolve(name)); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	}
	return nil
}

func renderCreateTable(spec orm.TableSpec) string {
	var defs []string
	if spec.AutoIncPK {
		defs = append(defs, `"id" BIGSERIAL PRIMARY KEY`)
	}

	fields := make([]string, 0, len(spec.Fields))
	for name := range spec.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		if spec.AutoIncPK && strings.EqualFold(name, "id") {
			continue
		}
		defs = append(defs, quoteIdentifier(name)+" "+spec.Fields[name])
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdentifier(spec.Name), strings.Join(defs, ",\n\t"))
	if spec.Options != "" {
		stmt += " " + spec.Options
	}
	return stmt
}

func (c *conn) CreateField(ctx context.Context, table, field, spec string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		quoteIdentifier(table), quoteIdentifier(field), spec)
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create field %s.%s: %v: %w", table, field, err, orm.ErrExecution)
	}
	return nil
}

// AlterField converges an existing column on the declared spec. The spec is
// decomposed into type, nullability, and default, each applied with its own
// ALTER COLUMN clause; the type change carries a USING cast for lossy
// conversions.
func (c *conn) AlterField(ctx context.Context, table, field, spec string) error {
	parts := parseFieldSpec(spec)
	if parts.dataType == "" {
		return fmt.Errorf("alter field %s.%s: empty type in spec %q: %w", table, field, spec, orm.ErrConfiguration)
	}

	qt := quoteIdentifier(table)
	qf := quoteIdentifier(field)

	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			qt, qf, parts.dataType, qf, parts.dataType),
	}
	if parts.notNull {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", qt, qf))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", qt, qf))
	}
	if parts.dflt != "" {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", qt, qf, parts.dflt))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", qt, qf))
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("alter field %s.%s: begin: %w", table, field, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("alter field %s.%s: %q: %v: %w", table, field, stmt, err, orm.ErrExecution)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("alter field %s.%s: commit: %w", table, field, err)
	}
	return nil
}

type fieldSpecParts struct {
	dataType string
	notNull  bool
	dflt     string
}

// parseFieldSpec splits a declarative spec string into the type text, the
// NOT NULL flag, and the default expression.
func parseFieldSpec(spec string) fieldSpecParts {
	var parts fieldSpecParts
	rest := strings.TrimSpace(spec)

	upper := strings.ToUpper(rest)
	if i := strings.Index(upper, " DEFAULT "); i >= 0 {
		parts.dflt = strings.TrimSpace(rest[i+len(" DEFAULT "):])
		rest = strings.TrimSpace(rest[:i])
		upper = strings.ToUpper(rest)
	}
	if i := strings.Index(upper, " NOT NULL"); i >= 0 {
		parts.notNull = true
		rest = strings.TrimSpace(rest[:i] + rest[i+len(" NOT NULL"):])
	}

	parts.dataType = strings.TrimSpace(rest)
	return parts
}

// CreateIndex realizes an index spec. KindFulltext becomes a GIN index over
// a to_tsvector expression using the simple configuration.
func (c *conn) CreateIndex(ctx context.Context, table, name string, spec orm.IndexSpec) error {
	physical := quoteIdentifier(physicalIndexName(table, name))
	qt := quoteIdentifier(table)

	var query string
	switch spec.Kind {
	case orm.KindFulltext:
		exprs := make([]string, len(spec.Columns))
		for i, col := range spec.Columns {
			exprs[i] = quoteIdentifier(col)
		}
		query = fmt.Sprintf("CREATE INDEX %s ON %s USING gin (to_tsvector('simple', %s))",
			physical, qt, strings.Join(exprs, " || ' ' || "))

	case orm.KindUnique:
		query = fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", physical, qt, columnList(spec.Columns))

	default:
		query = fmt.Sprintf("CREATE INDEX %s ON %s (%s)", physical, qt, columnList(spec.Columns))
	}

	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create index %s.%s: %v: %w", table, name, err, orm.ErrExecution)
	}
	return nil
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdentifier(col)
	}
	return strings.Join(quoted, ", ")
}

func (c *conn) DropIndex(ctx context.Context, table, name string) error {
	// Unmanaged indexes surface under their physical name; prefer an exact
	// match before assuming the managed naming scheme.
	target := physicalIndexName(table, name)
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public' AND lower(tablename) = lower($1) AND indexname = $2
		)
	`, table, name).Scan(&exists)
	if err == nil && exists {
		target = name
	}

	query := fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdentifier(target))
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("drop index %s.%s: %v: %w", table, name, err, orm.ErrExecution)
	}
	return nil
}

func (c *conn) RenameTable(ctx context.Context, from, to string) error {
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdentifier(from), quoteIdentifier(to))
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("rename table %s to %s: %v: %w", from, to, err, orm.ErrExecution)
	}
	return nil
}

// CheckAndRepair probes the table and refreshes its statistics. PostgreSQL
// has no user-level repair; a readable table that analyzes cleanly is
// reported healthy.
func (c *conn) CheckAndRepair(ctx context.Context, table string) bool {
	probe := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", quoteIdentifier(table))
	if _, err := c.pool.Exec(ctx, probe); err != nil {
		c.log.Warn("table probe failed", "table", table, "err", err)
		return false
	}

	analyze := fmt.Sprintf("ANALYZE %s", quoteIdentifier(table))
	if _, err := c.pool.Exec(ctx, analyze); err != nil {
		c.log.Warn("analyze failed", "table", table, "err", err)
		return false
	}
	return true
}
