package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/joernroeder/silverstripe-framework/orm"
)

// CreateTable builds the table in one step from the declared fields, the
// surrogate-key flag, and the options string, then creates its indexes.
func (c *conn) CreateTable(ctx context.Context, spec orm.TableSpec) error {
	createSQL := renderCreateTable(spec)
	if _, err := c.db.ExecContext(ctx, createSQL); err != nil {
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

// renderCreateTable renders the CREATE TABLE statement. Fields are emitted
// in sorted order for deterministic DDL; the surrogate key comes first and
// subsumes any declared field of the same name.
func renderCreateTable(spec orm.TableSpec) string {
	var defs []string
	if spec.AutoIncPK {
		defs = append(defs, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
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
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create field %s.%s: %v: %w", table, field, err, orm.ErrExecution)
	}
	return nil
}

// AlterField changes a column's specification via a full table rebuild,
// since SQLite has no ALTER COLUMN: a replacement table with the updated
// definition is created, rows copied, the old table dropped, the
// replacement renamed, and the table's explicit indexes recreated. The
// whole sequence runs in one transaction.
func (c *conn) AlterField(ctx context.Context, table, field, spec string) error {
	cols, err := c.orderedColumns(ctx, table)
	if err != nil {
		return fmt.Errorf("alter field %s.%s: %w", table, field, err)
	}

	found := false
	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = quoteIdentifier(col.name)
		if strings.EqualFold(col.name, field) {
			defs[i] = quoteIdentifier(col.name) + " " + spec
			found = true
		} else {
			defs[i] = quoteIdentifier(col.name) + " " + col.spec
		}
	}
	if !found {
		return fmt.Errorf("alter field: %s.%s: %w", table, field, orm.ErrNotFound)
	}

	indexSQL, err := c.explicitIndexSQL(ctx, table)
	if err != nil {
		return fmt.Errorf("alter field %s.%s: %w", table, field, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alter field %s.%s: begin: %w", table, field, err)
	}
	defer func() { _ = tx.Rollback() }()

	tmp := table + "__rebuild"
	columnList := strings.Join(names, ", ")

	steps := []string{
		fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdentifier(tmp), strings.Join(defs, ",\n\t")),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			quoteIdentifier(tmp), columnList, columnList, quoteIdentifier(table)),
		fmt.Sprintf("DROP TABLE %s", quoteIdentifier(table)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdentifier(tmp), quoteIdentifier(table)),
	}
	// Index DDL captured before the drop references the original table name,
	// which the rename restores.
	steps = append(steps, indexSQL...)

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step); err != nil {
			return fmt.Errorf("alter field %s.%s: %q: %v: %w", table, field, step, err, orm.ErrExecution)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("alter field %s.%s: commit: %w", table, field, err)
	}
	return nil
}

type columnDef struct {
	name string
	spec string
}

// orderedColumns reads the table's columns in declaration order with their
// reconstructed specification strings.
func (c *conn) orderedColumns(ctx context.Context, table string) ([]columnDef, error) {
	exists, err := c.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("table %s: %w", table, orm.ErrNotFound)
	}

	autoInc, err := c.hasAutoIncrement(ctx, table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdentifier(table))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []columnDef
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var dfltValue sql.NullString
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}

		var spec strings.Builder
		spec.WriteString(dataType)
		if notNull == 1 {
			spec.WriteString(" NOT NULL")
		}
		if dfltValue.Valid {
			spec.WriteString(" DEFAULT " + dfltValue.String)
		}
		if pk > 0 {
			spec.WriteString(" PRIMARY KEY")
			if autoInc {
				spec.WriteString(" AUTOINCREMENT")
			}
		}
		cols = append(cols, columnDef{name: name, spec: spec.String()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return cols, nil
}

// explicitIndexSQL returns the stored CREATE INDEX statements for a table;
// auto indexes carry NULL sql and are excluded.
func (c *conn) explicitIndexSQL(ctx context.Context, table string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'index' AND lower(tbl_name) = lower(?) AND sql IS NOT NULL`, table)
	if err != nil {
		return nil, fmt.Errorf("index sql: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stmts []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return nil, fmt.Errorf("index sql: scan: %w", err)
		}
		stmts = append(stmts, stmt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index sql: rows error: %w", err)
	}
	return stmts, nil
}

// CreateIndex realizes an index spec. SQLite has no standalone fulltext
// index kind, so KindFulltext degrades to a plain index.
func (c *conn) CreateIndex(ctx context.Context, table, name string, spec orm.IndexSpec) error {
	unique := ""
	if spec.Kind == orm.KindUnique {
		unique = "UNIQUE "
	}

	quoted := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		quoted[i] = quoteIdentifier(col)
	}

	query := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, quoteIdentifier(physicalIndexName(table, name)),
		quoteIdentifier(table), strings.Join(quoted, ", "))
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create index %s.%s: %v: %w", table, name, err, orm.ErrExecution)
	}
	return nil
}

func (c *conn) DropIndex(ctx context.Context, table, name string) error {
	// Unmanaged indexes surface under their physical name; prefer an exact
	// match before assuming the managed naming scheme.
	target := physicalIndexName(table, name)
	var found string
	err := c.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND lower(tbl_name) = lower(?) AND name = ?`,
		table, name).Scan(&found)
	if err == nil {
		target = found
	}

	query := fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdentifier(target))
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop index %s.%s: %v: %w", table, name, err, orm.ErrExecution)
	}
	return nil
}

func (c *conn) RenameTable(ctx context.Context, from, to string) error {
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdentifier(from), quoteIdentifier(to))
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("rename table %s to %s: %v: %w", from, to, err, orm.ErrExecution)
	}
	return nil
}

// CheckAndRepair runs PRAGMA quick_check, attempting a REINDEX and a full
// integrity_check when it fails. The check is database-wide; SQLite has no
// per-table variant.
func (c *conn) CheckAndRepair(ctx context.Context, table string) bool {
	if c.integrityOK(ctx, "quick_check") {
		return true
	}

	c.log.Warn("integrity check failed, reindexing", "table", table)
	if _, err := c.db.ExecContext(ctx, "REINDEX"); err != nil {
		c.log.Warn("reindex failed", "err", err)
		return false
	}
	return c.integrityOK(ctx, "integrity_check")
}

func (c *conn) integrityOK(ctx context.Context, pragma string) bool {
	var result string
	if err := c.db.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}
