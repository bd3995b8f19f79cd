package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/joernroeder/silverstripe-framework/orm"
)

// TableList enumerates user tables, lower-cased. sqlite internal tables are
// skipped.
func (c *conn) TableList(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("table list: %v: %w", err, orm.ErrExecution)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("table list: scan: %w", err)
		}
		tables[strings.ToLower(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table list: rows error: %w", err)
	}
	return tables, nil
}

// FieldList reconstructs a specification string per column from PRAGMA
// table_info output.
func (c *conn) FieldList(ctx context.Context, table string) (map[string]string, error) {
	exists, err := c.tableExists(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("field list %s: %w", table, err)
	}
	if !exists {
		return nil, fmt.Errorf("field list: table %s: %w", table, orm.ErrNotFound)
	}

	autoInc, err := c.hasAutoIncrement(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("field list %s: %w", table, err)
	}

	query := fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdentifier(table))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("field list %s: query columns: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	fields := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var dfltValue sql.NullString
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("field list %s: scan column: %w", table, err)
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
		fields[name] = spec.String()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("field list %s: rows error: %w", table, err)
	}
	return fields, nil
}

// IndexList enumerates the table's indexes with their resolved specs,
// mapping managed physical names back to their logical names. Primary-key
// and unique-constraint auto indexes are skipped.
func (c *conn) IndexList(ctx context.Context, table string) (map[string]*orm.IndexSpec, error) {
	query := fmt.Sprintf(`PRAGMA index_list(%s)`, quoteIdentifier(table))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index list %s: %v: %w", table, err, orm.ErrExecution)
	}
	defer func() { _ = rows.Close() }()

	type indexEntry struct {
		physical string
		unique   bool
	}
	var entries []indexEntry
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("index list %s: scan: %w", table, err)
		}
		if origin != "c" || strings.HasPrefix(name, "sqlite_autoindex_") {
			continue
		}
		entries = append(entries, indexEntry{physical: name, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index list %s: rows error: %w", table, err)
	}

	indexes := make(map[string]*orm.IndexSpec, len(entries))
	for _, entry := range entries {
		columns, err := c.indexColumns(ctx, entry.physical)
		if err != nil {
			return nil, fmt.Errorf("index list %s: %w", table, err)
		}

		kind := orm.KindIndex
		if entry.unique {
			kind = orm.KindUnique
		}
		indexes[logicalIndexName(table, entry.physical)] = &orm.IndexSpec{Columns: columns, Kind: kind}
	}
	return indexes, nil
}

func (c *conn) indexColumns(ctx context.Context, physical string) ([]string, error) {
	query := fmt.Sprintf(`PRAGMA index_info(%s)`, quoteIdentifier(physical))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index info %s: %w", physical, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("index info %s: scan: %w", physical, err)
		}
		if name.Valid {
			columns = append(columns, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index info %s: rows error: %w", physical, err)
	}
	return columns, nil
}

func (c *conn) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := c.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, table).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return true, nil
}

// hasAutoIncrement checks the stored CREATE TABLE sql for the AUTOINCREMENT
// keyword; PRAGMA table_info does not expose it.
func (c *conn) hasAutoIncrement(ctx context.Context, table string) (bool, error) {
	var createSQL sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, table).Scan(&createSQL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("table sql: %w", err)
	}
	return createSQL.Valid && strings.Contains(strings.ToUpper(createSQL.String), "AUTOINCREMENT"), nil
}

// physicalIndexName namespaces managed index names per table; the sqlite
// index namespace is database-wide.
func physicalIndexName(table, name string) string {
	return fmt.Sprintf("ix_%s_%s", table, name)
}

func logicalIndexName(table, physical string) string {
	// Table names compare case-insensitively everywhere else, so fold case
	// on the prefix too.
	prefix := "ix_" + table + "_"
	if len(physical) > len(prefix) && strings.EqualFold(physical[:len(prefix)], prefix) {
		return physical[len(prefix):]
	}
	return physical
}

// typeAliases folds sqlite type affinities so that equivalent declarations
// compare equal.
var typeAliases = map[string]string{
	"INT":  "INTEGER",
	"BOOL": "BOOLEAN",
}

// CanonicalFieldSpec normalizes a field specification for comparison:
// whitespace collapsed, keywords upper-cased outside quoted literals, and
// type aliases folded. Reconciliation treats two specs as equal exactly when
// their canonical forms are byte-identical.
func (c *conn) CanonicalFieldSpec(spec string) string {
	var b strings.Builder
	inQuote := false
	lastSpace := true

	for _, r := range spec {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
			lastSpace = false
		case inQuote:
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(upperRune(r))
			lastSpace = false
		}
	}

	out := strings.TrimSpace(b.String())
	words := strings.Split(out, " ")
	for i, w := range words {
		if alias, ok := typeAliases[w]; ok {
			words[i] = alias
		}
	}
	return strings.Join(words, " ")
}

func upperRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}
