package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/joernroeder/silverstripe-framework/orm"
)

// TableList enumerates base tables in the public schema, lower-cased.
func (c *conn) TableList(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
	`)
	if err != nil {
		return nil, fmt.Errorf("table list: %v: %w", err, orm.ErrExecution)
	}
	defer rows.Close()

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

// FieldList reconstructs a specification string per column from
// information_schema.columns.
func (c *conn) FieldList(ctx context.Context, table string) (map[string]string, error) {
	exists, err := c.tableExists(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("field list %s: %w", table, err)
	}
	if !exists {
		return nil, fmt.Errorf("field list: table %s: %w", table, orm.ErrNotFound)
	}

	query := `
		SELECT column_name, data_type, character_maximum_length,
			numeric_precision, numeric_scale, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND lower(table_name) = lower($1)
		ORDER BY ordinal_position
	`

	rows, err := c.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("field list %s: query columns: %w", table, err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var name, dataType, nullable string
		var charLen, numPrecision, numScale *int
		var dflt *string

		if err := rows.Scan(&name, &dataType, &charLen, &numPrecision, &numScale, &nullable, &dflt); err != nil {
			return nil, fmt.Errorf("field list %s: scan column: %w", table, err)
		}

		var spec strings.Builder
		spec.WriteString(dataType)
		switch {
		case charLen != nil:
			fmt.Fprintf(&spec, "(%d)", *charLen)
		case dataType == "numeric" && numPrecision != nil && numScale != nil:
			fmt.Fprintf(&spec, "(%d,%d)", *numPrecision, *numScale)
		}
		if nullable == "NO" {
			spec.WriteString(" NOT NULL")
		}
		if dflt != nil {
			spec.WriteString(" DEFAULT " + *dflt)
		}
		fields[name] = spec.String()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("field list %s: rows error: %w", table, err)
	}
	return fields, nil
}

// IndexList enumerates the table's secondary indexes with their resolved
// specs, mapping managed physical names back to logical ones. Primary-key
// indexes are skipped; fulltext indexes are recognized by their GIN
// to_tsvector expression.
func (c *conn) IndexList(ctx context.Context, table string) (map[string]*orm.IndexSpec, error) {
	query := `
		SELECT i.relname, ix.indisunique, am.amname, pg_get_indexdef(ix.indexrelid)
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = 'public' AND lower(t.relname) = lower($1) AND NOT ix.indisprimary
	`

	rows, err := c.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("index list %s: %v: %w", table, err, orm.ErrExecution)
	}
	defer rows.Close()

	indexes := make(map[string]*orm.IndexSpec)
	for rows.Next() {
		var physical, method, indexDef string
		var unique bool
		if err := rows.Scan(&physical, &unique, &method, &indexDef); err != nil {
			return nil, fmt.Errorf("index list %s: scan: %w", table, err)
		}

		spec := &orm.IndexSpec{Kind: orm.KindIndex}
		switch {
		case method == "gin" && strings.Contains(indexDef, "to_tsvector"):
			spec.Kind = orm.KindFulltext
			spec.Columns = fulltextColumns(indexDef)
		case unique:
			spec.Kind = orm.KindUnique
			spec.Columns = indexDefColumns(indexDef)
		default:
			spec.Columns = indexDefColumns(indexDef)
		}
		indexes[logicalIndexName(table, physical)] = spec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index list %s: rows error: %w", table, err)
	}
	return indexes, nil
}

// indexDefColumns extracts the column list from a pg_get_indexdef result,
// the portion inside the outermost parentheses after USING.
func indexDefColumns(indexDef string) []string {
	open := strings.Index(indexDef, "(")
	end := strings.LastIndex(indexDef, ")")
	if open < 0 || end <= open {
		return nil
	}

	var columns []string
	for _, part := range strings.Split(indexDef[open+1:end], ",") {
		col := strings.TrimSpace(part)
		// Drop operator classes and orderings appended to the column.
		if i := strings.IndexByte(col, ' '); i > 0 {
			col = col[:i]
		}
		columns = append(columns, strings.Trim(col, `"`))
	}
	return columns
}

var (
	quotedLiteralRegex = regexp.MustCompile(`'(?:[^']|'')*'`)
	castRemovalRegex   = regexp.MustCompile(`::[a-zA-Z_][a-zA-Z0-9_ ]*`)
	identifierRegex    = regexp.MustCompile(`"?[a-zA-Z_][a-zA-Z0-9_]*"?`)
)

// fulltextColumns recovers the source columns from a GIN to_tsvector
// expression index definition. pg_get_indexdef renders columns with or
// without quoting and ::text casts depending on their declared type, so the
// expression is stripped down to bare identifiers before extraction.
func fulltextColumns(indexDef string) []string {
	start := strings.Index(indexDef, "to_tsvector(")
	if start < 0 {
		return nil
	}
	expr := indexDef[start+len("to_tsvector("):]

	// Keep only the balanced argument list.
	depth := 1
	for i, r := range expr {
		if r == '(' {
			depth++
		}
		if r == ')' {
			depth--
			if depth == 0 {
				expr = expr[:i]
				break
			}
		}
	}

	// Drop the leading text-search configuration argument.
	if comma := strings.Index(expr, ","); comma >= 0 {
		expr = expr[comma+1:]
	}

	expr = quotedLiteralRegex.ReplaceAllString(expr, "")
	expr = castRemovalRegex.ReplaceAllString(expr, "")

	var columns []string
	for _, m := range identifierRegex.FindAllString(expr, -1) {
		columns = append(columns, strings.Trim(m, `"`))
	}
	return columns
}

func (c *conn) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND lower(table_name) = lower($1)
		)
	`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return exists, nil
}

func physicalIndexName(table, name string) string {
	return fmt.Sprintf("ix_%s_%s", strings.ToLower(table), strings.ToLower(name))
}

func logicalIndexName(table, physical string) string {
	prefix := "ix_" + strings.ToLower(table) + "_"
	if strings.HasPrefix(physical, prefix) {
		return strings.TrimPrefix(physical, prefix)
	}
	return physical
}

// typeAliases folds the catalog's verbose type names and common
// declaration synonyms onto one spelling each, longest names first.
var typeAliases = []struct {
	pattern *regexp.Regexp
	to      string
}{
	{regexp.MustCompile(`\bCHARACTER VARYING\b`), "VARCHAR"},
	{regexp.MustCompile(`\bTIMESTAMP WITHOUT TIME ZONE\b`), "TIMESTAMP"},
	{regexp.MustCompile(`\bTIMESTAMP WITH TIME ZONE\b`), "TIMESTAMPTZ"},
	{regexp.MustCompile(`\bDOUBLE PRECISION\b`), "FLOAT8"},
	{regexp.MustCompile(`\bINT8\b`), "BIGINT"},
	{regexp.MustCompile(`\bINT4\b`), "INTEGER"},
	{regexp.MustCompile(`\bINT2\b`), "SMALLINT"},
	{regexp.MustCompile(`\bINT\b`), "INTEGER"},
	{regexp.MustCompile(`\bBOOL\b`), "BOOLEAN"},
}

var castRegex = regexp.MustCompile(`::(CHARACTER VARYING|DOUBLE PRECISION|TIMESTAMP WITHOUT TIME ZONE|TIMESTAMP WITH TIME ZONE|"?[a-zA-Z_][a-zA-Z0-9_]*"?)(\([0-9,]+\))?`)

// CanonicalFieldSpec normalizes a field specification for comparison:
// whitespace collapsed, keywords upper-cased outside quoted literals, type
// synonyms folded, and the ::type casts postgres appends to stored defaults
// stripped. Reconciliation treats two specs as equal exactly when their
// canonical forms are byte-identical.
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
	out = castRegex.ReplaceAllString(out, "")
	for _, alias := range typeAliases {
		out = alias.pattern.ReplaceAllString(out, alias.to)
	}
	return strings.TrimSpace(out)
}

func upperRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}
