package orm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ObsoletePrefix marks retired tables renamed by DontRequireTable.
const ObsoletePrefix = "_obsolete_"

// RequireTable converges the live database toward the declared table spec.
// A missing table is created in a single step from all declared fields,
// indexes, the surrogate-key flag, and the options string. An existing table
// is patched additively: each declared field and index is required in turn,
// and anything present on the table but absent from the spec is left alone.
// Safe to call unconditionally on every process start; a converged table
// produces no DDL.
func (db *DB) RequireTable(ctx context.Context, spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("require table: %w", err)
	}

	conn, err := db.Conn()
	if err != nil {
		return fmt.Errorf("require table %s: %w", spec.Name, err)
	}

	tables, err := conn.TableList(ctx)
	if err != nil {
		return fmt.Errorf("require table %s: %w", spec.Name, err)
	}

	// Table names compare case-insensitively; engines fold case differently.
	if _, exists := tables[strings.ToLower(spec.Name)]; !exists {
		db.logger().Info("creating table", "table", spec.Name)
		if err := conn.CreateTable(ctx, spec); err != nil {
			return fmt.Errorf("require table %s: create: %w", spec.Name, err)
		}
		return nil
	}

	for _, field := range sortedKeys(spec.Fields) {
		// The surrogate key column is owned by the engine; a declared field
		// of the same name is subsumed by it.
		if spec.AutoIncPK && strings.EqualFold(field, "id") {
			continue
		}
		if err := db.RequireField(ctx, spec.Name, field, spec.Fields[field]); err != nil {
			return fmt.Errorf("require table %s: %w", spec.Name, err)
		}
	}

	for _, name := range sortedKeys(spec.Indexes) {
		if err := db.RequireIndex(ctx, spec.Name, name, spec.Indexes[name]); err != nil {
			return fmt.Errorf("require table %s: %w", spec.Name, err)
		}
	}

	return nil
}

// RequireField ensures a field exists on table with the declared spec. A
// missing table is a no-op, deferred to a subsequent RequireTable. A missing
// field is created; an existing field whose canonical specification differs
// from the declared one is altered in place. Matching canonical specs
// short-circuit without DDL, which is what makes repeated calls idempotent.
// Fields absent from a declared schema are never dropped here; removal is an
// explicit, human-triggered action.
func (db *DB) RequireField(ctx context.Context, table, field, spec string) error {
	conn, err := db.Conn()
	if err != nil {
		return fmt.Errorf("require field %s.%s: %w", table, field, err)
	}

	tables, err := conn.TableList(ctx)
	if err != nil {
		return fmt.Errorf("require field %s.%s: %w", table, field, err)
	}
	if _, exists := tables[strings.ToLower(table)]; !exists {
		db.logger().Debug("table missing, field deferred", "table", table, "field", field)
		return nil
	}

	fields, err := conn.FieldList(ctx, table)
	if err != nil {
		return fmt.Errorf("require field %s.%s: %w", table, field, err)
	}

	existing, found := fields[field]
	if !found {
		// PRAGMA/catalog output may differ in case from the declaration.
		for name, fieldSpec := range fields {
			if strings.EqualFold(name, field) {
				existing, found = fieldSpec, true
				break
			}
		}
	}

	if !found {
		db.logger().Info("creating field", "table", table, "field", field)
		if err := conn.CreateField(ctx, table, field, spec); err != nil {
			return fmt.Errorf("require field %s.%s: create: %w", table, field, err)
		}
		return nil
	}

	if conn.CanonicalFieldSpec(existing) == conn.CanonicalFieldSpec(spec) {
		return nil
	}

	db.logger().Info("altering field", "table", table, "field", field, "from", existing, "to", spec)
	if err := conn.AlterField(ctx, table, field, spec); err != nil {
		return fmt.Errorf("require field %s.%s: alter: %w", table, field, err)
	}
	return nil
}

// RequireIndex ensures an index exists on table matching the declared spec.
// A nil spec is a removal signal: an existing index of that name is dropped.
// An empty-columns spec is shorthand for a single-column index on the field
// named after the index. When an existing index differs in columns or kind
// it is dropped and recreated; index definitions are replaced atomically,
// never patched.
func (db *DB) RequireIndex(ctx context.Context, table, name string, spec *IndexSpec) error {
	conn, err := db.Conn()
	if err != nil {
		return fmt.Errorf("require index %s.%s: %w", table, name, err)
	}

	tables, err := conn.TableList(ctx)
	if err != nil {
		return fmt.Errorf("require index %s.%s: %w", table, name, err)
	}
	if _, exists := tables[strings.ToLower(table)]; !exists {
		db.logger().Debug("table missing, index deferred", "table", table, "index", name)
		return nil
	}

	indexes, err := conn.IndexList(ctx, table)
	if err != nil {
		return fmt.Errorf("require index %s.%s: %w", table, name, err)
	}
	existing, exists := indexes[name]
	if !exists {
		// Engines may fold the case of stored index names.
		for stored, storedSpec := range indexes {
			if strings.EqualFold(stored, name) {
				existing, exists = storedSpec, true
				break
			}
		}
	}

	if spec == nil {
		if !exists {
			return nil
		}
		db.logger().Info("dropping retired index", "table", table, "index", name)
		if err := conn.DropIndex(ctx, table, name); err != nil {
			return fmt.Errorf("require index %s.%s: drop: %w", table, name, err)
		}
		return nil
	}

	want := spec.Resolve(name)

	if exists {
		if existing.Resolve(name).Equivalent(want) {
			return nil
		}
		db.logger().Info("replacing index", "table", table, "index", name)
		if err := conn.DropIndex(ctx, table, name); err != nil {
			return fmt.Errorf("require index %s.%s: drop: %w", table, name, err)
		}
	} else {
		db.logger().Info("creating index", "table", table, "index", name)
	}

	if err := conn.CreateIndex(ctx, table, name, want); err != nil {
		return fmt.Errorf("require index %s.%s: create: %w", table, name, err)
	}
	return nil
}

// DontRequireTable retires a table by renaming it with the obsolete prefix
// instead of dropping it, preserving its data for manual inspection or
// recovery. Calling it for an absent or already-retired table is a no-op, so
// repeated runs never collide on the obsolete name.
func (db *DB) DontRequireTable(ctx context.Context, table string) error {
	conn, err := db.Conn()
	if err != nil {
		return fmt.Errorf("dont require table %s: %w", table, err)
	}

	if strings.HasPrefix(strings.ToLower(table), ObsoletePrefix) {
		return nil
	}

	tables, err := conn.TableList(ctx)
	if err != nil {
		return fmt.Errorf("dont require table %s: %w", table, err)
	}
	if _, exists := tables[strings.ToLower(table)]; !exists {
		return nil
	}

	obsolete := ObsoletePrefix + table
	if _, exists := tables[strings.ToLower(obsolete)]; exists {
		db.logger().Warn("obsolete table already exists, skipping rename", "table", table, "obsolete", obsolete)
		return nil
	}

	db.logger().Info("retiring table", "table", table, "obsolete", obsolete)
	if err := conn.RenameTable(ctx, table, obsolete); err != nil {
		return fmt.Errorf("dont require table %s: rename: %w", table, err)
	}
	return nil
}

// CheckAndRepairTable runs an engine-specific integrity check and repair.
// True means the table is confirmed healthy after the call; a failed repair
// returns false rather than failing loudly, since this is best-effort
// maintenance.
func (db *DB) CheckAndRepairTable(ctx context.Context, table string) bool {
	conn, err := db.Conn()
	if err != nil {
		return false
	}

	healthy := conn.CheckAndRepair(ctx, table)
	if !healthy {
		db.logger().Warn("table failed integrity check", "table", table)
	}
	return healthy
}

// sortedKeys gives deterministic iteration order over spec maps so repeated
// reconciliations emit DDL in a stable order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
