package orm_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/joernroeder/silverstripe-framework/orm"
)

// fakeDriver registers an in-memory engine so registry and reconciliation
// behavior can be tested without a real database.
type fakeDriver struct{}

func (fakeDriver) Name() string { return "fake" }

func (fakeDriver) Open(_ context.Context, cfg orm.Config) (orm.Conn, error) {
	return newFakeConn(cfg), nil
}

func (fakeDriver) CreateDatabase(context.Context, orm.Config) (bool, error) {
	return true, nil
}

func init() {
	orm.Register(fakeDriver{})
}

type fakeTable struct {
	fields  map[string]string
	indexes map[string]*orm.IndexSpec
	rows    int
}

// fakeConn records every schema-altering operation in ddl, which is what
// the idempotence and replace-not-patch assertions inspect.
type fakeConn struct {
	cfg      orm.Config
	tables   map[string]*fakeTable
	ddl      []string
	executed []string
	affected int64
	active   bool
	quieted  bool
	closed   bool
}

func newFakeConn(cfg orm.Config) *fakeConn {
	return &fakeConn{cfg: cfg, tables: make(map[string]*fakeTable), active: true}
}

func (c *fakeConn) table(name string) (*fakeTable, bool) {
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

func (c *fakeConn) record(format string, args ...any) {
	c.ddl = append(c.ddl, fmt.Sprintf(format, args...))
}

func (c *fakeConn) Execute(_ context.Context, sql string, severity orm.Severity) (orm.Rows, error) {
	c.executed = append(c.executed, sql)
	if strings.HasPrefix(sql, "FAIL") {
		if severity == orm.SeverityWarn {
			return orm.EmptyRows(), nil
		}
		return nil, fmt.Errorf("forced failure: %w", orm.ErrExecution)
	}
	c.affected = 1
	return orm.EmptyRows(), nil
}

func (c *fakeConn) Manipulate(_ context.Context, batch orm.Manipulation) error {
	for _, op := range batch {
		c.executed = append(c.executed, fmt.Sprintf("%s %s", op.Command, op.Table))
		if t, ok := c.table(op.Table); ok && op.Command == orm.CommandInsert {
			t.rows++
		}
	}
	c.affected = int64(len(batch))
	return nil
}

func (c *fakeConn) AffectedRows() int64 { return c.affected }

func (c *fakeConn) GeneratedID(_ context.Context, table string) (int64, error) {
	if t, ok := c.table(table); ok {
		return int64(t.rows), nil
	}
	return 0, nil
}

func (c *fakeConn) NextID(_ context.Context, table string) (int64, error) {
	if t, ok := c.table(table); ok {
		return int64(t.rows) + 1, nil
	}
	return 1, nil
}

func (c *fakeConn) IsActive(context.Context) bool { return c.active }

func (c *fakeConn) Quiet() { c.quieted = true }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) TableList(context.Context) (map[string]struct{}, error) {
	tables := make(map[string]struct{}, len(c.tables))
	for name := range c.tables {
		tables[name] = struct{}{}
	}
	return tables, nil
}

func (c *fakeConn) FieldList(_ context.Context, table string) (map[string]string, error) {
	t, ok := c.table(table)
	if !ok {
		return nil, fmt.Errorf("field list: table %s: %w", table, orm.ErrNotFound)
	}
	fields := make(map[string]string, len(t.fields))
	for name, spec := range t.fields {
		fields[name] = spec
	}
	return fields, nil
}

func (c *fakeConn) IndexList(_ context.Context, table string) (map[string]*orm.IndexSpec, error) {
	t, ok := c.table(table)
	if !ok {
		return nil, fmt.Errorf("index list: table %s: %w", table, orm.ErrNotFound)
	}
	indexes := make(map[string]*orm.IndexSpec, len(t.indexes))
	for name, spec := range t.indexes {
		indexes[name] = spec
	}
	return indexes, nil
}

func (c *fakeConn) CreateTable(_ context.Context, spec orm.TableSpec) error {
	c.record("create_table %s", spec.Name)
	t := &fakeTable{fields: make(map[string]string), indexes: make(map[string]*orm.IndexSpec)}
	if spec.AutoIncPK {
		t.fields["id"] = "INTEGER PRIMARY KEY"
	}
	for name, fieldSpec := range spec.Fields {
		if spec.AutoIncPK && strings.EqualFold(name, "id") {
			continue
		}
		t.fields[name] = fieldSpec
	}
	for name, idx := range spec.Indexes {
		if idx == nil {
			continue
		}
		resolved := idx.Resolve(name)
		t.indexes[name] = &resolved
	}
	c.tables[strings.ToLower(spec.Name)] = t
	return nil
}

func (c *fakeConn) CreateField(_ context.Context, table, field, spec string) error {
	c.record("create_field %s.%s", table, field)
	t, ok := c.table(table)
	if !ok {
		return fmt.Errorf("create field: table %s: %w", table, orm.ErrNotFound)
	}
	t.fields[field] = spec
	return nil
}

func (c *fakeConn) AlterField(_ context.Context, table, field, spec string) error {
	c.record("alter_field %s.%s", table, field)
	t, ok := c.table(table)
	if !ok {
		return fmt.Errorf("alter field: table %s: %w", table, orm.ErrNotFound)
	}
	t.fields[field] = spec
	return nil
}

func (c *fakeConn) CreateIndex(_ context.Context, table, name string, spec orm.IndexSpec) error {
	c.record("create_index %s.%s", table, name)
	t, ok := c.table(table)
	if !ok {
		return fmt.Errorf("create index: table %s: %w", table, orm.ErrNotFound)
	}
	t.indexes[name] = &spec
	return nil
}

func (c *fakeConn) DropIndex(_ context.Context, table, name string) error {
	c.record("drop_index %s.%s", table, name)
	if t, ok := c.table(table); ok {
		delete(t.indexes, name)
	}
	return nil
}

func (c *fakeConn) RenameTable(_ context.Context, from, to string) error {
	c.record("rename_table %s %s", from, to)
	t, ok := c.table(from)
	if !ok {
		return fmt.Errorf("rename table: %s: %w", from, orm.ErrNotFound)
	}
	delete(c.tables, strings.ToLower(from))
	c.tables[strings.ToLower(to)] = t
	return nil
}

func (c *fakeConn) CheckAndRepair(_ context.Context, table string) bool {
	_, ok := c.table(table)
	return ok
}

func (c *fakeConn) CanonicalFieldSpec(spec string) string {
	return strings.ToUpper(strings.Join(strings.Fields(spec), " "))
}
