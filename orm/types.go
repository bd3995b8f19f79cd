package orm

import (
	"fmt"
	"regexp"
	"strings"
)

// Config holds the settings needed to establish a database connection.
// Only Type is validated at this layer; everything else is driver-owned.
type Config struct {
	// Type selects the registered driver: "sqlite" or "postgres"
	Type string `mapstructure:"type"`
	// Host and Port locate the database server (ignored by sqlite)
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// User and Password are the connection credentials
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// Database is the database name, or the file path for sqlite
	Database string `mapstructure:"database"`
	// Options holds driver-specific connection options appended to the DSN
	Options map[string]string `mapstructure:"options"`
}

// IndexKind distinguishes the supported index flavors.
type IndexKind string

const (
	KindIndex    IndexKind = "index"
	KindUnique   IndexKind = "unique"
	KindFulltext IndexKind = "fulltext"
)

func (k IndexKind) IsValid() bool {
	switch k {
	case KindIndex, KindUnique, KindFulltext, "":
		return true
	default:
		return false
	}
}

// IndexSpec describes a desired index. An empty Columns slice is shorthand
// for a single-column index on the field named after the index itself.
// In TableSpec.Indexes a nil *IndexSpec is a removal signal: an existing
// index of that name is dropped.
type IndexSpec struct {
	Columns []string  `yaml:"columns"`
	Kind    IndexKind `yaml:"kind"`
}

// Resolve expands the shorthand form against the index name and defaults
// the kind to a plain index.
func (s *IndexSpec) Resolve(name string) IndexSpec {
	out := IndexSpec{Kind: KindIndex}
	if s != nil {
		if len(s.Columns) > 0 {
			out.Columns = append([]string(nil), s.Columns...)
		}
		if s.Kind != "" {
			out.Kind = s.Kind
		}
	}
	if len(out.Columns) == 0 {
		out.Columns = []string{name}
	}
	return out
}

// Equivalent reports whether two resolved specs describe the same index:
// same kind and same columns in the same order.
func (s IndexSpec) Equivalent(other IndexSpec) bool {
	if s.Kind != other.Kind {
		return false
	}
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, c := range s.Columns {
		if !strings.EqualFold(c, other.Columns[i]) {
			return false
		}
	}
	return true
}

// TableSpec declares the desired end state of a table: its fields, indexes,
// whether it carries an auto-incrementing surrogate primary key, and an
// optional engine-specific options string appended verbatim to creation DDL.
type TableSpec struct {
	Name      string                `yaml:"name"`
	Fields    map[string]string     `yaml:"fields"`
	Indexes   map[string]*IndexSpec `yaml:"indexes"`
	AutoIncPK bool                  `yaml:"autoincpk"`
	Options   string                `yaml:"options"`
}

var validTableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsValidIdentifier checks if a name is usable as a table or column
// identifier (letters, digits, underscores, max 63 chars).
func IsValidIdentifier(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Validate checks internal consistency: the table name must be a valid
// identifier and every index column must name a declared field, or the
// index's own name for the single-column shorthand.
func (t TableSpec) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("validate table spec: name cannot be empty: %w", ErrConfiguration)
	}
	if !IsValidIdentifier(t.Name) {
		return fmt.Errorf("validate table spec: invalid table name %s: %w", t.Name, ErrConfiguration)
	}

	fields := make(map[string]struct{}, len(t.Fields))
	for name := range t.Fields {
		if !IsValidIdentifier(name) {
			return fmt.Errorf("validate table spec %s: invalid field name %s: %w", t.Name, name, ErrConfiguration)
		}
		fields[strings.ToLower(name)] = struct{}{}
	}
	if t.AutoIncPK {
		fields["id"] = struct{}{}
	}

	for name, spec := range t.Indexes {
		if !IsValidIdentifier(name) {
			return fmt.Errorf("validate table spec %s: invalid index name %s: %w", t.Name, name, ErrConfiguration)
		}
		if spec == nil {
			continue
		}
		if !spec.Kind.IsValid() {
			return fmt.Errorf("validate table spec %s: index %s: invalid kind %s: %w", t.Name, name, spec.Kind, ErrConfiguration)
		}
		resolved := spec.Resolve(name)
		for _, col := range resolved.Columns {
			if _, ok := fields[strings.ToLower(col)]; !ok {
				return fmt.Errorf("validate table spec %s: index %s references undeclared field %s: %w", t.Name, name, col, ErrConfiguration)
			}
		}
	}

	return nil
}

// Command identifies the kind of write a WriteOp performs.
type Command string

const (
	CommandInsert Command = "insert"
	CommandUpdate Command = "update"
)

// WriteOp is a single insert or update against one table. Field values are
// literal SQL expressions interpolated verbatim; callers own quoting.
// Updates require a Where condition.
type WriteOp struct {
	Table   string
	Command Command
	Fields  map[string]string
	Where   string
}

// Manipulation is an ordered batch of write operations. Ops targeting the
// same table are applied in the order given; ordering across tables is
// unspecified and drivers may reorder or parallelize it.
type Manipulation []WriteOp

// Severity is a caller-supplied hint about how a failed operation should be
// treated by the driver.
type Severity int

const (
	// SeverityFatal surfaces driver failures as hard errors.
	SeverityFatal Severity = iota
	// SeverityWarn logs driver failures and yields an empty result instead.
	SeverityWarn
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	default:
		return "fatal"
	}
}

// Rows is a lazy, forward-only sequence of row mappings produced by a query.
// It is finite and not restartable; a single pass with Next/Row, then Close.
type Rows interface {
	Next() bool
	Row() map[string]any
	Err() error
	Close() error
}

// EmptyRows returns a Rows with no data, used for non-fatal failure results.
func EmptyRows() Rows { return emptyRows{} }

type emptyRows struct{}

func (emptyRows) Next() bool          { return false }
func (emptyRows) Row() map[string]any { return nil }
func (emptyRows) Err() error          { return nil }
func (emptyRows) Close() error        { return nil }
