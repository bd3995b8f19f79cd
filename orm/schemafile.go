package orm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchemaFile is the on-disk declaration format consumed by schemactl apply:
// a list of table specs to require plus table names to retire.
type SchemaFile struct {
	Tables  []TableSpec `yaml:"tables"`
	Retired []string    `yaml:"retired"`
}

// LoadSchemaFile reads and validates a YAML schema declaration.
func LoadSchemaFile(path string) (*SchemaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load schema file: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes a YAML schema declaration and validates every table
// spec in it.
func ParseSchema(data []byte) (*SchemaFile, error) {
	var sf SchemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	seen := make(map[string]struct{}, len(sf.Tables))
	for _, spec := range sf.Tables {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("parse schema: duplicate table %s", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}

	for _, name := range sf.Retired {
		if !IsValidIdentifier(name) {
			return nil, fmt.Errorf("parse schema: invalid retired table name: %s", name)
		}
	}

	return &sf, nil
}
