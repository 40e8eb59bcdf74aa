// Table specs live here so the eav package and every backend package can use
// them without import cycles.
package storage

import (
	"fmt"
	"strings"
)

// TableSpec describes a table a backend must (re)create.
type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

// PrimaryKeySpec names an auto-generated surrogate key column.
// Each backend maps it onto its own auto-increment construct.
type PrimaryKeySpec struct {
	Name string `json:"name"`
}

// ColumnType is a portable column type. Backends translate it to native DDL.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeShortText ColumnType = "short_text" // bounded text, <= 16 chars
	TypeInteger   ColumnType = "integer"
	TypeBigInt    ColumnType = "bigint"
)

type ColumnSpec struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`

	// References is the referenced table; the referenced column is that
	// table's primary key.
	References string `json:"references,omitempty"`

	// Nullable == nil means NULL is allowed.
	Nullable *bool `json:"nullable,omitempty"`
}

// IsNullable reports whether the column accepts NULL.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// ColumnNames returns the names of the non-key columns in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Validate checks the parts every backend relies on.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if t.PrimaryKey != nil && strings.TrimSpace(t.PrimaryKey.Name) == "" {
		return fmt.Errorf("table %s: primary_key.name is required", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s: column name must be set", t.Name)
		}
		switch c.Type {
		case TypeText, TypeShortText, TypeInteger, TypeBigInt:
		default:
			return fmt.Errorf("table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
	}
	return nil
}

// PrimaryKeyOf returns the primary key column of the named table among tables.
func PrimaryKeyOf(tables []TableSpec, name string) (string, error) {
	for _, t := range tables {
		if t.Name != name {
			continue
		}
		if t.PrimaryKey == nil {
			return "", fmt.Errorf("table %s has no primary key", name)
		}
		return t.PrimaryKey.Name, nil
	}
	return "", fmt.Errorf("referenced table %s is not part of the reset", name)
}

// Bool returns a pointer to v, for ColumnSpec.Nullable literals.
func Bool(v bool) *bool { return &v }
