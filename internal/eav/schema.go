package eav

import (
	"context"
	"strings"

	"eavetl/internal/etlerr"
	"eavetl/internal/storage"
)

// Default physical table names.
const (
	DefaultAttributeTable = "eav_attributes"
	DefaultFactTable      = "eav_facts"
)

// Column names shared by the registrar, the loader and downstream readers.
const (
	colID            = "id"
	colName          = "name"
	colPositionLabel = "position_label"
	colSheetName     = "sheet_name"
	colEntityID      = "entity_id"
	colAttributeID   = "attribute_id"
	colValue         = "value"
)

// Schema names the two tables a run owns.
type Schema struct {
	AttributeTable string `koanf:"attribute_table"`
	FactTable      string `koanf:"fact_table"`
}

// DefaultSchema returns the default table names.
func DefaultSchema() Schema {
	return Schema{AttributeTable: DefaultAttributeTable, FactTable: DefaultFactTable}
}

// Validate reports empty or clashing table names as InvalidArgument.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.AttributeTable) == "" || strings.TrimSpace(s.FactTable) == "" {
		return etlerr.New(etlerr.InvalidArgument, "schema: attribute_table and fact_table are required")
	}
	if strings.EqualFold(s.AttributeTable, s.FactTable) {
		return etlerr.New(etlerr.InvalidArgument, "schema: attribute_table and fact_table must differ (both %q)", s.AttributeTable)
	}
	return nil
}

// Tables returns the registry and fact table definitions, registry first.
func (s Schema) Tables() []storage.TableSpec {
	return []storage.TableSpec{
		{
			Name:       s.AttributeTable,
			PrimaryKey: &storage.PrimaryKeySpec{Name: colID},
			Columns: []storage.ColumnSpec{
				{Name: colName, Type: storage.TypeText, Nullable: storage.Bool(false)},
				{Name: colPositionLabel, Type: storage.TypeShortText},
				{Name: colSheetName, Type: storage.TypeText},
			},
		},
		{
			Name:       s.FactTable,
			PrimaryKey: &storage.PrimaryKeySpec{Name: colID},
			Columns: []storage.ColumnSpec{
				{Name: colEntityID, Type: storage.TypeBigInt},
				{Name: colAttributeID, Type: storage.TypeBigInt, References: s.AttributeTable, Nullable: storage.Bool(false)},
				{Name: colValue, Type: storage.TypeText},
			},
		},
	}
}

// ResetSchema drops the fact table and the registry if they exist and
// recreates both. It must run inside the run's transaction before any
// registration or load.
//
// Errors:
//   - etlerr.InvalidArgument for an invalid Schema.
//   - etlerr.Schema for any DDL failure.
func ResetSchema(ctx context.Context, tx storage.Tx, s Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := tx.ResetTables(ctx, s.Tables()); err != nil {
		return etlerr.Wrap(etlerr.Schema, StageSchemaReset, "", err)
	}
	return nil
}
