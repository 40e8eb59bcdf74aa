package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavetl/internal/storage"
)

func TestBuildCreateSQL_SequenceBeforeTable(t *testing.T) {
	tables := []storage.TableSpec{
		{
			Name:       "eav_attributes",
			PrimaryKey: &storage.PrimaryKeySpec{Name: "id"},
			Columns:    []storage.ColumnSpec{{Name: "name", Type: storage.TypeText, Nullable: storage.Bool(false)}},
		},
		{
			Name:       "eav_facts",
			PrimaryKey: &storage.PrimaryKeySpec{Name: "id"},
			Columns: []storage.ColumnSpec{
				{Name: "attribute_id", Type: storage.TypeBigInt, References: "eav_attributes", Nullable: storage.Bool(false)},
				{Name: "value", Type: storage.TypeText},
			},
		},
	}

	stmts, err := buildCreateSQL(tables[1], tables)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, `CREATE SEQUENCE "seq_eav_facts_id" START 1;`, stmts[0])
	assert.Contains(t, stmts[1], `"id" BIGINT PRIMARY KEY DEFAULT nextval('seq_eav_facts_id')`)
	assert.Contains(t, stmts[1], `"attribute_id" BIGINT NOT NULL REFERENCES "eav_attributes" ("id")`)
	assert.Contains(t, stmts[1], `"value" VARCHAR`)
}

func TestBuildDropSQL_DropsSequence(t *testing.T) {
	stmts := buildDropSQL(storage.TableSpec{Name: "eav_facts", PrimaryKey: &storage.PrimaryKeySpec{Name: "id"}})
	assert.Equal(t, []string{
		`DROP TABLE IF EXISTS "eav_facts";`,
		`DROP SEQUENCE IF EXISTS "seq_eav_facts_id";`,
	}, stmts)

	unkeyed := buildDropSQL(storage.TableSpec{Name: "t"})
	assert.Len(t, unkeyed, 1)
}

func TestBuildInsertSQL(t *testing.T) {
	q, args := buildInsertSQL("eav_facts", []string{"a", "b", "c"}, [][]any{{1, 2, nil}})
	assert.Equal(t, `INSERT INTO "eav_facts" ("a", "b", "c") VALUES (?, ?, ?);`, q)
	assert.Equal(t, []any{1, 2, nil}, args)
}
