package eav

import (
	"context"
	"fmt"

	"eavetl/internal/column"
	"eavetl/internal/etlerr"
	"eavetl/internal/storage"
)

// RegisterAttributes inserts one registry row per header, left to right, and
// returns the ids the store assigned. Column i gets position label
// column.Label(i+1). Duplicate headers each get their own row.
//
// Errors:
//   - etlerr.Registration if any insert or key read-back fails.
func RegisterAttributes(ctx context.Context, tx storage.Tx, s Schema, sheet string, headers []string) (AttributeMap, error) {
	m := AttributeMap{
		ByName:     make(map[string]int64, len(headers)),
		ByPosition: make([]int64, 0, len(headers)),
	}
	cols := []string{colName, colPositionLabel, colSheetName}

	for i, h := range headers {
		label, err := column.Label(i + 1)
		if err != nil {
			return m, etlerr.Wrap(etlerr.Registration, StageRegister, sheet, err)
		}
		id, err := tx.InsertReturningID(ctx, s.AttributeTable, colID, cols, []any{h, label, sheet})
		if err != nil {
			return m, etlerr.Wrap(etlerr.Registration, StageRegister, sheet,
				fmt.Errorf("column %s (%q): %w", label, h, err))
		}
		m.ByName[h] = id
		m.ByPosition = append(m.ByPosition, id)
	}
	return m, nil
}
