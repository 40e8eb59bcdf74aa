package eav

import (
	"context"
	"fmt"

	"eavetl/internal/etlerr"
	"eavetl/internal/storage"
)

// DefaultBatchSize is the number of facts written per insert round trip.
const DefaultBatchSize = 1000

// ExtractFacts decomposes sheet into facts in row-major order. Row r
// (0-based) becomes entity r+1. Every column up to the sheet width yields one
// fact per row; cells past the end of a short row are NULL. Columns without
// a header, and columns attrs cannot resolve, are skipped.
func ExtractFacts(sheet Sheet, attrs AttributeMap) []Fact {
	width := sheet.Width()
	ids := make([]int64, width)
	ok := make([]bool, width)
	resolved := 0
	for c := 0; c < width && c < len(sheet.Headers); c++ {
		ids[c], ok[c] = attrs.Resolve(c, sheet.Headers[c])
		if ok[c] {
			resolved++
		}
	}

	facts := make([]Fact, 0, resolved*len(sheet.Rows))
	for r, row := range sheet.Rows {
		entity := int64(r + 1)
		for c := 0; c < width; c++ {
			if !ok[c] {
				continue
			}
			v := Null()
			if c < len(row) {
				v = row[c]
			}
			facts = append(facts, Fact{EntityID: entity, AttributeID: ids[c], Value: v})
		}
	}
	return facts
}

// LoadFacts writes facts in batches of batchSize, one InsertRows call per
// batch, and returns the number of batches written.
//
// Errors:
//   - etlerr.InvalidArgument if batchSize <= 0.
//   - etlerr.Load if any batch fails. Earlier batches are not undone here;
//     the caller rolls back the transaction.
func LoadFacts(ctx context.Context, tx storage.Tx, s Schema, facts []Fact, batchSize int) (int, error) {
	batches, err := Chunk(facts, batchSize)
	if err != nil {
		return 0, err
	}

	cols := []string{colEntityID, colAttributeID, colValue}
	for i, batch := range batches {
		rows := make([][]any, len(batch))
		for j, f := range batch {
			rows[j] = []any{f.EntityID, f.AttributeID, f.Value.Value()}
		}
		if _, err := tx.InsertRows(ctx, s.FactTable, cols, rows); err != nil {
			return i, etlerr.Wrap(etlerr.Load, StageLoadFacts, "",
				fmt.Errorf("batch %d/%d (%d facts): %w", i+1, len(batches), len(batch), err))
		}
	}
	return len(batches), nil
}
