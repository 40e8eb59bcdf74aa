// Package eav normalizes spreadsheet sheets into an entity-attribute-value
// layout: one attribute row per source column and one fact row per
// (row, column) cell, all written inside a single transaction per run.
package eav

// Cell is one spreadsheet cell value: either NULL (missing or empty in the
// source) or text kept exactly as the source rendered it.
type Cell struct {
	text  string
	valid bool
}

// Null returns the missing-value cell.
func Null() Cell { return Cell{} }

// Text returns a non-null cell holding s verbatim, including "" and
// whitespace-only strings.
func Text(s string) Cell { return Cell{text: s, valid: true} }

// IsNull reports whether the cell is missing.
func (c Cell) IsNull() bool { return !c.valid }

// String returns the cell text, or "" for NULL.
func (c Cell) String() string { return c.text }

// Value is the driver argument for the cell: nil for NULL, otherwise string.
func (c Cell) Value() any {
	if !c.valid {
		return nil
	}
	return c.text
}

// Sheet is one worksheet in tabular form. Headers are in left-to-right order
// and may repeat; Rows are the data rows below the header row in sheet order.
// A row shorter than Headers is missing its trailing cells.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]Cell
}

// Width returns the number of columns: the longer of the header row and the
// widest data row.
func (s Sheet) Width() int {
	w := len(s.Headers)
	for _, r := range s.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// Fact is one (entity, attribute, value) triple ready to insert.
type Fact struct {
	EntityID    int64
	AttributeID int64
	Value       Cell
}

// AttributeMap is the registrar's result for one sheet.
type AttributeMap struct {
	// ByName maps header text to attribute id. When a header repeats, the
	// most recently registered id wins.
	ByName map[string]int64

	// ByPosition holds the attribute id of every column, by 0-based index.
	ByPosition []int64
}

// Resolve returns the attribute id for column index col with header text
// header. Position wins; header text is the fallback for columns the
// registrar did not see by position.
func (m AttributeMap) Resolve(col int, header string) (int64, bool) {
	if col >= 0 && col < len(m.ByPosition) {
		return m.ByPosition[col], true
	}
	id, ok := m.ByName[header]
	return id, ok
}
