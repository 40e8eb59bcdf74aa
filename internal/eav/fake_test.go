package eav

import (
	"context"
	"errors"
	"fmt"

	"eavetl/internal/storage"
)

// fakeTx records calls and hands out sequential ids per table.
type fakeTx struct {
	resets    [][]storage.TableSpec
	inserted  map[string][][]any
	rowCalls  []int
	nextID    map[string]int64
	failReset error

	// failInsertAt makes the n-th InsertReturningID call (1-based) fail.
	failInsertAt int
	insertCalls  int

	// failRowsAt makes the n-th InsertRows call (1-based) fail.
	failRowsAt int

	committed  bool
	rolledBack bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{inserted: map[string][][]any{}, nextID: map[string]int64{}}
}

func (f *fakeTx) ResetTables(_ context.Context, tables []storage.TableSpec) error {
	if f.failReset != nil {
		return f.failReset
	}
	f.resets = append(f.resets, tables)
	f.inserted = map[string][][]any{}
	f.nextID = map[string]int64{}
	return nil
}

func (f *fakeTx) InsertReturningID(_ context.Context, table, key string, columns []string, values []any) (int64, error) {
	f.insertCalls++
	if f.failInsertAt > 0 && f.insertCalls == f.failInsertAt {
		return 0, errors.New("insert rejected")
	}
	if key == "" || len(columns) != len(values) {
		return 0, fmt.Errorf("bad insert into %s", table)
	}
	f.nextID[table]++
	f.inserted[table] = append(f.inserted[table], values)
	return f.nextID[table], nil
}

func (f *fakeTx) InsertRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	f.rowCalls = append(f.rowCalls, len(rows))
	if f.failRowsAt > 0 && len(f.rowCalls) == f.failRowsAt {
		return 0, errors.New("batch rejected")
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}
	f.inserted[table] = append(f.inserted[table], rows...)
	return int64(len(rows)), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

// memWorkbook is an in-memory WorkbookSource.
type memWorkbook struct {
	sheets []Sheet
	failOn string
	closed bool
}

func (w *memWorkbook) SheetNames() []string {
	names := make([]string, len(w.sheets))
	for i, s := range w.sheets {
		names[i] = s.Name
	}
	return names
}

func (w *memWorkbook) ReadSheet(name string) (Sheet, error) {
	if name == w.failOn {
		return Sheet{}, fmt.Errorf("sheet %q: corrupt xml", name)
	}
	for _, s := range w.sheets {
		if s.Name == name {
			return s, nil
		}
	}
	return Sheet{}, fmt.Errorf("sheet %q not found", name)
}

func (w *memWorkbook) Close() error {
	w.closed = true
	return nil
}

func textRow(vals ...string) []Cell {
	row := make([]Cell, len(vals))
	for i, v := range vals {
		row[i] = Text(v)
	}
	return row
}
