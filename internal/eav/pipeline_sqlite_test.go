package eav

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavetl/internal/etlerr"
	"eavetl/internal/storage"
	_ "eavetl/internal/storage/sqlite"
)

type storedAttr struct {
	ID       int64
	Name     string
	Position string
	Sheet    string
}

type storedFact struct {
	EntityID    int64
	AttributeID int64
	Value       sql.NullString
}

func sqliteConfig(t *testing.T) storage.Config {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "eav.db") + "?_pragma=foreign_keys(1)"
	return storage.Config{Kind: "sqlite", DSN: dsn}
}

func runWorkbook(t *testing.T, cfg storage.Config, wb *memWorkbook) (Report, error) {
	t.Helper()
	o := NewOrchestrator(func(context.Context, string) (WorkbookSource, error) { return wb, nil }, nil)
	return o.Run(context.Background(), RunConfig{Workbook: "test.xlsx", Storage: cfg, BatchSize: 2})
}

func openDB(t *testing.T, cfg storage.Config) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", cfg.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func readAttrs(t *testing.T, db *sql.DB) []storedAttr {
	t.Helper()
	rows, err := db.Query(`SELECT id, name, position_label, sheet_name FROM eav_attributes ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []storedAttr
	for rows.Next() {
		var a storedAttr
		require.NoError(t, rows.Scan(&a.ID, &a.Name, &a.Position, &a.Sheet))
		out = append(out, a)
	}
	require.NoError(t, rows.Err())
	return out
}

func readFacts(t *testing.T, db *sql.DB) []storedFact {
	t.Helper()
	rows, err := db.Query(`SELECT entity_id, attribute_id, value FROM eav_facts ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []storedFact
	for rows.Next() {
		var f storedFact
		require.NoError(t, rows.Scan(&f.EntityID, &f.AttributeID, &f.Value))
		out = append(out, f)
	}
	require.NoError(t, rows.Err())
	return out
}

func tableCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('eav_attributes', 'eav_facts')`).Scan(&n))
	return n
}

func threeSheets() *memWorkbook {
	return &memWorkbook{sheets: []Sheet{
		{Name: "People", Headers: []string{"Name", "Age"}, Rows: [][]Cell{textRow("Ana", "30"), textRow("Bo", "41")}},
		{Name: "Cities", Headers: []string{"City"}, Rows: [][]Cell{textRow("Lima"), {Null()}}},
		{Name: "Tags", Headers: []string{"Tag", "Tag"}, Rows: [][]Cell{textRow("a", "b")}},
	}}
}

func TestPipeline_SQLiteNameAgeExample(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := runWorkbook(t, cfg, peopleWorkbook())
	require.NoError(t, err)

	db := openDB(t, cfg)
	assert.Equal(t, []storedAttr{
		{ID: 1, Name: "Name", Position: "A", Sheet: "People"},
		{ID: 2, Name: "Age", Position: "B", Sheet: "People"},
	}, readAttrs(t, db))

	facts := readFacts(t, db)
	require.Len(t, facts, 4)
	want := []struct {
		entity, attr int64
		value        string
	}{{1, 1, "Ana"}, {1, 2, "30"}, {2, 1, "Bo"}, {2, 2, "41"}}
	for i, w := range want {
		assert.Equal(t, w.entity, facts[i].EntityID)
		assert.Equal(t, w.attr, facts[i].AttributeID)
		assert.Equal(t, sql.NullString{String: w.value, Valid: true}, facts[i].Value)
	}
}

func TestPipeline_SQLiteMultiSheetNullsAndDuplicates(t *testing.T) {
	cfg := sqliteConfig(t)

	rep, err := runWorkbook(t, cfg, threeSheets())
	require.NoError(t, err)
	require.Len(t, rep.Sheets, 3)

	db := openDB(t, cfg)
	attrs := readAttrs(t, db)
	require.Len(t, attrs, 5)
	assert.Equal(t, "Cities", attrs[2].Sheet)
	assert.Equal(t, "A", attrs[2].Position)
	assert.Equal(t, "Tag", attrs[3].Name)
	assert.Equal(t, "Tag", attrs[4].Name)
	assert.NotEqual(t, attrs[3].ID, attrs[4].ID)

	facts := readFacts(t, db)
	require.Len(t, facts, 4+2+2)
	assert.False(t, facts[5].Value.Valid, "NULL cell should be stored as NULL")
	assert.Equal(t, attrs[3].ID, facts[6].AttributeID)
	assert.Equal(t, attrs[4].ID, facts[7].AttributeID)
	assert.Equal(t, "b", facts[7].Value.String)
}

func TestPipeline_SQLiteRerunIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := runWorkbook(t, cfg, threeSheets())
	require.NoError(t, err)
	db := openDB(t, cfg)
	firstAttrs, firstFacts := readAttrs(t, db), readFacts(t, db)

	_, err = runWorkbook(t, cfg, threeSheets())
	require.NoError(t, err)
	assert.Equal(t, firstAttrs, readAttrs(t, db))
	assert.Equal(t, firstFacts, readFacts(t, db))
}

func TestPipeline_SQLiteFailureKeepsPreviousLoad(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := runWorkbook(t, cfg, peopleWorkbook())
	require.NoError(t, err)
	db := openDB(t, cfg)
	before, beforeFacts := readAttrs(t, db), readFacts(t, db)

	wb := threeSheets()
	wb.failOn = "Cities"
	rep, err := runWorkbook(t, cfg, wb)
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.SourceRead))
	assert.Equal(t, Failed, rep.State)

	assert.Equal(t, before, readAttrs(t, db))
	assert.Equal(t, beforeFacts, readFacts(t, db))
}

func TestPipeline_SQLiteFailureOnFreshStoreLeavesNoTables(t *testing.T) {
	cfg := sqliteConfig(t)

	wb := threeSheets()
	wb.failOn = "Tags"
	_, err := runWorkbook(t, cfg, wb)
	require.Error(t, err)

	assert.Equal(t, 0, tableCount(t, openDB(t, cfg)))
}

// midLoadRepo wraps a real repository so that the failAt-th fact batch of
// the run fails after the earlier batches have been written.
type midLoadRepo struct {
	storage.Repository
	failAt int
	landed int
}

func (r *midLoadRepo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.Repository.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &midLoadTx{Tx: tx, repo: r}, nil
}

type midLoadTx struct {
	storage.Tx
	repo  *midLoadRepo
	calls int
}

func (t *midLoadTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	t.calls++
	if t.calls == t.repo.failAt {
		return 0, errors.New("disk I/O error")
	}
	n, err := t.Tx.InsertRows(ctx, table, columns, rows)
	if err == nil {
		t.repo.landed++
	}
	return n, err
}

// twoSheetsForMidLoad has 4 facts on People (2 batches of 2) and 6 on Visits
// (3 batches). Failing batch 4 stops Visits after its first batch landed.
func twoSheetsForMidLoad() *memWorkbook {
	return &memWorkbook{sheets: []Sheet{
		{Name: "People", Headers: []string{"Name", "Age"}, Rows: [][]Cell{textRow("Ana", "30"), textRow("Bo", "41")}},
		{Name: "Visits", Headers: []string{"City", "Year"}, Rows: [][]Cell{
			textRow("Lima", "2019"), textRow("Cusco", "2021"), textRow("Puno", "2023"),
		}},
	}}
}

func runMidLoadFailure(t *testing.T, cfg storage.Config) (*midLoadRepo, error) {
	t.Helper()
	repo := &midLoadRepo{failAt: 4}
	wb := twoSheetsForMidLoad()
	o := NewOrchestrator(func(context.Context, string) (WorkbookSource, error) { return wb, nil }, nil)
	o.NewRepository = func(ctx context.Context, c storage.Config) (storage.Repository, error) {
		inner, err := storage.New(ctx, c)
		if err != nil {
			return nil, err
		}
		repo.Repository = inner
		return repo, nil
	}
	_, err := o.Run(context.Background(), RunConfig{Workbook: "test.xlsx", Storage: cfg, BatchSize: 2})
	return repo, err
}

func TestPipeline_SQLiteLoadFailureMidSheetLeavesNoTables(t *testing.T) {
	cfg := sqliteConfig(t)

	repo, err := runMidLoadFailure(t, cfg)
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.Load), "err=%v", err)
	var e *etlerr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Visits", e.Sheet)
	assert.Equal(t, 3, repo.landed, "People's two batches and Visits' first batch should have been written")

	assert.Equal(t, 0, tableCount(t, openDB(t, cfg)))
}

func TestPipeline_SQLiteLoadFailureMidSheetKeepsPreviousLoad(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := runWorkbook(t, cfg, threeSheets())
	require.NoError(t, err)
	db := openDB(t, cfg)
	before, beforeFacts := readAttrs(t, db), readFacts(t, db)

	repo, err := runMidLoadFailure(t, cfg)
	require.Error(t, err)
	assert.Equal(t, 3, repo.landed)

	assert.Equal(t, before, readAttrs(t, db))
	assert.Equal(t, beforeFacts, readFacts(t, db))
}

func TestPipeline_UnknownStorageKind(t *testing.T) {
	_, err := runWorkbook(t, storage.Config{Kind: "nope"}, peopleWorkbook())
	assert.True(t, etlerr.Is(err, etlerr.Connection), "err=%v", err)
}
