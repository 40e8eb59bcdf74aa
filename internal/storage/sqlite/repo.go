package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"eavetl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - Keys are rowid aliases ("INTEGER PRIMARY KEY AUTOINCREMENT") and are read
//     back through LastInsertId.
//   - Foreign keys are only enforced when the connection enables them, e.g.
//     with a "_pragma=foreign_keys(1)" DSN parameter.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx is a storage.Tx over *sql.Tx. SQLite DDL is transactional.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) ResetTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := t.tx.ExecContext(ctx, buildDropSQL(tables[i])); err != nil {
			return fmt.Errorf("drop table %s: %w", tables[i].Name, err)
		}
	}
	for _, spec := range tables {
		q, err := buildCreateSQL(spec, tables)
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// InsertReturningID inserts one row. key is implied: SQLite reports the
// rowid alias through LastInsertId.
func (t *Tx) InsertReturningID(ctx context.Context, table, key string, columns []string, values []any) (int64, error) {
	if err := storage.CheckRows(table, columns, [][]any{values}); err != nil {
		return 0, err
	}
	q, args := buildInsertSQL(table, columns, [][]any{values})
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertRows performs a SQLite multi-row insert.
func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}
	q, args := buildInsertSQL(table, columns, rows)
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildDropSQL(t storage.TableSpec) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, sqlIdent(t.Name))
}

// buildCreateSQL generates DDL for t. all is the full reset set and is used to
// resolve the key column of referenced tables.
func buildCreateSQL(t storage.TableSpec, all []storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var parts []string
	if t.PrimaryKey != nil {
		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		if c.References != "" {
			pk, err := storage.PrimaryKeyOf(all, c.References)
			if err != nil {
				return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
			}
			col += fmt.Sprintf(" REFERENCES %s (%s)", sqlIdent(c.References), sqlIdent(pk))
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// sqliteType maps portable types onto SQLite affinities. Validate has already
// rejected anything else.
func sqliteType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInteger, storage.TypeBigInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// buildInsertSQL builds one INSERT with a VALUES tuple per row.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = sqlIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sqlIdent(table), strings.Join(cols, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	b.WriteString(";")
	return b.String(), args
}

var _ storage.Tx = (*Tx)(nil)
