package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"eavetl/internal/storage"
)

func init() {
	storage.Register("duckdb", New)
}

// Repo implements storage.Repository for an embedded DuckDB file.
//
// DuckDB has no auto-increment column type; each keyed table gets its own
// sequence, created and dropped together with the table.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
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

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) ResetTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		for _, q := range buildDropSQL(tables[i]) {
			if _, err := t.tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("drop table %s: %w", tables[i].Name, err)
			}
		}
	}
	for _, spec := range tables {
		stmts, err := buildCreateSQL(spec, tables)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := t.tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("create table %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

func (t *Tx) InsertReturningID(ctx context.Context, table, key string, columns []string, values []any) (int64, error) {
	if err := storage.CheckRows(table, columns, [][]any{values}); err != nil {
		return 0, err
	}
	q, args := buildInsertSQL(table, columns, [][]any{values})
	q = strings.TrimSuffix(q, ";") + " RETURNING " + duckIdent(key) + ";"

	var id int64
	if err := t.tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

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

func duckIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// sequenceName is the sequence backing t's key column.
func sequenceName(t storage.TableSpec) string {
	return "seq_" + strings.ReplaceAll(t.Name, ".", "_") + "_" + t.PrimaryKey.Name
}

func buildDropSQL(t storage.TableSpec) []string {
	out := []string{fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, duckIdent(t.Name))}
	if t.PrimaryKey != nil {
		out = append(out, fmt.Sprintf(`DROP SEQUENCE IF EXISTS %s;`, duckIdent(sequenceName(t))))
	}
	return out
}

// buildCreateSQL returns the sequence DDL (when t is keyed) followed by the
// table DDL.
func buildCreateSQL(t storage.TableSpec, all []storage.TableSpec) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	var stmts []string
	var defs []string
	if t.PrimaryKey != nil {
		seq := sequenceName(t)
		stmts = append(stmts, fmt.Sprintf(`CREATE SEQUENCE %s START 1;`, duckIdent(seq)))
		defs = append(defs, fmt.Sprintf(`%s BIGINT PRIMARY KEY DEFAULT nextval('%s')`, duckIdent(t.PrimaryKey.Name), seq))
	}
	for _, c := range t.Columns {
		def := duckIdent(c.Name) + " " + duckType(c.Type)
		if !c.IsNullable() {
			def += " NOT NULL"
		}
		if c.References != "" {
			pk, err := storage.PrimaryKeyOf(all, c.References)
			if err != nil {
				return nil, fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
			}
			def += fmt.Sprintf(" REFERENCES %s (%s)", duckIdent(c.References), duckIdent(pk))
		}
		defs = append(defs, def)
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE %s (%s);`, duckIdent(t.Name), strings.Join(defs, ", ")))
	return stmts, nil
}

func duckType(t storage.ColumnType) string {
	switch t {
	case storage.TypeShortText:
		return "VARCHAR(16)"
	case storage.TypeInteger:
		return "INTEGER"
	case storage.TypeBigInt:
		return "BIGINT"
	default:
		return "VARCHAR"
	}
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = duckIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", duckIdent(table), strings.Join(cols, ", "))
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
