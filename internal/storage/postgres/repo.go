package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eavetl/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

/*
Repo implements storage.Repository for Postgres.

Postgres DDL is transactional, so a schema reset performed inside the run's
transaction is undone together with the data when the run fails.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// Begin opens the run's transaction on a pooled connection.
func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx is a storage.Tx over a pgx transaction.
type Tx struct {
	tx   pgx.Tx
	done bool
}

// ResetTables drops tables in reverse order and recreates them in order.
func (t *Tx) ResetTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := t.tx.Exec(ctx, buildDropSQL(tables[i])); err != nil {
			return fmt.Errorf("drop table %s: %w", tables[i].Name, err)
		}
	}
	for _, spec := range tables {
		q, err := buildCreateSQL(spec, tables)
		if err != nil {
			return err
		}
		if _, err := t.tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// InsertReturningID inserts one row and reads the generated key back with
// RETURNING.
func (t *Tx) InsertReturningID(ctx context.Context, table, key string, columns []string, values []any) (int64, error) {
	if err := storage.CheckRows(table, columns, [][]any{values}); err != nil {
		return 0, err
	}
	var id int64
	if err := t.tx.QueryRow(ctx, buildInsertReturningSQL(table, key, columns), values...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertRows performs a single multi-row INSERT.
func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}
	q, args := buildInsertSQL(table, columns, rows)
	cmd, err := t.tx.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (t *Tx) Commit(ctx context.Context) error {
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// It is pure and deterministic, so placeholder numbering is unit tested
// without a database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

// buildInsertReturningSQL renders a one-row INSERT that returns key.
func buildInsertReturningSQL(table, key string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") RETURNING ")
	b.WriteString(pgIdent(key))
	b.WriteString(";")
	return b.String()
}

// buildDropSQL drops a table and anything that still depends on it.
func buildDropSQL(t storage.TableSpec) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE;`, pgTableIdent(t.Name))
}

// buildCreateSQL renders CREATE TABLE for t. all is the full reset set and is
// used to resolve the key column of referenced tables.
func buildCreateSQL(t storage.TableSpec, all []storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		cols = append(cols, fmt.Sprintf(`%s BIGSERIAL PRIMARY KEY`, pgIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c, all)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}

	return fmt.Sprintf(`CREATE TABLE %s (%s);`, pgTableIdent(t.Name), strings.Join(cols, ", ")), nil
}

// buildColumnDef renders a single column definition. Foreign keys are
// expressed inline.
func buildColumnDef(c storage.ColumnSpec, all []storage.TableSpec) (string, error) {
	typ, err := pgType(c.Type)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if c.References != "" {
		pk, err := storage.PrimaryKeyOf(all, c.References)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		fmt.Fprintf(&b, " REFERENCES %s (%s)", pgTableIdent(c.References), pgIdent(pk))
	}
	return b.String(), nil
}

func pgType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeShortText:
		return "VARCHAR(16)", nil
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	}
	return "", fmt.Errorf("unsupported column type %q", t)
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
//
//	"public.eav_facts" -> "public"."eav_facts"
func pgTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = pgIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func joinIdents(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}

var _ storage.Tx = (*Tx)(nil)
