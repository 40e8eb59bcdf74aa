package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"eavetl/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for Microsoft SQL Server.
//
// This implementation supports:
//   - Transactional schema reset (SQL Server DDL participates in the transaction).
//   - Key read-back with OUTPUT INSERTED.<key>.
//   - Batch inserts through the TDS bulk copy protocol. A 1000-row, 3-column
//     VALUES list would need 3000 parameters and SQL Server caps a request at
//     2100, so batches are streamed with mssql.CopyIn instead.
type Repo struct {
	db *sql.DB
}

// New constructs a Repo using database/sql and the "sqlserver" driver
// registered by github.com/microsoft/go-mssqldb.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return newRepo(raw), nil
}

func newRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// txConn is the subset of *sql.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	Commit() error
	Rollback() error
}

// Tx is a storage.Tx over a SQL Server transaction.
type Tx struct {
	tx txConn
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

func (t *Tx) InsertReturningID(ctx context.Context, table, key string, columns []string, values []any) (int64, error) {
	if err := storage.CheckRows(table, columns, [][]any{values}); err != nil {
		return 0, err
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, buildInsertOutputSQL(table, key, columns), values...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertRows streams rows with a bulk copy. Each Exec with arguments buffers
// one row; the final Exec without arguments flushes and reports the count.
func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}

	stmt, err := t.tx.PrepareContext(ctx, mssqldb.CopyIn(table, mssqldb.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk copy into %s: %w", table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("bulk copy row %d into %s: %w", i, table, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("flush bulk copy into %s: %w", table, err)
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

// buildDropSQL drops t when it exists. OBJECT_ID takes the unquoted name.
func buildDropSQL(t storage.TableSpec) string {
	lit := strings.ReplaceAll(t.Name, "'", "''")
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;`, lit, mssqlTableIdent(t.Name))
}

// buildCreateSQL renders CREATE TABLE with an IDENTITY key and inline
// foreign keys resolved against all.
func buildCreateSQL(t storage.TableSpec, all []storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("%s BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		var b strings.Builder
		b.WriteString(mssqlIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(mssqlType(c.Type))
		if c.IsNullable() {
			b.WriteString(" NULL")
		} else {
			b.WriteString(" NOT NULL")
		}
		if c.References != "" {
			pk, err := storage.PrimaryKeyOf(all, c.References)
			if err != nil {
				return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
			}
			fmt.Fprintf(&b, " REFERENCES %s (%s)", mssqlTableIdent(c.References), mssqlIdent(pk))
		}
		defs = append(defs, b.String())
	}

	return fmt.Sprintf("CREATE TABLE %s (%s);", mssqlTableIdent(t.Name), strings.Join(defs, ", ")), nil
}

func mssqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeShortText:
		return "NVARCHAR(16)"
	case storage.TypeInteger:
		return "INT"
	case storage.TypeBigInt:
		return "BIGINT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// buildInsertOutputSQL renders a one-row INSERT that emits the generated key.
//
// Example:
//
//	INSERT INTO [eav_attributes] ([name]) OUTPUT INSERTED.[id] VALUES (@p1);
func buildInsertOutputSQL(table, key string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = mssqlIdent(c)
		params[i] = fmt.Sprintf("@p%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s);",
		mssqlTableIdent(table), strings.Join(cols, ", "), mssqlIdent(key), strings.Join(params, ", "))
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.eav_facts" -> [dbo].[eav_facts]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

var (
	_ txConn     = (*sql.Tx)(nil)
	_ storage.Tx = (*Tx)(nil)
)
