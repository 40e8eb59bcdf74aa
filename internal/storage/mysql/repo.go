package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"eavetl/internal/storage"
)

func init() {
	storage.Register("mysql", New)
}

/*
Repo implements storage.Repository for MySQL / MariaDB.

MySQL commits implicitly before and after every DDL statement. A *sql.Tx
would silently fall back to autocommit after the schema reset, so the run
pins one *sql.Conn and drives the transaction with explicit statements:
ResetTables executes its DDL and then opens a fresh transaction for the data
writes. The reset itself cannot be rolled back on this backend; every row
written after it can.
*/
type Repo struct {
	db *sql.DB
}

// New parses the DSN with the driver's own parser, so malformed DSNs fail
// before any network traffic.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newRepo(db), nil
}

func newRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "START TRANSACTION"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Tx{conn: conn}, nil
}

// Tx is a transaction driven by explicit statements on a pinned connection.
type Tx struct {
	conn *sql.Conn
	done bool
}

func (t *Tx) ResetTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := t.conn.ExecContext(ctx, buildDropSQL(tables[i])); err != nil {
			return fmt.Errorf("drop table %s: %w", tables[i].Name, err)
		}
	}
	for _, spec := range tables {
		q, err := buildCreateSQL(spec, tables)
		if err != nil {
			return err
		}
		if _, err := t.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	}
	// The DDL above committed implicitly; reopen for the data writes.
	if _, err := t.conn.ExecContext(ctx, "START TRANSACTION"); err != nil {
		return fmt.Errorf("restart transaction after ddl: %w", err)
	}
	return nil
}

func (t *Tx) InsertReturningID(ctx context.Context, table, key string, columns []string, values []any) (int64, error) {
	if err := storage.CheckRows(table, columns, [][]any{values}); err != nil {
		return 0, err
	}
	q, args := buildInsertSQL(table, columns, [][]any{values})
	res, err := t.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}
	q, args := buildInsertSQL(table, columns, rows)
	res, err := t.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	defer t.conn.Close()
	_, err := t.conn.ExecContext(ctx, "COMMIT")
	return err
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Close()
	_, err := t.conn.ExecContext(ctx, "ROLLBACK")
	return err
}

func myIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func myTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = myIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func buildDropSQL(t storage.TableSpec) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", myTableIdent(t.Name))
}

// buildCreateSQL renders CREATE TABLE for InnoDB. MySQL parses but ignores
// inline REFERENCES clauses, so foreign keys are emitted as table constraints.
func buildCreateSQL(t storage.TableSpec, all []storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+2)
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("%s BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY", myIdent(t.PrimaryKey.Name)))
	}
	var fks []string
	for _, c := range t.Columns {
		def := myIdent(c.Name) + " " + mysqlType(c.Type)
		if c.IsNullable() {
			def += " NULL"
		} else {
			def += " NOT NULL"
		}
		defs = append(defs, def)

		if c.References != "" {
			pk, err := storage.PrimaryKeyOf(all, c.References)
			if err != nil {
				return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
			}
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", myIdent(c.Name), myTableIdent(c.References), myIdent(pk)))
		}
	}
	defs = append(defs, fks...)

	return fmt.Sprintf("CREATE TABLE %s (%s) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;", myTableIdent(t.Name), strings.Join(defs, ", ")), nil
}

func mysqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeShortText:
		return "VARCHAR(16)"
	case storage.TypeInteger:
		return "INT"
	case storage.TypeBigInt:
		return "BIGINT"
	default:
		return "TEXT"
	}
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = myIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", myTableIdent(table), strings.Join(cols, ", "))
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
