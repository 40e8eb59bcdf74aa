package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic handle on a relational store.
//
// The loader runs one transaction per pipeline run, so the only thing a
// repository hands out is a Tx.
type Repository interface {
	// Begin opens the single transaction a run works in.
	Begin(ctx context.Context) (Tx, error)

	// Close releases backend resources. Treat it as "call once".
	Close()
}

// Tx is the transactional execute interface the loader writes through.
//
// Each backend implements these semantics in its own idiomatic way (Postgres
// RETURNING, SQL Server OUTPUT / bulk copy, SQLite LastInsertId, etc).
type Tx interface {
	// ResetTables drops every table in tables (in reverse order, so dependents
	// go first) and recreates them in order.
	ResetTables(ctx context.Context, tables []TableSpec) error

	// InsertReturningID inserts one row and returns the value the store
	// assigned to the table's key column.
	InsertReturningID(ctx context.Context, table, key string, columns []string, values []any) (int64, error)

	// InsertRows inserts rows in a single round trip and returns the number of
	// rows written. Every row must have len(columns) values.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// Factory opens a repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Ambiguous backend selection fails fast.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CheckRows verifies that columns is non-empty and that every row carries
// exactly one value per column. Backends call it before building SQL so a
// ragged batch fails with a clear message instead of a placeholder mismatch.
func CheckRows(table string, columns []string, rows [][]any) error {
	if table == "" {
		return fmt.Errorf("storage: table is empty")
	}
	if len(columns) == 0 {
		return fmt.Errorf("storage: %s: columns is empty", table)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("storage: %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
	}
	return nil
}
