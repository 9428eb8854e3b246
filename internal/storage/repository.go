package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config selects and parameterizes a warehouse backend.
//
// When to use:
//   - Pass Config to New when opening the repository for a run.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is handed to the backend factory untouched; validation is
//     backend-specific (sqlite treats it as a file path).
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic surface the warehouse loader needs.
//
// Every method that touches the database runs as one transactional scope:
// it applies completely or not at all. Each backend implements the
// semantics in its own idiomatic way (Postgres ON CONFLICT, SQLite
// OR IGNORE, SQL Server anti-join).
type Repository interface {
	// Close releases backend resources (connections, prepared statements).
	//
	// Edge cases:
	//   - Safe to call once at process shutdown; treat Close as "call once".
	Close()

	// EnsureSchema creates the given tables and their constraints when they
	// do not already exist. Safe to call on every run.
	EnsureSchema(ctx context.Context, tables []TableSpec) error

	// InsertDimensionRows appends dimension rows, skipping rows whose
	// conflictColumns values already exist. Existing rows are never updated;
	// the conflict clause is the guard against a concurrent writer landing
	// the same natural key first.
	InsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) error

	// SelectKeyValueByKeys returns keyColumn->valueColumn for the given
	// keys only. Keys absent from the table are absent from the map.
	SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error)

	// SelectAllKeyValue returns keyColumn->valueColumn for the whole table.
	SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error)

	// InsertFactRows appends fact rows and reports how many were written.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind (e.g. "postgres",
// "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package. The kind
//     string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Duplicate registration would make
//     backend selection ambiguous, so it fails fast.
func Register(kind string, f factory) {
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
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing database.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported database.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
