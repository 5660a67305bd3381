package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - OutDir is only read by file-based backends.
type Config struct {
	Kind   string
	DSN    string
	OutDir string
}

// Repository is the destination of a load run.
//
// Each backend implements insert-or-ignore in its own idiomatic way (SQLite
// OR IGNORE, Postgres ON CONFLICT, SQL Server NOT EXISTS, in-memory key sets
// for delimited files).
type Repository interface {
	// Close releases backend resources. Call once at process shutdown.
	Close()

	// EnsureTables creates the destination tables if they do not exist.
	// Foreign keys are NOT enforced after this call; see Finalize.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Begin opens the unit of work for one document. Rows written through the
	// returned Tx become visible only after Commit.
	Begin(ctx context.Context) (Tx, error)

	// Finalize runs the post-load step: it replaces the contents of the
	// single-row reference table with spec.Now and turns on referential
	// integrity for every table in spec.Tables.
	Finalize(ctx context.Context, spec FinalizeSpec) error
}

// Tx is one document's unit of work.
type Tx interface {
	// InsertRows writes rows aligned with columns into table.
	//
	// When conflictColumns is non-empty the insert is idempotent on those
	// columns: a row whose key already exists is silently skipped.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)

	Commit(ctx context.Context) error

	// Rollback discards the unit of work. Calling it after Commit is a no-op,
	// so callers can always defer it.
	Rollback(ctx context.Context) error
}

// FinalizeSpec describes the post-load step.
type FinalizeSpec struct {
	Tables    []TableSpec
	NowTable  string
	NowColumn string
	Now       any
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
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
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns (including
//     connectivity failures, which are fatal for the run).
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in no particular order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
