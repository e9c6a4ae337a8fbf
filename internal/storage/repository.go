// Package storage defines the backend-agnostic capability the pipelines use to
// read from the source store and write to the destination store.
//
// Backends (postgres, sqlite, mssql) register themselves from init() and are
// selected by Config.Kind. Import internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"erpsync/internal/records"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Params are named query parameters. A query refers to them as @name; a nil
// value binds SQL NULL.
type Params map[string]any

// Names returns the parameter names in sorted order so binding is deterministic.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Repository is one open connection (or pool) to a relational store.
//
// IMPORTANT: the interface is intentionally small. Each backend implements
// Query and the Tx write operations in its own idiomatic way (Postgres
// COPY and ON CONFLICT, SQLite ON CONFLICT, SQL Server MERGE).
type Repository interface {
	// Query runs an opaque SELECT with named parameters and materializes the
	// full result. Column order follows the driver.
	Query(ctx context.Context, query string, params Params) (records.Set, error)

	// Begin opens a write transaction. The caller owns Commit/Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Close releases backend resources. Call once.
	Close()
}

// Tx groups destination writes so they commit or roll back together.
//
// table may be schema-qualified ("public.catalogo"); backends quote each part.
type Tx interface {
	// Truncate removes every row from table.
	Truncate(ctx context.Context, table string) error

	// Insert appends rows. Returns rows affected.
	Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Upsert inserts rows and, on conflict with keys, updates every non-key
	// column. keys must be a subset of columns and must be backed by a unique
	// constraint in the destination.
	Upsert(ctx context.Context, table string, columns []string, rows [][]any, keys []string) (int64, error)

	Commit(ctx context.Context) error

	// Rollback is safe to call after Commit; it is then a no-op.
	Rollback(ctx context.Context) error
}

// Factory opens a Repository for a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind (e.g. "postgres", "sqlite").
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Failing fast
//     avoids ambiguous backend selection.
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

// Kinds lists the registered backend kinds, sorted.
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

// New opens a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or not registered.
//   - Returns whatever error the factory returns (typically connectivity).
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ","))
	}
	return f(ctx, cfg)
}

// SplitQualifiedName splits "schema.table" into its parts. Names without a
// single dot are returned as an unqualified table.
func SplitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// QualifiedName joins schema and table; an empty schema yields table alone.
func QualifiedName(schema, table string) string {
	if strings.TrimSpace(schema) == "" {
		return table
	}
	return schema + "." + table
}

// NonKeyColumns returns columns not present in keys, preserving order.
func NonKeyColumns(columns, keys []string) []string {
	isKey := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		isKey[k] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := isKey[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
