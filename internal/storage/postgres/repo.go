package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"erpsync/internal/records"
	"erpsync/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Queries with @name parameters bound through pgx.NamedArgs
  - Full-replace writes via TRUNCATE + COPY inside one transaction
  - Upserts via INSERT ... ON CONFLICT (...) DO UPDATE SET ... = EXCLUDED...
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

// Query runs query with params bound by name.
//
// Values come back as pgx decodes them (numeric as pgtype.Numeric, time as
// pgtype.Time, etc.); transforms unwrap them through driver.Valuer.
func (r *Repo) Query(ctx context.Context, query string, params storage.Params) (records.Set, error) {
	var args []any
	if len(params) > 0 {
		args = append(args, pgx.NamedArgs(params))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return records.Set{}, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}

	set := records.Set{Columns: cols}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return records.Set{}, err
		}
		rec := make(records.Record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		set.Records = append(set.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return records.Set{}, err
	}
	return set, nil
}

// Begin starts a transaction on a pooled connection.
func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// txConn is the part of pgx.Tx the writer uses.
type txConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Tx wraps pgx.Tx.
type Tx struct {
	tx txConn
}

// Truncate empties table. TRUNCATE is transactional in Postgres, so a later
// rollback restores the previous contents.
func (t *Tx) Truncate(ctx context.Context, table string) error {
	_, err := t.tx.Exec(ctx, "TRUNCATE TABLE "+pgTableIdent(table))
	return err
}

// Insert bulk-loads rows with COPY.
func (t *Tx) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return t.tx.CopyFrom(ctx, copyIdentifier(table), columns, pgx.CopyFromRows(rows))
}

// maxParams is the Postgres wire-protocol limit on bind parameters per
// statement.
const maxParams = 65535

// Upsert performs multi-row INSERT ... ON CONFLICT statements, each kept
// under maxParams.
func (t *Tx) Upsert(ctx context.Context, table string, columns []string, rows [][]any, keys []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("postgres: upsert into %s requires conflict keys", table)
	}

	per := max(1, maxParams/max(1, len(columns)))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := buildUpsertSQL(table, columns, rows[start:end], keys)
		cmd, err := t.tx.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("rows %d-%d: %w", start, end-1, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// buildUpsertSQL constructs a single INSERT ... ON CONFLICT statement and its
// args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and the conflict
//     clause can be unit tested without a database.
//
// Constraints:
//   - every row has len(columns) values.
//   - keys is non-empty and a subset of columns.
//   - when every column is a key there is nothing to update and the statement
//     uses DO NOTHING.
func buildUpsertSQL(table string, columns []string, rows [][]any, keys []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
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

	b.WriteString(" ON CONFLICT (")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(k))
	}
	b.WriteString(")")

	update := storage.NonKeyColumns(columns, keys)
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), args
	}
	b.WriteString(" DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	return b.String(), args
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes an optionally schema-qualified table name.
func pgTableIdent(name string) string {
	schema, table := storage.SplitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

func copyIdentifier(name string) pgx.Identifier {
	schema, table := storage.SplitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{schema, table}
}
