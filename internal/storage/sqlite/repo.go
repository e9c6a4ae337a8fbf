package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"erpsync/internal/records"
	"erpsync/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no schemas in the Postgres sense. A "schema.table" name is
//     reduced to the bare table unless the qualifier is main or temp.
//   - There is no TRUNCATE; full-replace uses DELETE FROM inside the same
//     transaction.
//   - SQLite has no native timestamp type, so time.Time arguments are written
//     as TEXT (date-only for midnight UTC values, RFC3339Nano otherwise).
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a path or ":memory:").
//
// The pool is limited to one connection: an in-memory database is private to
// its connection, and SQLite serializes writers anyway.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// Exec runs a statement outside any transaction. Used for DDL in tests and
// tooling; pipelines never create tables.
func (r *Repo) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *Repo) Query(ctx context.Context, query string, params storage.Params) (records.Set, error) {
	rows, err := r.db.QueryContext(ctx, query, storage.NamedArgs(params)...)
	if err != nil {
		return records.Set{}, err
	}
	defer rows.Close()
	return storage.ScanSet(rows)
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Truncate(ctx context.Context, table string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM "+sqliteTableIdent(table))
	return err
}

func (t *Tx) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return t.execChunked(ctx, table, columns, rows, nil)
}

func (t *Tx) Upsert(ctx context.Context, table string, columns []string, rows [][]any, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("sqlite: upsert into %s requires conflict keys", table)
	}
	return t.execChunked(ctx, table, columns, rows, keys)
}

func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// maxVariables stays under SQLITE_MAX_VARIABLE_NUMBER (32766 since 3.32).
const maxVariables = 32000

func (t *Tx) execChunked(ctx context.Context, table string, columns []string, rows [][]any, keys []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	per := maxVariables / len(columns)
	if per < 1 {
		per = 1
	}

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(table, columns, rows[start:end], keys)
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// buildInsertSQL builds a multi-row INSERT. With keys it becomes an upsert:
//
//	ON CONFLICT (<keys>) DO UPDATE SET c = excluded.c
//
// or DO NOTHING when every column is a key. The conflict target requires a
// UNIQUE index on exactly those columns.
func buildInsertSQL(table string, columns []string, rows [][]any, keys []string) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqliteTableIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, sqliteArg(v))
		}
	}

	if len(keys) == 0 {
		return b.String(), args
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdentList(keys))
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
		b.WriteString(sqlIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqlIdent(c))
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteTableIdent(name string) string {
	schema, table := storage.SplitQualifiedName(name)
	switch strings.ToLower(schema) {
	case "main", "temp":
		return sqlIdent(schema) + "." + sqlIdent(table)
	default:
		return sqlIdent(table)
	}
}

func joinIdentList(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = sqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

func sqliteArg(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatSQLiteTime(*t)
	default:
		return v
	}
}

// formatSQLiteTime formats a time as TEXT. Calendar dates (midnight UTC) keep
// the YYYY-MM-DD form so string comparisons against date literals work.
func formatSQLiteTime(t time.Time) string {
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.Format("2006-01-02")
	}
	return u.Format(time.RFC3339Nano)
}
