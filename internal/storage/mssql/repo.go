package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"erpsync/internal/records"
	"erpsync/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Writes:
//   - Full-replace: TRUNCATE TABLE + multi-row INSERT in one transaction
//     (TRUNCATE is transactional in SQL Server).
//   - Upsert: MERGE ... WITH (HOLDLOCK) keyed on the unique columns; matched
//     rows have every non-key column updated.
//
// Every statement is chunked to stay under SQL Server's 2100 parameter limit.
type Repo struct {
	db dbConn
}

// New opens a pool with the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// Query binds params with sql.Named; queries reference them as @name.
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

// Tx is a SQL Server write transaction.
type Tx struct {
	tx txConn
}

func (t *Tx) Truncate(ctx context.Context, table string) error {
	_, err := t.tx.ExecContext(ctx, "TRUNCATE TABLE "+mssqlTableIdent(table))
	return err
}

func (t *Tx) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return t.execChunked(ctx, columns, rows, func(part [][]any) (string, []any) {
		return buildBulkInsertSQL(table, columns, part)
	})
}

func (t *Tx) Upsert(ctx context.Context, table string, columns []string, rows [][]any, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("mssql: upsert into %s requires match keys", table)
	}
	return t.execChunked(ctx, columns, rows, func(part [][]any) (string, []any) {
		return buildMergeSQL(table, columns, part, keys)
	})
}

func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// maxParams is a conservative bound under SQL Server's limit of 2100.
const maxParams = 2000

func (t *Tx) execChunked(ctx context.Context, columns []string, rows [][]any, build func([][]any) (string, []any)) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	per := maxParams / max(1, len(columns))
	if per < 1 {
		per = 1
	}

	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := build(rows[start:end])
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(identList("", columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildMergeSQL builds a MERGE that upserts rows keyed on keys.
//
// Shape:
//
//	MERGE INTO [t] WITH (HOLDLOCK) AS tgt
//	USING (VALUES (@p1, ...), ...) AS src ([a], ...)
//	ON tgt.[k] = src.[k]
//	WHEN MATCHED THEN UPDATE SET tgt.[a] = src.[a], ...
//	WHEN NOT MATCHED THEN INSERT ([a], ...) VALUES (src.[a], ...);
//
// The WHEN MATCHED arm is omitted when every column is a key. MERGE fails if
// the source holds two rows for one key; callers dedupe first.
func buildMergeSQL(table string, columns []string, rows [][]any, keys []string) (string, []any) {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (HOLDLOCK) AS tgt USING (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS src (")
	b.WriteString(identList("", columns))
	b.WriteString(") ON ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("tgt.")
		b.WriteString(mssqlIdent(k))
		b.WriteString(" = src.")
		b.WriteString(mssqlIdent(k))
	}

	if update := storage.NonKeyColumns(columns, keys); len(update) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range update {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("tgt.")
			b.WriteString(mssqlIdent(c))
			b.WriteString(" = src.")
			b.WriteString(mssqlIdent(c))
		}
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(identList("", columns))
	b.WriteString(") VALUES (")
	b.WriteString(identList("src.", columns))
	b.WriteString(");")
	return b.String(), args
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
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
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func identList(prefix string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.catalogo" -> [dbo].[catalogo]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn     = (*sqlDB)(nil)
	_ txConn     = (*sql.Tx)(nil)
	_ storage.Tx = (*Tx)(nil)
)
