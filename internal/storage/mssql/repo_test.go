package mssql

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

type fakeResult int64

func (f fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (f fakeResult) RowsAffected() (int64, error) { return int64(f), nil }

type fakeTx struct {
	stmts    []string
	argCount []int
	done     bool
}

func (f *fakeTx) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.stmts = append(f.stmts, q)
	f.argCount = append(f.argCount, len(args))
	return fakeResult(len(args)), nil
}

func (f *fakeTx) Commit() error { f.done = true; return nil }

func (f *fakeTx) Rollback() error {
	if f.done {
		return sql.ErrTxDone
	}
	return nil
}

func TestBuildMergeSQL(t *testing.T) {
	t.Parallel()

	q, args := buildMergeSQL("dbo.contas_a_pagar", []string{"k", "v"}, [][]any{{1, "a"}, {2, nil}}, []string{"k"})
	want := "MERGE INTO [dbo].[contas_a_pagar] WITH (HOLDLOCK) AS tgt USING (VALUES (@p1, @p2), (@p3, @p4)) AS src ([k], [v])" +
		" ON tgt.[k] = src.[k] WHEN MATCHED THEN UPDATE SET tgt.[v] = src.[v]" +
		" WHEN NOT MATCHED THEN INSERT ([k], [v]) VALUES (src.[k], src.[v]);"
	if q != want {
		t.Fatalf("got  %s\nwant %s", q, want)
	}
	if len(args) != 4 || args[3] != nil {
		t.Fatalf("unexpected args %#v", args)
	}
}

func TestBuildMergeSQL_AllKeysInsertOnly(t *testing.T) {
	t.Parallel()

	q, _ := buildMergeSQL("t", []string{"a", "b"}, [][]any{{1, 2}}, []string{"b", "a"})
	if strings.Contains(q, "WHEN MATCHED") {
		t.Fatalf("expected no update arm: %s", q)
	}
	if !strings.Contains(q, "ON tgt.[b] = src.[b] AND tgt.[a] = src.[a]") {
		t.Fatalf("unexpected match clause: %s", q)
	}
}

func TestUpsert_ChunksUnderParameterLimit(t *testing.T) {
	t.Parallel()

	cols := []string{"a", "b", "c", "d"}
	rows := make([][]any, 1200)
	for i := range rows {
		rows[i] = []any{i, i, i, i}
	}
	ftx := &fakeTx{}
	tx := &Tx{tx: ftx}

	n, err := tx.Upsert(context.Background(), "t", cols, rows, []string{"a"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// 2000/4 = 500 rows per statement
	if len(ftx.stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(ftx.stmts))
	}
	for i, c := range ftx.argCount {
		if c > 2100 {
			t.Fatalf("statement %d has %d params", i, c)
		}
	}
	if n != int64(1200*4) {
		t.Fatalf("expected summed affected rows, got %d", n)
	}

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback after commit: %v", err)
	}
}

func TestTruncateAndIdent(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{}
	tx := &Tx{tx: ftx}
	if err := tx.Truncate(context.Background(), "dbo.cat]alogo"); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if ftx.stmts[0] != "TRUNCATE TABLE [dbo].[cat]]alogo]" {
		t.Fatalf("got %s", ftx.stmts[0])
	}
	if _, err := tx.Upsert(context.Background(), "t", []string{"a"}, [][]any{{1}}, nil); err == nil {
		t.Fatalf("expected error for missing keys")
	}
}
