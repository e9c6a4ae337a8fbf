package sqlite

import (
	"context"
	"testing"
	"time"

	"erpsync/internal/storage"
)

func TestBuildInsertSQL_Upsert(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("public.contas_a_pagar", []string{"k", "v"}, [][]any{{1, "a"}, {2, "b"}}, []string{"k"})
	want := `INSERT INTO "contas_a_pagar" ("k", "v") VALUES (?,?), (?,?) ON CONFLICT ("k") DO UPDATE SET "v" = excluded."v"`
	if q != want {
		t.Fatalf("got  %s\nwant %s", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
}

func TestBuildInsertSQL_PlainAndAllKeys(t *testing.T) {
	t.Parallel()

	q, _ := buildInsertSQL("main.t", []string{"a"}, [][]any{{1}}, nil)
	if q != `INSERT INTO "main"."t" ("a") VALUES (?)` {
		t.Fatalf("got %s", q)
	}
	q, _ = buildInsertSQL("t", []string{"a"}, [][]any{{1}}, []string{"a"})
	if q != `INSERT INTO "t" ("a") VALUES (?) ON CONFLICT ("a") DO NOTHING` {
		t.Fatalf("got %s", q)
	}
}

func TestFormatSQLiteTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"date", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), "2024-03-05"},
		{"timestamp", time.Date(2024, 3, 5, 13, 0, 1, 5, time.UTC), "2024-03-05T13:00:01.000000005Z"},
		{"offset converted to utc", time.Date(2024, 3, 5, 1, 0, 0, 0, time.FixedZone("X", 3600)), "2024-03-05"},
	}
	for _, tt := range tests {
		if got := formatSQLiteTime(tt.in); got != tt.want {
			t.Fatalf("%s: got %s want %s", tt.name, got, tt.want)
		}
	}
}

func TestRepo_QueryNamedParamsAndRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()
	repo := r.(*Repo)

	if err := repo.Exec(ctx, `CREATE TABLE t (k TEXT PRIMARY KEY, v INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Insert(ctx, "t", []string{"k", "v"}, [][]any{{"a", 1}, {"b", 2}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after commit should be a no-op, got %v", err)
	}

	// rolled back truncate leaves rows in place
	tx, _ = repo.Begin(ctx)
	if err := tx.Truncate(ctx, "public.t"); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	_ = tx.Rollback(ctx)

	set, err := repo.Query(ctx, `SELECT k, v FROM t WHERE v >= @min ORDER BY k`, storage.Params{"min": 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if set.Len() != 1 || set.Records[0]["k"] != "b" {
		t.Fatalf("unexpected result %#v", set)
	}
	if len(set.Columns) != 2 || set.Columns[0] != "k" {
		t.Fatalf("unexpected columns %#v", set.Columns)
	}
}
