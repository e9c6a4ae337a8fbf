package load

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpsync/internal/records"
	"erpsync/internal/storage"
	"erpsync/internal/storage/sqlite"
)

func openSQLite(t *testing.T, ddl ...string) *sqlite.Repo {
	t.Helper()
	ctx := context.Background()
	r, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	repo := r.(*sqlite.Repo)
	for _, q := range ddl {
		require.NoError(t, repo.Exec(ctx, q))
	}
	return repo
}

func dump(t *testing.T, repo storage.Repository, q string) []records.Record {
	t.Helper()
	set, err := repo.Query(context.Background(), q, nil)
	require.NoError(t, err)
	return set.Records
}

func TestWriteUpsert_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openSQLite(t, `CREATE TABLE notas (chave TEXT PRIMARY KEY, valor REAL, situacao TEXT)`)
	w := NewWriter(repo, Options{BatchSize: 2})

	cols := []string{"chave", "valor", "situacao"}
	rows := [][]any{{"K1", 10.0, "a"}, {"K2", 20.0, "b"}, {"K3", nil, "c"}}

	res, err := w.WriteUpsert(ctx, "public.notas", cols, rows, []string{"chave"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Batches)
	first := dump(t, repo, `SELECT chave, valor, situacao FROM notas ORDER BY chave`)

	_, err = w.WriteUpsert(ctx, "public.notas", cols, rows, []string{"chave"})
	require.NoError(t, err)
	assert.Equal(t, first, dump(t, repo, `SELECT chave, valor, situacao FROM notas ORDER BY chave`))

	// a changed non-key column is updated in place
	_, err = w.WriteUpsert(ctx, "notas", cols, [][]any{{"K2", 25.0, "b2"}}, []string{"chave"})
	require.NoError(t, err)
	got := dump(t, repo, `SELECT valor, situacao FROM notas WHERE chave = 'K2'`)
	require.Len(t, got, 1)
	assert.Equal(t, 25.0, got[0]["valor"])
	assert.Equal(t, "b2", got[0]["situacao"])
	assert.Len(t, dump(t, repo, `SELECT chave FROM notas`), 3)
}

func TestWriteFullReplace_ExactContents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openSQLite(t,
		`CREATE TABLE catalogo (sku TEXT NOT NULL, nome TEXT)`,
		`INSERT INTO catalogo VALUES ('OLD1', 'velho'), ('OLD2', 'velho')`,
	)
	w := NewWriter(repo, Options{BatchSize: 2})

	rows := [][]any{{"A", "um"}, {"B", "dois"}, {"C", "tres"}}
	res, err := w.WriteFullReplace(ctx, "catalogo", []string{"sku", "nome"}, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Batches)

	got := dump(t, repo, `SELECT sku FROM catalogo ORDER BY sku`)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0]["sku"])
	assert.Equal(t, "C", got[2]["sku"])
}

func TestWriteFullReplace_FailedBatchKeepsPreviousContents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openSQLite(t,
		`CREATE TABLE catalogo (sku TEXT NOT NULL, nome TEXT)`,
		`INSERT INTO catalogo VALUES ('OLD1', 'velho')`,
	)
	w := NewWriter(repo, Options{BatchSize: 1})

	// second batch violates NOT NULL
	_, err := w.WriteFullReplace(ctx, "catalogo", []string{"sku", "nome"}, [][]any{{"A", "um"}, {nil, "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 2")

	got := dump(t, repo, `SELECT sku FROM catalogo`)
	require.Len(t, got, 1)
	assert.Equal(t, "OLD1", got[0]["sku"])
}

func TestWriteFullReplace_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	repo := openSQLite(t,
		`CREATE TABLE catalogo (sku TEXT)`,
		`INSERT INTO catalogo VALUES ('KEEP')`,
	)
	res, err := NewWriter(repo, Options{}).WriteFullReplace(context.Background(), "catalogo", []string{"sku"}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
	assert.Len(t, dump(t, repo, `SELECT sku FROM catalogo`), 1)
}

func TestWriteUpsert_Guards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openSQLite(t, `CREATE TABLE t (k TEXT PRIMARY KEY, v TEXT)`)
	w := NewWriter(repo, Options{})
	cols := []string{"k", "v"}

	_, err := w.WriteUpsert(ctx, "t", cols, [][]any{{"a", "1"}, {"a", "2"}}, []string{"k"})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)

	_, err = w.WriteUpsert(ctx, "t", cols, [][]any{{"a", "1"}}, []string{"missing"})
	assert.True(t, errors.Is(err, ErrUnknownKeyColumn), "got %v", err)

	_, err = w.WriteUpsert(ctx, "t", cols, [][]any{{"a", "1"}}, nil)
	assert.True(t, errors.Is(err, ErrUnknownKeyColumn), "got %v", err)

	_, err = w.WriteUpsert(ctx, "t", cols, [][]any{{"a"}}, []string{"k"})
	assert.True(t, errors.Is(err, ErrRowShape), "got %v", err)

	// nothing was written by any rejected call
	assert.Empty(t, dump(t, repo, `SELECT k FROM t`))
}

func TestBatches(t *testing.T) {
	t.Parallel()

	var got []span
	for b := range batches(5, 2) {
		got = append(got, b)
	}
	assert.Equal(t, []span{{0, 2}, {2, 4}, {4, 5}}, got)

	assert.Equal(t, DefaultBatchSize, NewWriter(nil, Options{}).BatchSize())
}
