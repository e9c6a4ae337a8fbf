// Package load writes transformed rows into the destination store, either by
// full replacement or by idempotent upsert on a natural key.
//
// The Writer owns transactions and batching; callers hand it a complete
// row-set for one table and get back a Result.
package load

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/records"
	"erpsync/internal/storage"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 1000

var (
	// ErrDuplicateKey is returned when an upsert row-set carries two rows
	// with the same unique key. Transforms must dedupe first.
	ErrDuplicateKey = errors.New("load: duplicate unique key in row-set")

	// ErrUnknownKeyColumn is returned when a unique key column is not part of
	// the written column set.
	ErrUnknownKeyColumn = errors.New("load: unique key column not in column set")

	// ErrRowShape is returned when a row's width differs from the column list.
	ErrRowShape = errors.New("load: row width does not match columns")
)

// Options configures a Writer.
type Options struct {
	BatchSize int
	Logger    log.FieldLogger
}

// Result describes one completed write call.
type Result struct {
	Table    string
	Rows     int
	Batches  int
	Affected int64
	Duration time.Duration
}

// Writer writes row-sets through a storage.Repository.
type Writer struct {
	repo      storage.Repository
	batchSize int
	log       log.FieldLogger
}

// NewWriter returns a Writer over repo.
func NewWriter(repo storage.Repository, opts Options) *Writer {
	bs := opts.BatchSize
	if bs <= 0 {
		bs = DefaultBatchSize
	}
	return &Writer{repo: repo, batchSize: bs, log: logging.OrDiscard(opts.Logger)}
}

// BatchSize reports the effective batch size.
func (w *Writer) BatchSize() int { return w.batchSize }

// WriteFullReplace empties table and inserts rows, all in one transaction.
// If any batch fails the truncate is rolled back with it, so readers never
// observe a partially loaded table.
//
// An empty row-set is a no-op: the table is left untouched.
func (w *Writer) WriteFullReplace(ctx context.Context, table string, columns []string, rows [][]any) (Result, error) {
	start := time.Now()
	res := Result{Table: table}
	l := w.log.WithFields(log.Fields{"stage": "load", "table": table, "mode": "full_replace"})

	if len(rows) == 0 {
		l.Info("no rows to write, table left unchanged")
		return res, nil
	}
	if err := checkShape(columns, rows); err != nil {
		return res, err
	}

	err := w.inTx(ctx, func(tx storage.Tx) error {
		if err := tx.Truncate(ctx, table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
		for b := range batches(len(rows), w.batchSize) {
			n, err := tx.Insert(ctx, table, columns, rows[b.lo:b.hi])
			if err != nil {
				return fmt.Errorf("insert %s batch %d (rows %d-%d): %w", table, res.Batches+1, b.lo, b.hi-1, err)
			}
			res.Affected += n
			res.Batches++
			l.WithFields(log.Fields{"batch": res.Batches, "rows": b.hi - b.lo}).Debug("batch written")
		}
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		l.WithError(err).Error("full replace rolled back")
		return Result{Table: table, Duration: res.Duration}, err
	}

	res.Rows = len(rows)
	metrics.Batches(table, res.Batches)
	l.WithFields(log.Fields{"rows": res.Rows, "batches": res.Batches, "duration": logging.Since(start)}).Info("full replace committed")
	return res, nil
}

// WriteUpsert inserts rows and updates every non-key column of rows whose
// uniqueKeys already exist. Re-running with the same rows leaves the table
// unchanged. All batches share one transaction.
//
// Errors:
//   - ErrUnknownKeyColumn if uniqueKeys is empty or names a column not in columns.
//   - ErrDuplicateKey if two rows share a key.
//   - Backend errors (connectivity, unrelated constraints) wrapped, never retried.
func (w *Writer) WriteUpsert(ctx context.Context, table string, columns []string, rows [][]any, uniqueKeys []string) (Result, error) {
	start := time.Now()
	res := Result{Table: table}
	l := w.log.WithFields(log.Fields{"stage": "load", "table": table, "mode": "upsert"})

	if len(rows) == 0 {
		l.Info("no rows to write")
		return res, nil
	}
	if err := checkShape(columns, rows); err != nil {
		return res, err
	}
	if len(uniqueKeys) == 0 {
		return res, fmt.Errorf("%w: no unique key configured for %s", ErrUnknownKeyColumn, table)
	}
	idx, err := records.KeyIndexes(columns, uniqueKeys)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnknownKeyColumn, err)
	}
	if err := checkUniqueKeys(rows, idx); err != nil {
		return res, err
	}

	err = w.inTx(ctx, func(tx storage.Tx) error {
		for b := range batches(len(rows), w.batchSize) {
			n, err := tx.Upsert(ctx, table, columns, rows[b.lo:b.hi], uniqueKeys)
			if err != nil {
				return fmt.Errorf("upsert %s batch %d (rows %d-%d): %w", table, res.Batches+1, b.lo, b.hi-1, err)
			}
			res.Affected += n
			res.Batches++
			l.WithFields(log.Fields{"batch": res.Batches, "rows": b.hi - b.lo}).Debug("batch written")
		}
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		l.WithError(err).Error("upsert rolled back")
		return Result{Table: table, Duration: res.Duration}, err
	}

	res.Rows = len(rows)
	metrics.Batches(table, res.Batches)
	l.WithFields(log.Fields{"rows": res.Rows, "batches": res.Batches, "affected": res.Affected, "duration": logging.Since(start)}).Info("upsert committed")
	return res, nil
}

func (w *Writer) inTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type span struct{ lo, hi int }

// batches yields contiguous [lo,hi) ranges of at most size rows.
func batches(n, size int) func(yield func(span) bool) {
	return func(yield func(span) bool) {
		for lo := 0; lo < n; lo += size {
			if !yield(span{lo: lo, hi: min(lo+size, n)}) {
				return
			}
		}
	}
}

func checkShape(columns []string, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: no columns", ErrRowShape)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrRowShape, i, len(r), len(columns))
		}
	}
	return nil
}

func checkUniqueKeys(rows [][]any, idx []int) error {
	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		k := records.CanonicalKey(r, idx)
		if first, dup := seen[k]; dup {
			return fmt.Errorf("%w: rows %d and %d", ErrDuplicateKey, first, i)
		}
		seen[k] = i
	}
	return nil
}
