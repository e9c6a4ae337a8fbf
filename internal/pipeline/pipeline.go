// Package pipeline runs extract, transform and load for one destination table.
//
// A single generic Runner drives every pipeline; what differs per table lives
// in a Descriptor (transform, load mode, unique keys, query parameter names)
// and in the Settings resolved from the config file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"erpsync/internal/discover"
	"erpsync/internal/load"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/records"
	"erpsync/internal/storage"
	"erpsync/internal/transform"
)

// Mode is a pipeline's load policy.
type Mode string

const (
	// FullReplace empties the destination table and inserts every row, in
	// one transaction.
	FullReplace Mode = "full_replace"
	// Upsert inserts or updates rows on the unique key in a single pass.
	Upsert Mode = "upsert"
	// UpsertByUnit discovers missing units and upserts each one separately.
	UpsertByUnit Mode = "upsert_by_unit"
)

// ParseMode validates s. The empty string parses to the empty Mode, meaning
// "use the descriptor default".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "", FullReplace, Upsert, UpsertByUnit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrMode, s)
	}
}

var (
	// ErrMode is returned for a load mode that is not one of the known values.
	ErrMode = errors.New("pipeline: unknown load mode")
	// ErrUnknownPipeline is returned by NewJob for a name not in the catalog.
	ErrUnknownPipeline = errors.New("pipeline: unknown pipeline")
	// ErrNoQuery is returned when a pipeline runs without extract SQL.
	ErrNoQuery = errors.New("pipeline: no extract query configured")
)

// Descriptor is the per-table part of a pipeline.
type Descriptor[T records.Row] struct {
	Name      string
	Transform transform.Func[T]
	Mode      Mode
	Table     string
	Schema    string

	// UniqueKeys is the default conflict key; rows colliding on it are
	// reduced to their first occurrence before the write.
	UniqueKeys []string

	// UnitParam names the query parameter bound to the work unit in
	// UpsertByUnit runs.
	UnitParam string

	// FilterParam names the query parameter bound by RunWithFilter.
	FilterParam string
}

// Settings are the per-run values read from configuration. Zero fields fall
// back to the Descriptor.
type Settings struct {
	Query             string
	MissingUnitsQuery string
	Table             string
	Schema            string
	UniqueKeys        []string
	Mode              Mode
	BatchSize         int
}

// Outcome reports a single extract, transform and load pass.
type Outcome struct {
	Pipeline   string        `json:"pipeline"`
	Table      string        `json:"table"`
	NoData     bool          `json:"no_data"`
	Extracted  int           `json:"extracted"`
	Duplicates int           `json:"duplicates"`
	Written    int           `json:"written"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
}

// Runner executes one pipeline against a source and a destination.
type Runner[T records.Row] struct {
	desc       Descriptor[T]
	query      string
	table      string
	keys       []string
	mode       Mode
	source     discover.Querier
	writer     *load.Writer
	discoverer *discover.Discoverer
	log        log.FieldLogger
}

// NewRunner resolves s against desc. Missing-units discovery runs against
// dest, since the set difference is computed from what is already loaded.
func NewRunner[T records.Row](desc Descriptor[T], s Settings, source discover.Querier, dest storage.Repository, logger log.FieldLogger) *Runner[T] {
	logger = logging.OrDiscard(logger)
	r := &Runner[T]{
		desc:   desc,
		query:  s.Query,
		keys:   desc.UniqueKeys,
		mode:   desc.Mode,
		source: source,
		writer: load.NewWriter(dest, load.Options{BatchSize: s.BatchSize, Logger: logger}),
		log:    logger,
	}
	if len(s.UniqueKeys) > 0 {
		r.keys = s.UniqueKeys
	}
	if s.Mode != "" {
		r.mode = s.Mode
	}
	table, schema := desc.Table, desc.Schema
	if s.Table != "" {
		table = s.Table
	}
	if s.Schema != "" {
		schema = s.Schema
	}
	r.table = storage.QualifiedName(schema, table)
	r.discoverer = &discover.Discoverer{
		Pipeline: desc.Name,
		Query:    s.MissingUnitsQuery,
		Repo:     dest,
		Logger:   logger,
	}
	return r
}

// Name returns the pipeline name.
func (r *Runner[T]) Name() string { return r.desc.Name }

// Mode returns the effective load mode.
func (r *Runner[T]) Mode() Mode { return r.mode }

// Table returns the schema-qualified destination table.
func (r *Runner[T]) Table() string { return r.table }

func (r *Runner[T]) runLogger() log.FieldLogger {
	return r.log.WithFields(log.Fields{"pipeline": r.desc.Name, "run_id": uuid.NewString()})
}

// RunFullSync extracts the whole source result, transforms it and loads it
// per the pipeline's mode. An empty extract returns Outcome.NoData and leaves
// the destination untouched. Any error is returned to the caller.
func (r *Runner[T]) RunFullSync(ctx context.Context) (Outcome, error) {
	l := r.runLogger()
	l.Info("full sync started")
	out, err := r.process(ctx, l, nil)
	if err != nil {
		l.WithError(err).Error("full sync failed")
		return out, err
	}
	l.WithFields(log.Fields{"written": out.Written, "duration": out.Duration.Truncate(time.Millisecond).String()}).Info("full sync finished")
	return out, nil
}

// RunWithFilter is RunFullSync with filter bound to the descriptor's
// FilterParam. An empty filter binds NULL, which the query is expected to
// read as "no filter".
func (r *Runner[T]) RunWithFilter(ctx context.Context, filter string) (Outcome, error) {
	if r.desc.FilterParam == "" {
		return Outcome{Pipeline: r.desc.Name}, fmt.Errorf("pipeline %s does not accept a filter", r.desc.Name)
	}
	var v any
	if filter != "" {
		v = filter
	}

	l := r.runLogger().WithField("filter", filter)
	l.Info("filtered sync started")
	out, err := r.process(ctx, l, storage.Params{r.desc.FilterParam: v})
	if err != nil {
		l.WithError(err).Error("filtered sync failed")
		return out, err
	}
	l.WithField("written", out.Written).Info("filtered sync finished")
	return out, nil
}

// RunIncremental discovers the missing units and processes each one in
// discovery order. A failing unit is recorded in the Summary and the loop
// moves on; an empty unit is recorded as skipped.
//
// Cancellation is checked between units: on cancel the partial Summary is
// returned together with ctx.Err(). Discovery failures abort the run.
func (r *Runner[T]) RunIncremental(ctx context.Context) (Summary, error) {
	l := r.runLogger()
	sum := newSummary()

	units, err := r.discoverer.MissingUnits(ctx)
	if err != nil {
		l.WithError(err).Error("discovery failed")
		return sum, err
	}
	if len(units) == 0 {
		l.Info("no missing units, destination is up to date")
		return sum, nil
	}
	l.WithField("units", len(units)).Info("incremental run started")

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			l.WithFields(log.Fields{"remaining": len(units) - i}).Warn("run cancelled between units")
			return sum, err
		}

		ul := l.WithField("unit", unit)
		out, err := r.process(ctx, ul, storage.Params{r.unitParam(): unit})
		switch {
		case err != nil:
			sum.fail(unit, err)
			metrics.Unit(r.desc.Name, "failed")
			ul.WithError(err).Error("unit failed")
		case out.NoData:
			sum.skip(unit)
			metrics.Unit(r.desc.Name, "skipped")
		default:
			sum.succeed(unit)
			metrics.Unit(r.desc.Name, "processed")
			ul.WithField("written", out.Written).Info("unit processed")
		}
	}

	l.WithFields(log.Fields{
		"processed": sum.Processed,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
	}).Info("incremental run finished")
	return sum, nil
}

func (r *Runner[T]) unitParam() string {
	if r.desc.UnitParam == "" {
		return "data"
	}
	return r.desc.UnitParam
}

// process is one extract, transform, load pass with params bound.
func (r *Runner[T]) process(ctx context.Context, l log.FieldLogger, params storage.Params) (out Outcome, err error) {
	start := time.Now()
	out = Outcome{Pipeline: r.desc.Name, Table: r.table}
	defer func() { out.Duration = time.Since(start) }()

	if r.query == "" {
		return out, fmt.Errorf("%w: %s", ErrNoQuery, r.desc.Name)
	}

	t := time.Now()
	set, err := r.source.Query(ctx, r.query, params)
	metrics.Step(r.desc.Name, "extract", err, time.Since(t))
	if err != nil {
		return out, fmt.Errorf("extract %s: %w", r.desc.Name, err)
	}
	out.Extracted = set.Len()
	metrics.Records(r.desc.Name, "extracted", out.Extracted)
	l.WithFields(log.Fields{"stage": "extract", "rows": out.Extracted, "duration": logging.Since(t)}).Debug("extracted")
	if set.Empty() {
		out.NoData = true
		l.Warn("no data returned by source")
		return out, nil
	}

	t = time.Now()
	rows, err := r.desc.Transform(set)
	if err == nil && len(r.keys) > 0 {
		var dropped int
		if rows, dropped, err = records.DedupeRows(rows, r.keys); err != nil {
			err = fmt.Errorf("transform %s: unique key: %w", r.desc.Name, err)
		}
		out.Duplicates = dropped
	}
	metrics.Step(r.desc.Name, "transform", err, time.Since(t))
	if err != nil {
		return out, err
	}
	if out.Duplicates > 0 {
		metrics.Records(r.desc.Name, "deduped", out.Duplicates)
		l.WithField("dropped", out.Duplicates).Warn("removed rows colliding on the unique key")
	}

	columns, matrix := records.Matrix(rows)
	t = time.Now()
	var res load.Result
	if r.mode == FullReplace {
		res, err = r.writer.WriteFullReplace(ctx, r.table, columns, matrix)
	} else {
		res, err = r.writer.WriteUpsert(ctx, r.table, columns, matrix, r.keys)
	}
	metrics.Step(r.desc.Name, "load", err, time.Since(t))
	if err != nil {
		return out, fmt.Errorf("load %s: %w", r.desc.Name, err)
	}
	out.Written, out.Batches = res.Rows, res.Batches
	metrics.Records(r.desc.Name, "written", out.Written)
	return out, nil
}
