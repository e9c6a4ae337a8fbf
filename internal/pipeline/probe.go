package pipeline

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"erpsync/internal/probe"
	"erpsync/internal/records"
	"erpsync/internal/storage"
)

// Probe extracts with params, transforms at most rows source records (all
// when rows <= 0) and profiles the result against the pipeline's unique key. Duplicates are kept so
// the key check can see them. Nothing is written.
func (r *Runner[T]) Probe(ctx context.Context, params storage.Params, rows int) (probe.Report, error) {
	if r.query == "" {
		return probe.Report{}, fmt.Errorf("%w: %s", ErrNoQuery, r.desc.Name)
	}
	l := r.runLogger().WithField("stage", "probe")

	set, err := r.source.Query(ctx, r.query, params)
	if err != nil {
		return probe.Report{}, fmt.Errorf("extract %s: %w", r.desc.Name, err)
	}
	if rows > 0 && set.Len() > rows {
		set.Records = set.Records[:rows]
	}
	out, err := r.desc.Transform(set)
	if err != nil {
		return probe.Report{}, err
	}

	cols, matrix := records.Matrix(out)
	dest := records.Set{Columns: cols, Records: make([]records.Record, len(matrix))}
	for i, vals := range matrix {
		rec := make(records.Record, len(cols))
		for j, c := range cols {
			rec[c] = vals[j]
		}
		dest.Records[i] = rec
	}

	rep := probe.Profile(dest, probe.Options{Keys: r.keys})
	l.WithFields(log.Fields{"extracted": set.Len(), "sampled": rep.SampledRows}).Debug("profiled")
	if rep.Key != nil && rep.Key.Duplicates > 0 {
		l.WithField("duplicates", rep.Key.Duplicates).Warn("unique key not unique in sample")
	}
	return rep, nil
}
