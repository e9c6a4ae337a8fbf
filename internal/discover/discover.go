// Package discover finds the work units (calendar dates) an incremental
// pipeline still has to process.
package discover

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/records"
	"erpsync/internal/storage"
)

// Querier is the read side of a storage.Repository.
type Querier interface {
	Query(ctx context.Context, query string, params storage.Params) (records.Set, error)
}

// Discoverer runs a configured missing-units query against the destination.
// The set difference (expected schedule minus loaded dates) lives in the SQL;
// Discoverer only normalizes what comes back.
type Discoverer struct {
	Pipeline string
	Query    string // SQL text; empty means not configured
	Repo     Querier
	Logger   log.FieldLogger
}

// MissingUnits returns the unit identifiers (YYYY-MM-DD) found in the first
// column of the query result, in query order. Null and unparseable values are
// dropped.
//
// With no query configured it returns an empty list and logs a warning.
//
// Errors:
//   - Query failures are returned wrapped; they are never reported as
//     "nothing to do".
func (d *Discoverer) MissingUnits(ctx context.Context) ([]string, error) {
	l := logging.OrDiscard(d.Logger).WithFields(log.Fields{"stage": "discover", "pipeline": d.Pipeline})

	if d.Query == "" {
		l.Warn("no missing-units query configured, nothing to discover")
		return nil, nil
	}

	start := time.Now()
	set, err := d.Repo.Query(ctx, d.Query, nil)
	metrics.Step(d.Pipeline, "discover", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", d.Pipeline, err)
	}

	units := Normalize(set)
	if dropped := set.Len() - len(units); dropped > 0 {
		l.WithField("dropped", dropped).Warn("ignored null or invalid unit values")
	}
	l.WithFields(log.Fields{"units": len(units), "duration": logging.Since(start)}).Info("missing units discovered")
	return units, nil
}

// Normalize renders the first column of set as YYYY-MM-DD strings, skipping
// values that are not dates.
func Normalize(set records.Set) []string {
	if len(set.Columns) == 0 {
		return nil
	}
	first := set.Columns[0]
	out := make([]string, 0, set.Len())
	for _, r := range set.Records {
		if s := records.DateString(r[first]); s != "" {
			out = append(out, s)
		}
	}
	return out
}
