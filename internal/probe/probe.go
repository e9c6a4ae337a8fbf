// Package probe profiles a sample of a pipeline's extract: per-column fill
// and distinct counts, the value kind each column carries, and whether the
// configured unique key actually holds in the sample.
//
// Profiling is best-effort and never fails; it is meant for writing and
// checking pipeline configuration, not for the sync itself.
package probe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"erpsync/internal/records"
)

// distinctCapPerColumn bounds the per-column distinct set.
const distinctCapPerColumn = 10000

// Options control profiling.
type Options struct {
	// SampleRows caps the number of records examined; <= 0 means all.
	SampleRows int
	// Keys is the unique key to check, usually the pipeline's unique_columns.
	Keys []string
}

// ColumnStats describes one column of the sample.
type ColumnStats struct {
	Name     string `json:"name"`
	NonNull  int    `json:"non_null"`
	Distinct int    `json:"distinct"`
	Capped   bool   `json:"capped"`
	Kind     string `json:"kind"`
}

// KeyStats reports how the checked key behaves in the sample.
type KeyStats struct {
	Columns    []string `json:"columns"`
	Missing    []string `json:"missing,omitempty"`
	Duplicates int      `json:"duplicates"`
}

// Report is the result of Profile.
type Report struct {
	SampledRows int           `json:"sampled_rows"`
	Columns     []ColumnStats `json:"columns"`
	Key         *KeyStats     `json:"key,omitempty"`
	// Candidates are columns that are fully populated and unique in the
	// sample, ordered as in the extract.
	Candidates  []string      `json:"candidates"`
}

// Profile computes a Report over set.
func Profile(set records.Set, opt Options) Report {
	recs := set.Records
	if opt.SampleRows > 0 && len(recs) > opt.SampleRows {
		recs = recs[:opt.SampleRows]
	}

	rep := Report{SampledRows: len(recs), Candidates: []string{}}
	for _, c := range set.Columns {
		cs := profileColumn(c, recs)
		rep.Columns = append(rep.Columns, cs)
		if cs.NonNull > 0 && cs.NonNull == len(recs) && cs.Distinct == len(recs) && !cs.Capped {
			rep.Candidates = append(rep.Candidates, c)
		}
	}

	if len(opt.Keys) > 0 {
		ks := &KeyStats{Columns: append([]string(nil), opt.Keys...)}
		var missing *records.MissingColumnsError
		if err := set.Require(opt.Keys...); errors.As(err, &missing) {
			ks.Missing = missing.Columns
		} else {
			idx, _ := records.KeyIndexes(set.Columns, opt.Keys)
			seen := make(map[string]struct{}, len(recs))
			for _, r := range recs {
				vals := make([]any, len(set.Columns))
				for i, c := range set.Columns {
					vals[i] = r[c]
				}
				k := records.CanonicalKey(vals, idx)
				if _, dup := seen[k]; dup {
					ks.Duplicates++
					continue
				}
				seen[k] = struct{}{}
			}
		}
		rep.Key = ks
	}
	return rep
}

func profileColumn(name string, recs []records.Record) ColumnStats {
	cs := ColumnStats{Name: name}
	set := make(map[string]struct{})
	kinds := make(map[string]bool)

	for _, r := range recs {
		v := r[name]
		k := kindOf(v)
		if k == "" {
			continue
		}
		cs.NonNull++
		kinds[k] = true
		if cs.Capped {
			continue
		}
		set[records.CanonicalKey([]any{v}, []int{0})] = struct{}{}
		if len(set) >= distinctCapPerColumn {
			cs.Capped = true
		}
	}
	cs.Distinct = len(set)
	cs.Kind = mergeKinds(kinds)
	return cs
}

// kindOf classifies one value; "" means null.
func kindOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.Equal(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())) {
			return "date"
		}
		return "timestamp"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		if records.Float(t) == nil {
			return ""
		}
		return "float"
	}

	s := records.Text(v)
	if s == nil {
		return ""
	}
	if _, isBytes := v.([]byte); isBytes && !isPrintable(*s) {
		return "bytes"
	}
	switch {
	case records.Int(*s) != nil && !strings.ContainsAny(*s, ".,eE"):
		return "int"
	case records.Float(*s) != nil:
		return "float"
	case records.Timestamp(*s) != nil:
		if d := records.Date(*s); d != nil && records.Timestamp(*s).Equal(*d) {
			return "date"
		}
		return "timestamp"
	}
	return "text"
}

func mergeKinds(kinds map[string]bool) string {
	switch len(kinds) {
	case 0:
		return "unknown"
	case 1:
		for k := range kinds {
			return k
		}
	}
	if len(kinds) == 2 {
		switch {
		case kinds["int"] && kinds["float"]:
			return "float"
		case kinds["date"] && kinds["timestamp"]:
			return "timestamp"
		}
	}
	return "text"
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r == '�' || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			return false
		}
	}
	return true
}

// String renders the report as aligned text, columns ordered by uniqueness.
func (r Report) String() string {
	if r.SampledRows == 0 {
		return "profile: no rows sampled"
	}

	cols := append([]ColumnStats(nil), r.Columns...)
	ratio := func(c ColumnStats) float64 {
		if c.NonNull == 0 {
			return 0
		}
		return float64(c.Distinct) / float64(c.NonNull)
	}
	sort.SliceStable(cols, func(i, j int) bool { return ratio(cols[i]) > ratio(cols[j]) })

	var b strings.Builder
	fmt.Fprintf(&b, "profile:\tsampled_rows=%d\n", r.SampledRows)
	fmt.Fprintf(&b, "%-22s\t%-9s\t%-7s\t%-7s\tunique\tcapped\n", "col", "kind", "rows", "distinct")
	for _, c := range cols {
		fmt.Fprintf(&b, "%-22s\t%-9s\t%-7d\t%-7d\t%.1f%%\t%t\n", c.Name, c.Kind, c.NonNull, c.Distinct, ratio(c)*100, c.Capped)
	}
	if r.Key != nil {
		switch {
		case len(r.Key.Missing) > 0:
			fmt.Fprintf(&b, "key (%s): columns missing from extract: %s\n", strings.Join(r.Key.Columns, ", "), strings.Join(r.Key.Missing, ", "))
		case r.Key.Duplicates > 0:
			fmt.Fprintf(&b, "key (%s): %d duplicate rows would be dropped\n", strings.Join(r.Key.Columns, ", "), r.Key.Duplicates)
		default:
			fmt.Fprintf(&b, "key (%s): unique in sample\n", strings.Join(r.Key.Columns, ", "))
		}
	}
	if len(r.Candidates) > 0 {
		fmt.Fprintf(&b, "candidate keys: %s\n", strings.Join(r.Candidates, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
