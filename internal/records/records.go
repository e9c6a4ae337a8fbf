// Package records defines the row-set shapes that flow between the extract,
// transform and load stages, plus the coercion helpers transforms use to turn
// loosely typed driver values into typed destination fields.
package records

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Record is a single extracted row keyed by column name. Values may be nil.
type Record map[string]any

// Set is an ordered row-set as returned by a query.
//
// Columns preserves the driver's column order; every Record carries the same
// key set. A Set has no identity beyond position and is never mutated once a
// stage has returned it.
type Set struct {
	Columns []string
	Records []Record
}

// Len returns the number of records in the set.
func (s Set) Len() int { return len(s.Records) }

// Empty reports whether the set carries no records.
func (s Set) Empty() bool { return len(s.Records) == 0 }

// Has reports whether column is part of the set's column list.
func (s Set) Has(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Rename returns a new Set with columns renamed per mapping (old -> new).
// Columns absent from mapping keep their name.
func (s Set) Rename(mapping map[string]string) Set {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		if n, ok := mapping[c]; ok && n != "" {
			cols[i] = n
		} else {
			cols[i] = c
		}
	}

	out := make([]Record, len(s.Records))
	for i, r := range s.Records {
		nr := make(Record, len(r))
		for k, v := range r {
			if n, ok := mapping[k]; ok && n != "" {
				nr[n] = v
			} else {
				nr[k] = v
			}
		}
		out[i] = nr
	}
	return Set{Columns: cols, Records: out}
}

// Require returns a *MissingColumnsError if any of columns is absent.
func (s Set) Require(columns ...string) error {
	var missing []string
	for _, c := range columns {
		if !s.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingColumnsError{Columns: missing}
}

// ErrMissingColumns is matched by every *MissingColumnsError.
var ErrMissingColumns = errors.New("records: required columns missing")

// MissingColumnsError lists destination columns that the input row-set could
// not provide.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	cols := append([]string(nil), e.Columns...)
	sort.Strings(cols)
	return fmt.Sprintf("records: required columns missing: %s", strings.Join(cols, ", "))
}

// Is makes errors.Is(err, ErrMissingColumns) true.
func (e *MissingColumnsError) Is(target error) bool { return target == ErrMissingColumns }

// Row is a typed destination record: one struct per destination table.
//
// Columns must return the same slice for every value of the type and Values
// must align with it positionally.
type Row interface {
	Columns() []string
	Values() []any
}

// Matrix flattens typed rows into the positional form the writer consumes.
// T must be a value type so its zero value can report the column list even
// when rows is empty.
func Matrix[T Row](rows []T) ([]string, [][]any) {
	var zero T
	cols := zero.Columns()
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return cols, out
}
