// Package transform reshapes extracted row-sets into the typed records each
// destination table expects.
//
// Every transform is pure and all-or-nothing: it either returns one typed
// record per input row or an error (missing source columns). Malformed
// individual values never fail a transform; they become NULL.
package transform

import (
	"fmt"

	"erpsync/internal/records"
)

// Func turns a row-set into typed rows.
type Func[T records.Row] func(set records.Set) ([]T, error)

// prepare applies renames and checks that every source column the transform
// reads is present after renaming.
func prepare(table string, set records.Set, renames map[string]string, required []string) (records.Set, error) {
	if len(renames) > 0 {
		set = set.Rename(renames)
	}
	if err := set.Require(required...); err != nil {
		return records.Set{}, fmt.Errorf("transform %s: %w", table, err)
	}
	return set, nil
}
