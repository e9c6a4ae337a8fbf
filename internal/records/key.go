package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// keySep separates key components in the canonical form (ASCII Unit Separator).
const keySep = '\x1f'

// KeyIndexes resolves the positions of keys within columns.
//
// Errors:
//   - Returns *MissingColumnsError listing every key that is not a column.
func KeyIndexes(columns, keys []string) ([]int, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	idx := make([]int, len(keys))
	var missing []string
	for i, k := range keys {
		p, ok := pos[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		idx[i] = p
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	return idx, nil
}

// CanonicalKey builds a stable string from the values at idx.
//
// Canonicalization rules:
//   - nil (and nil pointers) encode as a single NUL byte, so missing differs
//     from empty text.
//   - time.Time encodes as RFC3339Nano in UTC.
//   - Components are joined with 0x1f.
func CanonicalKey(values []any, idx []int) string {
	var b strings.Builder
	b.Grow(len(idx) * 16)
	for i, p := range idx {
		if i > 0 {
			b.WriteByte(keySep)
		}
		appendCanonicalValue(&b, values[p])
	}
	return b.String()
}

// DedupeRows removes rows whose key columns repeat an earlier row. The first
// occurrence wins and relative order is preserved. It returns the kept rows
// and the number dropped.
func DedupeRows[T Row](rows []T, keys []string) ([]T, int, error) {
	if len(keys) == 0 || len(rows) == 0 {
		return rows, 0, nil
	}
	var zero T
	idx, err := KeyIndexes(zero.Columns(), keys)
	if err != nil {
		return nil, 0, fmt.Errorf("dedupe: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := CanonicalKey(r.Values(), idx)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(rows) - len(out), nil
}

func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		b.WriteString(t)
	case *string:
		if t == nil {
			b.WriteByte('\x00')
			return
		}
		b.WriteString(*t)
	case []byte:
		if t == nil {
			b.WriteByte('\x00')
			return
		}
		b.Write(t)
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case *int64:
		if t == nil {
			b.WriteByte('\x00')
			return
		}
		b.WriteString(strconv.FormatInt(*t, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case *float64:
		if t == nil {
			b.WriteByte('\x00')
			return
		}
		b.WriteString(strconv.FormatFloat(*t, 'g', -1, 64))
	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))
	case *time.Time:
		if t == nil {
			b.WriteByte('\x00')
			return
		}
		appendCanonicalValue(b, *t)
	default:
		b.WriteString(fmt.Sprint(t))
	}
}
