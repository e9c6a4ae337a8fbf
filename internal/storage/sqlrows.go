package storage

import (
	"database/sql"
	"fmt"

	"erpsync/internal/records"
)

// NamedArgs converts params to database/sql named arguments (sql.Named) for
// drivers that bind @name placeholders.
func NamedArgs(params Params) []any {
	if len(params) == 0 {
		return nil
	}
	args := make([]any, 0, len(params))
	for _, name := range params.Names() {
		args = append(args, sql.Named(name, params[name]))
	}
	return args
}

// ScanSet drains rows into a records.Set. The caller still owns rows.Close.
func ScanSet(rows *sql.Rows) (records.Set, error) {
	cols, err := rows.Columns()
	if err != nil {
		return records.Set{}, fmt.Errorf("columns: %w", err)
	}

	set := records.Set{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return records.Set{}, fmt.Errorf("scan: %w", err)
		}
		rec := make(records.Record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		set.Records = append(set.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return records.Set{}, fmt.Errorf("rows: %w", err)
	}
	return set, nil
}
