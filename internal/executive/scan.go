package executive

import (
	"database/sql"
	"fmt"
)

// scanResult drains rows into a Result, unmangling backend column names
// ($rowid/$oid, esc_sqlite_ prefix) back to their frontend form.
func scanResult(rows *sql.Rows) (*Result, error) {
	defer rows.Close()

	backendCols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("executive: columns: %w", err)
	}
	cols := make([]string, len(backendCols))
	for i, c := range backendCols {
		cols[i] = unmangleColumn(c)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(backendCols))
		ptrs := make([]any, len(backendCols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("executive: scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executive: row iteration: %w", err)
	}
	return &Result{Columns: cols, Rows: out}, nil
}
