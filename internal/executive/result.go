package executive

// Row is one result row, column name to scalar value (string, int64, []byte,
// or nil), already unmangled back to frontend names.
type Row map[string]any

// Result wraps whatever the backend produced, hiding the $rowid/$oid/
// internal-prefix mangling from callers. For a mutating statement Rows is
// nil and RowsAffected carries the count; for a read Rows carries decoded
// rows.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
}
