// Package storage implements the Database capability that the SQL execution
// engine and ledger depend on: a relational backend plus the five metadata
// tables (grants, users, databases, blocks, info) the core manages itself.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB is one backend database file (or :memory:), holding both the
// metadata tables and every database-mangled user table.
type DB struct {
	sqldb *sql.DB
	path  string

	// mu serializes the whole perform-a-statement-or-savepoint sequence; the
	// backend itself only ever has one open connection (SQLite is a single
	// writer), but nested savepoints must not interleave across goroutines.
	mu sync.Mutex
}

// Open opens (creating if absent) the backend database at path. path may be
// ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	} else {
		dsn = "file::memory:?cache=shared&_journal_mode=WAL"
	}
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}
	d := &DB{sqldb: sqldb, path: path}
	if err := d.initSchema(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sqldb.Close()
}

// Path returns the backend file path (or ":memory:").
func (d *DB) Path() string { return d.path }

const metadataSchema = `
CREATE TABLE IF NOT EXISTS grants (
	user     BLOB,
	kind     TEXT NOT NULL,
	"table"  TEXT,
	database TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_grants_lookup ON grants(database, kind);

CREATE TABLE IF NOT EXISTS users (
	user    BLOB PRIMARY KEY,
	counter INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS databases (
	name  TEXT PRIMARY KEY,
	owner BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	signature BLOB PRIMARY KEY,
	"index"   INTEGER NOT NULL,
	previous  BLOB NOT NULL,
	payload   BLOB NOT NULL,
	version   INTEGER NOT NULL DEFAULT 1,
	miner     BLOB NOT NULL DEFAULT X'',
	timestamp INTEGER NOT NULL DEFAULT 0,
	nonce     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_blocks_index ON blocks("index");

CREATE TABLE IF NOT EXISTS info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (d *DB) initSchema() error {
	_, err := d.sqldb.Exec(metadataSchema)
	return err
}

// Perform runs a query expected to return rows (a SELECT).
func (d *DB) Perform(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, err := d.sqldb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	return rows, nil
}

// Exec runs a mutating statement.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.sqldb.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: exec: %w", err)
	}
	return res, nil
}

// Savepoint opens a nested transaction named name.
func (d *DB) Savepoint(ctx context.Context, name string) error {
	_, err := d.Exec(ctx, "SAVEPOINT "+quoteSavepoint(name))
	return err
}

// Release commits the named savepoint.
func (d *DB) Release(ctx context.Context, name string) error {
	_, err := d.Exec(ctx, "RELEASE SAVEPOINT "+quoteSavepoint(name))
	return err
}

// RollbackTo rolls back to the named savepoint, undoing everything since it
// was opened but leaving it open (the caller still owns a matching Release).
func (d *DB) RollbackTo(ctx context.Context, name string) error {
	_, err := d.Exec(ctx, "ROLLBACK TO SAVEPOINT "+quoteSavepoint(name))
	return err
}

func quoteSavepoint(name string) string {
	return `"` + name + `"`
}

// ColumnInfo describes one column as reported by the backend's schema
// introspection (PRAGMA table_info).
type ColumnInfo struct {
	Name string
	Type string
}

// TableExists reports whether backendTable exists in the backend schema.
func (d *DB) TableExists(ctx context.Context, backendTable string) (bool, error) {
	row := d.sqldb.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name = ?`, backendTable)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: table exists: %w", err)
	}
	return true, nil
}

// TableColumns returns backendTable's columns in schema order.
func (d *DB) TableColumns(ctx context.Context, backendTable string) ([]ColumnInfo, error) {
	rows, err := d.sqldb.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", backendTable))
	if err != nil {
		return nil, fmt.Errorf("storage: table_info: %w", err)
	}
	defer rows.Close()
	var out []ColumnInfo
	for rows.Next() {
		var cid int
		var name, typ string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("storage: scan table_info: %w", err)
		}
		out = append(out, ColumnInfo{Name: name, Type: typ})
	}
	return out, rows.Err()
}

// ListBackendTablesForDatabase returns the backend table names mangled for
// database (i.e. names of the form "<database>$...") with the prefix
// stripped back to the frontend name.
func (d *DB) ListBackendTablesForDatabase(ctx context.Context, database string) ([]string, error) {
	prefix := database + "$"
	rows, err := d.sqldb.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("storage: list tables: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("storage: scan table name: %w", err)
		}
		out = append(out, name[len(prefix):])
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
