package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ---- info -----------------------------------------------------------------

// InfoGet reads a key from the info table (the ledger writes head, index
// and genesisSeed). The second return is false if key is unset.
func (d *DB) InfoGet(ctx context.Context, key string) (string, bool, error) {
	row := d.sqldb.QueryRowContext(ctx, `SELECT value FROM info WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: info get %q: %w", key, err)
	}
	return value, true, nil
}

// InfoSet upserts a key in the info table.
func (d *DB) InfoSet(ctx context.Context, key, value string) error {
	_, err := d.Exec(ctx,
		`INSERT INTO info(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("storage: info set %q: %w", key, err)
	}
	return nil
}

// ---- users ------------------------------------------------------------

// UserCounter returns the last accepted counter for userHash, or -1 if the
// invoker has never been seen.
func (d *DB) UserCounter(ctx context.Context, userHash []byte) (int64, error) {
	row := d.sqldb.QueryRowContext(ctx, `SELECT counter FROM users WHERE user = ?`, userHash)
	var counter int64
	if err := row.Scan(&counter); err != nil {
		if err == sql.ErrNoRows {
			return -1, nil
		}
		return -1, fmt.Errorf("storage: user counter: %w", err)
	}
	return counter, nil
}

// SetUserCounter upserts the last accepted counter for userHash.
func (d *DB) SetUserCounter(ctx context.Context, userHash []byte, counter uint64) error {
	_, err := d.Exec(ctx,
		`INSERT INTO users(user, counter) VALUES (?, ?)
		 ON CONFLICT(user) DO UPDATE SET counter = excluded.counter`, userHash, int64(counter))
	if err != nil {
		return fmt.Errorf("storage: set user counter: %w", err)
	}
	return nil
}

// ---- databases --------------------------------------------------------

// DatabaseOwner returns the owner hash of name, or nil if name does not
// exist.
func (d *DB) DatabaseOwner(ctx context.Context, name string) ([]byte, error) {
	row := d.sqldb.QueryRowContext(ctx, `SELECT owner FROM databases WHERE name = ?`, name)
	var owner []byte
	if err := row.Scan(&owner); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: database owner: %w", err)
	}
	return owner, nil
}

// CreateDatabaseRecord registers name with owner in the databases table.
func (d *DB) CreateDatabaseRecord(ctx context.Context, name string, owner []byte) error {
	_, err := d.Exec(ctx, `INSERT INTO databases(name, owner) VALUES (?, ?)`, name, owner)
	if err != nil {
		return fmt.Errorf("storage: create database record: %w", err)
	}
	return nil
}

// DeleteDatabaseRecord removes name from the databases table.
func (d *DB) DeleteDatabaseRecord(ctx context.Context, name string) error {
	_, err := d.Exec(ctx, `DELETE FROM databases WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("storage: delete database record: %w", err)
	}
	return nil
}

// ListDatabasesForOwner returns every database name owned by owner.
func (d *DB) ListDatabasesForOwner(ctx context.Context, owner []byte) ([]string, error) {
	rows, err := d.sqldb.QueryContext(ctx, `SELECT name FROM databases WHERE owner = ? ORDER BY name`, owner)
	if err != nil {
		return nil, fmt.Errorf("storage: list databases for owner: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListDatabases returns every known database name.
func (d *DB) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := d.sqldb.QueryContext(ctx, `SELECT name FROM databases ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list databases: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- grants -------------------------------------------------------------

// GrantRecord is one row of the grants metadata table.
type GrantRecord struct {
	User     []byte // nil means "any user" (public grant)
	Kind     string
	Table    string // "" means "not table-scoped"
	Database string
}

// InsertGrant records a grant. A nil user means "any" (public).
func (d *DB) InsertGrant(ctx context.Context, g GrantRecord) error {
	_, err := d.Exec(ctx,
		`INSERT INTO grants(user, kind, "table", database) VALUES (?, ?, ?, ?)`,
		nullable(g.User), g.Kind, nullableString(g.Table), g.Database)
	if err != nil {
		return fmt.Errorf("storage: insert grant: %w", err)
	}
	return nil
}

// DeleteGrant removes every grant row matching g exactly (NULL-aware).
func (d *DB) DeleteGrant(ctx context.Context, g GrantRecord) error {
	_, err := d.Exec(ctx,
		`DELETE FROM grants WHERE kind = ? AND database = ?
		 AND ("table" IS ? OR "table" = ?)
		 AND (user IS ? OR user = ?)`,
		g.Kind, g.Database, nullableString(g.Table), g.Table, nullable(g.User), g.User)
	if err != nil {
		return fmt.Errorf("storage: delete grant: %w", err)
	}
	return nil
}

// HasGrant reports whether any row in the grants table satisfies the
// (database, userHash, kind, table) lookup: database matches, user matches
// userHash or is NULL (public), kind matches, and table matches or is NULL.
func (d *DB) HasGrant(ctx context.Context, database string, userHash []byte, kind, table string) (bool, error) {
	row := d.sqldb.QueryRowContext(ctx,
		`SELECT 1 FROM grants
		 WHERE database = ? AND kind = ?
		   AND (user IS NULL OR user = ?)
		   AND ("table" IS NULL OR "table" = ?)
		 LIMIT 1`,
		database, kind, userHash, table)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("storage: has grant: %w", err)
	}
	return true, nil
}

// ListGrants returns every grant row for database, used by SHOW GRANTS.
func (d *DB) ListGrants(ctx context.Context, database string) ([]GrantRecord, error) {
	rows, err := d.sqldb.QueryContext(ctx,
		`SELECT user, kind, "table", database FROM grants WHERE database = ? ORDER BY kind, "table"`, database)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants: %w", err)
	}
	defer rows.Close()
	var out []GrantRecord
	for rows.Next() {
		var g GrantRecord
		var table sql.NullString
		if err := rows.Scan(&g.User, &g.Kind, &table, &g.Database); err != nil {
			return nil, fmt.Errorf("storage: scan grant: %w", err)
		}
		g.Table = table.String
		out = append(out, g)
	}
	return out, rows.Err()
}

func nullable(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ---- blocks ---------------------------------------------------------------

// BlockRecord is one row of the blocks metadata archive. It carries every
// header field alongside the signature/index/previous/payload already
// needed for lookup, so a stored block can be fully reconstructed and
// re-verified — e.g. to rebuild the in-memory ledger on startup.
type BlockRecord struct {
	Signature []byte
	Index     uint64
	Previous  []byte
	Payload   []byte
	Version   uint32
	Miner     []byte
	Timestamp uint64
	Nonce     uint64
}

// InsertBlockRecord appends b to the blocks archive table.
func (d *DB) InsertBlockRecord(ctx context.Context, b BlockRecord) error {
	_, err := d.Exec(ctx,
		`INSERT INTO blocks(signature, "index", previous, payload, version, miner, timestamp, nonce)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Signature, int64(b.Index), b.Previous, b.Payload, b.Version, b.Miner, int64(b.Timestamp), int64(b.Nonce))
	if err != nil {
		return fmt.Errorf("storage: insert block record: %w", err)
	}
	return nil
}

// BlockRecordBySignature looks up an archived block by its signature.
func (d *DB) BlockRecordBySignature(ctx context.Context, signature []byte) (*BlockRecord, error) {
	row := d.sqldb.QueryRowContext(ctx,
		`SELECT signature, "index", previous, payload, version, miner, timestamp, nonce
		 FROM blocks WHERE signature = ?`, signature)
	b, err := scanBlockRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: block record by signature: %w", err)
	}
	return b, nil
}

// ListBlockRecords returns every archived block, ordered by index — the
// full history a fresh process needs to rebuild its in-memory ledger.
func (d *DB) ListBlockRecords(ctx context.Context) ([]BlockRecord, error) {
	rows, err := d.sqldb.QueryContext(ctx,
		`SELECT signature, "index", previous, payload, version, miner, timestamp, nonce
		 FROM blocks ORDER BY "index" ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list block records: %w", err)
	}
	defer rows.Close()
	var out []BlockRecord
	for rows.Next() {
		b, err := scanBlockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan block record: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlockRecord(row rowScanner) (*BlockRecord, error) {
	var b BlockRecord
	var index, timestamp, nonce int64
	if err := row.Scan(&b.Signature, &index, &b.Previous, &b.Payload, &b.Version, &b.Miner, &timestamp, &nonce); err != nil {
		return nil, err
	}
	b.Index = uint64(index)
	b.Timestamp = uint64(timestamp)
	b.Nonce = uint64(nonce)
	return &b, nil
}
