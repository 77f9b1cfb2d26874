// Package nodedb implements the node database (§6 "Persisted state"): a
// small sqlite-backed store, separate from the chain-state database, that
// survives restarts across the two things a node needs to remember about
// itself rather than about the chain: its own identity/config, and the set
// of peers it has seen.
package nodedb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the node database: the `peers` and `config` tables described by
// §6's persisted-state section.
type DB struct {
	sqldb *sql.DB
	path  string
}

// Open opens (creating if absent) the node database at path.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	} else {
		dsn = "file::memory:?cache=shared&_journal_mode=WAL"
	}
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("nodedb: open %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("nodedb: ping %s: %w", path, err)
	}
	d := &DB{sqldb: sqldb, path: path}
	if err := d.initSchema(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("nodedb: init schema: %w", err)
	}
	return d, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS peers (
	uuid TEXT PRIMARY KEY,
	addr TEXT NOT NULL,
	port INTEGER NOT NULL
);
`

func (d *DB) initSchema() error {
	_, err := d.sqldb.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sqldb.Close() }

// Path returns the backend file path (or ":memory:").
func (d *DB) Path() string { return d.path }

// ConfigGet reads key from the config table.
func (d *DB) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	row := d.sqldb.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("nodedb: config get %s: %w", key, err)
	}
	return value, true, nil
}

// ConfigSet upserts key/value in the config table.
func (d *DB) ConfigSet(ctx context.Context, key, value string) error {
	_, err := d.sqldb.ExecContext(ctx,
		`INSERT INTO config(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("nodedb: config set %s: %w", key, err)
	}
	return nil
}

// PeerRecord is one row of the peers table: a remembered peer to rejoin on
// a future start (beyond whatever -j/--join supplies explicitly).
type PeerRecord struct {
	UUID string
	Addr string
	Port int
}

// Peers returns every remembered peer.
func (d *DB) Peers(ctx context.Context) ([]PeerRecord, error) {
	rows, err := d.sqldb.QueryContext(ctx, `SELECT uuid, addr, port FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("nodedb: list peers: %w", err)
	}
	defer rows.Close()
	var out []PeerRecord
	for rows.Next() {
		var p PeerRecord
		if err := rows.Scan(&p.UUID, &p.Addr, &p.Port); err != nil {
			return nil, fmt.Errorf("nodedb: scan peer: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RememberPeer upserts a peer record, so it can be rejoined on a future
// start.
func (d *DB) RememberPeer(ctx context.Context, p PeerRecord) error {
	_, err := d.sqldb.ExecContext(ctx,
		`INSERT INTO peers(uuid, addr, port) VALUES (?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET addr = excluded.addr, port = excluded.port`,
		p.UUID, p.Addr, p.Port)
	if err != nil {
		return fmt.Errorf("nodedb: remember peer: %w", err)
	}
	return nil
}

// ForgetPeer removes a peer record.
func (d *DB) ForgetPeer(ctx context.Context, uuid string) error {
	_, err := d.sqldb.ExecContext(ctx, `DELETE FROM peers WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("nodedb: forget peer: %w", err)
	}
	return nil
}

// TruncatePeers empties the peers table, per --initialize.
func (d *DB) TruncatePeers(ctx context.Context) error {
	_, err := d.sqldb.ExecContext(ctx, `DELETE FROM peers`)
	if err != nil {
		return fmt.Errorf("nodedb: truncate peers: %w", err)
	}
	return nil
}
