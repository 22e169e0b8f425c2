// Package index provides a SQLite catalog of vault documents and the
// propagation ledger, with optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path         TEXT PRIMARY KEY,
	doc_id       TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	progress_pct INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sprint_links (
	path      TEXT NOT NULL,
	sprint_id TEXT NOT NULL,
	position  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(path, sprint_id)
);

CREATE TABLE IF NOT EXISTS propagation_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sprint_id   TEXT NOT NULL,
	path        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_sprint_links_sprint ON sprint_links(sprint_id);
CREATE INDEX IF NOT EXISTS idx_propagation_log_sprint ON propagation_log(sprint_id);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
