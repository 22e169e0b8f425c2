package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
)

// DocumentRow represents a row in the documents table plus its sprint links.
type DocumentRow struct {
	Path          string
	DocID         string
	Title         string
	Status        string
	ProgressPct   int
	UpdatedAt     string
	Checksum      string
	Body          string
	LinkedSprints []string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

const documentColumns = `path, doc_id, title, status, progress_pct, updated_at, checksum`

// UpsertDocument inserts or replaces a document, its FTS entry, and its
// sprint links within a transaction.
func (db *DB) UpsertDocument(d DocumentRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO documents (path, doc_id, title, status, progress_pct, updated_at, checksum, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			doc_id       = excluded.doc_id,
			title        = excluded.title,
			status       = excluded.status,
			progress_pct = excluded.progress_pct,
			updated_at   = excluded.updated_at,
			checksum     = excluded.checksum,
			body         = excluded.body
	`, d.Path, d.DocID, d.Title, d.Status, d.ProgressPct, d.UpdatedAt, d.Checksum, d.Body)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	if err := ftsUpsert(tx, d.Path, d.DocID, d.Title, d.Body); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM sprint_links WHERE path = ?`, d.Path); err != nil {
		return fmt.Errorf("index: clear sprint links: %w", err)
	}
	if len(d.LinkedSprints) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO sprint_links (path, sprint_id, position) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare sprint link insert: %w", err)
		}
		defer stmt.Close()
		for i, id := range d.LinkedSprints {
			if _, err := stmt.Exec(d.Path, id, i); err != nil {
				return fmt.Errorf("index: insert sprint link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document, its FTS entry, and its sprint links.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sprint_links WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete sprint links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a document, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path -> checksum for every indexed document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// GetDocument returns one document with its body and sprint links.
func (db *DB) GetDocument(path string) (*DocumentRow, error) {
	var d DocumentRow
	err := db.conn.QueryRow(`SELECT `+documentColumns+`, body FROM documents WHERE path = ?`, path).
		Scan(&d.Path, &d.DocID, &d.Title, &d.Status, &d.ProgressPct, &d.UpdatedAt, &d.Checksum, &d.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: document %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get document: %w", err)
	}
	links, err := db.sprintLinks([]string{path})
	if err != nil {
		return nil, err
	}
	d.LinkedSprints = links[path]
	return &d, nil
}

// ListDocuments returns a page of documents ordered by path and the total
// count. An empty status matches every document.
func (db *DB) ListDocuments(limit, offset int, status string) ([]DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	var args []any
	if status != "" {
		where = ` WHERE status = ?`
		args = append(args, status)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+documentColumns+` FROM documents`+where+` ORDER BY path LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	out, err := db.scanDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// DocumentsForSprint returns the documents whose linked_sprints contain sprintID.
func (db *DB) DocumentsForSprint(sprintID string) ([]DocumentRow, error) {
	rows, err := db.conn.Query(`
		SELECT d.path, d.doc_id, d.title, d.status, d.progress_pct, d.updated_at, d.checksum
		FROM documents d
		JOIN sprint_links s ON s.path = d.path
		WHERE s.sprint_id = ?
		ORDER BY d.path
	`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("index: documents for sprint: %w", err)
	}
	return db.scanDocuments(rows)
}

func (db *DB) scanDocuments(rows *sql.Rows) ([]DocumentRow, error) {
	defer rows.Close()
	var out []DocumentRow
	var paths []string
	for rows.Next() {
		var d DocumentRow
		if err := rows.Scan(&d.Path, &d.DocID, &d.Title, &d.Status, &d.ProgressPct, &d.UpdatedAt, &d.Checksum); err != nil {
			return nil, err
		}
		out = append(out, d)
		paths = append(paths, d.Path)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	links, err := db.sprintLinks(paths)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].LinkedSprints = links[out[i].Path]
	}
	return out, nil
}

func (db *DB) sprintLinks(paths []string) (map[string][]string, error) {
	out := make(map[string][]string, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	rows, err := db.conn.Query(`SELECT path, sprint_id FROM sprint_links WHERE path IN (`+placeholders+`) ORDER BY path, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: sprint links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p, id string
		if err := rows.Scan(&p, &id); err != nil {
			return nil, err
		}
		out[p] = append(out[p], id)
	}
	return out, rows.Err()
}

// RecordRun appends propagation results to the ledger.
func (db *DB) RecordRun(records []models.RunRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO propagation_log (sprint_id, path, outcome, error, recorded_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare run insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.Exec(r.SprintID, r.Path, r.Outcome, r.Error, r.RecordedAt.UTC()); err != nil {
			return fmt.Errorf("index: insert run: %w", err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent ledger entries, newest first. An empty
// sprintID matches every sprint.
func (db *DB) Runs(sprintID string, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, sprint_id, path, outcome, error, recorded_at FROM propagation_log`
	var args []any
	if sprintID != "" {
		query += ` WHERE sprint_id = ?`
		args = append(args, sprintID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: runs: %w", err)
	}
	defer rows.Close()
	var out []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		if err := rows.Scan(&r.ID, &r.SprintID, &r.Path, &r.Outcome, &r.Error, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
