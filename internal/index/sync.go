package index

import (
	"log/slog"
	"path"
	"strings"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/checksum"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/frontmatter"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/parser"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
)

// Sync walks the vault and brings the index up to date:
//   - new/changed files are decoded and upserted
//   - files removed from disk are deleted from the index
//
// Documents that fail to decode are logged and left out.
func Sync(db DocumentIndex, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path), slog.String("checksum", checksum.Short(data)))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDocument(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile decodes data and upserts it into the DB.
func IndexFile(db DocumentIndex, path string, data []byte) error {
	row, err := RowFromDocument(path, data)
	if err != nil {
		return err
	}
	return db.UpsertDocument(row)
}

// RowFromDocument interprets the metadata of a document as an index row.
func RowFromDocument(p string, data []byte) (DocumentRow, error) {
	doc, err := frontmatter.Decode(data)
	if err != nil {
		return DocumentRow{}, err
	}
	m := doc.Meta
	row := DocumentRow{
		Path:     p,
		Checksum: checksum.Sum(data),
		Body:     doc.Body,
	}
	row.DocID = firstString(m, "id", "epic_id")
	row.Title = firstString(m, "title")
	if row.Title == "" {
		row.Title = parser.Title(doc.Body)
	}
	if row.Title == "" {
		row.Title = strings.TrimSuffix(path.Base(p), ".md")
	}
	row.Status = firstString(m, "status", "epic_status")
	if pct, ok := m.Int("progress_pct"); ok {
		row.ProgressPct = pct
	} else if pct, ok := m.Int("progress"); ok {
		row.ProgressPct = pct
	}
	row.UpdatedAt, _ = m.String("updated_at")
	row.LinkedSprints = m.Strings("linked_sprints")
	if !m.Has("linked_sprints") {
		row.LinkedSprints = m.Strings("sprints")
	}
	return row, nil
}

func firstString(m *frontmatter.Metadata, keys ...string) string {
	for _, k := range keys {
		if s, ok := m.String(k); ok && s != "" {
			return s
		}
	}
	return ""
}
