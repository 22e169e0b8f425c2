// Package roadmap regenerates the auto-maintained epic summary inside the
// roadmap document from epic metadata.
package roadmap

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/frontmatter"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
)

// Options locate the epics and the roadmap inside the vault.
type Options struct {
	EpicsDir     string
	EpicPattern  string
	DocumentName string
	Roadmap      string
}

func (o Options) withDefaults() Options {
	if o.EpicsDir == "" {
		o.EpicsDir = "EPICS"
	}
	if o.EpicPattern == "" {
		o.EpicPattern = "EPIC-*"
	}
	if o.DocumentName == "" {
		o.DocumentName = "README.md"
	}
	if o.Roadmap == "" {
		o.Roadmap = "ROADMAP.md"
	}
	return o
}

// Regenerator rewrites the summary region of the roadmap.
type Regenerator struct {
	store  storage.Provider
	opts   Options
	logger *slog.Logger
}

// New returns a Regenerator. Empty options take the vault defaults.
func New(store storage.Provider, opts Options, logger *slog.Logger) *Regenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Regenerator{store: store, opts: opts.withDefaults(), logger: logger}
}

// RoadmapPath returns the absolute path of the roadmap document.
func (g *Regenerator) RoadmapPath() string {
	return filepath.Join(g.store.Root(), filepath.FromSlash(g.opts.Roadmap))
}

// RoadmapFile returns the roadmap path relative to the vault root.
func (g *Regenerator) RoadmapFile() string {
	return g.opts.Roadmap
}

// EpicsDir returns the epics directory relative to the vault root.
func (g *Regenerator) EpicsDir() string {
	return g.opts.EpicsDir
}

// IsEpicDocument reports whether the vault path p is an epic document that
// feeds the summary table.
func (g *Regenerator) IsEpicDocument(p string) bool {
	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if name != g.opts.DocumentName || path.Dir(dir) != g.opts.EpicsDir {
		return false
	}
	ok, _ := path.Match(g.opts.EpicPattern, path.Base(dir))
	return ok
}

// Rows collects the epic rows in table order.
func (g *Regenerator) Rows() ([]models.EpicRow, error) {
	rows, err := Collect(g.store, g.opts.EpicsDir, g.opts.EpicPattern, g.opts.DocumentName)
	if err != nil {
		return nil, err
	}
	warnMixedWidths(g.logger, rows)
	return rows, nil
}

// Render returns the roadmap text with a fresh summary, without writing it.
func (g *Regenerator) Render(now time.Time) (string, error) {
	rows, err := g.Rows()
	if err != nil {
		return "", err
	}
	content, err := g.store.Read(g.opts.Roadmap)
	if err != nil {
		return "", fmt.Errorf("roadmap: %w", err)
	}
	return ReplaceBlock(string(content), BuildBlock(rows, now)), nil
}

// Regenerate renders the summary and writes the roadmap back.
func (g *Regenerator) Regenerate(now time.Time) (string, error) {
	updated, err := g.Render(now)
	if err != nil {
		return "", err
	}
	if err := g.store.Write(g.opts.Roadmap, []byte(updated)); err != nil {
		return "", fmt.Errorf("roadmap: %w", err)
	}
	g.logger.Info("roadmap: regenerated", slog.String("path", g.opts.Roadmap))
	return updated, nil
}

// Collect reads the epic document of every directory under epicsDir that
// matches pattern. Documents without an id are skipped.
func Collect(store storage.Provider, epicsDir, pattern, docName string) ([]models.EpicRow, error) {
	dirs, err := store.Dirs(epicsDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("roadmap: %w", err)
	}
	var rows []models.EpicRow
	for _, dir := range dirs {
		docPath := path.Join(dir, docName)
		ok, err := store.Exists(docPath)
		if err != nil {
			return nil, fmt.Errorf("roadmap: %w", err)
		}
		if !ok {
			continue
		}
		data, err := store.Read(docPath)
		if err != nil {
			return nil, fmt.Errorf("roadmap: %w", err)
		}
		doc, err := frontmatter.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("roadmap: %s: %w", docPath, err)
		}
		if row, ok := rowFromMeta(doc.Meta, path.Base(dir)); ok {
			row.Dir = dir
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return strings.Compare(rows[i].ID, rows[j].ID) < 0
	})
	return rows, nil
}

func rowFromMeta(m *frontmatter.Metadata, dirName string) (models.EpicRow, bool) {
	id := firstString(m, "id", "epic_id")
	if id == "" {
		return models.EpicRow{}, false
	}
	title := firstString(m, "title")
	if title == "" {
		title = dirName
	}
	status := firstString(m, "status", "epic_status")
	if status == "" {
		status = "planned"
	}
	var progress any = 0
	for _, key := range []string{"progress_pct", "progress"} {
		if v, ok := m.Value(key); ok && v != nil {
			progress = v
			break
		}
	}
	sprints := m.Strings("linked_sprints")
	if !m.Has("linked_sprints") {
		sprints = m.Strings("sprints")
	}
	updated, _ := m.String("updated_at")
	return models.EpicRow{
		ID:            id,
		Title:         title,
		Status:        status,
		Progress:      progress,
		LinkedSprints: sprints,
		ChangeLog:     m.Strings("change_log"),
		UpdatedAt:     updated,
	}, true
}

func firstString(m *frontmatter.Metadata, keys ...string) string {
	for _, k := range keys {
		if s, ok := m.String(k); ok && s != "" {
			return s
		}
	}
	return ""
}

var idDigits = regexp.MustCompile(`\d+`)

// warnMixedWidths flags ids whose numeric parts differ in width, since the
// table is sorted lexicographically.
func warnMixedWidths(logger *slog.Logger, rows []models.EpicRow) {
	width := -1
	for _, row := range rows {
		d := idDigits.FindString(row.ID)
		if d == "" {
			continue
		}
		if width == -1 {
			width = len(d)
			continue
		}
		if len(d) != width {
			logger.Warn("roadmap: epic ids have mixed number widths; table order is lexicographic",
				slog.String("id", row.ID))
			return
		}
	}
}
