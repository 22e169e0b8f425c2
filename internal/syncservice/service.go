// Package syncservice coordinates the propagator, the roadmap regenerator,
// and the optional document index behind one API used by the CLI, the HTTP
// server, and the MCP server.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/checksum"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/frontmatter"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/index"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/parser"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/propagate"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/roadmap"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/sprint"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
)

// Change kinds passed to the change hook in addition to the index event kinds.
const (
	EventPropagated  = "propagated"
	EventRegenerated = "regenerated"
)

// ChangeHook is called after the service rewrites a file.
type ChangeHook func(kind, path string)

// Service serializes writes to the vault. Reads go straight to storage or
// the index.
type Service struct {
	mu sync.Mutex

	store       storage.Provider
	propagator  *propagate.Propagator
	regenerator *roadmap.Regenerator
	db          index.DocumentIndex
	record      bool
	now         func() time.Time
	logger      *slog.Logger
	onChange    ChangeHook
}

// Option configures a Service.
type Option func(*Service)

// WithIndex attaches a document index. When record is true every propagation
// result is appended to the run ledger.
func WithIndex(db index.DocumentIndex, record bool) Option {
	return func(s *Service) {
		s.db = db
		s.record = record
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithChangeHook registers fn to run after each rewritten file.
func WithChangeHook(fn ChangeHook) Option {
	return func(s *Service) { s.onChange = fn }
}

// New creates a Service over store.
func New(store storage.Provider, opts roadmap.Options, options ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range options {
		o(s)
	}
	s.propagator = propagate.New(store, s.logger)
	s.regenerator = roadmap.New(store, opts, s.logger)
	return s
}

// RoadmapPath returns the absolute path of the roadmap document.
func (s *Service) RoadmapPath() string { return s.regenerator.RoadmapPath() }

// RoadmapFile returns the roadmap path relative to the vault root.
func (s *Service) RoadmapFile() string { return s.regenerator.RoadmapFile() }

// EpicsDir returns the epics directory relative to the vault root.
func (s *Service) EpicsDir() string { return s.regenerator.EpicsDir() }

// IndexEnabled reports whether a document index is attached.
func (s *Service) IndexEnabled() bool { return s.db != nil }

// Propagate parses a sprint summary and applies it to the vault.
func (s *Service) Propagate(ctx context.Context, data []byte) (*propagate.Report, error) {
	sum, err := sprint.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.PropagateSummary(ctx, sum)
}

// PropagateFile loads the summary at p (a filesystem path, not a vault path)
// and applies it.
func (s *Service) PropagateFile(ctx context.Context, p string) (*propagate.Report, error) {
	sum, err := sprint.Load(p)
	if err != nil {
		return nil, err
	}
	return s.PropagateSummary(ctx, sum)
}

// PropagateSummary applies an already parsed summary. Per-document failures
// are reported in the returned report, not as an error.
func (s *Service) PropagateSummary(ctx context.Context, sum *sprint.Summary) (*propagate.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rep := s.propagator.Run(sum, now)

	for _, p := range rep.Changed() {
		s.reindex(p)
		s.notify(EventPropagated, p)
	}
	s.recordRun(rep, now)
	return rep, nil
}

// Regenerate rewrites the roadmap summary region and returns the new text.
func (s *Service) Regenerate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := s.regenerator.Regenerate(s.now())
	if err != nil {
		return "", err
	}
	s.notify(EventRegenerated, s.regenerator.RoadmapFile())
	return text, nil
}

// Preview renders the roadmap without writing it.
func (s *Service) Preview(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.regenerator.Render(s.now())
}

// Epics returns the roadmap rows in table order.
func (s *Service) Epics(_ context.Context) ([]models.EpicRow, error) {
	return s.regenerator.Rows()
}

// GetDocument reads and decodes the document at p straight from the vault.
func (s *Service) GetDocument(_ context.Context, p string) (*models.Document, error) {
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, apperr.ErrPathNotFound) {
			return nil, fmt.Errorf("%s: %w", p, apperr.ErrNotFound)
		}
		return nil, err
	}
	doc, err := frontmatter.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	row, err := index.RowFromDocument(p, data)
	if err != nil {
		return nil, err
	}
	fm, err := doc.Meta.Map()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return &models.Document{
		Path:          p,
		ID:            row.DocID,
		Title:         row.Title,
		Status:        row.Status,
		ProgressPct:   row.ProgressPct,
		LinkedSprints: nonNilSlice(row.LinkedSprints),
		UpdatedAt:     row.UpdatedAt,
		Checksum:      checksum.Sum(data),
		Body:          doc.Body,
		Links:         parser.Links(doc.Body),
		Frontmatter:   fm,
	}, nil
}

// ListPaths lists Markdown paths under dir straight from the vault.
func (s *Service) ListPaths(_ context.Context, dir string) ([]string, error) {
	infos, err := s.store.List(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(infos))
	for i, info := range infos {
		paths[i] = info.Path
	}
	return paths, nil
}

// ListDocuments returns indexed documents, optionally filtered by status.
func (s *Service) ListDocuments(_ context.Context, limit, offset int, status string) ([]models.Document, int, error) {
	if s.db == nil {
		return nil, 0, apperr.ErrIndexDisabled
	}
	rows, total, err := s.db.ListDocuments(limit, offset, status)
	if err != nil {
		return nil, 0, err
	}
	return toDocuments(rows), total, nil
}

// Search runs a full-text query against the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.db == nil {
		return nil, apperr.ErrIndexDisabled
	}
	return s.db.Search(query, limit)
}

// DocumentsForSprint lists indexed documents linked to sprintID.
func (s *Service) DocumentsForSprint(_ context.Context, sprintID string) ([]models.Document, error) {
	if s.db == nil {
		return nil, apperr.ErrIndexDisabled
	}
	rows, err := s.db.DocumentsForSprint(sprintID)
	if err != nil {
		return nil, err
	}
	return toDocuments(rows), nil
}

// Runs returns the newest ledger entries, optionally for one sprint.
func (s *Service) Runs(_ context.Context, sprintID string, limit int) ([]models.RunRecord, error) {
	if s.db == nil {
		return nil, apperr.ErrIndexDisabled
	}
	return s.db.Runs(sprintID, limit)
}

// Reindex brings the whole index in line with the vault.
func (s *Service) Reindex(_ context.Context) error {
	if s.db == nil {
		return apperr.ErrIndexDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return index.Sync(s.db, s.store, s.logger)
}

// IsEpicDocument reports whether p is an epic document the roadmap reads.
func (s *Service) IsEpicDocument(p string) bool {
	return s.regenerator.IsEpicDocument(p)
}

func (s *Service) reindex(p string) {
	if s.db == nil {
		return
	}
	data, err := s.store.Read(p)
	if err != nil {
		s.logger.Warn("service: reindex read failed", slog.String("path", p), slog.String("error", err.Error()))
		return
	}
	if err := index.IndexFile(s.db, p, data); err != nil {
		s.logger.Warn("service: reindex failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}

func (s *Service) recordRun(rep *propagate.Report, at time.Time) {
	if s.db == nil || !s.record || len(rep.Results) == 0 {
		return
	}
	records := make([]models.RunRecord, len(rep.Results))
	for i, res := range rep.Results {
		records[i] = models.RunRecord{
			SprintID:   rep.SprintID,
			Path:       res.Path,
			Outcome:    string(res.Outcome),
			RecordedAt: at,
		}
		if res.Err != nil {
			records[i].Error = res.Err.Error()
		}
	}
	if err := s.db.RecordRun(records); err != nil {
		s.logger.Warn("service: record run failed", slog.String("sprint_id", rep.SprintID), slog.String("error", err.Error()))
	}
}

func (s *Service) notify(kind, p string) {
	if s.onChange != nil {
		s.onChange(kind, p)
	}
}

func toDocuments(rows []index.DocumentRow) []models.Document {
	out := make([]models.Document, len(rows))
	for i, r := range rows {
		out[i] = models.Document{
			Path:          r.Path,
			ID:            r.DocID,
			Title:         r.Title,
			Status:        r.Status,
			ProgressPct:   r.ProgressPct,
			LinkedSprints: nonNilSlice(r.LinkedSprints),
			UpdatedAt:     r.UpdatedAt,
			Checksum:      r.Checksum,
		}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
