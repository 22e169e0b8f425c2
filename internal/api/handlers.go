package api

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/syncservice"
)

const maxSummaryBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *syncservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service) *Handler {
	return &Handler{svc: svc}
}

// documentPath extracts the vault path from the URL (everything after
// /api/documents/). Encoded slashes are accepted.
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListDocuments handles GET /api/documents.
//
//	@Summary	List indexed documents
//	@Tags		documents
//	@Param		limit	query		int		false	"Page size"
//	@Param		offset	query		int		false	"Page offset"
//	@Param		status	query		string	false	"Filter by status"
//	@Success	200		{object}	DocumentListResponse
//	@Router		/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	docs, total, err := h.svc.ListDocuments(r.Context(), limit, offset, q.Get("status"))
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: nonNil(docs), Total: total})
}

// GetDocument handles GET /api/documents/*. The document is read from the
// vault, not the index.
//
//	@Summary	Get one document with its metadata
//	@Tags		documents
//	@Param		path	path		string	true	"Vault path"
//	@Success	200		{object}	models.Document
//	@Failure	404		{object}	errResponse
//	@Router		/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	p := documentPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.GetDocument(r.Context(), p)
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Search handles GET /api/search.
//
//	@Summary	Full-text search across documents
//	@Tags		documents
//	@Param		q		query		string	true	"Search query"
//	@Param		limit	query		int		false	"Max results"
//	@Success	200		{object}	SearchResponse
//	@Failure	400		{object}	errResponse
//	@Router		/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}

// SprintDocuments handles GET /api/sprints/{id}/documents.
func (h *Handler) SprintDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	docs, err := h.svc.DocumentsForSprint(r.Context(), id)
	if err != nil {
		writeError(w, "sprint documents", err)
		return
	}
	writeJSON(w, http.StatusOK, SprintDocumentsResponse{SprintID: id, Documents: nonNil(docs)})
}

// Propagate handles POST /api/propagate. The body is a sprint summary in
// YAML (JSON is accepted as a YAML subset). Per-document failures still
// return 200; the report carries them.
//
//	@Summary	Apply a sprint summary to the vault
//	@Tags		sync
//	@Accept		application/yaml
//	@Success	200	{object}	ReportResponse
//	@Failure	400	{object}	errResponse
//	@Router		/propagate [post]
func (h *Handler) Propagate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSummaryBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	rep, err := h.svc.Propagate(r.Context(), body)
	if err != nil {
		writeError(w, "propagate", err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse(rep))
}

// Regenerate handles POST /api/regenerate. With ?dry_run=true the new text
// is returned without writing the roadmap.
//
//	@Summary	Rewrite the roadmap summary table
//	@Tags		sync
//	@Param		dry_run	query		bool	false	"Render without writing"
//	@Success	200		{object}	RegenerateResponse
//	@Failure	404		{object}	errResponse
//	@Router		/regenerate [post]
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	var (
		text string
		err  error
	)
	if dryRun {
		text, err = h.svc.Preview(r.Context())
	} else {
		text, err = h.svc.Regenerate(r.Context())
	}
	if err != nil {
		writeError(w, "regenerate", err)
		return
	}
	writeJSON(w, http.StatusOK, RegenerateResponse{Roadmap: h.svc.RoadmapFile(), DryRun: dryRun, Content: text})
}

// Epics handles GET /api/epics.
func (h *Handler) Epics(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Epics(r.Context())
	if err != nil {
		writeError(w, "epics", err)
		return
	}
	writeJSON(w, http.StatusOK, EpicsResponse{Epics: nonNil(rows)})
}

// Runs handles GET /api/runs.
//
//	@Summary	Propagation ledger, newest first
//	@Tags		sync
//	@Param		sprint_id	query		string	false	"Filter by sprint"
//	@Param		limit		query		int		false	"Max entries"
//	@Success	200			{object}	RunsResponse
//	@Router		/runs [get]
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), r.URL.Query().Get("sprint_id"), limit)
	if err != nil {
		writeError(w, "runs", err)
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: nonNil(runs)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
