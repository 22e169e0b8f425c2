package api

import (
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/index"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/propagate"
)

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []models.Document `json:"documents"`
	Total     int               `json:"total" example:"42"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results"`
}

// SprintDocumentsResponse lists the documents linked to one sprint.
type SprintDocumentsResponse struct {
	SprintID  string            `json:"sprint_id"`
	Documents []models.Document `json:"documents"`
}

// ResultDTO is one document outcome of a propagation run.
type ResultDTO struct {
	ID      string `json:"id,omitempty" example:"FEATURE-001"`
	Path    string `json:"path" example:"EPICS/EPIC-001/FEATURE-001/README.md"`
	Depth   int    `json:"depth"`
	Outcome string `json:"outcome" example:"changed"`
	Error   string `json:"error,omitempty"`
}

// ReportResponse is returned by POST /propagate.
type ReportResponse struct {
	SprintID  string      `json:"sprint_id" example:"SPRINT-7"`
	Results   []ResultDTO `json:"results"`
	Changed   int         `json:"changed"`
	Unchanged int         `json:"unchanged"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
}

func reportResponse(rep *propagate.Report) ReportResponse {
	out := ReportResponse{
		SprintID:  rep.SprintID,
		Results:   make([]ResultDTO, len(rep.Results)),
		Changed:   len(rep.Changed()),
		Unchanged: len(rep.Unchanged()),
		Failed:    len(rep.Failed()),
		Skipped:   len(rep.Skipped()),
	}
	for i, r := range rep.Results {
		out.Results[i] = ResultDTO{
			ID:      r.ID,
			Path:    r.Path,
			Depth:   r.Depth,
			Outcome: string(r.Outcome),
		}
		if r.Err != nil {
			out.Results[i].Error = r.Err.Error()
		}
	}
	return out
}

// RegenerateResponse is returned by POST /regenerate.
type RegenerateResponse struct {
	Roadmap string `json:"roadmap" example:"ROADMAP.md"`
	DryRun  bool   `json:"dry_run"`
	Content string `json:"content"`
}

// EpicsResponse lists the roadmap rows.
type EpicsResponse struct {
	Epics []models.EpicRow `json:"epics"`
}

// RunsResponse lists propagation ledger entries, newest first.
type RunsResponse struct {
	Runs []models.RunRecord `json:"runs"`
}
