// Package models defines the domain types shared by the sync engine, index,
// and API.
package models

import "time"

// DocumentInfo is the lightweight file listing returned by storage.
type DocumentInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is a tracked Markdown file with its interpreted metadata.
type Document struct {
	Path          string         `json:"path"`
	ID            string         `json:"id,omitempty"`
	Title         string         `json:"title,omitempty"`
	Status        string         `json:"status,omitempty"`
	ProgressPct   int            `json:"progress_pct"`
	LinkedSprints []string       `json:"linked_sprints"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
	Checksum      string         `json:"checksum"`
	Body          string         `json:"body,omitempty"`
	Links         []string       `json:"links,omitempty"`
	Frontmatter   map[string]any `json:"frontmatter,omitempty"`
}

// EpicRow is one line of the roadmap summary table.
type EpicRow struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Progress      any      `json:"progress_pct"`
	LinkedSprints []string `json:"linked_sprints"`
	ChangeLog     []string `json:"change_log,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
	Dir           string   `json:"dir"`
}

// RunRecord is one entry of the propagation ledger.
type RunRecord struct {
	ID         int64     `json:"id"`
	SprintID   string    `json:"sprint_id"`
	Path       string    `json:"path"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
