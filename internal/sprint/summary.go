// Package sprint decodes sprint summaries: the event files that drive
// hierarchical metadata updates across epics, features, and stories.
package sprint

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
)

// Summary is the outcome of one sprint.
type Summary struct {
	SprintID    string              `yaml:"sprint_id" json:"sprint_id"`
	EndedAt     string              `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	Status      string              `yaml:"status,omitempty" json:"status,omitempty"`
	EpicUpdates []UpdateInstruction `yaml:"epic_updates" json:"epic_updates"`
}

// UpdateInstruction targets one document and, through Features and Stories,
// the documents below it.
type UpdateInstruction struct {
	ID                  string               `yaml:"id,omitempty"`
	Path                string               `yaml:"path"`
	Status              *string              `yaml:"status,omitempty"`
	ProgressPct         *int                 `yaml:"progress_pct,omitempty"`
	RequirementCoverage *int                 `yaml:"requirement_coverage,omitempty"`
	Fields              map[string]yaml.Node `yaml:"fields,omitempty"`
	ChangeLogEntry      string               `yaml:"change_log_entry,omitempty"`
	LinkedSprints       []string             `yaml:"linked_sprints,omitempty"`
	LastReview          string               `yaml:"last_review,omitempty"`
	Features            []UpdateInstruction  `yaml:"features,omitempty"`
	Stories             []UpdateInstruction  `yaml:"stories,omitempty"`
}

// Children returns features followed by stories.
func (u UpdateInstruction) Children() []UpdateInstruction {
	if len(u.Stories) == 0 {
		return u.Features
	}
	out := make([]UpdateInstruction, 0, len(u.Features)+len(u.Stories))
	out = append(out, u.Features...)
	return append(out, u.Stories...)
}

// Validate requires a path on this node and every node below it.
func (u UpdateInstruction) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Path, validation.Required),
		validation.Field(&u.Features),
		validation.Field(&u.Stories),
	)
}

// Validate requires a sprint id and well-formed instructions.
func (s *Summary) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.SprintID, validation.Required),
		validation.Field(&s.EpicUpdates),
	)
}

// Count returns the number of instructions in the whole tree.
func (s *Summary) Count() int {
	var walk func([]UpdateInstruction) int
	walk = func(nodes []UpdateInstruction) int {
		n := 0
		for _, node := range nodes {
			n += 1 + walk(node.Children())
		}
		return n
	}
	return walk(s.EpicUpdates)
}

// Parse decodes and validates a summary. Every failure wraps
// apperr.ErrInvalidSummary.
func Parse(data []byte) (*Summary, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("sprint: summary is empty: %w", apperr.ErrInvalidSummary)
	}
	var s *Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sprint: parse summary: %v: %w", err, apperr.ErrInvalidSummary)
	}
	if s == nil {
		return nil, fmt.Errorf("sprint: summary is empty: %w", apperr.ErrInvalidSummary)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("sprint: %v: %w", err, apperr.ErrInvalidSummary)
	}
	return s, nil
}

// Load reads and parses the summary file at path.
func Load(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("sprint: summary %s: %w", path, apperr.ErrPathNotFound)
		}
		return nil, fmt.Errorf("sprint: read summary %s: %w", path, err)
	}
	return Parse(data)
}
