// Package propagate applies sprint summaries to the epic, feature, and story
// documents they name.
package propagate

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/checksum"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/frontmatter"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/sprint"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
)

// Metadata keys written by the propagator.
const (
	KeyStatus              = "status"
	KeyProgressPct         = "progress_pct"
	KeyRequirementCoverage = "requirement_coverage"
	KeyChangeLog           = "change_log"
	KeyLinkedSprints       = "linked_sprints"
	KeyUpdatedAt           = "updated_at"
	KeyLastReview          = "last_review"
)

// Propagator rewrites document metadata from update instructions.
type Propagator struct {
	store  storage.Provider
	logger *slog.Logger
}

// New returns a Propagator writing through store.
func New(store storage.Provider, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{store: store, logger: logger}
}

// Apply merges one instruction into the document at path. The document is
// rewritten only when a value actually changes.
func (p *Propagator) Apply(path, sprintID string, in sprint.UpdateInstruction, now time.Time) (Outcome, error) {
	data, err := p.store.Read(path)
	if err != nil {
		return OutcomeFailed, err
	}
	doc, err := frontmatter.Decode(data)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", path, err)
	}
	if !doc.HasMeta {
		return OutcomeFailed, fmt.Errorf("%s: %w", path, apperr.ErrMissingMetadata)
	}

	m := doc.Meta
	changed := false
	set := func(key string, node *yaml.Node) {
		if sameValue(m.Node(key), node) {
			return
		}
		m.SetNode(key, node)
		changed = true
	}

	if in.Status != nil {
		set(KeyStatus, encodeNode(*in.Status))
	}
	if in.ProgressPct != nil {
		set(KeyProgressPct, encodeNode(*in.ProgressPct))
	}
	if in.RequirementCoverage != nil {
		set(KeyRequirementCoverage, encodeNode(*in.RequirementCoverage))
	}

	keys := make([]string, 0, len(in.Fields))
	for k := range in.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		node := in.Fields[k]
		set(k, fieldNode(&node))
	}

	if entry := in.ChangeLogEntry; entry != "" && !slices.Contains(m.Strings(KeyChangeLog), entry) {
		m.PrependString(KeyChangeLog, entry)
		changed = true
	}

	linked := m.Strings(KeyLinkedSprints)
	for _, id := range append([]string{sprintID}, in.LinkedSprints...) {
		if id == "" || slices.Contains(linked, id) {
			continue
		}
		m.AppendString(KeyLinkedSprints, id)
		linked = append(linked, id)
		changed = true
	}

	if !changed {
		p.logger.Debug("propagate: unchanged", slog.String("path", path))
		return OutcomeUnchanged, nil
	}

	m.SetTimestamp(KeyUpdatedAt, now)
	review := in.LastReview
	if review == "" {
		review = frontmatter.FormatDate(now)
	}
	m.SetDate(KeyLastReview, review)

	out, err := frontmatter.Encode(m, doc.Body)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.store.Write(path, out); err != nil {
		return OutcomeFailed, err
	}
	p.logger.Debug("propagate: updated",
		slog.String("path", path),
		slog.String("checksum", checksum.Short(out)))
	return OutcomeChanged, nil
}

// Run walks the summary depth-first, features before stories. A failed node
// skips its own subtree; siblings are still attempted.
func (p *Propagator) Run(s *sprint.Summary, now time.Time) *Report {
	r := &Report{SprintID: s.SprintID}
	for _, epic := range s.EpicUpdates {
		p.walk(r, s.SprintID, epic, 0, now)
	}
	p.logger.Info("propagate: run finished",
		slog.String("sprint_id", s.SprintID),
		slog.Int("changed", len(r.Changed())),
		slog.Int("unchanged", len(r.Unchanged())),
		slog.Int("failed", len(r.Failed())))
	return r
}

func (p *Propagator) walk(r *Report, sprintID string, in sprint.UpdateInstruction, depth int, now time.Time) {
	outcome, err := p.Apply(in.Path, sprintID, in, now)
	r.add(Result{ID: in.ID, Path: in.Path, Depth: depth, Outcome: outcome, Err: err})
	if err != nil {
		p.logger.Warn("propagate: update failed",
			slog.String("path", in.Path),
			slog.String("error", err.Error()))
		skip(r, in.Children(), depth+1)
		return
	}
	for _, child := range in.Children() {
		p.walk(r, sprintID, child, depth+1, now)
	}
}

func skip(r *Report, nodes []sprint.UpdateInstruction, depth int) {
	for _, n := range nodes {
		r.add(Result{ID: n.ID, Path: n.Path, Depth: depth, Outcome: OutcomeSkipped})
		skip(r, n.Children(), depth+1)
	}
}

func encodeNode(v any) *yaml.Node {
	var n yaml.Node
	// Encoding ints and strings into a node cannot fail.
	_ = n.Encode(v)
	return &n
}

// fieldNode copies an override value from the summary in the form Encode
// writes it, without the summary's comments.
func fieldNode(n *yaml.Node) *yaml.Node {
	c := frontmatter.Normalize(n)
	clearComments(c)
	return c
}

func clearComments(n *yaml.Node) {
	n.HeadComment, n.LineComment, n.FootComment = "", "", ""
	for _, child := range n.Content {
		clearComments(child)
	}
}

// sameValue compares decoded values so that formatting differences such as
// quoting, flow style or timestamp offsets do not count as changes. A missing
// node is nil.
func sameValue(cur, next *yaml.Node) bool {
	return reflect.DeepEqual(decode(frontmatter.Normalize(cur)), decode(frontmatter.Normalize(next)))
}

func decode(n *yaml.Node) any {
	if n == nil {
		return nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	return v
}
