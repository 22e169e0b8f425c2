package roadmap

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/frontmatter"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
)

// Region markers in the roadmap document.
const (
	StartMarker = "<!-- AUTO-ROADMAP-SUMMARY:START -->"
	EndMarker   = "<!-- AUTO-ROADMAP-SUMMARY:END -->"
)

const (
	placeholder   = "—"
	defaultIcon   = "•"
	recentSprints = 3
	tableHeader   = "| Epic | Status | Progress | Recent Sprints | Last Update |"
	tableRule     = "|------|--------|----------|----------------|-------------|"
)

var statusIcons = map[string]string{
	"completed":   "✅",
	"in_progress": "🟡",
	"planned":     "📋",
	"blocked":     "⛔",
	"at_risk":     "⚠️",
	"identified":  "🔍",
	"not_started": "📋",
}

var regionRe = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(StartMarker) + `.*?` + regexp.QuoteMeta(EndMarker))

// Icon returns the marker for status, or a bullet for unknown values.
func Icon(status string) string {
	if icon, ok := statusIcons[status]; ok {
		return icon
	}
	return defaultIcon
}

// BuildTable renders rows as a Markdown table with a fixed header.
func BuildTable(rows []models.EpicRow) string {
	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, tableHeader, tableRule)
	for _, row := range rows {
		recent := placeholder
		if n := len(row.LinkedSprints); n > 0 {
			recent = strings.Join(row.LinkedSprints[max(0, n-recentSprints):], ", ")
		}
		updated := row.UpdatedAt
		if updated == "" {
			updated = placeholder
		}
		lines = append(lines, fmt.Sprintf("| %s | %s %s | %v%% | %s | %s |",
			row.ID, Icon(row.Status), row.Status, progress(row.Progress), recent, updated))
	}
	return strings.Join(lines, "\n")
}

func progress(v any) any {
	if v == nil {
		return 0
	}
	return v
}

// BuildBlock prefixes the table with the sync caption.
func BuildBlock(rows []models.EpicRow, now time.Time) string {
	return fmt.Sprintf("_Auto-sync: %s_\n\n%s", frontmatter.FormatTimestamp(now), BuildTable(rows))
}

// ReplaceBlock swaps the marked region of content for block. Without a
// region, one is appended after a blank line.
func ReplaceBlock(content, block string) string {
	region := StartMarker + "\n" + block + "\n" + EndMarker
	if regionRe.MatchString(content) {
		return regionRe.ReplaceAllLiteralString(content, region)
	}
	return strings.TrimRight(content, " \t\r\n") + "\n\n" + region + "\n"
}
