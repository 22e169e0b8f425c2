// Package parser reads structure out of Markdown bodies: the first H1
// heading and [[wikilink]] references between vault documents.
package parser

import (
	"regexp"
	"strings"
)

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Title returns the text of the first H1 heading, or "".
func Title(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "# "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// Links returns the deduplicated wikilink targets in body, in order of first
// appearance. Aliases ([[Target|Alias]]) and heading anchors
// ([[Target#Section]]) are reduced to the target.
func Links(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.IndexAny(target, "|#"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
