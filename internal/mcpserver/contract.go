package mcpserver

// SummaryFormatContract describes the sprint summary document that
// propagate_summary accepts.
const SummaryFormatContract = `# Sprint Summary Format

A sprint summary is a YAML document that lists the metadata updates a
finished sprint makes to epic, feature and story documents.

## Structure

` + "```" + `yaml
sprint_id: SPRINT-20251106          # REQUIRED
ended_at: 2025-11-06                # OPTIONAL, informational
status: completed                   # OPTIONAL, informational
epic_updates:                       # REQUIRED list (may be empty)
  - id: EPIC-001                    # OPTIONAL, used in reports
    path: EPICS/EPIC-001/README.md  # REQUIRED, relative to the vault root
    status: in_progress             # OPTIONAL
    progress_pct: 45                # OPTIONAL integer
    requirement_coverage: 80        # OPTIONAL integer
    change_log_entry: "Sprint 6 closed parser work"   # OPTIONAL
    linked_sprints: [SPRINT-20251030]                 # OPTIONAL extra sprints
    last_review: 2025-11-06         # OPTIONAL, defaults to today (UTC)
    fields:                         # OPTIONAL arbitrary metadata keys
      owner: platform-team
    features:                       # OPTIONAL nested updates, same shape
      - id: FEATURE-001
        path: EPICS/EPIC-001/FEATURE-001/README.md
        status: completed
        stories:
          - id: STORY-001
            path: EPICS/EPIC-001/FEATURE-001/STORY-001.md
            status: completed
` + "```" + `

## Rules

1. Every target document MUST already start with a ` + "`---`" + ` metadata block.
   Documents without one are reported as failed and left untouched.
2. Only the keys present in an update are written. Other metadata keys and
   the document body are preserved.
3. The sprint id is added to ` + "`linked_sprints`" + ` once. A change log entry
   is prepended only if it is not already in ` + "`change_log`" + `.
4. ` + "`updated_at`" + ` and ` + "`last_review`" + ` are refreshed only when something
   else changed, so re-applying the same summary changes nothing.
5. Updates apply parent first. A failed document skips its own features and
   stories; siblings still run.
`
