package roadmap

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/testutil"
)

var syncedAt = time.Date(2025, 11, 7, 8, 30, 0, 0, time.UTC)

func vault(t *testing.T, files map[string]string) storage.Provider {
	t.Helper()
	_, store := testutil.TestVault(t)
	testutil.SeedVault(t, store, files)
	return store
}

func newRegenerator(store storage.Provider) *Regenerator {
	return New(store, Options{}, testutil.Logger())
}

func TestReplaceBlock_OnlyRegionChanges(t *testing.T) {
	content := "# Title\n\n" + StartMarker + "\nold\n" + EndMarker + "\n\n# Other"
	got := ReplaceBlock(content, "new")
	want := "# Title\n\n" + StartMarker + "\nnew\n" + EndMarker + "\n\n# Other"
	if got != want {
		t.Errorf("ReplaceBlock = %q, want %q", got, want)
	}
}

func TestReplaceBlock_AppendsWhenMissing(t *testing.T) {
	content := "# Roadmap\n\nHand written.\n\n\n"
	got := ReplaceBlock(content, "table")
	want := "# Roadmap\n\nHand written.\n\n" + StartMarker + "\ntable\n" + EndMarker + "\n"
	if got != want {
		t.Errorf("ReplaceBlock = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, "# Roadmap\n\nHand written.") {
		t.Error("existing content altered")
	}
}

func TestReplaceBlock_DollarSignsAreLiteral(t *testing.T) {
	content := StartMarker + "\nx\n" + EndMarker
	got := ReplaceBlock(content, "cost $1 ${2}")
	if !strings.Contains(got, "cost $1 ${2}") {
		t.Errorf("replacement expanded: %q", got)
	}
}

func TestBuildTable(t *testing.T) {
	rows := []models.EpicRow{
		{ID: "EPIC-001", Status: "in_progress", Progress: 12, LinkedSprints: []string{"S1", "S2", "S3", "S4"}, UpdatedAt: "2025-11-06T23:59:00Z"},
		{ID: "EPIC-002", Status: "mystery", Progress: 0},
	}
	got := BuildTable(rows)
	want := strings.Join([]string{
		"| Epic | Status | Progress | Recent Sprints | Last Update |",
		"|------|--------|----------|----------------|-------------|",
		"| EPIC-001 | 🟡 in_progress | 12% | S2, S3, S4 | 2025-11-06T23:59:00Z |",
		"| EPIC-002 | • mystery | 0% | — | — |",
	}, "\n")
	if got != want {
		t.Errorf("BuildTable:\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildBlock_Caption(t *testing.T) {
	got := BuildBlock(nil, syncedAt)
	if !strings.HasPrefix(got, "_Auto-sync: 2025-11-07T08:30:00Z_\n\n| Epic |") {
		t.Errorf("block = %q", got)
	}
}

func TestIcon(t *testing.T) {
	cases := map[string]string{
		"completed":   "✅",
		"blocked":     "⛔",
		"not_started": "📋",
		"":            "•",
		"whatever":    "•",
	}
	for status, want := range cases {
		if got := Icon(status); got != want {
			t.Errorf("Icon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestCollect_SkipsUnindexableAndSorts(t *testing.T) {
	store := vault(t, map[string]string{
		"EPICS/EPIC-002-Exec/README.md":    "---\nid: EPIC-002\nstatus: planned\n---\n",
		"EPICS/EPIC-001-Found/README.md":   "---\nepic_id: EPIC-001\nepic_status: completed\nprogress: 100\nsprints: [S1]\n---\n",
		"EPICS/EPIC-003-NoID/README.md":    "---\ntitle: Draft\nstatus: planned\n---\n",
		"EPICS/EPIC-004-NoMeta/README.md":  "# Just prose\n",
		"EPICS/EPIC-005-NoReadme/notes.md": "---\nid: EPIC-005\n---\n",
		"EPICS/OTHER/README.md":            "---\nid: OTHER-1\n---\n",
	})

	rows, err := Collect(store, "EPICS", "EPIC-*", "README.md")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v, want 2", rows)
	}
	if rows[0].ID != "EPIC-001" || rows[1].ID != "EPIC-002" {
		t.Errorf("order = %s, %s", rows[0].ID, rows[1].ID)
	}
	first := rows[0]
	if first.Status != "completed" || first.Progress != 100 || first.Title != "EPIC-001-Found" {
		t.Errorf("fallbacks not applied: %+v", first)
	}
	if len(first.LinkedSprints) != 1 || first.LinkedSprints[0] != "S1" {
		t.Errorf("sprints fallback = %v", first.LinkedSprints)
	}
	if rows[1].Progress != 0 {
		t.Errorf("default progress = %v", rows[1].Progress)
	}
}

func TestCollect_MalformedEpicAborts(t *testing.T) {
	store := vault(t, map[string]string{
		"EPICS/EPIC-001/README.md": "---\nid: EPIC-001\n",
	})
	_, err := Collect(store, "EPICS", "EPIC-*", "README.md")
	if !errors.Is(err, apperr.ErrMalformedDocument) {
		t.Fatalf("err = %v, want ErrMalformedDocument", err)
	}
}

func TestRegenerate_ReplacesRegion(t *testing.T) {
	roadmap := "# Title\n\n" + StartMarker + "\nold\n" + EndMarker + "\n\n# Other\n"
	store := vault(t, map[string]string{
		"ROADMAP.md":               roadmap,
		"EPICS/EPIC-001/README.md": "---\nid: EPIC-001\nstatus: in_progress\nprogress_pct: 40\nlinked_sprints: [S1]\nupdated_at: 2025-11-06T23:59:00Z\n---\n",
	})
	g := newRegenerator(store)

	got, err := g.Regenerate(syncedAt)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	want := "# Title\n\n" + StartMarker + "\n" +
		"_Auto-sync: 2025-11-07T08:30:00Z_\n\n" +
		"| Epic | Status | Progress | Recent Sprints | Last Update |\n" +
		"|------|--------|----------|----------------|-------------|\n" +
		"| EPIC-001 | 🟡 in_progress | 40% | S1 | 2025-11-06T23:59:00Z |\n" +
		EndMarker + "\n\n# Other\n"
	if got != want {
		t.Errorf("roadmap:\n got: %q\nwant: %q", got, want)
	}
	onDisk, _ := store.Read("ROADMAP.md")
	if string(onDisk) != got {
		t.Error("returned text differs from written file")
	}
}

func TestRegenerate_StableTableAcrossRuns(t *testing.T) {
	store := vault(t, map[string]string{
		"ROADMAP.md":               "# Roadmap\n",
		"EPICS/EPIC-001/README.md": "---\nid: EPIC-001\n---\n",
	})
	g := newRegenerator(store)

	first, err := g.Regenerate(syncedAt)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	second, err := g.Regenerate(syncedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	stripCaption := func(s string) string {
		return strings.Replace(s, "08:31:00Z", "08:30:00Z", 1)
	}
	if stripCaption(second) != first {
		t.Errorf("only the caption should change:\n first: %q\nsecond: %q", first, second)
	}
	if strings.Count(second, StartMarker) != 1 {
		t.Errorf("region duplicated: %q", second)
	}
}

func TestRegenerate_MissingInputs(t *testing.T) {
	t.Run("no epics dir", func(t *testing.T) {
		store := vault(t, map[string]string{"ROADMAP.md": "# R\n"})
		_, err := newRegenerator(store).Regenerate(syncedAt)
		if !errors.Is(err, apperr.ErrPathNotFound) {
			t.Errorf("err = %v, want ErrPathNotFound", err)
		}
	})
	t.Run("no roadmap", func(t *testing.T) {
		store := vault(t, map[string]string{"EPICS/EPIC-001/README.md": "---\nid: EPIC-001\n---\n"})
		_, err := newRegenerator(store).Regenerate(syncedAt)
		if !errors.Is(err, apperr.ErrPathNotFound) {
			t.Errorf("err = %v, want ErrPathNotFound", err)
		}
	})
}
