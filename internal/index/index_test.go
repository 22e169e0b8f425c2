package index

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/models"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "vaultsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"documents", "sprint_links", "propagation_log"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	db := testDB(t)
	row := DocumentRow{
		Path:          "EPICS/EPIC-001/README.md",
		DocID:         "EPIC-001",
		Title:         "Foundation",
		Status:        "in_progress",
		ProgressPct:   12,
		UpdatedAt:     "2025-11-06T23:59:00Z",
		Checksum:      "abc123",
		Body:          "# Foundation",
		LinkedSprints: []string{"SPRINT-2", "SPRINT-1"},
	}
	if err := db.UpsertDocument(row); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	got, err := db.GetDocument(row.Path)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !reflect.DeepEqual(*got, row) {
		t.Errorf("GetDocument = %+v, want %+v", *got, row)
	}
	cs, err := db.GetChecksum(row.Path)
	if err != nil || cs != "abc123" {
		t.Errorf("GetChecksum = %q, %v", cs, err)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetDocument("missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	cs, err := db.GetChecksum("missing.md")
	if err != nil || cs != "" {
		t.Errorf("GetChecksum = %q, %v", cs, err)
	}
}

func TestUpsertReplacesSprintLinks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocumentRow{Path: "a.md", Checksum: "1", LinkedSprints: []string{"S1"}})
	_ = db.UpsertDocument(DocumentRow{Path: "a.md", Checksum: "2", LinkedSprints: []string{"S2"}})

	old, _ := db.DocumentsForSprint("S1")
	if len(old) != 0 {
		t.Errorf("stale sprint link kept: %+v", old)
	}
	cur, err := db.DocumentsForSprint("S2")
	if err != nil {
		t.Fatalf("DocumentsForSprint: %v", err)
	}
	if len(cur) != 1 || cur[0].Checksum != "2" {
		t.Errorf("DocumentsForSprint = %+v", cur)
	}
}

func TestDeleteDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocumentRow{Path: "del.md", Checksum: "x", LinkedSprints: []string{"S1"}})

	if err := db.DeleteDocument("del.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if cs, _ := db.GetChecksum("del.md"); cs != "" {
		t.Errorf("deleted document still has checksum %q", cs)
	}
	if docs, _ := db.DocumentsForSprint("S1"); len(docs) != 0 {
		t.Errorf("sprint links survived delete: %+v", docs)
	}
}

func TestListDocuments_FilterAndPage(t *testing.T) {
	db := testDB(t)
	for _, r := range []DocumentRow{
		{Path: "a.md", Status: "planned", Checksum: "1"},
		{Path: "b.md", Status: "completed", Checksum: "2"},
		{Path: "c.md", Status: "planned", Checksum: "3"},
	} {
		if err := db.UpsertDocument(r); err != nil {
			t.Fatal(err)
		}
	}

	rows, total, err := db.ListDocuments(1, 1, "planned")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 2 || len(rows) != 1 || rows[0].Path != "c.md" {
		t.Errorf("ListDocuments = %+v (total %d)", rows, total)
	}

	_, total, _ = db.ListDocuments(0, 0, "")
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocumentRow{Path: "s.md", Title: "Search Me", Checksum: "1", Body: "uniqueword appears here"})

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.md" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
}

func TestRecordRunAndRuns(t *testing.T) {
	db := testDB(t)
	at := time.Date(2025, 11, 6, 23, 59, 0, 0, time.UTC)
	err := db.RecordRun([]models.RunRecord{
		{SprintID: "S1", Path: "a.md", Outcome: "changed", RecordedAt: at},
		{SprintID: "S1", Path: "b.md", Outcome: "failed", Error: "missing metadata", RecordedAt: at},
		{SprintID: "S2", Path: "a.md", Outcome: "unchanged", RecordedAt: at},
	})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	all, err := db.Runs("", 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(all) != 3 || all[0].SprintID != "S2" {
		t.Errorf("Runs = %+v, want newest first", all)
	}

	s1, _ := db.Runs("S1", 10)
	if len(s1) != 2 || s1[0].Error != "missing metadata" {
		t.Errorf("Runs(S1) = %+v", s1)
	}
	if !s1[0].RecordedAt.Equal(at) {
		t.Errorf("recorded_at = %v, want %v", s1[0].RecordedAt, at)
	}
}

func TestRowFromDocument(t *testing.T) {
	data := []byte("---\nepic_id: EPIC-7\nepic_status: blocked\nprogress: 30\nsprints: [S1, S2]\n---\n\nBody\n")
	row, err := RowFromDocument("EPICS/EPIC-7/README.md", data)
	if err != nil {
		t.Fatalf("RowFromDocument: %v", err)
	}
	if row.DocID != "EPIC-7" || row.Status != "blocked" || row.ProgressPct != 30 {
		t.Errorf("row = %+v", row)
	}
	if row.Title != "README" {
		t.Errorf("title fallback = %q", row.Title)
	}
	if !reflect.DeepEqual(row.LinkedSprints, []string{"S1", "S2"}) {
		t.Errorf("sprints = %v", row.LinkedSprints)
	}
	if _, err := RowFromDocument("bad.md", []byte("---\nid: X\n")); !errors.Is(err, apperr.ErrMalformedDocument) {
		t.Errorf("err = %v, want ErrMalformedDocument", err)
	}
}

func TestSync_IndexesAndPrunes(t *testing.T) {
	db := testDB(t)
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	_ = store.Write("good.md", []byte("---\nid: STORY-1\n---\n"))
	_ = store.Write("broken.md", []byte("---\nid: STORY-2\n"))
	_ = db.UpsertDocument(DocumentRow{Path: "stale.md", Checksum: "old"})

	if err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	all, _ := db.AllChecksums()
	if _, ok := all["good.md"]; !ok {
		t.Error("good.md not indexed")
	}
	if _, ok := all["broken.md"]; ok {
		t.Error("malformed document should be skipped")
	}
	if _, ok := all["stale.md"]; ok {
		t.Error("stale entry not pruned")
	}
}

func TestRowFromDocument_HeadingTitle(t *testing.T) {
	row, err := RowFromDocument("EPICS/EPIC-2/README.md", []byte("---\nid: EPIC-2\n---\n\n# Execution Engine\n"))
	if err != nil {
		t.Fatalf("RowFromDocument: %v", err)
	}
	if row.Title != "Execution Engine" {
		t.Errorf("title = %q, want heading", row.Title)
	}
}
