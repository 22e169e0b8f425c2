package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/index"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/roadmap"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/syncservice"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/testutil"
)

var fixedNow = time.Date(2025, 11, 6, 23, 59, 0, 0, time.UTC)

var seed = map[string]string{
	"ROADMAP.md":                           "# Roadmap\n",
	"EPICS/EPIC-001/README.md":             "---\nid: EPIC-001\ntitle: Foundation\nstatus: planned\n---\n\nFoundation work.\n",
	"EPICS/EPIC-001/FEATURE-001/README.md": "---\nid: FEATURE-001\nstatus: planned\n---\n\nParser feature.\n",
}

const summary = `sprint_id: SPRINT-7
epic_updates:
  - id: EPIC-001
    path: EPICS/EPIC-001/README.md
    status: in_progress
    progress_pct: 40
    features:
      - id: FEATURE-001
        path: EPICS/EPIC-001/FEATURE-001/README.md
        status: completed
`

// testEnv sets up a seeded vault, an index, the service, and the router.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) (storage.Provider, http.Handler) {
	t.Helper()
	return testEnvWith(t, authToken != "", authToken, true, nil)
}

func testEnvWith(t *testing.T, authEnabled bool, authToken string, withIndex bool, sseHandler http.Handler) (storage.Provider, http.Handler) {
	t.Helper()
	_, store := testutil.TestVault(t)
	testutil.SeedVault(t, store, seed)

	opts := []syncservice.Option{
		syncservice.WithClock(func() time.Time { return fixedNow }),
		syncservice.WithLogger(testutil.Logger()),
	}
	if withIndex {
		db := testutil.TestDB(t)
		if err := index.Sync(db, store, testutil.Logger()); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		opts = append(opts, syncservice.WithIndex(db, true))
	}
	svc := syncservice.New(store, roadmap.Options{}, opts...)
	return store, NewRouter(svc, authEnabled, authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestGetDocument(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/documents/EPICS/EPIC-001/README.md", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decodeBody(t, w)
	if doc["id"] != "EPIC-001" || doc["title"] != "Foundation" {
		t.Errorf("doc = %v", doc)
	}
	fm, _ := doc["frontmatter"].(map[string]any)
	if fm["status"] != "planned" {
		t.Errorf("frontmatter = %v", fm)
	}
}

func TestGetDocument_EncodedSlashes(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/documents/EPICS%2FEPIC-001%2FREADME.md", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/documents/nope.md", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing document = %d, want 404", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/documents?status=planned", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["total"] != float64(2) {
		t.Errorf("total = %v, want 2", resp["total"])
	}
}

func TestListDocuments_IndexDisabled(t *testing.T) {
	_, router := testEnvWith(t, false, "", false, nil)
	w := do(t, router, http.MethodGet, "/documents", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search?q=Parser", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	results, _ := decodeBody(t, w)["results"].([]any)
	if len(results) != 1 {
		t.Errorf("results = %v, want 1 hit", results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/search", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestPropagate(t *testing.T) {
	store, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/propagate", summary)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var rep ReportResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.SprintID != "SPRINT-7" || rep.Changed != 2 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}

	data, _ := store.Read("EPICS/EPIC-001/FEATURE-001/README.md")
	if !strings.Contains(string(data), "status: completed") {
		t.Errorf("feature not updated:\n%s", data)
	}

	w = do(t, router, http.MethodGet, "/sprints/SPRINT-7/documents", "")
	docs, _ := decodeBody(t, w)["documents"].([]any)
	if len(docs) != 2 {
		t.Errorf("sprint documents = %v, want 2", docs)
	}

	w = do(t, router, http.MethodGet, "/runs?sprint_id=SPRINT-7", "")
	runs, _ := decodeBody(t, w)["runs"].([]any)
	if len(runs) != 2 {
		t.Errorf("runs = %v, want 2", runs)
	}
}

func TestPropagate_ReportsPerDocumentFailures(t *testing.T) {
	_, router := testEnv(t, "")
	body := "sprint_id: S1\nepic_updates:\n  - id: EPIC-404\n    path: EPICS/EPIC-404/README.md\n    status: done\n"

	w := do(t, router, http.MethodPost, "/propagate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rep ReportResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.Failed != 1 || rep.Results[0].Error == "" {
		t.Errorf("report = %+v", rep)
	}
}

func TestPropagate_InvalidSummary(t *testing.T) {
	_, router := testEnv(t, "")
	for _, body := range []string{"", "sprint_id: [", "epic_updates: []\n"} {
		w := do(t, router, http.MethodPost, "/propagate", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestRegenerate(t *testing.T) {
	store, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/regenerate?dry_run=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dry run status = %d, body = %s", w.Code, w.Body.String())
	}
	if data, _ := store.Read("ROADMAP.md"); string(data) != "# Roadmap\n" {
		t.Error("dry run wrote the roadmap")
	}

	w = do(t, router, http.MethodPost, "/regenerate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp RegenerateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Roadmap != "ROADMAP.md" || !strings.Contains(resp.Content, "| EPIC-001 |") {
		t.Errorf("response = %+v", resp)
	}
	if data, _ := store.Read("ROADMAP.md"); string(data) != resp.Content {
		t.Error("written roadmap differs from response")
	}
}

func TestRegenerate_MissingRoadmap(t *testing.T) {
	_, store := testutil.TestVault(t)
	testutil.SeedVault(t, store, map[string]string{"EPICS/EPIC-001/README.md": seed["EPICS/EPIC-001/README.md"]})
	svc := syncservice.New(store, roadmap.Options{}, syncservice.WithLogger(testutil.Logger()))
	router := NewRouter(svc, false, "", nil)

	w := do(t, router, http.MethodPost, "/regenerate", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestEpics(t *testing.T) {
	_, router := testEnvWith(t, false, "", false, nil)
	w := do(t, router, http.MethodGet, "/epics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("epics status = %d", w.Code)
	}
	epics, _ := decodeBody(t, w)["epics"].([]any)
	if len(epics) != 1 {
		t.Fatalf("epics = %v", epics)
	}
	if row, _ := epics[0].(map[string]any); row["id"] != "EPIC-001" {
		t.Errorf("row = %v", row)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/epics", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/documents", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodPost, "/propagate", strings.NewReader(summary))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests use a stub handler that blocks until the request
// context ends.

func sseStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWith(t, true, "secret", false, sseStub())
	w := do(t, router, http.MethodGet, "/events", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWith(t, true, "tok", false, sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
