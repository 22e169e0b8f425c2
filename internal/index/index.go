package index

import "github.com/synaptic-algos/ST-KnowledgeVault/internal/models"

// DocumentIndex defines the catalog operations consumers depend on.
type DocumentIndex interface {
	UpsertDocument(d DocumentRow) error
	DeleteDocument(path string) error
	GetChecksum(path string) (string, error)
	GetDocument(path string) (*DocumentRow, error)
	ListDocuments(limit, offset int, status string) ([]DocumentRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	DocumentsForSprint(sprintID string) ([]DocumentRow, error)
	RecordRun(records []models.RunRecord) error
	Runs(sprintID string, limit int) ([]models.RunRecord, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies DocumentIndex at compile time.
var _ DocumentIndex = (*DB)(nil)
