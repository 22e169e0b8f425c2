// Package storage defines the vault file-system abstraction.
package storage

import "github.com/synaptic-algos/ST-KnowledgeVault/internal/models"

// Provider is the interface for vault file operations. Paths are relative to
// the vault root.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// List returns info for every .md file under dir.
	List(dir string) ([]models.DocumentInfo, error)
	// Read returns the raw bytes of the file at path. A missing file yields
	// an error wrapping apperr.ErrPathNotFound.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
	// Exists reports whether path exists.
	Exists(path string) (bool, error)
	// Dirs returns the immediate subdirectories of dir whose name matches the
	// glob pattern, sorted by name.
	Dirs(dir, pattern string) ([]string, error)
}
