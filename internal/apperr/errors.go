// Package apperr defines the sentinel errors shared across the sync engine.
package apperr

import "errors"

var (
	// ErrMalformedDocument means a metadata block was opened but never closed,
	// or its contents are not a YAML mapping.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrMissingMetadata means an update targeted a document with no metadata block.
	ErrMissingMetadata = errors.New("missing metadata")
	// ErrInvalidSummary means the sprint summary is empty, unparseable, or incomplete.
	ErrInvalidSummary = errors.New("invalid sprint summary")
	// ErrPathNotFound means a vault root, target document, or roadmap does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrNotFound is returned by lookups against the index.
	ErrNotFound = errors.New("not found")
)

// ErrIndexDisabled is returned by queries that need the document index when
// none is attached.
var ErrIndexDisabled = errors.New("document index disabled")
