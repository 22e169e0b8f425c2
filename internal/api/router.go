package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/syncservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *syncservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents (read-only; writes go through propagation).
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/*", h.GetDocument)
	r.Get("/search", h.Search)
	r.Get("/sprints/{id}/documents", h.SprintDocuments)

	// Sync operations.
	r.Post("/propagate", h.Propagate)
	r.Post("/regenerate", h.Regenerate)
	r.Get("/epics", h.Epics)
	r.Get("/runs", h.Runs)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
