// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the vault sync operations to LLM clients over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/syncservice"
)

const (
	summaryFormatURI = "vaultsync://summary-format"
	searchLimit      = 20
)

// Server wraps the MCP server with the vault sync tools.
type Server struct {
	mcp *server.MCPServer
	svc *syncservice.Service
}

// New creates an MCP server with all tools registered.
func New(svc *syncservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"vaultsync",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List tracked documents. Uses the index when it is enabled, otherwise lists vault paths."),
		mcp.WithString("status", mcp.Description("Only documents with this status (index only)")),
		mcp.WithString("folder", mcp.Description("Vault folder to list when the index is disabled")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read one document and return its decoded metadata and body as JSON."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault path, e.g. EPICS/EPIC-001/README.md")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search over document ids, titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("documents_for_sprint",
		mcp.WithDescription("List documents whose linked_sprints contain the sprint."),
		mcp.WithString("sprint_id", mcp.Required(), mcp.Description("Sprint identifier, e.g. SPRINT-20251106")),
	), s.documentsForSprint)

	s.mcp.AddTool(mcp.NewTool("list_epics",
		mcp.WithDescription("Return the roadmap rows (epic id, status, progress, recent sprints) in table order."),
	), s.listEpics)

	s.mcp.AddTool(mcp.NewTool("propagate_summary",
		mcp.WithDescription("Apply a sprint summary to the vault. The summary MUST follow the "+
			"sprint summary contract; read it first via get_summary_contract or the "+
			summaryFormatURI+" resource."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Sprint summary document in YAML")),
	), s.propagateSummary)

	s.mcp.AddTool(mcp.NewTool("regenerate_roadmap",
		mcp.WithDescription("Rewrite the auto-generated summary table in the roadmap from epic metadata."),
		mcp.WithBoolean("dry_run", mcp.Description("Return the new roadmap text without writing it")),
	), s.regenerateRoadmap)

	s.mcp.AddTool(mcp.NewTool("get_summary_contract",
		mcp.WithDescription("Returns the sprint summary format contract. "+
			"Call this before propagate_summary."),
	), s.getSummaryContract)

	s.mcp.AddResource(
		mcp.NewResource(summaryFormatURI, "Sprint Summary Format",
			mcp.WithResourceDescription("YAML format of the sprint summary consumed by propagate_summary."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSummaryFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.svc.IndexEnabled() {
		paths, err := s.svc.ListPaths(ctx, req.GetString("folder", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
	}
	docs, _, err := s.svc.ListDocuments(ctx, 0, 0, req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(docs)
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(ctx, p)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError("not found: " + p), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc)
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, searchLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) documentsForSprint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("sprint_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	docs, err := s.svc.DocumentsForSprint(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents linked to " + id), nil
	}
	return jsonResult(docs)
}

func (s *Server) listEpics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.svc.Epics(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (s *Server) propagateSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.svc.Propagate(ctx, []byte(summary))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var buf bytes.Buffer
	if _, err := rep.WriteTo(&buf); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rep.Failed()) > 0 {
		return mcp.NewToolResultError(buf.String()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) regenerateRoadmap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetBool("dry_run", false) {
		text, err := s.svc.Preview(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
	if _, err := s.svc.Regenerate(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("regenerated: " + s.svc.RoadmapFile()), nil
}

func (s *Server) getSummaryContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SummaryFormatContract), nil
}

func (s *Server) readSummaryFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      summaryFormatURI,
			MIMEType: "text/markdown",
			Text:     SummaryFormatContract,
		},
	}, nil
}
