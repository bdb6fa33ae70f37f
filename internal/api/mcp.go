// Package api wires the memory engine to the outside world: the MCP stdio
// server with the full tool surface, and a small HTTP listener for health
// and stats. Tool failures are result-level errors (isError: true), never
// protocol errors; protocol errors are the transport library's business.
package api

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cortex/internal/aging"
	"github.com/kalambet/cortex/internal/assembler"
	"github.com/kalambet/cortex/internal/autolearn"
	"github.com/kalambet/cortex/internal/memory"
	"github.com/kalambet/cortex/internal/retrieval"
	"github.com/kalambet/cortex/internal/scanner"
	"github.com/kalambet/cortex/internal/storage"
)

// Deps holds everything the tool handlers reach for. When InitErr is set
// the adapter runs in degraded mode: every tool except health_check returns
// a structured storage-unavailable error, and the process stays alive so
// the hosting client keeps its connection.
type Deps struct {
	Store     *storage.Store
	Memory    *memory.Engine
	Retriever *retrieval.Retriever
	Assembler *assembler.Assembler
	Aging     *aging.Engine
	Scanner   scanner.ProjectScanner
	Augmenter *autolearn.Augmenter
	Workspace string
	Version   string
	InitErr   error
}

// Server bundles the MCP server with its per-session state.
type Server struct {
	mcp    *server.MCPServer
	deps   Deps
	cache  *recallCache
	limits sessionLimits
	logger *slog.Logger
}

// NewServer creates the MCP server with every cortex tool and resource
// registered.
func NewServer(deps Deps) (*Server, error) {
	cache, err := newRecallCache()
	if err != nil {
		return nil, err
	}

	s := &Server{
		deps:   deps,
		cache:  cache,
		logger: slog.Default(),
	}

	m := server.NewMCPServer(
		"cortex",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cortex — persistent rank-aware memory for coding assistants: store observations, recall them by topic, and prime new conversations with force_recall."),
		server.WithRecovery(),
	)

	m.AddTool(
		mcp.NewTool("recall_memory",
			mcp.WithDescription("Search stored memories with hybrid keyword + semantic retrieval and ranked results."),
			mcp.WithString("query", mcp.Description("What to look for (max 1000 chars)"), mcp.Required()),
			mcp.WithNumber("maxResults", mcp.Description("Maximum results (default 10, cap 50)")),
			mcp.WithString("currentFile", mcp.Description("File being worked on, for affinity boosts")),
		),
		s.guarded("recall_memory", s.handleRecall),
	)

	m.AddTool(
		mcp.NewTool("store_memory",
			mcp.WithDescription("Store a structured observation (correction, decision, convention, bug fix, ...)."),
			mcp.WithString("type", mcp.Description("Memory kind, e.g. CORRECTION, DECISION, CONVENTION, BUG_FIX, INSIGHT"), mcp.Required()),
			mcp.WithString("content", mcp.Description("The observation (15–500 chars)"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Why this matters")),
			mcp.WithArray("files", mcp.Description("Related repo-relative file paths")),
			mcp.WithArray("tags", mcp.Description("Short lowercase labels")),
		),
		s.guarded("store_memory", s.handleStore),
	)

	m.AddTool(
		mcp.NewTool("quick_store",
			mcp.WithDescription("Store a one-line memory; the kind is classified automatically."),
			mcp.WithString("memory", mcp.Description("The observation (min 5 chars)"), mcp.Required()),
		),
		s.guarded("quick_store", s.handleQuickStore),
	)

	m.AddTool(
		mcp.NewTool("force_recall",
			mcp.WithDescription("Assemble the full layered context for starting a conversation on a topic."),
			mcp.WithString("topic", mcp.Description("Conversation topic"), mcp.Required()),
			mcp.WithString("currentFile", mcp.Description("File being worked on")),
		),
		s.guarded("force_recall", s.handleForceRecall),
	)

	m.AddTool(
		mcp.NewTool("auto_learn",
			mcp.WithDescription("Extract and store observations from free-form conversation text."),
			mcp.WithString("text", mcp.Description("Conversation text (min 20 chars)"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional context hint")),
		),
		s.guarded("auto_learn", s.handleAutoLearn),
	)

	m.AddTool(
		mcp.NewTool("update_memory",
			mcp.WithDescription("Replace a memory's content; the original is superseded, not destroyed."),
			mcp.WithString("id", mcp.Description("Memory id"), mcp.Required()),
			mcp.WithString("content", mcp.Description("New content"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Why the update")),
		),
		s.guarded("update_memory", s.handleUpdate),
	)

	m.AddTool(
		mcp.NewTool("delete_memory",
			mcp.WithDescription("Soft-delete a memory."),
			mcp.WithString("id", mcp.Description("Memory id"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Why it is deleted")),
		),
		s.guarded("delete_memory", s.handleDelete),
	)

	m.AddTool(
		mcp.NewTool("list_memories",
			mcp.WithDescription("List active memories grouped by kind."),
			mcp.WithString("type", mcp.Description("Restrict to one kind")),
			mcp.WithNumber("limit", mcp.Description("Max per kind (default 10)")),
		),
		s.guarded("list_memories", s.handleList),
	)

	m.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Corpus statistics: counts by kind, vectors, edges, events."),
		),
		s.guarded("get_stats", s.handleStats),
	)

	m.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Return up to 15 ranked memories for a topic via hybrid retrieval; runs no maintenance and does not build the assembled context."),
			mcp.WithString("topic", mcp.Description("Topic hint")),
		),
		s.guarded("get_context", s.handleGetContext),
	)

	m.AddTool(
		mcp.NewTool("scan_project",
			mcp.WithDescription("Scan the workspace and report its structure."),
		),
		s.guarded("scan_project", s.handleScanProject),
	)

	m.AddTool(
		mcp.NewTool("verify_code",
			mcp.WithDescription("Check that file paths referenced in a code snippet exist in the workspace."),
			mcp.WithString("code", mcp.Description("Code or text containing file references"), mcp.Required()),
		),
		s.guarded("verify_code", s.handleVerifyCode),
	)

	m.AddTool(
		mcp.NewTool("verify_files",
			mcp.WithDescription("Check that the given paths exist in the workspace."),
			mcp.WithArray("files", mcp.Description("Repo-relative paths"), mcp.Required()),
		),
		s.guarded("verify_files", s.handleVerifyFiles),
	)

	m.AddTool(
		mcp.NewTool("export_memories",
			mcp.WithDescription("Export all active memories as a versioned JSON bundle."),
		),
		s.guarded("export_memories", s.handleExport),
	)

	m.AddTool(
		mcp.NewTool("import_memories",
			mcp.WithDescription("Import a previously exported bundle; existing memories are skipped."),
			mcp.WithString("data", mcp.Description("Bundle JSON"), mcp.Required()),
		),
		s.guarded("import_memories", s.handleImport),
	)

	m.AddTool(
		mcp.NewTool("health_check",
			mcp.WithDescription("Report engine health, degraded state, and storage counters."),
		),
		s.handleHealthCheck, // health_check works even in degraded mode
	)

	m.AddResource(
		mcp.NewResource(
			"cortex://context",
			"Brain context",
			mcp.WithResourceDescription("The assembled conversation-priming context"),
			mcp.WithMIMEType("text/plain"),
		),
		s.resourceContext,
	)

	s.mcp = m
	return s, nil
}

// MCP exposes the underlying server for the stdio transport.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Close releases per-session resources.
func (s *Server) Close() {
	s.cache.close()
}

// guarded wraps a handler with degraded-mode and rate-limit checks.
func (s *Server) guarded(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.deps.InitErr != nil {
			return mcpError("storage unavailable (degraded mode): " + s.deps.InitErr.Error()), nil
		}
		if err := s.limits.allow(name); err != nil {
			return mcpError("rate limited: " + err.Error()), nil
		}
		return h(ctx, req)
	}
}

func (s *Server) resourceContext(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.deps.InitErr != nil {
		return nil, s.deps.InitErr
	}
	text := s.deps.Assembler.Assemble(ctx, "general project context", "")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     text,
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
