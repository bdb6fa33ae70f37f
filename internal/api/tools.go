package api

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/cortex/internal/autolearn"
	"github.com/kalambet/cortex/internal/bundle"
	"github.com/kalambet/cortex/internal/memory"
	"github.com/kalambet/cortex/internal/ranking"
	"github.com/kalambet/cortex/internal/retrieval"
	"github.com/kalambet/cortex/internal/storage"
)

const (
	maxQueryLen      = 1000
	maxRPCContentLen = 5000
	minQuickStoreLen = 5
	minAutoLearnLen  = 20
)

func (s *Server) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcpError("query is required"), nil
	}
	if len(query) > maxQueryLen {
		return mcpError(fmt.Sprintf("query is %d chars, maximum is %d", len(query), maxQueryLen)), nil
	}

	maxResults := req.GetInt("maxResults", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > retrieval.MaxResults {
		maxResults = retrieval.MaxResults
	}
	currentFile := req.GetString("currentFile", "")

	// The cache only covers file-less recalls: currentFile changes ranking.
	if currentFile == "" {
		if cached, ok := s.cache.get(query, maxResults); ok {
			return mcpText(cached), nil
		}
	}

	matches, err := s.deps.Retriever.Retrieve(ctx, query, retrieval.Options{
		CurrentFile: currentFile,
		MaxResults:  maxResults,
	})
	if err != nil {
		return mcpError("recall failed: " + err.Error()), nil
	}

	matches = s.deps.Retriever.EnrichNeighbors(matches, 3, 0.7)
	matches = ranking.Rank(matches, ranking.Context{
		Query:       query,
		CurrentFile: currentFile,
		Now:         time.Now(),
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	for _, m := range matches {
		if err := s.deps.Store.Touch(m.Unit.ID); err != nil {
			s.logger.Debug("touch failed", "id", m.Unit.ID, "error", err)
		}
	}

	text := formatMatches(query, matches)
	if currentFile == "" {
		s.cache.put(query, maxResults, text)
	}
	return mcpText(text), nil
}

func (s *Server) handleStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kindStr, err := req.RequireString("type")
	if err != nil {
		return mcpError("type is required"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcpError("content is required"), nil
	}
	if len(content) > maxRPCContentLen {
		return mcpError(fmt.Sprintf("content is %d chars, maximum is %d", len(content), maxRPCContentLen)), nil
	}

	kind := storage.Kind(strings.ToUpper(strings.TrimSpace(kindStr)))
	if !storage.ValidKind(kind) {
		return mcpError(fmt.Sprintf("unknown type %q; valid types: %s", kindStr, kindList())), nil
	}

	res, err := s.deps.Memory.Add(memory.AddInput{
		Kind:         kind,
		Intent:       content,
		Reason:       req.GetString("reason", ""),
		RelatedFiles: req.GetStringSlice("files", nil),
		Tags:         req.GetStringSlice("tags", nil),
		Source:       "mcp",
	})
	if err != nil {
		return mcpError(err.Error()), nil
	}

	return mcpText(formatStoreResult(res)), nil
}

func (s *Server) handleQuickStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("memory")
	if err != nil {
		return mcpError("memory is required"), nil
	}
	if len(strings.TrimSpace(text)) < minQuickStoreLen {
		return mcpError(fmt.Sprintf("memory must be at least %d chars", minQuickStoreLen)), nil
	}

	kind := autolearn.Classify(text)
	res, err := s.deps.Memory.Add(memory.AddInput{
		Kind:   kind,
		Intent: text,
		Source: "quick_store",
	})
	if err != nil {
		return mcpError(err.Error()), nil
	}
	return mcpText(formatStoreResult(res)), nil
}

func (s *Server) handleForceRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := req.RequireString("topic")
	if err != nil {
		return mcpError("topic is required"), nil
	}
	currentFile := req.GetString("currentFile", "")

	text := s.deps.Assembler.Assemble(ctx, topic, currentFile)
	if strings.TrimSpace(text) == "" {
		text = "No stored context yet. Store observations with store_memory as you work."
	}
	return mcpText(text), nil
}

func (s *Server) handleAutoLearn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcpError("text is required"), nil
	}
	if len(strings.TrimSpace(text)) < minAutoLearnLen {
		return mcpError(fmt.Sprintf("text must be at least %d chars", minAutoLearnLen)), nil
	}

	candidates := autolearn.Extract(text)
	if len(candidates) == 0 {
		return mcpText("No durable observations found in the text."), nil
	}
	candidates = s.deps.Augmenter.Augment(ctx, candidates)

	stored, deduped, rejected := 0, 0, 0
	for _, c := range candidates {
		res, err := s.deps.Memory.Add(memory.AddInput{
			Kind:   c.Kind,
			Intent: c.Intent,
			Source: "auto_learn",
		})
		switch {
		case err != nil:
			rejected++
		case res.Deduped:
			deduped++
		default:
			stored++
		}
	}

	return mcpText(fmt.Sprintf("Learned %d new memories (%d reinforced existing, %d rejected by quality gate).",
		stored, deduped, rejected)), nil
}

func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcpError("id is required"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcpError("content is required"), nil
	}

	replacement, err := s.deps.Memory.Update(id, content, req.GetString("reason", ""))
	if err == storage.ErrNotFound {
		return mcpError("memory not found: " + id), nil
	}
	if err != nil {
		return mcpError(err.Error()), nil
	}

	// An update means the original was imperfect; keep the signal.
	if err := s.deps.Store.LogFeedback("update_memory", 0, req.GetString("reason", "")); err != nil {
		s.logger.Debug("feedback log failed", "error", err)
	}
	return mcpText(fmt.Sprintf("Updated. New memory id: %s (original superseded).", replacement.ID)), nil
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcpError("id is required"), nil
	}
	if err := s.deps.Memory.Delete(id); err == storage.ErrNotFound {
		return mcpError("memory not found: " + id), nil
	} else if err != nil {
		return mcpError(err.Error()), nil
	}

	// A deletion is negative feedback on what we stored; keep the signal.
	if err := s.deps.Store.LogFeedback("delete_memory", -1, req.GetString("reason", "")); err != nil {
		s.logger.Debug("feedback log failed", "error", err)
	}
	return mcpText("Deleted " + id + " (soft-delete; recoverable in the database)."), nil
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}

	kinds := storage.Kinds
	if t := req.GetString("type", ""); t != "" {
		kind := storage.Kind(strings.ToUpper(t))
		if !storage.ValidKind(kind) {
			return mcpError(fmt.Sprintf("unknown type %q", t)), nil
		}
		kinds = []storage.Kind{kind}
	}

	var b strings.Builder
	total := 0
	for _, kind := range kinds {
		units, err := s.deps.Store.GetByKind(kind, limit)
		if err != nil {
			return mcpError("listing failed: " + err.Error()), nil
		}
		if len(units) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("## %s (%d)\n", kind, len(units)))
		for _, u := range units {
			b.WriteString(fmt.Sprintf("- %s  [id %s, importance %.2f, accessed %d×]\n",
				u.Intent, shortID(u.ID), u.Importance, u.AccessCount))
		}
		b.WriteString("\n")
		total += len(units)
	}
	if total == 0 {
		return mcpText("No memories stored yet."), nil
	}
	return mcpText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	active, err := s.deps.Store.ActiveCount()
	if err != nil {
		return mcpError("stats failed: " + err.Error()), nil
	}
	total, _ := s.deps.Store.TotalCount()
	vectors, _ := s.deps.Store.VectorCount()
	edges, _ := s.deps.Store.EdgeCount()
	events, _ := s.deps.Store.EventCount()
	byKind, _ := s.deps.Store.CountByKind()

	var b strings.Builder
	b.WriteString("## Memory stats\n")
	b.WriteString(fmt.Sprintf("active: %d (of %d total)\n", active, total))
	b.WriteString(fmt.Sprintf("vectors: %d, edges: %d, events: %d\n", vectors, edges, events))
	if len(byKind) > 0 {
		kinds := make([]string, 0, len(byKind))
		for k := range byKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		b.WriteString("by kind:\n")
		for _, k := range kinds {
			b.WriteString(fmt.Sprintf("  %s: %d\n", k, byKind[storage.Kind(k)]))
		}
	}
	return mcpText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) handleGetContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "current work")

	matches, err := s.deps.Retriever.Retrieve(ctx, topic, retrieval.Options{MaxResults: 15})
	if err != nil {
		return mcpError("context failed: " + err.Error()), nil
	}
	matches = ranking.Rank(matches, ranking.Context{Query: topic, Now: time.Now()})
	return mcpText(formatMatches(topic, matches)), nil
}

func (s *Server) handleScanProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Scanner == nil {
		return mcpError("no project scanner configured"), nil
	}
	arch, err := s.deps.Scanner.Architecture(s.deps.Workspace)
	if err != nil {
		return mcpError("scan failed: " + err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("## Project scan\n")
	b.WriteString(fmt.Sprintf("%d source dirs, %d files\n", arch.SourceDirs, arch.FileCount))
	layers := make([]string, 0, len(arch.Layers))
	for l := range arch.Layers {
		layers = append(layers, l)
	}
	sort.Strings(layers)
	for _, l := range layers {
		b.WriteString(fmt.Sprintf("%s: %s\n", l, strings.Join(arch.Layers[l], ", ")))
	}
	return mcpText(strings.TrimRight(b.String(), "\n")), nil
}

// pathPattern matches file-path-looking tokens in code snippets.
var pathPattern = regexp.MustCompile(`[\w./-]+\.(?:go|ts|tsx|js|jsx|py|rs|sql|json|yaml|yml)`)

func (s *Server) handleVerifyCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcpError("code is required"), nil
	}
	if s.deps.Scanner == nil {
		return mcpError("no project scanner configured"), nil
	}

	paths := pathPattern.FindAllString(code, 50)
	if len(paths) == 0 {
		return mcpText("No file references found in the snippet."), nil
	}
	return mcpText(formatVerification(s.deps.Scanner.VerifyFiles(s.deps.Workspace, dedupe(paths)))), nil
}

func (s *Server) handleVerifyFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files := req.GetStringSlice("files", nil)
	if len(files) == 0 {
		return mcpError("files is required"), nil
	}
	if s.deps.Scanner == nil {
		return mcpError("no project scanner configured"), nil
	}
	return mcpText(formatVerification(s.deps.Scanner.VerifyFiles(s.deps.Workspace, files))), nil
}

func (s *Server) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b, err := bundle.Export(s.deps.Store)
	if err != nil {
		return mcpError("export failed: " + err.Error()), nil
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return mcpError("export failed: " + err.Error()), nil
	}
	return mcpText(string(data)), nil
}

func (s *Server) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := req.RequireString("data")
	if err != nil {
		return mcpError("data is required"), nil
	}
	res, err := bundle.Import(s.deps.Store, []byte(data))
	if err != nil {
		return mcpError("import failed: " + err.Error()), nil
	}
	return mcpText(fmt.Sprintf("Imported %d, skipped %d existing, %d errors.",
		res.Imported, res.Skipped, res.Errors)), nil
}

func (s *Server) handleHealthCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.InitErr != nil {
		return mcpText("status: degraded\nstorage: unavailable (" + s.deps.InitErr.Error() + ")\nall tools return errors until the database is repaired"), nil
	}
	active, err := s.deps.Store.ActiveCount()
	if err != nil {
		return mcpText("status: degraded\nstorage: failing (" + err.Error() + ")"), nil
	}
	pending, _ := s.deps.Store.PendingJobCount()
	return mcpText(fmt.Sprintf("status: ok\nversion: %s\nactive memories: %d\npending embed jobs: %d",
		s.deps.Version, active, pending)), nil
}

// --- formatting ---

func formatMatches(query string, matches []retrieval.Match) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No memories match %q.", query)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d memories for %q:\n", len(matches), query))
	for i, m := range matches {
		b.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, m.Unit.Kind, m.Unit.Intent))
		detail := fmt.Sprintf("   score %.3f, via %s, id %s", m.Score, strings.Join(m.Methods, "+"), shortID(m.Unit.ID))
		if len(m.Unit.RelatedFiles) > 0 {
			detail += ", files: " + strings.Join(m.Unit.RelatedFiles, ", ")
		}
		b.WriteString(detail + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStoreResult(res memory.AddResult) string {
	var b strings.Builder
	if res.Deduped {
		b.WriteString(fmt.Sprintf("Stored (reinforced existing memory %s).", shortID(res.Unit.ID)))
	} else {
		b.WriteString(fmt.Sprintf("Stored memory %s [%s].", shortID(res.Unit.ID), res.Unit.Kind))
	}
	if res.Superseded != "" {
		b.WriteString(fmt.Sprintf(" Superseded conflicting memory %s.", shortID(res.Superseded)))
	}
	return b.String()
}

func formatVerification(results map[string]bool) string {
	paths := make([]string, 0, len(results))
	for p := range results {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	missing := 0
	for _, p := range paths {
		mark := "ok"
		if !results[p] {
			mark = "MISSING"
			missing++
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", p, mark))
	}
	b.WriteString(fmt.Sprintf("%d of %d paths exist", len(paths)-missing, len(paths)))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func kindList() string {
	names := make([]string, len(storage.Kinds))
	for i, k := range storage.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := s[:0]
	for _, v := range s {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
