// Package assembler produces the conversation-priming context blob for
// force_recall: a layered pipeline over sessions, maintenance, core memory,
// file anticipation, temporal buckets, workspace state, topic search, and
// project structure. Every section is best-effort; a failed section is
// omitted, never an error.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/cortex/internal/aging"
	"github.com/kalambet/cortex/internal/memory"
	"github.com/kalambet/cortex/internal/ranking"
	"github.com/kalambet/cortex/internal/retrieval"
	"github.com/kalambet/cortex/internal/scanner"
	"github.com/kalambet/cortex/internal/storage"
)

// maxContextChars caps the assembled blob.
const maxContextChars = 12000

// truncationNotice is appended when the blob is cut.
const truncationNotice = "\n\n[context truncated — use recall_memory with a targeted query for more]"

// Assembler orchestrates the layered context build.
type Assembler struct {
	store     *storage.Store
	memory    *memory.Engine
	retriever *retrieval.Retriever
	aging     *aging.Engine
	scanner   scanner.ProjectScanner
	workspace string
	logger    *slog.Logger
}

// New wires an Assembler. scanner may be nil, omitting the project sections.
func New(mem *memory.Engine, retriever *retrieval.Retriever, ag *aging.Engine, sc scanner.ProjectScanner, workspace string) *Assembler {
	return &Assembler{
		store:     mem.Store(),
		memory:    mem,
		retriever: retriever,
		aging:     ag,
		scanner:   sc,
		workspace: workspace,
		logger:    slog.Default(),
	}
}

// Assemble builds the full context text for a new conversation on topic.
func (a *Assembler) Assemble(ctx context.Context, topic, currentFile string) string {
	now := time.Now()
	var sections []string
	add := func(s string) {
		if strings.TrimSpace(s) != "" {
			sections = append(sections, strings.TrimRight(s, "\n"))
		}
	}

	// L0: session boundary.
	if _, err := a.store.OpenSession(topic); err != nil {
		a.logger.Warn("opening session failed", "error", err)
	}
	if err := a.store.SetIdentity("last_topic", topic); err != nil {
		a.logger.Debug("recording last topic failed", "error", err)
	}

	// L1: maintenance. All errors swallowed inside the engine.
	rep := a.aging.RunMaintenance(now)
	if rep.Deactivated+rep.Merged+rep.Consolidated > 0 {
		a.logger.Debug("maintenance", "deactivated", rep.Deactivated,
			"merged", rep.Merged, "consolidated", rep.Consolidated)
	}

	// L2: attention label.
	add("mode: " + string(ranking.InferMode(topic)))

	add(a.recentSessionsSection())
	add(a.hotCorrectionsSection(now))
	add(a.coreContextSection(now))
	if currentFile != "" {
		add(a.anticipationSection(currentFile, now))
	}
	add(a.temporalSection(now))
	add(a.workspaceState(ctx))
	add(a.gitMemorySection(ctx))
	add(a.topicSearchSection(ctx, topic, currentFile, now))
	add(a.knowledgeGapsSection())
	add(a.exportMapSection())
	add(a.architectureSection())

	text := strings.Join(sections, "\n\n")
	if len(text) > maxContextChars {
		cut := maxContextChars - len(truncationNotice)
		text = text[:cut] + truncationNotice
	}
	return text
}

// L3: headers of up to 3 prior sessions.
func (a *Assembler) recentSessionsSection() string {
	sessions, err := a.store.RecentSessions(4)
	if err != nil || len(sessions) <= 1 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent sessions\n")
	count := 0
	for _, s := range sessions {
		if s.ClosedAt == 0 {
			continue // the session just opened for this call
		}
		b.WriteString(fmt.Sprintf("- %s: %s\n", s.Day, s.Topic))
		count++
		if count == 3 {
			break
		}
	}
	if count == 0 {
		return ""
	}
	return b.String()
}

// L4: corrections on repeatedly-corrected topics.
func (a *Assembler) hotCorrectionsSection(now time.Time) string {
	corrections, err := a.store.GetByKind(storage.KindCorrection, 200)
	if err != nil {
		return ""
	}
	var hot []storage.Unit
	for _, u := range corrections {
		if u.Importance >= 0.85 {
			hot = append(hot, u)
		}
	}
	if len(hot) == 0 {
		return ""
	}
	sortByEffectiveImportance(hot, now)
	if len(hot) > 5 {
		hot = hot[:5]
	}

	var b strings.Builder
	b.WriteString("## Repeated corrections — do not repeat these mistakes\n")
	for _, u := range hot {
		b.WriteString("- " + u.Intent + "\n")
	}
	return b.String()
}

// coreKindCaps limits how many of each kind the core section pulls.
var coreKindCaps = []struct {
	kind storage.Kind
	n    int
}{
	{storage.KindCorrection, 5},
	{storage.KindDecision, 5},
	{storage.KindConvention, 5},
	{storage.KindBugFix, 3},
}

// L5: top corrections, decisions, conventions, and bug fixes.
func (a *Assembler) coreContextSection(now time.Time) string {
	var all []storage.Unit
	for _, kc := range coreKindCaps {
		units, err := a.store.GetByKind(kc.kind, kc.n*3)
		if err != nil {
			continue
		}
		sortByEffectiveImportance(units, now)
		if len(units) > kc.n {
			units = units[:kc.n]
		}
		all = append(all, units...)
	}
	if len(all) == 0 {
		return ""
	}
	sortByEffectiveImportance(all, now)

	var b strings.Builder
	b.WriteString("## Core context\n")
	for _, u := range all {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", u.Kind, u.Intent))
	}
	return b.String()
}

// L6: items anticipating work on the current file, its directory siblings,
// and its file type.
func (a *Assembler) anticipationSection(currentFile string, now time.Time) string {
	var b strings.Builder
	seen := make(map[string]struct{})

	writeGroup := func(header string, units []storage.Unit, max int) {
		wrote := 0
		for _, u := range units {
			if _, dup := seen[u.ID]; dup {
				continue
			}
			seen[u.ID] = struct{}{}
			if wrote == 0 {
				b.WriteString(header + "\n")
			}
			b.WriteString("- " + u.Intent + "\n")
			wrote++
			if wrote == max {
				break
			}
		}
	}

	if units, err := a.store.GetByFile(currentFile, 10); err == nil {
		sortByEffectiveImportance(units, now)
		writeGroup("this file:", units, 5)
	}

	dir := filepath.Dir(currentFile)
	if dir != "." && dir != "/" {
		if units, err := a.store.GetByFile(dir, 10); err == nil {
			sortByEffectiveImportance(units, now)
			writeGroup("nearby files:", units, 3)
		}
	}

	if ext := filepath.Ext(currentFile); ext != "" {
		if units, err := a.store.GetByFile(ext, 10); err == nil {
			sortByEffectiveImportance(units, now)
			writeGroup("same file type:", units, 3)
		}
	}

	if b.Len() == 0 {
		return ""
	}
	return "## Anticipated for " + currentFile + "\n" + b.String()
}

// temporal buckets for L7.
var temporalBuckets = []struct {
	label string
	since time.Duration
}{
	{"last hour", time.Hour},
	{"today", 24 * time.Hour},
	{"yesterday", 48 * time.Hour},
	{"this week", 7 * 24 * time.Hour},
}

// L7: recent activity bucketed by age, top 5 per bucket by importance.
func (a *Assembler) temporalSection(now time.Time) string {
	units, err := a.store.GetActive(500)
	if err != nil || len(units) == 0 {
		return ""
	}

	var b strings.Builder
	var prevCutoff time.Duration
	for _, bucket := range temporalBuckets {
		var in []storage.Unit
		for _, u := range units {
			age := u.Age(now)
			if age >= prevCutoff && age < bucket.since {
				in = append(in, u)
			}
		}
		prevCutoff = bucket.since
		if len(in) == 0 {
			continue
		}
		sortByEffectiveImportance(in, now)
		if len(in) > 5 {
			in = in[:5]
		}
		b.WriteString(bucket.label + ":\n")
		for _, u := range in {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", u.Kind, u.Intent))
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "## Recent activity\n" + b.String()
}

// L8.5: capture new commits as memories and surface the delta.
func (a *Assembler) gitMemorySection(ctx context.Context) string {
	stored := a.ingestCommits(ctx, 10)
	if stored == 0 {
		return ""
	}
	return fmt.Sprintf("## Git memory\ncaptured %d new commit(s) into memory", stored)
}

// L9: topic search through the full hybrid + graph + ranking pipeline.
func (a *Assembler) topicSearchSection(ctx context.Context, topic, currentFile string, now time.Time) string {
	matches, err := a.retriever.Retrieve(ctx, topic, retrieval.Options{
		CurrentFile: currentFile,
		MaxResults:  10,
	})
	if err != nil || len(matches) == 0 {
		return ""
	}
	matches = a.retriever.EnrichNeighbors(matches, 3, 0.7)
	matches = ranking.Rank(matches, ranking.Context{Query: topic, CurrentFile: currentFile, Now: now})

	if len(matches) > 8 {
		matches = matches[:8]
	}

	var b strings.Builder
	b.WriteString("## Relevant to \"" + topic + "\"\n")
	for _, m := range matches {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", m.Unit.Kind, m.Unit.Intent))
		// Reinforce what we surfaced.
		if err := a.store.Touch(m.Unit.ID); err != nil {
			a.logger.Debug("touch failed", "id", m.Unit.ID, "error", err)
		}
	}
	return b.String()
}

// L10: source directories with no memory coverage.
func (a *Assembler) knowledgeGapsSection() string {
	if a.scanner == nil {
		return ""
	}
	dirs, err := a.scanner.SourceDirs(a.workspace)
	if err != nil || len(dirs) == 0 {
		return ""
	}
	units, err := a.store.GetActive(1000)
	if err != nil {
		return ""
	}

	covered := make(map[string]bool)
	for _, u := range units {
		for _, f := range u.RelatedFiles {
			covered[filepath.ToSlash(filepath.Dir(f))] = true
		}
	}

	var gaps []string
	for _, d := range dirs {
		if !covered[filepath.ToSlash(d)] {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return ""
	}
	if len(gaps) > 8 {
		gaps = gaps[:8]
	}
	return "## Knowledge gaps (no memories reference these)\n- " + strings.Join(gaps, "\n- ")
}

// L11: exported-symbol digest per directory.
func (a *Assembler) exportMapSection() string {
	if a.scanner == nil {
		return ""
	}
	m, err := a.scanner.ExportMap(a.workspace)
	if err != nil || len(m) == 0 {
		return ""
	}

	dirs := make([]string, 0, len(m))
	for d := range m {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	if len(dirs) > 10 {
		dirs = dirs[:10]
	}

	var b strings.Builder
	b.WriteString("## Export map\n")
	for _, d := range dirs {
		symbols := m[d]
		if len(symbols) > 6 {
			symbols = append(symbols[:6:6], "…")
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", d, strings.Join(symbols, ", ")))
	}
	return b.String()
}

// L12: architecture digest.
func (a *Assembler) architectureSection() string {
	if a.scanner == nil {
		return ""
	}
	arch, err := a.scanner.Architecture(a.workspace)
	if err != nil || arch == nil || arch.SourceDirs == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Architecture\n")
	b.WriteString(fmt.Sprintf("%d source dirs, %d files\n", arch.SourceDirs, arch.FileCount))
	if len(arch.EntryDirs) > 0 {
		b.WriteString("entry points: " + strings.Join(arch.EntryDirs, ", ") + "\n")
	}
	if len(arch.LeafDirs) > 0 {
		b.WriteString("leaf packages: " + strings.Join(arch.LeafDirs, ", ") + "\n")
	}
	return b.String()
}

// sortByEffectiveImportance orders units by decayed importance descending,
// breaking ties by timestamp then id.
func sortByEffectiveImportance(units []storage.Unit, now time.Time) {
	sort.SliceStable(units, func(i, j int) bool {
		a := aging.EffectiveImportance(&units[i], now)
		b := aging.EffectiveImportance(&units[j], now)
		if a != b {
			return a > b
		}
		if units[i].Timestamp != units[j].Timestamp {
			return units[i].Timestamp > units[j].Timestamp
		}
		return units[i].ID < units[j].ID
	})
}
