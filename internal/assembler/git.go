package assembler

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/cortex/internal/memory"
	"github.com/kalambet/cortex/internal/storage"
)

// gitTimeout bounds every git invocation; a hung git must not hang
// force_recall.
const gitTimeout = 5 * time.Second

// git runs a git subcommand in the workspace and returns trimmed stdout.
// Any failure returns ""; workspace sections are best-effort.
func (a *Assembler) git(ctx context.Context, args ...string) string {
	runCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = a.workspace
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// workspaceState renders branch, recent commits, and a short diff stat.
func (a *Assembler) workspaceState(ctx context.Context) string {
	branch := a.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if branch == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Workspace\n")
	b.WriteString("branch: " + branch + "\n")

	if log := a.git(ctx, "log", "--oneline", "-5", "--no-merges"); log != "" {
		b.WriteString("recent commits:\n")
		for _, line := range strings.Split(log, "\n") {
			b.WriteString("  " + line + "\n")
		}
	}

	if stat := a.git(ctx, "diff", "--stat", "--stat-count=5"); stat != "" {
		b.WriteString("uncommitted changes:\n")
		for _, line := range strings.Split(stat, "\n") {
			b.WriteString("  " + strings.TrimSpace(line) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// commit is one parsed git log entry.
type commit struct {
	Hash    string
	Subject string
	Files   []string
}

// recentCommits parses `git log --oneline --name-only` output.
func (a *Assembler) recentCommits(ctx context.Context, n int) []commit {
	out := a.git(ctx, "log", "--oneline", "--name-only", "-"+strconv.Itoa(n), "--no-merges")
	if out == "" {
		return nil
	}
	return parseOnelineNameOnly(out)
}

func parseOnelineNameOnly(out string) []commit {
	var commits []commit
	var cur *commit
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if hash, subject, ok := splitOneline(line); ok {
			commits = append(commits, commit{Hash: hash, Subject: subject})
			cur = &commits[len(commits)-1]
			continue
		}
		if cur != nil {
			cur.Files = append(cur.Files, line)
		}
	}
	return commits
}

// splitOneline recognizes "abc1234 subject text" lines by their short-hash
// prefix.
func splitOneline(line string) (hash, subject string, ok bool) {
	space := strings.IndexByte(line, ' ')
	if space < 7 || space > 12 {
		return "", "", false
	}
	hash = line[:space]
	for _, c := range hash {
		if !isHexRune(c) {
			return "", "", false
		}
	}
	return hash, strings.TrimSpace(line[space+1:]), true
}

func isHexRune(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'f'
}

// commitTopicTags are the coarse subject-line topics worth tagging.
var commitTopicTags = []string{
	"auth", "database", "api", "ui", "testing", "devops",
	"security", "performance",
}

// classifyCommit maps subject keywords to a unit kind.
func classifyCommit(subject string) storage.Kind {
	lower := strings.ToLower(subject)
	switch {
	case strings.HasPrefix(lower, "fix") || strings.Contains(lower, "fix "):
		return storage.KindBugFix
	case strings.HasPrefix(lower, "feat") || strings.Contains(lower, "add ") || strings.Contains(lower, "implement"):
		return storage.KindDecision
	case strings.Contains(lower, "refactor") || strings.Contains(lower, "clean") || strings.Contains(lower, "lint"):
		return storage.KindConvention
	case strings.HasPrefix(lower, "doc") || strings.Contains(lower, "docs"):
		return storage.KindInsight
	default:
		return storage.KindDecision
	}
}

// topicTagsFor extracts coarse topic tags from a commit subject.
func topicTagsFor(subject string) []string {
	lower := strings.ToLower(subject)
	var tags []string
	for _, t := range commitTopicTags {
		if strings.Contains(lower, t) {
			tags = append(tags, t)
		}
	}
	return tags
}

// ingestCommits stores commits not yet captured, detected by the presence
// of the short hash among active unit tags. Returns how many were stored.
func (a *Assembler) ingestCommits(ctx context.Context, n int) int {
	commits := a.recentCommits(ctx, n)
	if len(commits) == 0 {
		return 0
	}

	known := a.knownCommitHashes()
	stored := 0
	for _, c := range commits {
		if _, seen := known[c.Hash]; seen {
			continue
		}
		kind := classifyCommit(c.Subject)
		importance := 0.6
		if kind == storage.KindBugFix {
			importance = 0.85
		}
		tags := append(topicTagsFor(c.Subject), c.Hash)

		_, err := a.memory.Add(memory.AddInput{
			Kind:         kind,
			Intent:       "Commit: " + c.Subject,
			RelatedFiles: c.Files,
			Tags:         tags,
			Confidence:   0.8,
			Importance:   importance,
			Source:       "git",
		})
		if err != nil {
			// Short or gated subjects are expected; skip quietly.
			continue
		}
		stored++
	}
	return stored
}

// knownCommitHashes collects short hashes already present in active tags.
func (a *Assembler) knownCommitHashes() map[string]struct{} {
	known := make(map[string]struct{})
	units, err := a.store.GetActive(2000)
	if err != nil {
		return known
	}
	for _, u := range units {
		for _, t := range u.Tags {
			if len(t) >= 7 && len(t) <= 12 && isHex(t) {
				known[t] = struct{}{}
			}
		}
	}
	return known
}

func isHex(s string) bool {
	for _, r := range s {
		if !isHexRune(r) {
			return false
		}
	}
	return true
}
