// Package autolearn extracts candidate memory units from free-form
// conversation text. Extraction is regex-driven and conservative: a missed
// observation costs nothing, a junk observation pollutes recall.
package autolearn

import (
	"regexp"
	"strings"

	"github.com/kalambet/cortex/internal/storage"
)

// Candidate is an extracted observation not yet persisted.
type Candidate struct {
	Kind   storage.Kind
	Intent string
}

// extraction patterns, checked in order. The first group captures the
// statement body.
var extractors = []struct {
	kind storage.Kind
	re   *regexp.Regexp
}{
	{storage.KindCorrection, regexp.MustCompile(`(?i)(?:actually,|no,\s+use|that's wrong[,.]?|should be)\s+(.{10,200})`)},
	{storage.KindDecision, regexp.MustCompile(`(?i)(?:decided to|we'll use|we will use|going with|let's go with)\s+(.{10,200})`)},
	{storage.KindConvention, regexp.MustCompile(`(?i)(?:always|never|the convention is|as a rule[,.]?)\s+(.{10,200})`)},
	{storage.KindBugFix, regexp.MustCompile(`(?i)(?:fixed|the bug was|root cause(?: was|:)?)\s+(.{10,200})`)},
	{storage.KindInsight, regexp.MustCompile(`(?i)(?:turns out|interesting[,:]|til[,:]?|learned that)\s+(.{10,200})`)},
}

// Extract scans text line by line and returns candidates in encounter
// order. A line yields at most one candidate (first matching pattern wins).
func Extract(text string) []Candidate {
	var out []Candidate
	seen := make(map[string]struct{})

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, ex := range extractors {
			m := ex.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			intent := tidySentence(m[0])
			key := strings.ToLower(intent)
			if _, dup := seen[key]; dup {
				break
			}
			seen[key] = struct{}{}
			out = append(out, Candidate{Kind: ex.kind, Intent: intent})
			break
		}
	}
	return out
}

// quickClassifiers map keyword cues to kinds for quick_store, checked in
// order; the fallback is INSIGHT.
var quickClassifiers = []struct {
	kind  storage.Kind
	words []string
}{
	{storage.KindCorrection, []string{"actually", "wrong", "instead", "not", "correction"}},
	{storage.KindBugFix, []string{"fix", "fixed", "bug", "crash", "broken"}},
	{storage.KindConvention, []string{"always", "never", "convention", "style", "standard"}},
	{storage.KindDecision, []string{"decided", "chose", "use", "adopt", "switch"}},
}

// Classify infers the kind of a quick-stored memory from keyword cues.
func Classify(text string) storage.Kind {
	lower := strings.ToLower(text)
	for _, qc := range quickClassifiers {
		for _, w := range qc.words {
			if containsWord(lower, w) {
				return qc.kind
			}
		}
	}
	return storage.KindInsight
}

// tidySentence trims trailing fragments and whitespace from an extracted
// statement.
func tidySentence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,;: ")
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

var wordBoundary = regexp.MustCompile(`[a-z0-9]+`)

func containsWord(s, word string) bool {
	for _, w := range wordBoundary.FindAllString(s, -1) {
		if w == word {
			return true
		}
	}
	return false
}
