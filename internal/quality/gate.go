// Package quality implements the pre-persistence gate: a pure predicate that
// rejects empty, generic, malformed, or shouty content, plus the duplicate
// probe that turns near-identical intents into silent dedup instead of new
// rows.
package quality

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/textutil"
)

const (
	// MinContentLen and MaxContentLen bound item content at the gate.
	// The RPC boundary refuses raw input over 5000 chars; anything between
	// that and MaxContentLen reaches here untrimmed and is rejected.
	MinContentLen = 15
	MaxContentLen = 500

	// DefaultDedupThreshold is the Jaccard similarity at which two intents
	// of the same kind are considered the same observation.
	DefaultDedupThreshold = 0.7
)

// genericPhrases is the blacklist of content with no retrieval value.
var genericPhrases = []string{
	"use best practices",
	"follow conventions",
	"follow best practices",
	"handle errors",
	"write clean code",
	"add tests",
	"be careful",
	"keep it simple",
}

// Rejection names the rule that stopped an item, with a human-readable
// detail for the tool response.
type Rejection struct {
	Rule   string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Rule, r.Detail)
}

// Check validates content against every gate rule and returns the first
// violated rule, or nil when the content is storable.
func Check(content string) *Rejection {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return &Rejection{Rule: "empty", Detail: "content is empty or whitespace-only"}
	}
	if len(trimmed) < MinContentLen {
		return &Rejection{Rule: "too-short", Detail: fmt.Sprintf("content is %d chars, minimum is %d", len(trimmed), MinContentLen)}
	}
	if len(trimmed) > MaxContentLen {
		return &Rejection{Rule: "too-long", Detail: fmt.Sprintf("content is %d chars, maximum is %d", len(trimmed), MaxContentLen)}
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range genericPhrases {
		if lower == phrase {
			return &Rejection{Rule: "generic", Detail: fmt.Sprintf("%q carries no project-specific signal", trimmed)}
		}
	}

	if len(trimmed) > 20 && isAllCaps(trimmed) {
		return &Rejection{Rule: "all-caps", Detail: "content is all uppercase"}
	}

	if hasLongRun(trimmed, 8) {
		return &Rejection{Rule: "repeated-chars", Detail: "a character repeats more than 8 times in a row"}
	}

	if isBareURL(trimmed) {
		return &Rejection{Rule: "bare-url", Detail: "content is just a URL"}
	}

	return nil
}

// FindDuplicate returns the first active unit of the same kind whose intent
// is at least threshold-similar to intent, scanning newest first. Nil when
// there is no duplicate.
func FindDuplicate(candidates []storage.Unit, intent string, threshold float64) *storage.Unit {
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}
	target := textutil.TokenSet(intent)
	for i := range candidates {
		u := &candidates[i]
		if !u.IsActive {
			continue
		}
		if textutil.Jaccard(target, textutil.TokenSet(u.Intent)) >= threshold {
			return u
		}
	}
	return nil
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

func hasLongRun(s string, max int) bool {
	run := 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
			if run > max {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func isBareURL(s string) bool {
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
